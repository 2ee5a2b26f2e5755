// Package discover resolves a probable email address for an attendee by
// walking a chain of strategies from most to least trustworthy.
package discover

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/crowdsift/attendee-pipeline/internal/attendee"
	"github.com/crowdsift/attendee-pipeline/internal/companydomain"
	"github.com/crowdsift/attendee-pipeline/internal/emailpattern"
	"github.com/crowdsift/attendee-pipeline/internal/webresearch"
)

// Tier grades how much trust a discovered address deserves.
type Tier string

const (
	// TierVerified addresses came from the attendee or a verified remote
	// record and are safe to send to directly.
	TierVerified Tier = "verified"
	// TierGuessed addresses were inferred from patterns or confidence
	// scores and should be bounce-checked before bulk sends.
	TierGuessed Tier = "guessed"
	// TierUnknown means every strategy came up empty.
	TierUnknown Tier = "unknown"
)

// Source names the strategy that produced an address.
type Source string

const (
	SourceProvided        Source = "provided"
	SourceRemoteMatch     Source = "remote_match"
	SourceRemotePattern   Source = "remote_pattern"
	SourceWebResearch     Source = "web_research"
	SourcePatternFallback Source = "pattern_fallback"
	SourceNone            Source = "none"
)

// Result is the outcome of email discovery for one attendee. Tier
// TierUnknown always carries an empty Email.
type Result struct {
	Email  string
	Tier   Tier
	Source Source
	Detail string
}

// Strategy attempts to find an address. ok=false with nil error means the
// strategy had nothing for this attendee; an error means the strategy
// failed and the chain degrades to the next one.
type Strategy interface {
	Name() string
	Discover(ctx context.Context, a attendee.Attendee) (Result, bool, error)
}

// Chain tries strategies in order and returns the first hit. Strategy
// failures are logged and recorded but never abort the walk; after the
// first warning per strategy, repeats drop to debug so a dead service
// does not flood the log once per attendee.
type Chain struct {
	strategies []Strategy
	log        zerolog.Logger
	warned     sync.Map
}

func NewChain(log zerolog.Logger, strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies, log: log}
}

func (c *Chain) Discover(ctx context.Context, a attendee.Attendee) Result {
	var degraded []string
	for _, s := range c.strategies {
		res, ok, err := s.Discover(ctx, a)
		if err != nil {
			ev := c.log.Debug()
			if _, loaded := c.warned.LoadOrStore(s.Name(), true); !loaded {
				ev = c.log.Warn()
			}
			ev.Err(err).
				Str("strategy", s.Name()).
				Str("attendee", a.FullName()).
				Msg("discovery strategy failed")
			degraded = append(degraded, s.Name())
			continue
		}
		if ok {
			return res
		}
	}
	detail := "no strategy produced an address"
	if len(degraded) > 0 {
		detail += "; failed: " + strings.Join(degraded, ", ")
	}
	return Result{Tier: TierUnknown, Source: SourceNone, Detail: detail}
}

// Provided short-circuits on an address already present in the source
// data. It never touches the network.
type Provided struct{}

func (Provided) Name() string { return "provided" }

func (Provided) Discover(_ context.Context, a attendee.Attendee) (Result, bool, error) {
	email := strings.ToLower(strings.TrimSpace(a.Email))
	if !strings.Contains(email, "@") {
		return Result{}, false, nil
	}
	return Result{
		Email:  email,
		Tier:   TierVerified,
		Source: SourceProvided,
		Detail: "address present in source data",
	}, true, nil
}

// PersonMatcher is the slice of the email-finder client used for direct
// person matching.
type PersonMatcher interface {
	MatchPerson(ctx context.Context, firstName, lastName, organization string) (*Person, error)
	PersonByID(ctx context.Context, id string) (*Person, error)
}

// Person is a remote people-database record.
type Person struct {
	ID          string
	Email       string
	EmailStatus string
	Confidence  float64
}

// RemoteMatch asks the people database for the attendee directly.
type RemoteMatch struct {
	Client PersonMatcher
	// MinConfidence gates extrapolated addresses (default 0 accepts all;
	// deployments set this around 0.8).
	MinConfidence float64
}

func (RemoteMatch) Name() string { return "remote_match" }

func (s RemoteMatch) Discover(ctx context.Context, a attendee.Attendee) (Result, bool, error) {
	person, err := s.Client.MatchPerson(ctx, a.FirstName, a.LastName, a.Company)
	if err != nil {
		return Result{}, false, err
	}
	if person == nil {
		return Result{}, false, nil
	}
	if !strings.Contains(person.Email, "@") && person.ID != "" {
		// Match found the person but the address is locked behind the
		// detail endpoint.
		person, err = s.Client.PersonByID(ctx, person.ID)
		if err != nil {
			return Result{}, false, err
		}
		if person == nil {
			return Result{}, false, nil
		}
	}
	email := strings.ToLower(strings.TrimSpace(person.Email))
	if !strings.Contains(email, "@") {
		return Result{}, false, nil
	}
	if person.EmailStatus == "verified" {
		return Result{
			Email:  email,
			Tier:   TierVerified,
			Source: SourceRemoteMatch,
			Detail: "verified record in people database",
		}, true, nil
	}
	if person.Confidence > 0 && person.Confidence < s.MinConfidence {
		return Result{}, false, nil
	}
	return Result{
		Email:  email,
		Tier:   TierGuessed,
		Source: SourceRemoteMatch,
		Detail: fmt.Sprintf("unverified record (status %q, confidence %.2f)", person.EmailStatus, person.Confidence),
	}, true, nil
}

// PeerSearcher lists colleagues at an organization.
type PeerSearcher interface {
	SearchPeers(ctx context.Context, organization string, limit int) ([]emailpattern.PeerEmail, error)
}

// RemotePattern infers the company's address convention from colleagues'
// known emails and applies it to the attendee.
type RemotePattern struct {
	Client PeerSearcher
	// MinMatches is the minimum peers agreeing on a pattern before it is
	// trusted (default 2).
	MinMatches int
	PeerLimit  int
}

func (RemotePattern) Name() string { return "remote_pattern" }

func (s RemotePattern) Discover(ctx context.Context, a attendee.Attendee) (Result, bool, error) {
	limit := s.PeerLimit
	if limit <= 0 {
		limit = 10
	}
	minMatches := s.MinMatches
	if minMatches <= 0 {
		minMatches = 2
	}

	peers, err := s.Client.SearchPeers(ctx, a.Company, limit)
	if err != nil {
		return Result{}, false, err
	}
	stats := emailpattern.AnalyzePeers(peers)
	if len(stats) == 0 || stats[0].Matches < minMatches {
		return Result{}, false, nil
	}
	best := stats[0]

	local, ok := emailpattern.Apply(best.Pattern,
		emailpattern.NormalizeToken(a.FirstName),
		emailpattern.NormalizeToken(a.LastName))
	if !ok {
		return Result{}, false, nil
	}
	return Result{
		Email:  local + "@" + best.Domain,
		Tier:   TierGuessed,
		Source: SourceRemotePattern,
		Detail: "peer pattern " + best.String(),
	}, true, nil
}

// FormatResearcher looks up a company's published email convention.
type FormatResearcher interface {
	ResearchFormat(ctx context.Context, company string) (webresearch.Format, error)
}

// WebResearch asks an LLM with search grounding for the company's address
// convention. Optional; the chain omits it when no API key is configured.
type WebResearch struct {
	Researcher FormatResearcher
}

func (WebResearch) Name() string { return "web_research" }

func (s WebResearch) Discover(ctx context.Context, a attendee.Attendee) (Result, bool, error) {
	format, err := s.Researcher.ResearchFormat(ctx, a.Company)
	if err != nil {
		return Result{}, false, err
	}
	local, ok := emailpattern.Apply(format.Pattern,
		emailpattern.NormalizeToken(a.FirstName),
		emailpattern.NormalizeToken(a.LastName))
	if !ok {
		return Result{}, false, nil
	}
	return Result{
		Email:  local + "@" + format.Domain,
		Tier:   TierGuessed,
		Source: SourceWebResearch,
		Detail: fmt.Sprintf("researched format %s@%s (%s confidence)", format.Pattern, format.Domain, format.Confidence),
	}, true, nil
}

// PatternFallback guesses a domain from the company name and emits the
// highest-ranked conventional pattern. Last resort, fully offline.
type PatternFallback struct{}

func (PatternFallback) Name() string { return "pattern_fallback" }

func (PatternFallback) Discover(_ context.Context, a attendee.Attendee) (Result, bool, error) {
	domain, err := companydomain.Resolve(a.Company)
	if err != nil {
		return Result{}, false, nil
	}
	candidates := emailpattern.Generate(a.FirstName, a.LastName, domain)
	if len(candidates) == 0 {
		return Result{}, false, nil
	}
	best := candidates[0]
	return Result{
		Email:  best.Email,
		Tier:   TierGuessed,
		Source: SourcePatternFallback,
		Detail: fmt.Sprintf("pattern %s on guessed domain %s", best.Pattern, domain),
	}, true, nil
}
