// Package pipeline runs the per-attendee processing: discover an email,
// look up the CRM relationship, classify for outreach.
package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/crowdsift/attendee-pipeline/internal/attendee"
	"github.com/crowdsift/attendee-pipeline/internal/classify"
	"github.com/crowdsift/attendee-pipeline/internal/crm"
	"github.com/crowdsift/attendee-pipeline/internal/discover"
	"github.com/crowdsift/attendee-pipeline/internal/pipeline/core"
	"github.com/crowdsift/attendee-pipeline/internal/pipeline/worker"
	"github.com/crowdsift/attendee-pipeline/internal/redact"
)

// Row is one fully processed attendee, ready for reporting.
type Row struct {
	Attendee attendee.Attendee

	Email       string
	EmailTier   discover.Tier
	EmailSource discover.Source
	EmailDetail string

	Classification attendee.Classification
	Reason         string

	AccountName      string
	AccountOwner     string
	AccountID        string
	AccountURL       string
	OpportunityName  string
	OpportunityOwner string
	OpportunityID    string
	OpportunityURL   string

	// CRMErr is a sanitized description of a CRM lookup failure; the row
	// still classifies (as unmatched) when set.
	CRMErr string
}

// Summary aggregates a finished run.
type Summary struct {
	Total   int
	Buckets map[attendee.Classification]int

	EmailsFound        int
	EmailsMissing      int
	DiscoveryFallbacks int
	CRMFailures        int
}

// Discoverer resolves an email address for an attendee.
type Discoverer interface {
	Discover(ctx context.Context, a attendee.Attendee) discover.Result
}

// Relations resolves an attendee's CRM standing.
type Relations interface {
	Summarize(ctx context.Context, a attendee.Attendee, email string) (crm.RelationshipSummary, error)
}

// Deps carries the pipeline's collaborators.
type Deps struct {
	Discoverer Discoverer
	Relations  Relations
	Classifier *classify.Classifier
	Log        zerolog.Logger
}

// Process runs every attendee through discovery, CRM lookup and
// classification. Rows come back in input order. onRow, when non-nil,
// observes rows in completion order for progress reporting.
//
// Transient CRM failures propagate out of the item function so the
// worker pool retries them with backoff; an attendee whose retries are
// exhausted still gets a row, classified against an empty relationship
// with the sanitized error attached.
//
// When the run is cancelled the rows completed so far come back
// alongside the error so callers can still write partial reports.
func Process(ctx context.Context, deps Deps, attendees []attendee.Attendee, opts worker.Options, onRow func(Row)) ([]Row, Summary, error) {
	var onDone func(worker.Result[Row])
	if onRow != nil {
		onDone = func(r worker.Result[Row]) {
			if errors.Is(r.Err, context.Canceled) {
				return
			}
			if r.Err != nil {
				onRow(fallbackRow(deps, attendees[r.Index], r.Err))
				return
			}
			onRow(r.Output)
		}
	}

	results, runErr := worker.RunWithProgress(ctx, attendees, func(ctx context.Context, a attendee.Attendee) (Row, error) {
		return processOne(ctx, deps, a)
	}, onDone, opts)

	// A cancelled or fail-fast run still yields the rows that finished.
	// Slots the pool never reached (Attempts == 0) and items interrupted
	// mid-flight are dropped rather than reported as failures of their own.
	var rows []Row
	for i, r := range results {
		switch {
		case r.Attempts == 0:
		case errors.Is(r.Err, context.Canceled):
		case r.Err != nil:
			rows = append(rows, fallbackRow(deps, attendees[i], r.Err))
		default:
			rows = append(rows, r.Output)
		}
	}
	return rows, Summarize(rows), runErr
}

func processOne(ctx context.Context, deps Deps, a attendee.Attendee) (Row, error) {
	row := Row{Attendee: a}

	found := deps.Discoverer.Discover(ctx, a)
	row.Email = found.Email
	row.EmailTier = found.Tier
	row.EmailSource = found.Source
	row.EmailDetail = found.Detail

	rel, err := deps.Relations.Summarize(ctx, a, found.Email)
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted, not failed. The run-level handling decides
			// what happens to this attendee.
			return Row{}, ctx.Err()
		}
		var te *core.TransientError
		if errors.As(err, &te) {
			// Let the pool retry the whole attendee with backoff.
			return Row{}, err
		}
		// Permanent CRM failures must not sink the attendee; classify
		// against an empty relationship and surface the sanitized error.
		row.CRMErr = redact.Secrets(err.Error())
		deps.Log.Warn().Err(err).Str("attendee", a.FullName()).Msg("crm lookup failed")
		rel = crm.RelationshipSummary{}
	}

	row.AccountName = rel.AccountName
	row.AccountOwner = rel.AccountOwner
	row.AccountID = rel.AccountID
	row.AccountURL = rel.AccountURL
	row.OpportunityName = rel.OpportunityName
	row.OpportunityOwner = rel.OpportunityOwner
	row.OpportunityID = rel.OpportunityID
	row.OpportunityURL = rel.OpportunityURL

	decision := deps.Classifier.Classify(a, rel)
	row.Classification = decision.Classification
	row.Reason = decision.Reason
	return row, nil
}

// fallbackRow classifies an attendee whose CRM lookups never succeeded.
// Discovery already ran on every attempt; rerunning it here would hit
// remote services again for a row we are about to mark degraded, so the
// row carries no email unless the roster provided one.
func fallbackRow(deps Deps, a attendee.Attendee, err error) Row {
	row := Row{Attendee: a, CRMErr: redact.Secrets(err.Error())}
	if email := strings.TrimSpace(a.Email); strings.Contains(email, "@") {
		row.Email = strings.ToLower(email)
		row.EmailTier = discover.TierVerified
		row.EmailSource = discover.SourceProvided
	} else {
		row.EmailTier = discover.TierUnknown
		row.EmailSource = discover.SourceNone
	}
	decision := deps.Classifier.Classify(a, crm.RelationshipSummary{})
	row.Classification = decision.Classification
	row.Reason = decision.Reason
	return row
}

// Summarize tallies a finished run from its rows.
func Summarize(rows []Row) Summary {
	s := Summary{
		Total:   len(rows),
		Buckets: make(map[attendee.Classification]int, 5),
	}
	for _, c := range attendee.Classifications() {
		s.Buckets[c] = 0
	}
	for _, row := range rows {
		s.Buckets[row.Classification]++
		if row.Email != "" {
			s.EmailsFound++
		} else {
			s.EmailsMissing++
		}
		if row.EmailSource == discover.SourcePatternFallback {
			s.DiscoveryFallbacks++
		}
		if row.CRMErr != "" {
			s.CRMFailures++
		}
	}
	return s
}
