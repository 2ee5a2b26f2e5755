// Package crm turns raw CRM records into a per-attendee relationship
// summary: is this an existing account, does it carry an open opportunity,
// and when did we last touch it.
package crm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/crowdsift/attendee-pipeline/internal/attendee"
	"github.com/crowdsift/attendee-pipeline/internal/companydomain"
	"github.com/crowdsift/attendee-pipeline/internal/salesforce"
)

// RelationshipSummary is everything the classifier and the report need to
// know about an attendee's standing in the CRM. The zero value means "no
// match found".
type RelationshipSummary struct {
	IsExistingAccount  bool
	HasOpenOpportunity bool

	// LastEngagedAt is the account's last logged activity date;
	// LastModifiedAt is the record's system modification stamp. Nil when
	// the CRM has no value.
	LastEngagedAt  *time.Time
	LastModifiedAt *time.Time

	CustomerDesignation string

	AccountID    string
	AccountName  string
	AccountOwner string
	AccountURL   string

	OpportunityID    string
	OpportunityName  string
	OpportunityOwner string
	OpportunityURL   string

	// MatchVia records which lookup stage produced the match: "email",
	// "company" or "domain".
	MatchVia string
	Detail   string
}

// Searcher is the slice of the CRM client the lookup needs.
type Searcher interface {
	ContactByEmail(ctx context.Context, email string) (*salesforce.Contact, error)
	FindAccountsByName(ctx context.Context, name string) ([]salesforce.Account, error)
	FindAccountsByDomain(ctx context.Context, domain string) ([]salesforce.Account, error)
	OpenOpportunities(ctx context.Context, accountID string) ([]salesforce.Opportunity, error)
	InstanceURL() string
}

type Lookup struct {
	crm Searcher
	log zerolog.Logger
}

func NewLookup(crm Searcher, log zerolog.Logger) *Lookup {
	return &Lookup{crm: crm, log: log}
}

// Summarize resolves an attendee to a relationship summary. The email may
// be empty, in which case only company-name and domain matching run.
//
// Search order is strict: an exact contact email match wins outright,
// then account-name variations, then website domain. On CRM failure the
// zero summary comes back along with the error so callers can count the
// failure while still classifying the attendee as unmatched.
func (l *Lookup) Summarize(ctx context.Context, a attendee.Attendee, email string) (RelationshipSummary, error) {
	if s, ok, err := l.byEmail(ctx, email); err != nil {
		return RelationshipSummary{}, err
	} else if ok {
		return l.withOpportunities(ctx, s)
	}

	if s, ok, err := l.byCompany(ctx, a.Company); err != nil {
		return RelationshipSummary{}, err
	} else if ok {
		return l.withOpportunities(ctx, s)
	}

	if s, ok, err := l.byDomain(ctx, a.Company, email); err != nil {
		return RelationshipSummary{}, err
	} else if ok {
		return l.withOpportunities(ctx, s)
	}

	l.log.Debug().Str("company", a.Company).Msg("no crm match")
	return RelationshipSummary{Detail: "no account match"}, nil
}

func (l *Lookup) byEmail(ctx context.Context, email string) (RelationshipSummary, bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return RelationshipSummary{}, false, nil
	}
	contact, err := l.crm.ContactByEmail(ctx, email)
	if err != nil {
		return RelationshipSummary{}, false, fmt.Errorf("contact lookup: %w", err)
	}
	if contact == nil {
		return RelationshipSummary{}, false, nil
	}

	// A contact without an account is still a CRM relationship: its
	// engagement dates feed the rules-of-engagement check even though no
	// account details can be filled in.
	s := RelationshipSummary{
		IsExistingAccount: contact.AccountID != "",
		AccountID:         contact.AccountID,
		MatchVia:          "email",
		Detail:            "contact email match: " + contact.Name,
	}
	if acct := contact.Account; acct != nil {
		fillAccount(&s, *acct)
		s.AccountID = contact.AccountID
	}
	// Contact-level engagement can be fresher than the account's.
	if t := parseCRMDate(contact.LastActivityDate); t != nil {
		if s.LastEngagedAt == nil || t.After(*s.LastEngagedAt) {
			s.LastEngagedAt = t
		}
	}
	if t := parseCRMDate(contact.SystemModstamp); t != nil {
		if s.LastModifiedAt == nil || t.After(*s.LastModifiedAt) {
			s.LastModifiedAt = t
		}
	}
	s.AccountURL = l.recordURL("Account", s.AccountID)
	return s, true, nil
}

func (l *Lookup) byCompany(ctx context.Context, company string) (RelationshipSummary, bool, error) {
	seen := map[string]bool{}
	var candidates []salesforce.Account
	for _, variation := range CompanyVariations(company) {
		accounts, err := l.crm.FindAccountsByName(ctx, variation)
		if err != nil {
			return RelationshipSummary{}, false, fmt.Errorf("account search %q: %w", variation, err)
		}
		for _, acct := range accounts {
			if !seen[acct.ID] {
				seen[acct.ID] = true
				candidates = append(candidates, acct)
			}
		}
		if len(candidates) > 0 {
			break
		}
	}
	if len(candidates) == 0 {
		return RelationshipSummary{}, false, nil
	}

	best := pickAccount(candidates, company)
	s := RelationshipSummary{
		IsExistingAccount: true,
		MatchVia:          "company",
		Detail:            fmt.Sprintf("account name match: %s", best.Name),
	}
	fillAccount(&s, best)
	s.AccountURL = l.recordURL("Account", s.AccountID)
	return s, true, nil
}

func (l *Lookup) byDomain(ctx context.Context, company, email string) (RelationshipSummary, bool, error) {
	domain := ""
	if at := strings.LastIndex(email, "@"); at >= 0 {
		domain = strings.ToLower(email[at+1:])
	}
	if domain == "" {
		d, err := companydomain.Resolve(company)
		if err != nil {
			return RelationshipSummary{}, false, nil
		}
		domain = d
	}

	accounts, err := l.crm.FindAccountsByDomain(ctx, domain)
	if err != nil {
		return RelationshipSummary{}, false, fmt.Errorf("domain search %q: %w", domain, err)
	}

	var compatible []salesforce.Account
	for _, acct := range accounts {
		if DomainsCompatible(domain, websiteDomain(acct.Website)) {
			compatible = append(compatible, acct)
		}
	}
	if len(compatible) == 0 {
		return RelationshipSummary{}, false, nil
	}

	best := pickAccount(compatible, company)
	s := RelationshipSummary{
		IsExistingAccount: true,
		MatchVia:          "domain",
		Detail:            fmt.Sprintf("website domain match: %s (%s)", best.Name, domain),
	}
	fillAccount(&s, best)
	s.AccountURL = l.recordURL("Account", s.AccountID)
	return s, true, nil
}

func (l *Lookup) withOpportunities(ctx context.Context, s RelationshipSummary) (RelationshipSummary, error) {
	if s.AccountID == "" {
		return s, nil
	}
	opps, err := l.crm.OpenOpportunities(ctx, s.AccountID)
	if err != nil {
		return RelationshipSummary{}, fmt.Errorf("opportunity lookup: %w", err)
	}
	if len(opps) == 0 {
		return s, nil
	}
	opp := opps[0]
	s.HasOpenOpportunity = true
	s.OpportunityID = opp.ID
	s.OpportunityName = opp.Name
	if opp.Owner != nil {
		s.OpportunityOwner = opp.Owner.Name
	}
	s.OpportunityURL = l.recordURL("Opportunity", opp.ID)
	return s, nil
}

func fillAccount(s *RelationshipSummary, acct salesforce.Account) {
	s.AccountID = acct.ID
	s.AccountName = acct.Name
	s.CustomerDesignation = acct.CustomerDesignation
	if acct.Owner != nil {
		s.AccountOwner = acct.Owner.Name
	}
	s.LastEngagedAt = parseCRMDate(acct.LastActivityDate)
	s.LastModifiedAt = parseCRMDate(acct.SystemModstamp)
}

func (l *Lookup) recordURL(recordType, id string) string {
	instance := strings.TrimRight(l.crm.InstanceURL(), "/")
	if instance == "" || id == "" {
		return ""
	}
	return fmt.Sprintf("%s/lightning/r/%s/%s/view", instance, recordType, id)
}

// pickAccount chooses one account deterministically: exact name match
// first, then newest system modstamp, then lowest ID.
func pickAccount(accounts []salesforce.Account, company string) salesforce.Account {
	sorted := make([]salesforce.Account, len(accounts))
	copy(sorted, accounts)
	wanted := strings.ToLower(strings.TrimSpace(company))
	sort.SliceStable(sorted, func(i, j int) bool {
		ei := strings.EqualFold(strings.TrimSpace(sorted[i].Name), wanted)
		ej := strings.EqualFold(strings.TrimSpace(sorted[j].Name), wanted)
		if ei != ej {
			return ei
		}
		ti, tj := parseCRMDate(sorted[i].SystemModstamp), parseCRMDate(sorted[j].SystemModstamp)
		switch {
		case ti != nil && tj != nil && !ti.Equal(*tj):
			return ti.After(*tj)
		case ti != nil && tj == nil:
			return true
		case ti == nil && tj != nil:
			return false
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0]
}

var companySkipWords = map[string]bool{
	"the": true, "and": true, "of": true, "for": true,
	"inc": true, "llc": true, "ltd": true, "corp": true,
	"company": true, "group": true, "global": true,
	"solutions": true, "services": true, "technologies": true,
	"international": true, "holdings": true,
}

// CompanyVariations yields search terms for an account-name lookup, from
// most to least specific. Duplicates are removed; order is stable.
func CompanyVariations(company string) []string {
	cleaned := cleanCompanyName(company)
	if cleaned == "" {
		return nil
	}
	words := strings.Fields(cleaned)

	var out []string
	seen := map[string]bool{}
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		key := strings.ToLower(v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}

	add(cleaned)
	if len(words) > 2 {
		add(strings.Join(words[:2], " "))
		add(words[0] + " " + words[len(words)-1])
		add(strings.Join(words[len(words)-2:], " "))
	}
	for _, w := range words {
		lw := strings.ToLower(w)
		if len(w) >= 3 && !companySkipWords[lw] {
			add(w)
		}
	}
	return out
}

func cleanCompanyName(company string) string {
	s := strings.TrimSpace(company)
	for _, suffix := range []string{
		", Inc.", ", Inc", " Inc.", " Inc",
		", LLC", " LLC", ", Ltd.", ", Ltd", " Ltd.", " Ltd",
		", Corp.", ", Corp", " Corp.",
		", Co.", " Co.",
	} {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// DomainsCompatible reports whether two domains plausibly belong to the
// same organization: equal after normalization, or one is a subdomain of
// the other, or they share the same registrable label across TLDs.
func DomainsCompatible(a, b string) bool {
	a, b = normalizeDomain(a), normalizeDomain(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a) {
		return true
	}
	return rootLabel(a) != "" && rootLabel(a) == rootLabel(b)
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "www.")
	return strings.Trim(d, ".")
}

func rootLabel(d string) string {
	parts := strings.Split(d, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

func websiteDomain(website string) string {
	w := strings.ToLower(strings.TrimSpace(website))
	w = strings.TrimPrefix(w, "https://")
	w = strings.TrimPrefix(w, "http://")
	if i := strings.IndexAny(w, "/?#"); i >= 0 {
		w = w[:i]
	}
	return normalizeDomain(w)
}

// parseCRMDate handles both plain dates (2026-08-01) and full timestamps
// (2026-08-15T10:00:00.000+0000) by reading the date part only.
func parseCRMDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		s = s[:i]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
