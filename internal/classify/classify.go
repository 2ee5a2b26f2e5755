// Package classify buckets attendees for outreach based on their CRM
// relationship and the rules of engagement.
package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/crowdsift/attendee-pipeline/internal/attendee"
	"github.com/crowdsift/attendee-pipeline/internal/crm"
)

// Windows holds the rules-of-engagement freshness thresholds in days.
type Windows struct {
	// ActivityDays bounds the last logged activity (default 90).
	ActivityDays int
	// ModifiedDays bounds the last record modification (default 30).
	ModifiedDays int
}

func DefaultWindows() Windows {
	return Windows{ActivityDays: 90, ModifiedDays: 30}
}

// Qualifier decides whether an attendee with no CRM history is worth
// pursuing as a prospect.
type Qualifier func(a attendee.Attendee) bool

// AlwaysQualified treats every unmatched-but-new attendee as a prospect.
func AlwaysQualified(attendee.Attendee) bool { return true }

// TitleKeywordQualifier qualifies attendees whose job title contains any
// of the given keywords, case-insensitively. No keywords means nobody
// qualifies through it.
func TitleKeywordQualifier(keywords []string) Qualifier {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			lowered = append(lowered, k)
		}
	}
	return func(a attendee.Attendee) bool {
		title := strings.ToLower(a.JobTitle)
		for _, k := range lowered {
			if strings.Contains(title, k) {
				return true
			}
		}
		return false
	}
}

// Decision is a classification with its human-readable justification.
type Decision struct {
	Classification attendee.Classification
	Reason         string
}

type Classifier struct {
	Windows Windows
	Qualify Qualifier

	// Now is swappable for tests; nil means time.Now.
	Now func() time.Time
}

func New(w Windows, q Qualifier) *Classifier {
	if q == nil {
		q = AlwaysQualified
	}
	return &Classifier{Windows: w, Qualify: q}
}

// Classify applies the bucket rules in strict priority order:
//
//  1. an open opportunity always wins,
//  2. an existing account with no recent touch is a current customer,
//  3. a recent touch is off-limits, account or not (a contact-only
//     engagement still disqualifies),
//  4. no account plus a qualifying attendee is a prospect,
//  5. everything else has no CRM standing.
func (c *Classifier) Classify(a attendee.Attendee, rel crm.RelationshipSummary) Decision {
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	reason, recent := c.recentTouch(now, rel)

	switch {
	case rel.HasOpenOpportunity:
		return Decision{
			Classification: attendee.OpenOpportunity,
			Reason:         openOppReason(rel),
		}
	case rel.IsExistingAccount && !recent:
		return Decision{
			Classification: attendee.CurrentCustomer,
			Reason:         existingReason(rel),
		}
	case recent:
		return Decision{
			Classification: attendee.Disqualified,
			Reason:         reason,
		}
	case c.Qualify(a):
		return Decision{
			Classification: attendee.QualifiedProspect,
			Reason:         "no existing account; attendee qualifies for outreach",
		}
	default:
		return Decision{
			Classification: attendee.NoCRMMatch,
			Reason:         "no existing account and attendee does not qualify",
		}
	}
}

// recentTouch reports whether either freshness window is still open, with
// a reason naming the window that tripped.
func (c *Classifier) recentTouch(now time.Time, rel crm.RelationshipSummary) (string, bool) {
	if rel.LastEngagedAt != nil {
		days := daysSince(now, *rel.LastEngagedAt)
		if days < c.Windows.ActivityDays {
			return fmt.Sprintf("last activity %d days ago (within %d-day window)", days, c.Windows.ActivityDays), true
		}
	}
	if rel.LastModifiedAt != nil {
		days := daysSince(now, *rel.LastModifiedAt)
		if days < c.Windows.ModifiedDays {
			return fmt.Sprintf("record modified %d days ago (within %d-day window)", days, c.Windows.ModifiedDays), true
		}
	}
	return "", false
}

func daysSince(now, t time.Time) int {
	d := int(now.Sub(t).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

func openOppReason(rel crm.RelationshipSummary) string {
	if rel.OpportunityName != "" {
		return "open opportunity: " + rel.OpportunityName
	}
	return "account has an open opportunity"
}

func existingReason(rel crm.RelationshipSummary) string {
	parts := []string{"existing account"}
	if rel.AccountName != "" {
		parts[0] = "existing account " + rel.AccountName
	}
	if rel.CustomerDesignation != "" {
		parts = append(parts, "designation "+rel.CustomerDesignation)
	}
	parts = append(parts, "no recent engagement")
	return strings.Join(parts, "; ")
}
