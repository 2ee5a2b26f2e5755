// Package attendee defines the input record and outreach classification
// types shared by the processing pipeline.
package attendee

import "strings"

// Attendee is one conference registration record. The core treats it as
// read-only; discovery and classification never mutate the input.
type Attendee struct {
	FirstName string
	LastName  string
	Company   string
	JobTitle  string

	// Email is optional. When present it is trusted as-is by discovery
	// and no remote lookup is made for this attendee.
	Email string
}

// FullName returns "First Last" with empty parts dropped.
func (a Attendee) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(a.FirstName) + " " + strings.TrimSpace(a.LastName))
}

// Classification is the outreach bucket assigned to exactly one attendee.
type Classification string

const (
	CurrentCustomer   Classification = "CURRENT_CUSTOMER"
	OpenOpportunity   Classification = "OPEN_OPPORTUNITY"
	QualifiedProspect Classification = "QUALIFIED_PROSPECT"
	NoCRMMatch        Classification = "NO_SF_MATCH"
	Disqualified      Classification = "DISQUALIFIED"
)

// Classifications lists every bucket in report order.
func Classifications() []Classification {
	return []Classification{
		CurrentCustomer,
		OpenOpportunity,
		QualifiedProspect,
		NoCRMMatch,
		Disqualified,
	}
}
