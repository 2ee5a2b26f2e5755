// Package companydomain derives a probable internet domain for a company
// name. The output is a hypothesis, never a verified fact; callers must
// treat it as a guess.
package companydomain

import (
	"errors"
	"strings"
)

// ErrUnresolvable is returned when nothing usable remains after
// normalization (empty company, punctuation-only, digits-only names).
var ErrUnresolvable = errors.New("company domain unresolvable")

// Trailing legal suffixes stripped before guessing. Order matters: longer
// variants are listed before their short forms so "Inc." wins over "Inc".
var legalSuffixes = []string{
	"incorporated", "corporation", "companies", "company", "limited",
	"l.l.c.", "inc.", "llc.", "corp.", "ltd.", "co.",
	"inc", "llc", "corp", "ltd", "co", "plc", "gmbh",
}

// Resolve guesses a domain for a company name: strip one trailing legal
// suffix, lowercase, drop everything but letters and digits, append ".com".
// Only the trailing suffix is removed, so "Acme Corp, Inc." resolves to
// "acmecorp.com" rather than collapsing to "acme.com".
func Resolve(company string) (string, error) {
	name := stripTrailingSuffix(strings.TrimSpace(company))

	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	core := b.String()
	if core == "" || !strings.ContainsAny(core, "abcdefghijklmnopqrstuvwxyz") {
		return "", ErrUnresolvable
	}
	return core + ".com", nil
}

func stripTrailingSuffix(name string) string {
	lower := strings.ToLower(name)
	for _, suffix := range legalSuffixes {
		for _, sep := range []string{", ", " ", ","} {
			tail := sep + suffix
			if strings.HasSuffix(lower, tail) {
				return strings.TrimSpace(name[:len(name)-len(tail)])
			}
		}
	}
	return name
}
