// Package emailpattern generates and recognizes corporate email address
// patterns. Generation is deterministic: identical inputs always yield the
// identical ordered candidate sequence.
package emailpattern

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Pattern names a local-part construction rule.
type Pattern string

const (
	FirstDotLast        Pattern = "first.last"
	FirstLast           Pattern = "firstlast"
	FLast               Pattern = "flast"
	First               Pattern = "first"
	FirstUnderscoreLast Pattern = "first_last"
	LastFirst           Pattern = "lastfirst"
)

// GenerationOrder is the fixed most-to-least-likely preference used by
// Generate. Analysis (AnalyzePeers) additionally recognizes the two
// patterns not generated by default.
var GenerationOrder = []Pattern{FirstDotLast, FirstLast, FLast, First}

// KnownPatterns lists every pattern the analyzer can match.
var KnownPatterns = []Pattern{FirstDotLast, FirstLast, FLast, FirstUnderscoreLast, LastFirst, First}

// Candidate is one generated email guess.
type Candidate struct {
	Email   string
	Pattern Pattern
	// Rank is the 1-based position in GenerationOrder.
	Rank int
}

var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeToken folds a name token to lowercase ASCII letters and digits.
// Diacritics are dropped ("José" -> "jose"); multi-token names collapse to
// a single run ("de la Cruz" -> "delacruz"). Returns "" when no letter
// survives.
func NormalizeToken(s string) string {
	folded, _, err := transform.String(asciiFold, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if !strings.ContainsAny(out, "abcdefghijklmnopqrstuvwxyz") {
		return ""
	}
	return out
}

// Generate produces the ordered candidate sequence for a person at a
// domain. Normalization failure on both name parts yields an empty slice.
func Generate(first, last, domain string) []Candidate {
	domain = strings.TrimSpace(strings.ToLower(domain))
	if domain == "" {
		return nil
	}
	f := NormalizeToken(first)
	l := NormalizeToken(last)
	if f == "" && l == "" {
		return nil
	}

	var out []Candidate
	for i, p := range GenerationOrder {
		local, ok := Apply(p, f, l)
		if !ok {
			continue
		}
		out = append(out, Candidate{
			Email:   local + "@" + domain,
			Pattern: p,
			Rank:    i + 1,
		})
	}
	return out
}

// Apply builds the local part for a pattern from already-normalized name
// tokens. The second return is false when the pattern's inputs are missing.
func Apply(p Pattern, first, last string) (string, bool) {
	switch p {
	case FirstDotLast:
		if first == "" || last == "" {
			return "", false
		}
		return first + "." + last, true
	case FirstLast:
		if first == "" || last == "" {
			return "", false
		}
		return first + last, true
	case FLast:
		if first == "" || last == "" {
			return "", false
		}
		return first[:1] + last, true
	case FirstUnderscoreLast:
		if first == "" || last == "" {
			return "", false
		}
		return first + "_" + last, true
	case LastFirst:
		if first == "" || last == "" {
			return "", false
		}
		return last + first, true
	case First:
		if first == "" {
			return "", false
		}
		return first, true
	}
	return "", false
}

// PeerEmail is a colleague's known address used for pattern inference.
type PeerEmail struct {
	FirstName string
	LastName  string
	Email     string
}

// PatternStat is the observed frequency of one pattern among peer emails.
type PatternStat struct {
	Pattern    Pattern
	Domain     string
	Matches    int
	Confidence float64
}

func (s PatternStat) String() string {
	return fmt.Sprintf("%s@%s (%d matches, %.0f%%)", s.Pattern, s.Domain, s.Matches, s.Confidence*100)
}

// genericPrefixes are role addresses that carry no pattern signal.
var genericPrefixes = []string{
	"info", "contact", "support", "admin", "sales", "hello", "mail",
	"office", "customerservice", "help", "noreply", "no-reply",
}

// IsGenericAddress reports whether an email is a role address rather than
// a person's mailbox.
func IsGenericAddress(email string) bool {
	local, _, ok := strings.Cut(strings.ToLower(strings.TrimSpace(email)), "@")
	if !ok {
		return false
	}
	for _, p := range genericPrefixes {
		if strings.HasPrefix(local, p) {
			return true
		}
	}
	return false
}

// AnalyzePeers matches each peer email against the known patterns and
// returns per-pattern stats sorted by matches, then confidence, then
// pattern name for a stable order. The domain of the first valid peer is
// taken as the company domain. Generic role addresses are skipped.
func AnalyzePeers(peers []PeerEmail) []PatternStat {
	byPattern := make(map[Pattern]int)
	domain := ""
	total := 0

	for _, peer := range peers {
		local, d, ok := strings.Cut(strings.ToLower(strings.TrimSpace(peer.Email)), "@")
		if !ok || IsGenericAddress(peer.Email) {
			continue
		}
		if domain == "" {
			domain = d
		}
		total++

		f := NormalizeToken(peer.FirstName)
		l := NormalizeToken(peer.LastName)
		for _, p := range KnownPatterns {
			want, ok := Apply(p, f, l)
			if ok && want == local {
				byPattern[p]++
				break
			}
		}
	}
	if total == 0 {
		return nil
	}

	out := make([]PatternStat, 0, len(byPattern))
	for p, n := range byPattern {
		out = append(out, PatternStat{
			Pattern:    p,
			Domain:     domain,
			Matches:    n,
			Confidence: float64(n) / float64(total),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Matches != out[j].Matches {
			return out[i].Matches > out[j].Matches
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out
}

// ParsePattern validates a pattern name from an external source.
func ParsePattern(s string) (Pattern, bool) {
	p := Pattern(strings.TrimSpace(strings.ToLower(s)))
	for _, known := range KnownPatterns {
		if p == known {
			return p, true
		}
	}
	return "", false
}
