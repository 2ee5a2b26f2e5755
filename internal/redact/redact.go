// Package redact scrubs obvious secret material from strings before they
// reach logs, error rows, or run reports.
package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (session tokens from the CRM login flow).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Key=value formats that sometimes leak in error strings.
	secretKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|x-api-key|password|security[_-]?token|access[_-]?token|client[_-]?secret)\b\s*[:=]\s*[^\s"'&]+`)

	// Credentials embedded in urlencoded request bodies.
	secretParamRe = regexp.MustCompile(`(?i)\b(password|security_token|client_secret)=[^\s&"']+`)
)

// Secrets removes secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = secretKVRe.ReplaceAllString(out, "$1=<redacted>")
	out = secretParamRe.ReplaceAllString(out, "$1=<redacted>")
	return strings.TrimSpace(out)
}
