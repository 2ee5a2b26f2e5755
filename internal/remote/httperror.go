// Package remote carries the HTTP plumbing shared by the email-finder and
// CRM clients: a sanitized error type and transient classification.
package remote

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/crowdsift/attendee-pipeline/internal/pipeline/core"
	"github.com/crowdsift/attendee-pipeline/internal/redact"
)

// HTTPError is a sanitized summary of a non-2xx remote API response.
//
// Raw response bodies are never stored here (they can leak PII or tokens);
// only a redacted, truncated snippet survives.
type HTTPError struct {
	Service    string
	Op         string
	StatusCode int
	Status     string
	Snippet    string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "remote api error"
	}
	parts := []string{
		fmt.Sprintf("%s api error: op=%s status=%s", e.Service, strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

// NewHTTPError builds a sanitized error for a failed response and wraps it
// as transient when the status is retryable (429 and 5xx).
func NewHTTPError(service, op string, resp *http.Response, body []byte) error {
	h := &HTTPError{Service: service, Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}
	h.Snippet = redactAndTruncate(body)
	if TransientStatus(h.StatusCode) {
		return &core.TransientError{Err: h}
	}
	return h
}

// TransientStatus reports whether an HTTP status warrants a retry.
func TransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code/100 == 5
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := redact.Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
