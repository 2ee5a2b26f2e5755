package remote_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/crowdsift/attendee-pipeline/internal/pipeline/core"
	"github.com/crowdsift/attendee-pipeline/internal/remote"
)

func fakeResp(code int) *http.Response {
	return &http.Response{StatusCode: code, Status: http.StatusText(code)}
}

func TestNewHTTPError_Transient(t *testing.T) {
	t.Parallel()

	for _, code := range []int{429, 500, 503} {
		err := remote.NewHTTPError("apollo", "people/match", fakeResp(code), nil)
		var te *core.TransientError
		if !errors.As(err, &te) {
			t.Errorf("status %d: expected TransientError, got %T", code, err)
		}
	}
}

func TestNewHTTPError_Permanent(t *testing.T) {
	t.Parallel()

	err := remote.NewHTTPError("salesforce", "query", fakeResp(401), []byte(`{"error":"invalid_grant"}`))
	var te *core.TransientError
	if errors.As(err, &te) {
		t.Fatal("401 must not be transient")
	}
	var he *remote.HTTPError
	if !errors.As(err, &he) || he.StatusCode != 401 {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewHTTPError_RedactsBody(t *testing.T) {
	t.Parallel()

	err := remote.NewHTTPError("apollo", "people/match", fakeResp(400), []byte(`api_key=SECRET123 is invalid`))
	if strings.Contains(err.Error(), "SECRET123") {
		t.Fatalf("body not redacted: %v", err)
	}
}
