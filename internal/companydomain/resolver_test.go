package companydomain_test

import (
	"errors"
	"testing"

	"github.com/crowdsift/attendee-pipeline/internal/companydomain"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	cases := []struct {
		company string
		want    string
	}{
		{"Acme Corp, Inc.", "acmecorp.com"},
		{"Acme Corp Inc", "acmecorp.com"},
		{"Initech LLC", "initech.com"},
		{"Hooli", "hooli.com"},
		{"Vance Refrigeration, Ltd", "vancerefrigeration.com"},
		{"O'Brien & Sons Co.", "obriensons.com"},
		{"  Stark   Industries  ", "starkindustries.com"},
	}
	for _, tc := range cases {
		got, err := companydomain.Resolve(tc.company)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.company, err)
		}
		if got != tc.want {
			t.Errorf("%q: got %q, want %q", tc.company, got, tc.want)
		}
	}
}

func TestResolve_Unresolvable(t *testing.T) {
	t.Parallel()

	for _, company := range []string{"", "   ", "---", ", Inc.", "1234"} {
		_, err := companydomain.Resolve(company)
		if !errors.Is(err, companydomain.ErrUnresolvable) {
			t.Errorf("%q: expected ErrUnresolvable, got %v", company, err)
		}
	}
}

func TestResolve_StripsOnlyTrailingSuffix(t *testing.T) {
	t.Parallel()

	// "Corp" in the middle of the name is content, not a legal suffix.
	got, err := companydomain.Resolve("Corp Solutions Inc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "corpsolutions.com" {
		t.Fatalf("got %q", got)
	}
}
