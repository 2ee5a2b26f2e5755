package emailpattern_test

import (
	"reflect"
	"testing"

	"github.com/crowdsift/attendee-pipeline/internal/emailpattern"
)

func TestGenerate_OrderAndDeterminism(t *testing.T) {
	t.Parallel()

	want := []string{
		"jane.doe@acmecorp.com",
		"janedoe@acmecorp.com",
		"jdoe@acmecorp.com",
		"jane@acmecorp.com",
	}

	for i := 0; i < 3; i++ {
		got := emailpattern.Generate("Jane", "Doe", "acmecorp.com")
		if len(got) != len(want) {
			t.Fatalf("expected %d candidates, got %d", len(want), len(got))
		}
		for j, c := range got {
			if c.Email != want[j] {
				t.Fatalf("candidate %d: got %q, want %q", j, c.Email, want[j])
			}
			if c.Rank != j+1 {
				t.Fatalf("candidate %d: rank %d", j, c.Rank)
			}
		}
	}
}

func TestGenerate_FoldsNonASCII(t *testing.T) {
	t.Parallel()

	got := emailpattern.Generate("José", "Núñez García", "ejemplo.com")
	if len(got) == 0 {
		t.Fatal("expected candidates")
	}
	if got[0].Email != "jose.nunezgarcia@ejemplo.com" {
		t.Fatalf("got %q", got[0].Email)
	}
}

func TestGenerate_NoAlphabeticContent(t *testing.T) {
	t.Parallel()

	if got := emailpattern.Generate("###", "---", "acme.com"); got != nil {
		t.Fatalf("expected empty sequence, got %#v", got)
	}
	if got := emailpattern.Generate("Jane", "Doe", ""); got != nil {
		t.Fatalf("expected empty sequence without a domain, got %#v", got)
	}
}

func TestGenerate_FirstNameOnly(t *testing.T) {
	t.Parallel()

	got := emailpattern.Generate("Cher", "", "music.com")
	want := []string{"cher@music.com"}
	var emails []string
	for _, c := range got {
		emails = append(emails, c.Email)
	}
	if !reflect.DeepEqual(emails, want) {
		t.Fatalf("got %v, want %v", emails, want)
	}
}

func TestAnalyzePeers(t *testing.T) {
	t.Parallel()

	peers := []emailpattern.PeerEmail{
		{FirstName: "Alice", LastName: "Smith", Email: "alice.smith@initech.com"},
		{FirstName: "Bob", LastName: "Jones", Email: "bob.jones@initech.com"},
		{FirstName: "Carol", LastName: "White", Email: "cwhite@initech.com"},
		{FirstName: "", LastName: "", Email: "info@initech.com"}, // generic, ignored
	}

	stats := emailpattern.AnalyzePeers(peers)
	if len(stats) == 0 {
		t.Fatal("expected stats")
	}
	top := stats[0]
	if top.Pattern != emailpattern.FirstDotLast || top.Matches != 2 {
		t.Fatalf("unexpected top stat: %+v", top)
	}
	if top.Domain != "initech.com" {
		t.Fatalf("unexpected domain: %q", top.Domain)
	}
}

func TestAnalyzePeers_AllGeneric(t *testing.T) {
	t.Parallel()

	stats := emailpattern.AnalyzePeers([]emailpattern.PeerEmail{
		{Email: "sales@initech.com"},
		{Email: "support@initech.com"},
	})
	if stats != nil {
		t.Fatalf("expected nil, got %#v", stats)
	}
}

func TestIsGenericAddress(t *testing.T) {
	t.Parallel()

	if !emailpattern.IsGenericAddress("info@acme.com") {
		t.Error("info@ should be generic")
	}
	if emailpattern.IsGenericAddress("jane.doe@acme.com") {
		t.Error("jane.doe@ should not be generic")
	}
}

func TestParsePattern(t *testing.T) {
	t.Parallel()

	if p, ok := emailpattern.ParsePattern(" First.Last "); !ok || p != emailpattern.FirstDotLast {
		t.Fatalf("got %q ok=%t", p, ok)
	}
	if _, ok := emailpattern.ParsePattern("middle.last"); ok {
		t.Fatal("expected unknown pattern to be rejected")
	}
}
