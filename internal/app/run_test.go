package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/crowdsift/attendee-pipeline/internal/config"
	"github.com/crowdsift/attendee-pipeline/internal/mockremote"
	"github.com/crowdsift/attendee-pipeline/internal/progress"
)

func writeRoster(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "attendees.csv")
	content := "First Name,Last Name,Company,Job Title,Email\n" +
		"Pat,Chen,Acme Corp,VP Engineering,\n" +
		"Ana,Sol,New Ventures,Founder,ana@newventures.com\n" +
		"Bo,Li,Globex,Analyst,\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	return path
}

func TestRunEndToEnd(t *testing.T) {
	mock := mockremote.New()
	ts := httptest.NewServer(mock.Handler())
	defer ts.Close()
	mock.SetInstanceURL(ts.URL)
	mock.RequirePeopleAPIKey("dev-key")
	mock.RequireCRMCredentials("ops@example.com", "pw")

	// Pat Chen is known to the people database and is an existing
	// customer with an open opportunity.
	mock.SeedPeople(mockremote.Person{
		ID: "p1", FirstName: "Pat", LastName: "Chen",
		Email: "pat.chen@acmecorp.com", EmailStatus: "verified",
		Organization: "Acme Corp",
	})
	mock.SeedAccounts(mockremote.Account{
		ID: "001A", Name: "Acme Corp", Website: "https://acmecorp.com",
		OwnerName: "Dana Reyes",
		// Stale touches, but the open opportunity outranks everything.
		LastActivityDate: "2025-01-01",
		SystemModstamp:   "2025-01-01T00:00:00.000+0000",
	})
	mock.SeedContacts(mockremote.Contact{
		ID: "003C", Name: "Pat Chen", Email: "pat.chen@acmecorp.com", AccountID: "001A",
	})
	mock.SeedOpportunities(mockremote.Opportunity{
		ID: "006O", Name: "Acme Renewal", AccountID: "001A", OwnerName: "Sam Ortiz",
	})

	dir := t.TempDir()
	rosterPath := writeRoster(t, dir)

	cfg := config.Config{
		Workers:             2,
		MaxRetries:          1,
		RequestTimeout:      5 * time.Second,
		ActivityWindowDays:  90,
		ModifiedWindowDays:  30,
		MinRemoteConfidence: 0.8,
		PeerSearchLimit:     10,
		ApolloAPIKey:        "dev-key",
		ApolloBaseURL:       ts.URL,
		SalesforceLoginURL:  ts.URL,
		SalesforceUsername:  "ops@example.com",
		SalesforcePassword:  "pw",
		OutputDir:           dir,
		ProgressFile:        "progress.json",
	}

	if err := Run(context.Background(), cfg, rosterPath, zerolog.Nop()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Workbook, combined CSV, backup dir and progress file all land in
	// the output directory.
	for _, name := range []string{"conference_attendees_results.xlsx", "processed.csv", "csv_backup", "progress.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}

	combined := readCSV(t, filepath.Join(dir, "processed.csv"))
	if len(combined) != 4 {
		t.Fatalf("combined rows = %d, want header + 3", len(combined))
	}
	rowFor := func(first string) []string {
		for _, rec := range combined[1:] {
			if rec[0] == first {
				return rec
			}
		}
		t.Fatalf("no row for %s", first)
		return nil
	}

	pat := rowFor("Pat")
	if pat[4] != "pat.chen@acmecorp.com" {
		t.Errorf("Pat email = %q", pat[4])
	}
	if pat[8] != "OPEN_OPPORTUNITY" {
		t.Errorf("Pat classification = %q", pat[8])
	}

	ana := rowFor("Ana")
	if ana[4] != "ana@newventures.com" || ana[6] != "provided" {
		t.Errorf("Ana email = %q source %q", ana[4], ana[6])
	}
	if ana[8] != "QUALIFIED_PROSPECT" {
		t.Errorf("Ana classification = %q", ana[8])
	}

	bo := rowFor("Bo")
	// Globex is unknown everywhere, so the local pattern fallback fires.
	if bo[4] != "bo.li@globex.com" || bo[6] != "pattern_fallback" {
		t.Errorf("Bo email = %q source %q", bo[4], bo[6])
	}

	var state progress.State
	data, err := os.ReadFile(filepath.Join(dir, "progress.json"))
	if err != nil {
		t.Fatalf("read progress: %v", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if state.Phase != progress.PhaseDone || state.Processed != 3 {
		t.Errorf("progress = %+v", state)
	}
	if state.Buckets["OPEN_OPPORTUNITY"] != 1 {
		t.Errorf("buckets = %v", state.Buckets)
	}
}

func TestRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		Workers:            1,
		ApolloAPIKey:       "k",
		SalesforceLoginURL: "https://login.example.com",
		SalesforceUsername: "u",
		SalesforcePassword: "p",
		OutputDir:          dir,
		ProgressFile:       "progress.json",
	}

	err := Run(context.Background(), cfg, filepath.Join(dir, "nope.csv"), zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for missing roster")
	}

	// The failure is recorded in the progress file.
	data, rerr := os.ReadFile(filepath.Join(dir, "progress.json"))
	if rerr != nil {
		t.Fatalf("read progress: %v", rerr)
	}
	var state progress.State
	if jerr := json.Unmarshal(data, &state); jerr != nil {
		t.Fatalf("decode progress: %v", jerr)
	}
	if state.Phase != progress.PhaseFailed || state.Error == "" {
		t.Errorf("progress = %+v", state)
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return records
}
