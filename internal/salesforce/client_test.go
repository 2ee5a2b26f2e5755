package salesforce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/crowdsift/attendee-pipeline/internal/pipeline/core"
)

type fakeCRM struct {
	*httptest.Server
	logins  atomic.Int64
	queries []string

	token      string
	queryReply func(soql string, w http.ResponseWriter)
}

func newFakeCRM(t *testing.T) *fakeCRM {
	t.Helper()
	f := &fakeCRM{token: "tok-1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/services/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.PostFormValue("grant_type") != "password" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		if r.PostFormValue("password") != "pw"+"sectok" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		f.logins.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"instance_url":%q}`, f.token, f.URL)
	})
	mux.HandleFunc("/services/data/v59.0/query", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+f.token {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `[{"errorCode":"INVALID_SESSION_ID"}]`)
			return
		}
		soql := r.URL.Query().Get("q")
		f.queries = append(f.queries, soql)
		if f.queryReply != nil {
			f.queryReply(soql, w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"totalSize":0,"done":true,"records":[]}`)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newTestClient(t *testing.T, f *fakeCRM) *Client {
	t.Helper()
	c, err := New(Config{
		LoginURL:      f.URL,
		Username:      "ops@example.com",
		Password:      "pw",
		SecurityToken: "sectok",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestLoginAndQueryAccountsByName(t *testing.T) {
	t.Parallel()
	f := newFakeCRM(t)
	f.queryReply = func(soql string, w http.ResponseWriter) {
		fmt.Fprint(w, `{"totalSize":1,"done":true,"records":[{
			"Id":"001A",
			"Name":"Acme Corp",
			"Website":"https://acmecorp.com",
			"Customer_Designation__c":"Customer",
			"Owner":{"Name":"Dana Reyes"},
			"LastActivityDate":"2026-08-01",
			"SystemModstamp":"2026-08-15T10:00:00.000+0000"
		}]}`)
	}
	c := newTestClient(t, f)

	accounts, err := c.FindAccountsByName(context.Background(), "Acme")
	if err != nil {
		t.Fatalf("FindAccountsByName: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("accounts = %d, want 1", len(accounts))
	}
	got := accounts[0]
	if got.ID != "001A" || got.Name != "Acme Corp" || got.CustomerDesignation != "Customer" {
		t.Errorf("unexpected account: %+v", got)
	}
	if got.Owner == nil || got.Owner.Name != "Dana Reyes" {
		t.Errorf("owner = %+v, want Dana Reyes", got.Owner)
	}
	if f.logins.Load() != 1 {
		t.Errorf("logins = %d, want 1", f.logins.Load())
	}
	if len(f.queries) != 1 || !strings.Contains(f.queries[0], "Name LIKE '%Acme%'") {
		t.Errorf("unexpected SOQL: %v", f.queries)
	}
}

func TestSessionReusedAcrossQueries(t *testing.T) {
	t.Parallel()
	f := newFakeCRM(t)
	c := newTestClient(t, f)

	for i := 0; i < 3; i++ {
		if _, err := c.FindAccountsByDomain(context.Background(), "acmecorp.com"); err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
	}
	if f.logins.Load() != 1 {
		t.Errorf("logins = %d, want 1", f.logins.Load())
	}
}

func TestExpiredSessionTriggersRelogin(t *testing.T) {
	t.Parallel()
	f := newFakeCRM(t)
	c := newTestClient(t, f)

	if _, err := c.FindAccountsByName(context.Background(), "Acme"); err != nil {
		t.Fatalf("first query: %v", err)
	}

	// Invalidate the server-side token; the next query should re-login
	// transparently and succeed.
	f.token = "tok-2"
	if _, err := c.FindAccountsByName(context.Background(), "Acme"); err != nil {
		t.Fatalf("query after expiry: %v", err)
	}
	if f.logins.Load() != 2 {
		t.Errorf("logins = %d, want 2", f.logins.Load())
	}
}

func TestBadCredentialsIsPermanent(t *testing.T) {
	t.Parallel()
	f := newFakeCRM(t)
	c, err := New(Config{
		LoginURL: f.URL,
		Username: "ops@example.com",
		Password: "wrong",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.FindAccountsByName(context.Background(), "Acme")
	if err == nil {
		t.Fatal("expected login failure")
	}
	var te *core.TransientError
	if errors.As(err, &te) {
		t.Errorf("login rejection should not be transient: %v", err)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	t.Parallel()
	f := newFakeCRM(t)
	f.queryReply = func(soql string, w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `[{"errorCode":"SERVER_UNAVAILABLE"}]`)
	}
	c := newTestClient(t, f)

	_, err := c.FindAccountsByName(context.Background(), "Acme")
	var te *core.TransientError
	if !errors.As(err, &te) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestContactByEmailAndOpenOpportunities(t *testing.T) {
	t.Parallel()
	f := newFakeCRM(t)
	f.queryReply = func(soql string, w http.ResponseWriter) {
		switch {
		case strings.Contains(soql, "FROM Contact"):
			fmt.Fprint(w, `{"totalSize":1,"done":true,"records":[{
				"Id":"003C","Name":"Pat Chen","Email":"pat.chen@acmecorp.com",
				"AccountId":"001A",
				"Account":{"Id":"001A","Name":"Acme Corp"},
				"LastActivityDate":"2026-08-20"
			}]}`)
		case strings.Contains(soql, "FROM Opportunity"):
			fmt.Fprint(w, `{"totalSize":1,"done":true,"records":[{
				"Id":"006O","Name":"Acme Renewal","Owner":{"Name":"Sam Ortiz"}
			}]}`)
		default:
			fmt.Fprint(w, `{"totalSize":0,"done":true,"records":[]}`)
		}
	}
	c := newTestClient(t, f)

	contact, err := c.ContactByEmail(context.Background(), "pat.chen@acmecorp.com")
	if err != nil {
		t.Fatalf("ContactByEmail: %v", err)
	}
	if contact == nil || contact.AccountID != "001A" {
		t.Fatalf("contact = %+v, want account 001A", contact)
	}
	if contact.Account == nil || contact.Account.Name != "Acme Corp" {
		t.Errorf("contact account = %+v", contact.Account)
	}

	opps, err := c.OpenOpportunities(context.Background(), "001A")
	if err != nil {
		t.Fatalf("OpenOpportunities: %v", err)
	}
	if len(opps) != 1 || opps[0].Owner == nil || opps[0].Owner.Name != "Sam Ortiz" {
		t.Errorf("opps = %+v", opps)
	}

	var sawOppQuery bool
	for _, q := range f.queries {
		if strings.Contains(q, "IsClosed = false") && strings.Contains(q, "AccountId = '001A'") {
			sawOppQuery = true
		}
	}
	if !sawOppQuery {
		t.Errorf("no open-opportunity SOQL recorded: %v", f.queries)
	}
}

func TestContactByEmailNoMatch(t *testing.T) {
	t.Parallel()
	f := newFakeCRM(t)
	c := newTestClient(t, f)

	contact, err := c.ContactByEmail(context.Background(), "nobody@acmecorp.com")
	if err != nil {
		t.Fatalf("ContactByEmail: %v", err)
	}
	if contact != nil {
		t.Errorf("contact = %+v, want nil", contact)
	}
}

func TestEscapeSOQL(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ in, want string }{
		{"Acme", "Acme"},
		{"O'Brien & Co", `O\'Brien & Co`},
		{`back\slash`, `back\\slash`},
	} {
		if got := escapeSOQL(tc.in); got != tc.want {
			t.Errorf("escapeSOQL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestQueryEncoding(t *testing.T) {
	t.Parallel()
	f := newFakeCRM(t)
	c := newTestClient(t, f)

	if _, err := c.FindAccountsByName(context.Background(), "Smith & Jones"); err != nil {
		t.Fatalf("query: %v", err)
	}
	// Query arrives decoded intact despite the ampersand.
	if len(f.queries) != 1 || !strings.Contains(f.queries[0], "Smith & Jones") {
		t.Errorf("queries = %v", f.queries)
	}
	if _, err := url.ParseQuery("q=" + url.QueryEscape(f.queries[0])); err != nil {
		t.Errorf("round-trip encode: %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{LoginURL: "https://login.example.com"}); err == nil {
		t.Error("expected error for missing credentials")
	}
	if _, err := New(Config{Username: "u", Password: "p"}); err == nil {
		t.Error("expected error for missing login URL")
	}
}
