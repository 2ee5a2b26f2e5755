// Package mockremote implements in-process stand-ins for the two remote
// services the pipeline talks to: the people database and the CRM. It
// backs local development and integration tests without live credentials.
package mockremote

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"sync"
)

// Call records a request made to the mock services.
type Call struct {
	Method string
	Path   string
}

// Person is a seeded people-database record.
type Person struct {
	ID          string  `json:"id"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	Email       string  `json:"email"`
	EmailStatus string  `json:"email_status"`
	Confidence  float64 `json:"extrapolated_email_confidence"`

	// Organization is matching metadata, not part of the wire schema.
	Organization string `json:"-"`
}

// Account is a seeded CRM account.
type Account struct {
	ID                  string
	Name                string
	Website             string
	CustomerDesignation string
	OwnerName           string
	LastActivityDate    string
	SystemModstamp      string
}

// Contact is a seeded CRM contact.
type Contact struct {
	ID        string
	Name      string
	Email     string
	AccountID string
}

// Opportunity is a seeded CRM opportunity.
type Opportunity struct {
	ID        string
	Name      string
	AccountID string
	OwnerName string
	IsClosed  bool
}

// Server hosts both mock services on one handler.
type Server struct {
	mu    sync.Mutex
	calls []Call

	peopleAPIKey string
	crmUsername  string
	crmPassword  string
	crmToken     string

	people        []Person
	accounts      []Account
	contacts      []Contact
	opportunities []Opportunity

	// instanceURL is reported by the login endpoint; tests set it to the
	// httptest server URL.
	instanceURL string
}

func New() *Server {
	return &Server{crmToken: "mock-session-token"}
}

// RequirePeopleAPIKey enforces the X-Api-Key header on people endpoints.
func (s *Server) RequirePeopleAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peopleAPIKey = strings.TrimSpace(key)
}

// RequireCRMCredentials enforces the password grant on the token endpoint.
// The password presented must be password+securityToken concatenated.
func (s *Server) RequireCRMCredentials(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crmUsername = username
	s.crmPassword = password
}

// SetInstanceURL sets the instance URL the login endpoint reports back.
func (s *Server) SetInstanceURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instanceURL = strings.TrimRight(u, "/")
}

func (s *Server) SeedPeople(people ...Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.people = append(s.people, people...)
}

func (s *Server) SeedAccounts(accounts ...Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, accounts...)
}

func (s *Server) SeedContacts(contacts ...Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = append(s.contacts, contacts...)
}

func (s *Server) SeedOpportunities(opps ...Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opportunities = append(s.opportunities, opps...)
}

// Calls returns a snapshot of every request seen so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Handler serves both mock APIs.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/people/match", s.handlePeopleMatch)
	mux.HandleFunc("/v1/people/search", s.handlePeopleSearch)
	mux.HandleFunc("/v1/people/", s.handlePersonByID)
	mux.HandleFunc("/services/oauth2/token", s.handleToken)
	mux.HandleFunc("/services/data/v59.0/query", s.handleQuery)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
		s.mu.Unlock()
		mux.ServeHTTP(w, r)
	})
}

func (s *Server) checkPeopleAuth(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	key := s.peopleAPIKey
	s.mu.Unlock()
	if key != "" && r.Header.Get("X-Api-Key") != key {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
		return false
	}
	return true
}

func (s *Server) handlePeopleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.checkPeopleAuth(w, r) {
		return
	}
	var req struct {
		FirstName        string `json:"first_name"`
		LastName         string `json:"last_name"`
		OrganizationName string `json:"organization_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.people {
		if strings.EqualFold(p.FirstName, req.FirstName) &&
			strings.EqualFold(p.LastName, req.LastName) &&
			organizationMatches(p.Organization, req.OrganizationName) {
			writeJSON(w, http.StatusOK, map[string]any{"person": p})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"person": nil})
}

func (s *Server) handlePeopleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.checkPeopleAuth(w, r) {
		return
	}
	var req struct {
		OrganizationName string `json:"organization_name"`
		PerPage          int    `json:"per_page"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}
	limit := req.PerPage
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Person
	for _, p := range s.people {
		if organizationMatches(p.Organization, req.OrganizationName) {
			out = append(out, p)
			if len(out) >= limit {
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"people": out})
}

func (s *Server) handlePersonByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.checkPeopleAuth(w, r) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/people/")

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.people {
		if p.ID == id {
			writeJSON(w, http.StatusOK, map[string]any{"person": p})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "person not found"})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad form"})
		return
	}

	s.mu.Lock()
	username, password := s.crmUsername, s.crmPassword
	token, instance := s.crmToken, s.instanceURL
	s.mu.Unlock()

	if r.PostFormValue("grant_type") != "password" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	if username != "" && (r.PostFormValue("username") != username || r.PostFormValue("password") != password) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"instance_url": instance,
	})
}

var (
	nameLikeRe    = regexp.MustCompile(`Name LIKE '%(.*?)%'`)
	websiteLikeRe = regexp.MustCompile(`Website LIKE '%(.*?)%'`)
	emailEqRe     = regexp.MustCompile(`Email = '([^']*)'`)
	accountIDRe   = regexp.MustCompile(`AccountId = '([^']*)'`)
	idEqRe        = regexp.MustCompile(`\bId = '([^']*)'`)
)

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	token := s.crmToken
	s.mu.Unlock()
	if r.Header.Get("Authorization") != "Bearer "+token {
		writeJSON(w, http.StatusUnauthorized, []map[string]string{{"errorCode": "INVALID_SESSION_ID"}})
		return
	}

	soql := r.URL.Query().Get("q")
	switch {
	case strings.Contains(soql, "FROM Account"):
		s.queryAccounts(w, soql)
	case strings.Contains(soql, "FROM Contact"):
		s.queryContacts(w, soql)
	case strings.Contains(soql, "FROM Opportunity"):
		s.queryOpportunities(w, soql)
	default:
		writeJSON(w, http.StatusBadRequest, []map[string]string{{"errorCode": "MALFORMED_QUERY"}})
	}
}

func (s *Server) queryAccounts(w http.ResponseWriter, soql string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []Account
	switch {
	case nameLikeRe.MatchString(soql):
		term := strings.ToLower(nameLikeRe.FindStringSubmatch(soql)[1])
		for _, a := range s.accounts {
			if strings.Contains(strings.ToLower(a.Name), term) {
				matches = append(matches, a)
			}
		}
	case websiteLikeRe.MatchString(soql):
		term := strings.ToLower(websiteLikeRe.FindStringSubmatch(soql)[1])
		for _, a := range s.accounts {
			if strings.Contains(strings.ToLower(a.Website), term) {
				matches = append(matches, a)
			}
		}
	case idEqRe.MatchString(soql):
		id := idEqRe.FindStringSubmatch(soql)[1]
		for _, a := range s.accounts {
			if a.ID == id {
				matches = append(matches, a)
			}
		}
	}

	records := make([]map[string]any, 0, len(matches))
	for _, a := range matches {
		records = append(records, accountRecord(a))
	}
	writeQueryResult(w, records)
}

func (s *Server) queryContacts(w http.ResponseWriter, soql string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []map[string]any
	if m := emailEqRe.FindStringSubmatch(soql); m != nil {
		for _, c := range s.contacts {
			if strings.EqualFold(c.Email, m[1]) {
				rec := map[string]any{
					"Id":        c.ID,
					"Name":      c.Name,
					"Email":     c.Email,
					"AccountId": c.AccountID,
				}
				if acct, ok := s.accountByID(c.AccountID); ok {
					rec["Account"] = accountRecord(acct)
				}
				records = append(records, rec)
				break
			}
		}
	}
	writeQueryResult(w, records)
}

func (s *Server) queryOpportunities(w http.ResponseWriter, soql string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []map[string]any
	if m := accountIDRe.FindStringSubmatch(soql); m != nil {
		onlyOpen := strings.Contains(soql, "IsClosed = false")
		for _, o := range s.opportunities {
			if o.AccountID != m[1] {
				continue
			}
			if onlyOpen && o.IsClosed {
				continue
			}
			records = append(records, map[string]any{
				"Id":    o.ID,
				"Name":  o.Name,
				"Owner": map[string]any{"Name": o.OwnerName},
			})
		}
	}
	writeQueryResult(w, records)
}

func (s *Server) accountByID(id string) (Account, bool) {
	for _, a := range s.accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

func accountRecord(a Account) map[string]any {
	return map[string]any{
		"Id":                      a.ID,
		"Name":                    a.Name,
		"Website":                 a.Website,
		"Customer_Designation__c": a.CustomerDesignation,
		"Owner":                   map[string]any{"Name": a.OwnerName},
		"LastActivityDate":        a.LastActivityDate,
		"SystemModstamp":          a.SystemModstamp,
	}
}

func organizationMatches(seeded, requested string) bool {
	seeded = strings.ToLower(strings.TrimSpace(seeded))
	requested = strings.ToLower(strings.TrimSpace(requested))
	if seeded == "" || requested == "" {
		return false
	}
	return seeded == requested || strings.Contains(seeded, requested) || strings.Contains(requested, seeded)
}

func writeQueryResult(w http.ResponseWriter, records []map[string]any) {
	if records == nil {
		records = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totalSize": len(records),
		"done":      true,
		"records":   records,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
