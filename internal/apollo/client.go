// Package apollo is a client for the Apollo-style people-enrichment API
// used for email discovery: person match, person detail, and company
// people search.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crowdsift/attendee-pipeline/internal/remote"
)

const defaultBaseURL = "https://api.apollo.io"

type Config struct {
	BaseURL string
	APIKey  string

	// HTTPClient overrides the default client (tests, proxies).
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("apollo: APOLLO_API_KEY is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: base, apiKey: strings.TrimSpace(cfg.APIKey), httpc: httpc}, nil
}

// Person is the subset of the people API response the pipeline consumes.
// Responses are decoded into this strict shape at the adapter boundary;
// unknown fields never propagate further.
type Person struct {
	ID          string  `json:"id"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	Email       string  `json:"email"`
	EmailStatus string  `json:"email_status"`
	Confidence  float64 `json:"extrapolated_email_confidence"`
}

// HasEmail reports whether the record carries a usable address.
func (p Person) HasEmail() bool {
	return strings.Contains(p.Email, "@")
}

type personEnvelope struct {
	Person *Person `json:"person"`
}

type peopleEnvelope struct {
	People []Person `json:"people"`
}

// MatchPerson looks up a single person by name and organization. A nil
// Person with nil error means the service found no match.
func (c *Client) MatchPerson(ctx context.Context, firstName, lastName, organization string) (*Person, error) {
	payload := map[string]string{
		"first_name":        firstName,
		"last_name":         lastName,
		"organization_name": organization,
	}
	var env personEnvelope
	if err := c.postJSON(ctx, "people/match", "/v1/people/match", payload, &env); err != nil {
		return nil, err
	}
	return env.Person, nil
}

// PersonByID fetches person detail, used when a match returned an ID but
// no unlocked email.
func (c *Client) PersonByID(ctx context.Context, id string) (*Person, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("apollo: person id is required")
	}
	var env personEnvelope
	if err := c.getJSON(ctx, "people/detail", "/v1/people/"+url.PathEscape(id), &env); err != nil {
		return nil, err
	}
	return env.Person, nil
}

// SearchPeople lists people at an organization, used for company email
// pattern inference.
func (c *Client) SearchPeople(ctx context.Context, organization string, perPage int) ([]Person, error) {
	if perPage <= 0 {
		perPage = 10
	}
	payload := map[string]any{
		"organization_name": organization,
		"page":              1,
		"per_page":          perPage,
	}
	var env peopleEnvelope
	if err := c.postJSON(ctx, "people/search", "/v1/people/search", payload, &env); err != nil {
		return nil, err
	}
	return env.People, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("apollo: encode %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("apollo: %s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("apollo: %s: read response: %w", op, err)
	}
	if resp.StatusCode/100 != 2 {
		return remote.NewHTTPError("apollo", op, resp, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("apollo: %s: decode response: %w", op, err)
	}
	return nil
}
