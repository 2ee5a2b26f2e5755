// Package salesforce is a minimal REST client for the CRM: password-flow
// login plus the three SOQL query families the pipeline needs (accounts,
// opportunities, contact engagement).
package salesforce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/crowdsift/attendee-pipeline/internal/remote"
)

const defaultAPIVersion = "v59.0"

type Config struct {
	// LoginURL hosts the token endpoint (production default
	// https://login.salesforce.com; sandboxes and mocks override it).
	LoginURL      string
	Username      string
	Password      string
	SecurityToken string

	// InstanceURL overrides the instance returned by login. Mostly for
	// tests; production deployments take the login response value.
	InstanceURL string

	APIVersion string
	HTTPClient *http.Client
}

type Client struct {
	cfg   Config
	httpc *http.Client

	mu          sync.Mutex
	accessToken string
	instanceURL string
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Username) == "" || strings.TrimSpace(cfg.Password) == "" {
		return nil, fmt.Errorf("salesforce: username and password are required")
	}
	if strings.TrimSpace(cfg.LoginURL) == "" {
		return nil, fmt.Errorf("salesforce: login URL is required")
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		cfg:         cfg,
		httpc:       httpc,
		instanceURL: strings.TrimRight(strings.TrimSpace(cfg.InstanceURL), "/"),
	}, nil
}

// InstanceURL returns the instance base URL once known (after login or
// from config). Used to build record deep links for reports.
func (c *Client) InstanceURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instanceURL
}

// Account mirrors the CRM Account fields the classifier consumes.
type Account struct {
	ID                  string       `json:"Id"`
	Name                string       `json:"Name"`
	Website             string       `json:"Website"`
	CustomerDesignation string       `json:"Customer_Designation__c"`
	Owner               *OwnerRecord `json:"Owner"`
	LastActivityDate    string       `json:"LastActivityDate"`
	SystemModstamp      string       `json:"SystemModstamp"`
}

// Contact mirrors the CRM Contact fields used for engagement lookup.
type Contact struct {
	ID               string   `json:"Id"`
	Name             string   `json:"Name"`
	Email            string   `json:"Email"`
	AccountID        string   `json:"AccountId"`
	Account          *Account `json:"Account"`
	LastActivityDate string   `json:"LastActivityDate"`
	SystemModstamp   string   `json:"SystemModstamp"`
}

// Opportunity mirrors the CRM Opportunity fields used for reporting.
type Opportunity struct {
	ID    string       `json:"Id"`
	Name  string       `json:"Name"`
	Owner *OwnerRecord `json:"Owner"`
}

type OwnerRecord struct {
	Name string `json:"Name"`
}

type queryResponse[T any] struct {
	TotalSize int  `json:"totalSize"`
	Done      bool `json:"done"`
	Records   []T  `json:"records"`
}

const accountFields = "Id, Name, Website, Customer_Designation__c, Owner.Name, LastActivityDate, SystemModstamp"

// FindAccountsByName searches accounts whose name contains the term.
func (c *Client) FindAccountsByName(ctx context.Context, name string) ([]Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	soql := fmt.Sprintf(
		"SELECT %s FROM Account WHERE Name LIKE '%%%s%%' LIMIT 10",
		accountFields, escapeSOQL(name),
	)
	var out queryResponse[Account]
	if err := c.query(ctx, "account/by-name", soql, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// FindAccountsByDomain searches accounts whose website contains the domain.
func (c *Client) FindAccountsByDomain(ctx context.Context, domain string) ([]Account, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, nil
	}
	soql := fmt.Sprintf(
		"SELECT %s FROM Account WHERE Website LIKE '%%%s%%' LIMIT 10",
		accountFields, escapeSOQL(domain),
	)
	var out queryResponse[Account]
	if err := c.query(ctx, "account/by-domain", soql, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// AccountByID fetches one account.
func (c *Client) AccountByID(ctx context.Context, id string) (*Account, error) {
	soql := fmt.Sprintf("SELECT %s FROM Account WHERE Id = '%s' LIMIT 1", accountFields, escapeSOQL(id))
	var out queryResponse[Account]
	if err := c.query(ctx, "account/by-id", soql, &out); err != nil {
		return nil, err
	}
	if len(out.Records) == 0 {
		return nil, nil
	}
	return &out.Records[0], nil
}

// ContactByEmail finds the contact matching an exact email address.
func (c *Client) ContactByEmail(ctx context.Context, email string) (*Contact, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	soql := fmt.Sprintf(
		"SELECT Id, Name, Email, AccountId, Account.Name, Account.Website, Account.Customer_Designation__c, Account.Owner.Name, Account.LastActivityDate, Account.SystemModstamp, LastActivityDate, SystemModstamp FROM Contact WHERE Email = '%s' LIMIT 1",
		escapeSOQL(email),
	)
	var out queryResponse[Contact]
	if err := c.query(ctx, "contact/by-email", soql, &out); err != nil {
		return nil, err
	}
	if len(out.Records) == 0 {
		return nil, nil
	}
	return &out.Records[0], nil
}

// OpenOpportunities lists open opportunities on an account.
func (c *Client) OpenOpportunities(ctx context.Context, accountID string) ([]Opportunity, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Name, Owner.Name FROM Opportunity WHERE AccountId = '%s' AND IsClosed = false LIMIT 10",
		escapeSOQL(accountID),
	)
	var out queryResponse[Opportunity]
	if err := c.query(ctx, "opportunity/open", soql, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
}

func (c *Client) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password+c.cfg.SecurityToken)

	endpoint := strings.TrimRight(strings.TrimSpace(c.cfg.LoginURL), "/") + "/services/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("salesforce: login: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("salesforce: login: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return remote.NewHTTPError("salesforce", "login", resp, body)
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return fmt.Errorf("salesforce: login: decode response: %w", err)
	}
	if strings.TrimSpace(lr.AccessToken) == "" {
		return fmt.Errorf("salesforce: login: empty access token")
	}

	c.mu.Lock()
	c.accessToken = lr.AccessToken
	if c.instanceURL == "" && strings.TrimSpace(lr.InstanceURL) != "" {
		c.instanceURL = strings.TrimRight(strings.TrimSpace(lr.InstanceURL), "/")
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) ensureSession(ctx context.Context) (token, instance string, err error) {
	c.mu.Lock()
	token, instance = c.accessToken, c.instanceURL
	c.mu.Unlock()
	if token != "" && instance != "" {
		return token, instance, nil
	}
	if err := c.login(ctx); err != nil {
		return "", "", err
	}
	c.mu.Lock()
	token, instance = c.accessToken, c.instanceURL
	c.mu.Unlock()
	if instance == "" {
		return "", "", fmt.Errorf("salesforce: no instance URL after login")
	}
	return token, instance, nil
}

func (c *Client) query(ctx context.Context, op, soql string, out any) error {
	err := c.queryOnce(ctx, op, soql, out)
	if err == nil {
		return nil
	}
	// An expired session surfaces as 401; re-login once and retry.
	if he := asHTTPError(err); he != nil && he.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.accessToken = ""
		c.mu.Unlock()
		return c.queryOnce(ctx, op, soql, out)
	}
	return err
}

func (c *Client) queryOnce(ctx context.Context, op, soql string, out any) error {
	token, instance, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/services/data/%s/query?q=%s", instance, c.cfg.APIVersion, url.QueryEscape(soql))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("salesforce: %s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("salesforce: %s: read response: %w", op, err)
	}
	if resp.StatusCode/100 != 2 {
		return remote.NewHTTPError("salesforce", op, resp, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("salesforce: %s: decode response: %w", op, err)
	}
	return nil
}

func asHTTPError(err error) *remote.HTTPError {
	var he *remote.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return nil
}

// escapeSOQL escapes string-literal metacharacters to keep attendee-supplied
// text from breaking out of SOQL quotes.
func escapeSOQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return s
}
