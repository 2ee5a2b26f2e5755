// Package webresearch looks up a company's public email address format
// with a Gemini web-search call. It is an optional discovery strategy,
// enabled only when an API key is configured.
package webresearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/crowdsift/attendee-pipeline/internal/emailpattern"
	"github.com/crowdsift/attendee-pipeline/internal/pipeline/core"
	"google.golang.org/genai"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// Format is a researched company email convention.
type Format struct {
	Pattern    emailpattern.Pattern
	Domain     string
	Confidence string
}

type Researcher struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Researcher, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("webresearch: GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("webresearch: GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Researcher{client: client, model: strings.TrimSpace(cfg.Model)}, nil
}

type responseSchema struct {
	Pattern    string `json:"pattern"`
	Domain     string `json:"domain"`
	Confidence string `json:"confidence"`
}

var outputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"pattern":    {Type: genai.TypeString},
		"domain":     {Type: genai.TypeString},
		"confidence": {Type: genai.TypeString},
	},
	Required: []string{"pattern", "domain", "confidence"},
}

// ResearchFormat searches the web for the company's employee email
// convention. Returns an error when no reliable format is found.
func (r *Researcher) ResearchFormat(ctx context.Context, company string) (Format, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return Format{}, errors.New("webresearch: empty company")
	}

	resp, err := r.client.Models.GenerateContent(
		ctx,
		r.model,
		genai.Text(buildPrompt(company)),
		&genai.GenerateContentConfig{
			Tools: []*genai.Tool{
				{GoogleSearch: &genai.GoogleSearch{}},
			},
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   outputSchema,
		},
	)
	if err != nil {
		return Format{}, classifyErr(err)
	}

	var parsed responseSchema
	if err := json.Unmarshal([]byte(resp.Text()), &parsed); err != nil {
		return Format{}, fmt.Errorf("webresearch: parse structured json: %w", err)
	}

	pattern, ok := emailpattern.ParsePattern(parsed.Pattern)
	if !ok {
		return Format{}, fmt.Errorf("webresearch: unrecognized pattern %q for %q", parsed.Pattern, company)
	}
	domain := strings.TrimSpace(strings.ToLower(parsed.Domain))
	if domain == "" || !strings.Contains(domain, ".") {
		return Format{}, fmt.Errorf("webresearch: no usable domain for %q", company)
	}

	return Format{
		Pattern:    pattern,
		Domain:     domain,
		Confidence: strings.TrimSpace(parsed.Confidence),
	}, nil
}

func buildPrompt(company string) string {
	// Keep this prompt public-safe: only the company name goes out, never
	// attendee PII or credentials.
	return strings.TrimSpace(`
You are a sales-operations research tool. Given a company name, use web search to determine the company's standard employee email address format.

Return ONLY a single JSON object with these keys:
- pattern (string; one of: first.last, firstlast, flast, first_last, lastfirst, first)
- domain (string; the company's primary email domain, e.g. "example.com")
- confidence (string; one of: low, medium, high)

Rules:
- If you cannot determine a field, set it to an empty string.
- Do not include extra keys.

Company: ` + company + `
`)
}

func classifyErr(err error) error {
	// Wrap transient failures so the worker pool will retry with backoff.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &core.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &core.TransientError{Err: err}
	}
	return err
}
