package dadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
	"resty.dev/v3"
)

const (
	DefaultBaseURL = "https://suggestions.dadata.ru/suggestions/api/4_1/rs"
	DefaultTimeout = 10 * time.Second

	suggestAddressPath = "/suggest/address"
)

// Config carries the credentials and transport knobs for the suggestions API.
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
	// RateLimit caps outbound requests per second. Zero disables pacing.
	RateLimit float64
}

// Client issues address suggestion requests. It performs exactly one HTTP
// request per Suggest call and never retries.
type Client struct {
	httpClient *resty.Client
	limiter    *rate.Limiter
}

// ErrMissingAPIKey is returned by NewClient when no API key is configured.
var ErrMissingAPIKey = errors.New("dadata: api key required")

func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(baseURL)
	httpClient.SetTimeout(timeout)
	httpClient.SetHeader("Authorization", "Token "+apiKey)
	httpClient.SetHeader("Content-Type", "application/json")
	httpClient.SetHeader("Accept", "application/json")
	if secret := strings.TrimSpace(cfg.SecretKey); secret != "" {
		httpClient.SetHeader("X-Secret", secret)
	}

	client := &Client{httpClient: httpClient}
	if cfg.RateLimit > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return client, nil
}

// Close releases idle connections held by the transport.
func (c *Client) Close() error {
	if c == nil || c.httpClient == nil {
		return nil
	}
	return c.httpClient.Close()
}

// Suggest posts the request and returns the raw suggestions. Non-2xx statuses
// and undecodable bodies are reported as errors.
func (c *Client) Suggest(ctx context.Context, req SuggestRequest) ([]RawSuggestion, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("dadata: rate limit wait: %w", err)
		}
	}

	response, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&suggestResponse{}).
		Post(suggestAddressPath)
	if err != nil {
		return nil, fmt.Errorf("dadata: suggest request: %w", err)
	}
	if response.IsError() {
		return nil, fmt.Errorf("dadata: suggest response error %d: %s", response.StatusCode(), truncate(response.String(), 256))
	}
	body, ok := response.Result().(*suggestResponse)
	if !ok || body == nil || body.Suggestions == nil {
		return nil, fmt.Errorf("dadata: suggest response malformed: %s", truncate(response.String(), 256))
	}
	return body.Suggestions, nil
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
