// Package who provides a best-effort client for the WHO ICD-11 API. It is an
// enrichment source only: every failure degrades to "not found locally" and
// must never fail the primary request.
package who

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/termmap/termmap/internal/platform/apperror"
)

// Config holds WHO ICD-11 API access settings.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Entity is the subset of a WHO ICD-11 entity this service consumes.
type Entity struct {
	EntityID   string
	ICDCode    string
	Title      string
	Definition string
}

// Client fetches ICD-11 entities using OAuth2 client credentials.
type Client struct {
	cfg    Config
	http   *retryablehttp.Client
	logger zerolog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a WHO API client. Retries with backoff are handled by
// retryablehttp; the caller still treats any terminal error as non-fatal.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{cfg: cfg, http: rc, logger: logger}
}

// Enabled reports whether credentials are configured. Without them every
// lookup short-circuits to an upstream error.
func (c *Client) Enabled() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"scope":         {"icdapi_access"},
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.accessToken = tr.AccessToken
	// Refresh one minute early to avoid using a token at its expiry edge.
	c.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}

type entityResponse struct {
	Title struct {
		Value string `json:"@value"`
	} `json:"title"`
	Definition struct {
		Value string `json:"@value"`
	} `json:"definition"`
	Code string `json:"code"`
}

// GetEntity fetches a single ICD-11 entity by its numeric entity ID.
func (c *Client) GetEntity(ctx context.Context, entityID string) (*Entity, error) {
	if !c.Enabled() {
		return nil, apperror.Upstream("who-icd", fmt.Errorf("client credentials not configured"))
	}

	tok, err := c.token(ctx)
	if err != nil {
		return nil, apperror.Upstream("who-icd", fmt.Errorf("obtain token: %w", err))
	}

	endpoint := fmt.Sprintf("%s/entity/%s", strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(entityID))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperror.Upstream("who-icd", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en")
	req.Header.Set("API-Version", "v2")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperror.Upstream("who-icd", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, apperror.NotFound("ICD-11 entity", entityID)
	default:
		return nil, apperror.Upstream("who-icd", fmt.Errorf("entity endpoint returned status %d", resp.StatusCode))
	}

	var er entityResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, apperror.Upstream("who-icd", fmt.Errorf("decode entity response: %w", err))
	}

	return &Entity{
		EntityID:   entityID,
		ICDCode:    er.Code,
		Title:      er.Title.Value,
		Definition: er.Definition.Value,
	}, nil
}
