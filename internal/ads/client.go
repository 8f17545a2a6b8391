// Package ads is a small Google Ads REST client covering the mutations and
// reports the campaign workflow needs: budgets, campaigns, location
// criteria, ad groups, responsive search ads and keywords.
package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Endpoint defaults.
const (
	DefaultEndpoint   = "https://googleads.googleapis.com"
	DefaultAPIVersion = "v21"
	DefaultTimeout    = 60 * time.Second
	maxResponseBytes  = 4 << 20
	adwordsScope      = "https://www.googleapis.com/auth/adwords"
)

// ErrMissingCredentials is returned when the OAuth or developer credentials are incomplete.
var ErrMissingCredentials = errors.New("ads: developer token, client id, client secret and refresh token are required")

// Opts holds configuration for the Google Ads client.
type Opts struct {
	Endpoint        string
	APIVersion      string
	DeveloperToken  string
	LoginCustomerID string
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	HTTPClient      *http.Client
	Now             func() time.Time
}

// Option configures the client.
type Option func(*Opts)

// WithEndpoint overrides the API host, mostly for tests.
func WithEndpoint(endpoint string) Option {
	return func(o *Opts) { o.Endpoint = strings.TrimRight(endpoint, "/") }
}

// WithAPIVersion selects the REST API version (default v21).
func WithAPIVersion(v string) Option {
	return func(o *Opts) { o.APIVersion = v }
}

// WithDeveloperToken sets the developer-token header.
func WithDeveloperToken(token string) Option {
	return func(o *Opts) { o.DeveloperToken = token }
}

// WithLoginCustomerID sets the manager account used for access.
func WithLoginCustomerID(id string) Option {
	return func(o *Opts) { o.LoginCustomerID = NormalizeCustomerID(id) }
}

// WithOAuth sets the installed-app OAuth credentials.
func WithOAuth(clientID, clientSecret, refreshToken string) Option {
	return func(o *Opts) {
		o.ClientID = clientID
		o.ClientSecret = clientSecret
		o.RefreshToken = refreshToken
	}
}

// WithHTTPClient supplies an already authorized HTTP client. OAuth
// credentials are then not required.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithClock overrides the clock used for campaign dates.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Client talks to the Google Ads REST API.
type Client struct {
	http            *http.Client
	baseURL         string
	developerToken  string
	loginCustomerID string
	now             func() time.Time
}

// NewClient builds a client. Without WithHTTPClient, requests are
// authorized with a refresh-token OAuth2 transport.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := Opts{Endpoint: DefaultEndpoint, APIVersion: DefaultAPIVersion, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DeveloperToken == "" {
		return nil, ErrMissingCredentials
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
			return nil, ErrMissingCredentials
		}
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{adwordsScope},
		}
		httpClient = oauthCfg.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		httpClient.Timeout = DefaultTimeout
	}

	slog.Debug("ads.NewClient: configured", "endpoint", cfg.Endpoint, "version", cfg.APIVersion,
		"login_customer_id_set", cfg.LoginCustomerID != "")
	return &Client{
		http:            httpClient,
		baseURL:         cfg.Endpoint + "/" + cfg.APIVersion,
		developerToken:  cfg.DeveloperToken,
		loginCustomerID: cfg.LoginCustomerID,
		now:             cfg.Now,
	}, nil
}

// post sends a JSON body and returns the parsed response.
func (c *Client) post(ctx context.Context, path string, payload interface{}) (gjson.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("ads: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("ads: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("developer-token", c.developerToken)
	if c.loginCustomerID != "" {
		req.Header.Set("login-customer-id", c.loginCustomerID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("ads: POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("ads: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, parseAPIError(resp.StatusCode, data)
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("ads: POST %s: invalid JSON response", path)
	}
	return gjson.ParseBytes(data), nil
}

// mutate runs a single create operation and returns the resource name.
func (c *Client) mutate(ctx context.Context, customerID, resource string, create interface{}) (string, error) {
	path := fmt.Sprintf("customers/%s/%s:mutate", NormalizeCustomerID(customerID), resource)
	res, err := c.post(ctx, path, map[string]interface{}{
		"operations": []interface{}{map[string]interface{}{"create": create}},
	})
	if err != nil {
		return "", err
	}
	name := res.Get("results.0.resourceName").String()
	if name == "" {
		return "", fmt.Errorf("ads: %s mutate returned no resource name", resource)
	}
	return name, nil
}

// search runs a GAQL query and returns every result row across pages.
func (c *Client) search(ctx context.Context, customerID, query string) ([]gjson.Result, error) {
	path := fmt.Sprintf("customers/%s/googleAds:search", NormalizeCustomerID(customerID))
	var rows []gjson.Result
	pageToken := ""
	for {
		payload := map[string]interface{}{"query": query}
		if pageToken != "" {
			payload["pageToken"] = pageToken
		}
		res, err := c.post(ctx, path, payload)
		if err != nil {
			return nil, err
		}
		rows = append(rows, res.Get("results").Array()...)
		pageToken = res.Get("nextPageToken").String()
		if pageToken == "" {
			return rows, nil
		}
	}
}

// NormalizeCustomerID strips the dashes of a displayed customer id.
func NormalizeCustomerID(id string) string {
	return strings.ReplaceAll(strings.TrimSpace(id), "-", "")
}

// ResourceID returns the last path segment of a resource name.
func ResourceID(resourceName string) string {
	if i := strings.LastIndex(resourceName, "/"); i >= 0 {
		return resourceName[i+1:]
	}
	return resourceName
}

// quoteGAQL renders s as a single-quoted GAQL string literal.
func quoteGAQL(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}
