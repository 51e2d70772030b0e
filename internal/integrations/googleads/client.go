package googleads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"conversion-relay/internal/domain"
)

const (
	defaultBaseURL    = "https://googleads.googleapis.com"
	defaultAPIVersion = "v17"
	defaultTimeout    = 30 * time.Second
	adwordsScope      = "https://www.googleapis.com/auth/adwords"
)

// Credentials is the JSON document stored in the parameter store for the
// Google Ads API.
type Credentials struct {
	ClientID        string `json:"client_id"`
	ClientSecret    string `json:"client_secret"`
	DeveloperToken  string `json:"developer_token"`
	RefreshToken    string `json:"refresh_token"`
	CustomerID      string `json:"customer_id"`
	LoginCustomerID string `json:"login_customer_id"`
}

func (c Credentials) validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if c.DeveloperToken == "" {
		missing = append(missing, "developer_token")
	}
	if c.RefreshToken == "" {
		missing = append(missing, "refresh_token")
	}
	if normalizeCustomerID(c.CustomerID) == "" {
		missing = append(missing, "customer_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("googleads: credentials missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// JSONGetter loads a JSON-encoded parameter into v.
type JSONGetter interface {
	GetJSON(ctx context.Context, name string, v any) error
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("googleads: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client uploads click conversions through the Google Ads REST interface.
type Client struct {
	baseURL    string
	apiVersion string
	tokenURL   string
	httpClient *http.Client
	getter     JSONGetter
	paramName  string

	// credsMu guards the cached credentials. Only a successful load is
	// cached; a failed one is retried on the next upload.
	credsMu     sync.Mutex
	credsLoaded bool
	creds       Credentials
	tokenSource oauth2.TokenSource
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if v := strings.TrimSpace(version); v != "" {
			c.apiVersion = v
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenURL overrides the OAuth2 token endpoint.
func WithTokenURL(tokenURL string) Option {
	return func(c *Client) {
		c.tokenURL = strings.TrimSpace(tokenURL)
	}
}

// NewClient creates a Client whose credentials are read from paramName on the
// first successful upload and reused for the lifetime of the process.
func NewClient(getter JSONGetter, paramName string, opts ...Option) (*Client, error) {
	if getter == nil {
		return nil, errors.New("googleads: paramstore getter must not be nil")
	}
	paramName = strings.TrimSpace(paramName)
	if paramName == "" {
		return nil, errors.New("googleads: credentials parameter name must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		apiVersion: defaultAPIVersion,
		httpClient: &http.Client{Timeout: defaultTimeout},
		getter:     getter,
		paramName:  paramName,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func (c *Client) resolveCredentials(ctx context.Context) (Credentials, oauth2.TokenSource, error) {
	c.credsMu.Lock()
	defer c.credsMu.Unlock()
	if c.credsLoaded {
		return c.creds, c.tokenSource, nil
	}

	var creds Credentials
	if err := c.getter.GetJSON(ctx, c.paramName, &creds); err != nil {
		return Credentials{}, nil, fmt.Errorf("googleads: load credentials: %w", err)
	}
	if err := creds.validate(); err != nil {
		return Credentials{}, nil, err
	}

	endpoint := endpoints.Google
	if c.tokenURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: c.tokenURL, AuthStyle: oauth2.AuthStyleInParams}
	}
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       []string{adwordsScope},
	}
	// The token source outlives this call, so it must not hold the request
	// context.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.resolvedHTTPClient())
	c.creds = creds
	c.tokenSource = conf.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	c.credsLoaded = true
	return c.creds, c.tokenSource, nil
}

func uploadURL(baseURL, version, customerID string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return fmt.Sprintf("%s/%s/customers/%s:uploadClickConversions", base, version, normalizeCustomerID(customerID))
}

func normalizeCustomerID(id string) string {
	return strings.ReplaceAll(strings.TrimSpace(id), "-", "")
}

// UploadClickConversions submits conversions in one call and returns one
// result per submitted item, in order. Per-item rejections are reported in
// the results; only transport, auth and decoding failures return an error.
func (c *Client) UploadClickConversions(ctx context.Context, conversions []domain.ClickConversion, opts domain.UploadOptions) ([]domain.UploadResult, error) {
	if len(conversions) == 0 {
		return nil, errors.New("googleads: no conversions to upload")
	}

	creds, ts, err := c.resolveCredentials(ctx)
	if err != nil {
		return nil, err
	}
	token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("googleads: refresh access token: %w", err)
	}

	body, err := json.Marshal(newUploadRequest(conversions, opts))
	if err != nil {
		return nil, fmt.Errorf("googleads: marshal request: %w", err)
	}

	url := uploadURL(c.baseURL, c.apiVersion, creds.CustomerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("googleads: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("developer-token", creds.DeveloperToken)
	if login := normalizeCustomerID(creds.LoginCustomerID); login != "" {
		req.Header.Set("login-customer-id", login)
	}
	token.SetAuthHeader(req)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return nil, fmt.Errorf("googleads: request failed: %w", err)
	}

	var payload uploadResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("googleads: decode response: %w", err)
	}
	return payload.toResults(conversions), nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
