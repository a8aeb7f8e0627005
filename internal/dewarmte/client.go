package dewarmte

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultBaseURL is the production DeWarmte cloud API
	DefaultBaseURL = "https://api.mydewarmte.com"

	tokenPath    = "/v1/auth/token/"
	refreshPath  = "/v1/auth/token/refresh/"
	productsPath = "/v1/customer/products/"
	tbStatusPath = "/v1/customer/products/tb-status/"

	// tokenValidity is the fixed window an access token is trusted for.
	// The API does not report an expiry, so the client recomputes
	// "now + window" on every acquisition.
	tokenValidity = 30 * time.Minute
)

// Config contains DeWarmte cloud API configuration
type Config struct {
	BaseURL  string
	Email    string
	Password string
}

// Client is the authenticated DeWarmte API client. It owns the token
// lifecycle: every request is guaranteed a valid bearer token,
// re-authenticating or refreshing transparently as needed.
type Client struct {
	config     Config
	httpClient *http.Client
	store      TokenStore // optional, nil keeps tokens in memory only
	logger     *slog.Logger

	mu           sync.Mutex // protects token state
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	storeChecked bool
}

// NewClient creates a new DeWarmte API client. store may be nil.
func NewClient(config Config, store TokenStore, logger *slog.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		store:  store,
		logger: logger.With("component", "dewarmte-client"),
	}
}

// Authenticate performs the initial email/password authentication and
// stores the resulting access and refresh tokens.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

// EnsureAuthenticated brings the token state to valid, performing
// whichever of refresh or full authentication is needed. It is a
// no-op if the current access token has not expired.
func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureValidLocked(ctx)
}

// GetDevices retrieves the raw device records from the products
// listing. Returns an empty slice if the reported count is zero.
func (c *Client) GetDevices(ctx context.Context) ([]Product, error) {
	var resp struct {
		Count   int       `json:"count"`
		Results []Product `json:"results"`
	}
	if err := c.get(ctx, productsPath, &resp); err != nil {
		return nil, err
	}
	if resp.Count == 0 {
		return []Product{}, nil
	}
	return resp.Results, nil
}

// GetOutdoorTemperature retrieves the shared outdoor temperature from
// the tb-status endpoint. Returns nil without error if the field is
// absent from the response.
func (c *Client) GetOutdoorTemperature(ctx context.Context) (*float64, error) {
	var resp struct {
		OutdoorTemperature *float64 `json:"outdoor_temperature"`
	}
	if err := c.get(ctx, tbStatusPath, &resp); err != nil {
		return nil, err
	}
	return resp.OutdoorTemperature, nil
}

// GetInsights retrieves today's hourly insights for one device and
// sums electricity_consumed across all data points. Fails with a
// DecodeError if the response lacks the hourly data or summary fields.
func (c *Client) GetInsights(ctx context.Context, deviceID string) (*Insights, error) {
	path := fmt.Sprintf("/v1/customer/products/%s/insights/?start_date=%s&timespan=hourly",
		deviceID, time.Now().Format("2006-01-02"))

	var resp struct {
		Data *[]struct {
			ElectricityConsumed float64 `json:"electricity_consumed"`
		} `json:"data"`
		HeatSum        *float64 `json:"heat_sum"`
		ElectricitySum *float64 `json:"electricity_sum"`
		COP            *float64 `json:"cop"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	if resp.Data == nil {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("missing hourly data field")}
	}
	if resp.HeatSum == nil || resp.ElectricitySum == nil || resp.COP == nil {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("missing summary fields")}
	}

	var consumed float64
	for _, point := range *resp.Data {
		consumed += point.ElectricityConsumed
	}

	return &Insights{
		HeatSum:                       *resp.HeatSum,
		ElectricitySum:                *resp.ElectricitySum,
		COP:                           *resp.COP,
		CalculatedConsumedElectricity: consumed,
	}, nil
}

// get issues an authenticated GET and decodes the JSON response into
// out. A 401 answer triggers exactly one refresh-and-retry; whatever
// the retry returns is propagated.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	if err := c.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	resp, err := c.send(ctx, path)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.logger.Warn("401 Unauthorized, refreshing token and retrying once", "path", path)

		c.mu.Lock()
		err = c.refreshLocked(ctx)
		c.mu.Unlock()
		if err != nil {
			return err
		}

		resp, err = c.send(ctx, path)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{StatusCode: resp.StatusCode, Path: path, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{Path: path, Err: err}
	}
	return nil
}

// send issues one GET carrying the current bearer token.
func (c *Client) send(ctx context.Context, path string) (*http.Response, error) {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// ensureValidLocked checks the access token against its expiry and
// refreshes when expired or absent. Caller must hold c.mu.
func (c *Client) ensureValidLocked(ctx context.Context) error {
	if c.accessToken == "" && c.store != nil && !c.storeChecked {
		c.storeChecked = true
		if err := c.loadStoredLocked(ctx); err != nil {
			c.logger.Warn("failed to load stored tokens, continuing without", "error", err)
		}
	}

	if c.accessToken != "" && time.Now().Before(c.expiresAt) {
		return nil
	}

	c.logger.Debug("access token expired or missing, refreshing")
	return c.refreshLocked(ctx)
}

// refreshLocked exchanges the refresh token for a new access token,
// falling back to full re-authentication when no refresh token is
// held or the refresh endpoint rejects it. Caller must hold c.mu.
func (c *Client) refreshLocked(ctx context.Context) error {
	if c.refreshToken == "" {
		c.logger.Warn("no refresh token available, full re-auth required")
		return c.authenticateLocked(ctx)
	}

	payload := map[string]string{"refresh": c.refreshToken}
	status, body, err := c.postJSON(ctx, refreshPath, payload)
	if err != nil {
		return &AuthError{Reason: err.Error()}
	}

	if status != http.StatusOK {
		c.logger.Warn("failed to refresh access token, re-authenticating", "status", status)
		return c.authenticateLocked(ctx)
	}

	var resp struct {
		Access string `json:"access"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return &DecodeError{Path: refreshPath, Err: err}
	}
	if resp.Access == "" {
		return &DecodeError{Path: refreshPath, Err: fmt.Errorf("missing access field")}
	}

	c.accessToken = resp.Access
	c.expiresAt = time.Now().Add(tokenValidity)
	c.logger.Debug("access token refreshed")
	c.persistLocked(ctx)
	return nil
}

// authenticateLocked posts the credentials to the token endpoint.
// Caller must hold c.mu.
func (c *Client) authenticateLocked(ctx context.Context) error {
	payload := map[string]string{
		"email":    c.config.Email,
		"password": c.config.Password,
	}

	status, body, err := c.postJSON(ctx, tokenPath, payload)
	if err != nil {
		return &AuthError{Reason: err.Error()}
	}

	if status != http.StatusOK {
		c.logger.Error("failed to authenticate", "status", status)
		return &AuthError{StatusCode: status, Reason: "credentials rejected"}
	}

	var resp struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return &DecodeError{Path: tokenPath, Err: err}
	}
	if resp.Access == "" || resp.Refresh == "" {
		return &DecodeError{Path: tokenPath, Err: fmt.Errorf("missing access or refresh field")}
	}

	c.accessToken = resp.Access
	c.refreshToken = resp.Refresh
	c.expiresAt = time.Now().Add(tokenValidity)
	c.logger.Info("authenticated: access token acquired")
	c.persistLocked(ctx)
	return nil
}

// postJSON posts an unauthenticated JSON body to an auth endpoint and
// returns the raw status and body.
func (c *Client) postJSON(ctx context.Context, path string, payload interface{}) (int, []byte, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// loadStoredLocked restores token state from the store, if any.
// Caller must hold c.mu.
func (c *Client) loadStoredLocked(ctx context.Context) error {
	tokens, err := c.store.GetTokens(ctx)
	if err != nil {
		return err
	}
	if tokens == nil || tokens.RefreshToken == "" {
		return nil
	}

	c.refreshToken = tokens.RefreshToken
	if tokens.AccessToken != "" && tokens.AccessExpiresAt != nil && time.Now().Before(*tokens.AccessExpiresAt) {
		c.accessToken = tokens.AccessToken
		c.expiresAt = *tokens.AccessExpiresAt
		c.logger.Debug("restored access token from store")
	}
	return nil
}

// persistLocked saves the current token state to the store. Failures
// are logged, not propagated: the tokens are still valid in memory.
// Caller must hold c.mu.
func (c *Client) persistLocked(ctx context.Context) {
	if c.store == nil {
		return
	}
	expiresAt := c.expiresAt
	tokens := &Tokens{
		AccessToken:     c.accessToken,
		RefreshToken:    c.refreshToken,
		AccessExpiresAt: &expiresAt,
	}
	if err := c.store.SaveTokens(ctx, tokens); err != nil {
		c.logger.Warn("failed to save tokens to store", "error", err)
	}
}
