// Package httpclient is a client for the broker HTTP management API and the
// HTTP poll link.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	pubtopology "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// ErrNotAuthenticated is returned by calls that need a token before
// Authenticate has succeeded
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Client provides an HTTP client for the broker API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new broker HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// Authenticate logs in and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	authReq := map[string]string{
		"clientId": c.config.ClientID,
	}

	var authResp AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", authReq, &authResp, false); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return nil
}

// GetHealth returns the health status of the broker
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false); err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// Admin methods (require an admin token unless the server runs without auth)

// ListClients returns every registered client
func (c *Client) ListClients(ctx context.Context) ([]pubtopology.LeafSnapshot, error) {
	var resp ClientsResponse
	if err := c.doAuthRequest(ctx, http.MethodGet, "/api/v1/clients", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return resp.Clients, nil
}

// GetClient returns one client by id
func (c *Client) GetClient(ctx context.Context, id string) (*pubtopology.LeafSnapshot, error) {
	var resp pubtopology.LeafSnapshot
	if err := c.doAuthRequest(ctx, http.MethodGet, "/api/v1/clients/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &resp, nil
}

// RemoveClient unregisters a client by id
func (c *Client) RemoveClient(ctx context.Context, id string) error {
	if err := c.doAuthRequest(ctx, http.MethodDelete, "/api/v1/clients/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("failed to remove client: %w", err)
	}
	return nil
}

// ListRoutes returns every registered route
func (c *Client) ListRoutes(ctx context.Context) ([]pubtopology.RouteSnapshot, error) {
	var resp RoutesResponse
	if err := c.doAuthRequest(ctx, http.MethodGet, "/api/v1/routes", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	return resp.Routes, nil
}

// AddRoute registers a route. Added is false when an equal route exists.
func (c *Client) AddRoute(ctx context.Context, def pubtopology.RouteDefinition) (*AddRouteResponse, error) {
	var resp AddRouteResponse
	if err := c.doAuthRequest(ctx, http.MethodPost, "/api/v1/routes", def, &resp); err != nil {
		return nil, fmt.Errorf("failed to add route: %w", err)
	}
	return &resp, nil
}

// RemoveRoute removes a route by id
func (c *Client) RemoveRoute(ctx context.Context, id string) error {
	if err := c.doAuthRequest(ctx, http.MethodDelete, "/api/v1/routes/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("failed to remove route: %w", err)
	}
	return nil
}

// ListConnections returns every live connection
func (c *Client) ListConnections(ctx context.Context) ([]pubtopology.ConnectionSnapshot, error) {
	var resp ConnectionsResponse
	if err := c.doAuthRequest(ctx, http.MethodGet, "/api/v1/connections", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return resp.Connections, nil
}

// GetStats returns registry sizes
func (c *Client) GetStats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.doAuthRequest(ctx, http.MethodGet, "/api/v1/stats", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// Link methods

// LinkRegister registers an HTTP poll client
func (c *Client) LinkRegister(ctx context.Context, cfg LinkClientConfig) (*LinkRegisterResponse, error) {
	req := map[string]any{"config": cfg}
	var resp LinkRegisterResponse
	if err := c.doAuthRequest(ctx, http.MethodPost, "/api/v1/link/clients", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to register link client: %w", err)
	}
	return &resp, nil
}

// LinkPoll drains the messages buffered for a poll client
func (c *Client) LinkPoll(ctx context.Context, id string) ([]LinkMessage, error) {
	var resp LinkMessagesResponse
	if err := c.doAuthRequest(ctx, http.MethodGet, linkPath(id, "messages"), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to poll: %w", err)
	}
	return resp.Messages, nil
}

// LinkPublish publishes values from a poll client's publishers and returns
// how many were accepted
func (c *Client) LinkPublish(ctx context.Context, id string, msgs ...LinkPublishMessage) (int, error) {
	req := map[string]any{"messages": msgs}
	var resp LinkPublishResponse
	if err := c.doAuthRequest(ctx, http.MethodPost, linkPath(id, "publish"), req, &resp); err != nil {
		return 0, fmt.Errorf("failed to publish: %w", err)
	}
	return resp.Published, nil
}

// LinkUnregister removes a poll client
func (c *Client) LinkUnregister(ctx context.Context, id string) error {
	if err := c.doAuthRequest(ctx, http.MethodDelete, linkPath(id, ""), nil, nil); err != nil {
		return fmt.Errorf("failed to unregister link client: %w", err)
	}
	return nil
}

func linkPath(id, action string) string {
	p := "/api/v1/link/clients/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

// doAuthRequest performs a request that needs a token
func (c *Client) doAuthRequest(ctx context.Context, method, path string, reqBody any, respBody any) error {
	if c.token == "" {
		return ErrNotAuthenticated
	}
	return c.doRequest(ctx, method, path, reqBody, respBody, true)
}

// doRequestWithQuery performs an HTTP request with query parameters and optional authentication
func (c *Client) doRequestWithQuery(ctx context.Context, method, path string, queryParams url.Values, reqBody any, respBody any, requireAuth bool) error {
	u := &url.URL{Path: path}
	if len(queryParams) > 0 {
		u.RawQuery = queryParams.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || errResp.Message == "" {
			return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(bodyBytes))}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Message}
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// doRequest performs an HTTP request with optional authentication
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any, respBody any, requireAuth bool) error {
	return c.doRequestWithQuery(ctx, method, path, nil, reqBody, respBody, requireAuth)
}

// IsAuthenticated returns whether the client has a token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}
