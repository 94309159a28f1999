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
)

// ErrNotAuthenticated is returned by calls that need a token before Authenticate succeeded
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// Client provides HTTP client for the relay message API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new relay HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	// Validate required config
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

// Authenticate authenticates with the server and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	var authResp AuthResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", AuthRequest{ClientID: c.config.ClientID}, &authResp, false)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return nil
}

// SendMessage posts payload on topic
func (c *Client) SendMessage(ctx context.Context, topic string, payload []byte) (*MessageResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp MessageResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/messages", MessageRequest{Topic: topic, Payload: payload}, &resp, true)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	return &resp, nil
}

// GetHealth returns the health status of the relay
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}

	return &resp, nil
}

// ServerURL returns the base URL the client talks to
func (c *Client) ServerURL() string {
	return c.baseURL.String()
}

// IsAuthenticated returns whether the client has a valid token
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

// doRequest performs an HTTP request with optional authentication
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	fullURL := c.baseURL.ResolveReference(&url.URL{Path: path})

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
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || errResp.Error == "" {
			return &APIError{StatusCode: resp.StatusCode, Message: string(bodyBytes)}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}
