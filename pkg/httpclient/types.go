package httpclient

import (
	"fmt"
	"time"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the relay HTTP API (e.g., "http://localhost:8081")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// AuthRequest represents an authentication request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// MessageRequest carries one message on a topic. Payload is base64 in JSON.
type MessageRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

// MessageResponse acknowledges an accepted message
type MessageResponse struct {
	MessageID string    `json:"messageId"`
	Topic     string    `json:"topic"`
	Commands  int       `json:"commands"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy        bool   `json:"healthy"`
	NodeID         string `json:"nodeId"`
	Initialized    bool   `json:"initialized"`
	State          string `json:"state"`
	PumpConnected  bool   `json:"pumpConnected"`
	PeripheralName string `json:"peripheralName,omitempty"`
	Model          string `json:"model,omitempty"`
	CacheSize      int    `json:"cacheSize"`
	QueueDepth     int    `json:"queueDepth"`
	Processed      uint64 `json:"processed"`
	ConnectedNodes int    `json:"connectedNodes"`
	Message        string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// StreamMessage represents a server-sent relay message
type StreamMessage struct {
	MessageID string    `json:"messageId"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// APIError is returned when the server answers with an error status
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
