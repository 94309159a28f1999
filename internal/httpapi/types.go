package httpapi

import "time"

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// MessageRequest carries one host message. Payload is base64 encoded in JSON.
type MessageRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

// MessageResponse acknowledges an accepted host message
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

// StreamMessage is one relay message delivered over server-sent events
type StreamMessage struct {
	MessageID string    `json:"messageId"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}
