package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/relay"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/topics"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/transport"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/worker"
	"go.uber.org/zap"
)

// maxMessageBody bounds POST /api/v1/messages bodies
const maxMessageBody = 1 << 20

// Handlers contains all HTTP request handlers
type Handlers struct {
	relay     relay.Relay
	hub       *StreamHub
	jwtAuth   *JWTAuth
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(r relay.Relay, hub *StreamHub, jwtAuth *JWTAuth, keepalive time.Duration, logger *zap.Logger) *Handlers {
	return &Handlers{
		relay:     r,
		hub:       hub,
		jwtAuth:   jwtAuth,
		keepalive: keepalive,
		logger:    logger,
	}
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validateAuthRequest(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID)
	if err != nil {
		h.logger.Error("failed to generate token", zap.String("clientId", req.ClientID), zap.Error(err))
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.logger.Info("host client authenticated", zap.String("clientId", req.ClientID))
	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// PostMessage handles POST /api/v1/messages
func (h *Handlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBody)).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Topic == "" {
		writeError(w, "topic is required", http.StatusBadRequest)
		return
	}

	result, err := h.relay.HandleMessage(r.Context(), req.Topic, req.Payload)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, MessageResponse{
		MessageID: uuid.NewString(),
		Topic:     result.Topic,
		Commands:  result.Commands,
		Timestamp: time.Now().UTC(),
	}, http.StatusAccepted)
}

// StreamMessages handles GET /api/v1/messages/stream.
// The connection becomes a host node: every message the relay publishes while it
// is open is written as an SSE data line.
func (h *Handlers) StreamMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var filter string
	if r.URL.Query().Has("topic") {
		filter = topics.Normalize(r.URL.Query().Get("topic"))
		if !slices.Contains(topics.Outbound(), filter) {
			writeError(w, fmt.Sprintf("Invalid topic filter: %s", filter), http.StatusBadRequest)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	node := h.hub.attach(GetClientID(r), filter)
	defer h.hub.detach(node)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": connected %s\n\n", node.id)
	flusher.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case msg := <-node.messages:
			if err := writeSSEMessage(w, msg); err != nil {
				h.logger.Debug("stream write failed", zap.String("streamId", node.id), zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.relay.Health(r.Context())
	st := health.Status

	resp := HealthResponse{
		Healthy:        health.Healthy,
		NodeID:         health.NodeID,
		Initialized:    st.Initialized,
		State:          st.State.String(),
		PumpConnected:  st.Connected(),
		PeripheralName: st.PeripheralName,
		Model:          st.Model,
		CacheSize:      st.CacheSize,
		QueueDepth:     st.QueueDepth,
		Processed:      st.Processed,
		ConnectedNodes: health.ConnectedNodes,
		Message:        health.Message,
	}

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, statusCode)
}

// statusFor maps relay errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, relay.ErrInvalidPayload), errors.Is(err, relay.ErrUnknownTopic):
		return http.StatusBadRequest
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// validateJSON validates that the request has a JSON content type
func validateJSON(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errors.New("Content-Type must be application/json")
	}
	return nil
}

// validateAuthRequest validates authentication request fields
func validateAuthRequest(req *AuthRequest) error {
	if req.ClientID == "" {
		return errors.New("clientId is required")
	}
	if len(req.ClientID) < 2 {
		return errors.New("clientId must be at least 2 characters")
	}
	return nil
}

// writeSSEMessage writes msg as a single SSE data message
func writeSSEMessage(w http.ResponseWriter, msg transport.Message) error {
	data, err := json.Marshal(StreamMessage{
		MessageID: msg.ID,
		Topic:     msg.Topic,
		Payload:   msg.Payload,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal SSE message: %w", err)
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
