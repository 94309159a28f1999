package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Run("valid_config", func(t *testing.T) {
		client, err := NewClient(Config{
			ServerURL: "http://localhost:8081",
			ClientID:  "test-client",
		})
		require.NoError(t, err)
		assert.Equal(t, "test-client", client.config.ClientID)
		assert.Equal(t, 30*time.Second, client.config.Timeout)
		assert.Equal(t, "http://localhost:8081", client.ServerURL())
	})

	t.Run("missing_server_url", func(t *testing.T) {
		client, err := NewClient(Config{ClientID: "test-client"})
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "ServerURL is required")
	})

	t.Run("missing_client_id", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "http://localhost:8081"})
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "ClientID is required")
	})

	t.Run("invalid_server_url", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "://invalid-url", ClientID: "test-client"})
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "invalid ServerURL")
	})
}

func TestClient_Authenticate(t *testing.T) {
	t.Run("successful_authentication", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var authReq AuthRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&authReq))
			assert.Equal(t, "watch", authReq.ClientID)

			json.NewEncoder(w).Encode(AuthResponse{
				Token:     "mock-token-123",
				ClientID:  "watch",
				ExpiresAt: time.Now().Add(time.Hour),
			})
		}))
		defer server.Close()

		client, err := NewClient(Config{ServerURL: server.URL, ClientID: "watch"})
		require.NoError(t, err)

		require.NoError(t, client.Authenticate(context.Background()))
		assert.True(t, client.IsAuthenticated())
		assert.Equal(t, "mock-token-123", client.GetToken())
	})

	t.Run("authentication_failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(ErrorResponse{
				Error:   "Unauthorized",
				Message: "Invalid client credentials",
				Code:    401,
			})
		}))
		defer server.Close()

		client, err := NewClient(Config{ServerURL: server.URL, ClientID: "watch"})
		require.NoError(t, err)

		err = client.Authenticate(context.Background())
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, "Unauthorized", apiErr.Message)
		assert.False(t, client.IsAuthenticated())
	})
}

func TestClient_SendMessage(t *testing.T) {
	t.Run("requires_authentication", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "http://localhost:8081", ClientID: "watch"})
		require.NoError(t, err)

		_, err = client.SendMessage(context.Background(), "/to-pump/command", []byte{1})
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	})

	t.Run("posts_topic_and_payload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/messages", r.URL.Path)
			assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

			var req MessageRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "/to-pump/commands", req.Topic)
			assert.Equal(t, []byte{0x0a, 0x00, 0xff}, req.Payload)

			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(MessageResponse{MessageID: "m-1", Topic: req.Topic, Commands: 2})
		}))
		defer server.Close()

		client, err := NewClient(Config{ServerURL: server.URL, ClientID: "watch"})
		require.NoError(t, err)
		client.SetToken("token-1")

		resp, err := client.SendMessage(context.Background(), "/to-pump/commands", []byte{0x0a, 0x00, 0xff})
		require.NoError(t, err)
		assert.Equal(t, "m-1", resp.MessageID)
		assert.Equal(t, 2, resp.Commands)
	})

	t.Run("non_json_error_body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}))
		defer server.Close()

		client, err := NewClient(Config{ServerURL: server.URL, ClientID: "watch"})
		require.NoError(t, err)
		client.SetToken("token-1")

		_, err = client.SendMessage(context.Background(), "/to-pump/command", nil)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
		assert.Contains(t, apiErr.Message, "boom")
	})
}

func TestClient_GetHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(HealthResponse{
			Healthy:        true,
			State:          "Connected",
			PumpConnected:  true,
			PeripheralName: "tslim X2 ***123",
			CacheSize:      4,
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{ServerURL: server.URL, ClientID: "watch"})
	require.NoError(t, err)

	health, err := client.GetHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, health.Healthy)
	assert.True(t, health.PumpConnected)
	assert.Equal(t, "Connected", health.State)
	assert.Equal(t, 4, health.CacheSize)
}
