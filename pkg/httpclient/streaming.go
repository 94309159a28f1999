package httpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// StreamClient receives relay messages over Server-Sent Events
type StreamClient struct {
	client   *Client
	messages chan StreamMessage
	errors   chan error
	done     chan struct{}
	cancel   context.CancelFunc

	mu       sync.Mutex
	response *http.Response
}

// StreamConfig configures the streaming client
type StreamConfig struct {
	// Topic to filter messages (optional)
	Topic string

	// BufferSize for the message channel
	BufferSize int

	// ReconnectDelay for automatic reconnection
	ReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = infinite)
	MaxReconnectAttempts int
}

// SetDefaults sets reasonable default values for StreamConfig
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 100
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
}

// Stream attaches to the relay as a host node and streams every message the
// relay publishes from then on.
func (c *Client) Stream(ctx context.Context, config StreamConfig) (*StreamClient, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	config.SetDefaults()

	streamCtx, cancel := context.WithCancel(ctx)

	streamClient := &StreamClient{
		client:   c,
		messages: make(chan StreamMessage, config.BufferSize),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	go streamClient.startStreaming(streamCtx, config)

	return streamClient, nil
}

// Messages returns the channel for receiving messages
func (sc *StreamClient) Messages() <-chan StreamMessage {
	return sc.messages
}

// Errors returns the channel for receiving errors
func (sc *StreamClient) Errors() <-chan error {
	return sc.errors
}

// Done returns a channel that's closed when streaming ends
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// Close stops the streaming client and cleans up resources
func (sc *StreamClient) Close() error {
	sc.cancel()

	sc.mu.Lock()
	if sc.response != nil {
		sc.response.Body.Close()
	}
	sc.mu.Unlock()

	<-sc.done
	return nil
}

// startStreaming handles the SSE streaming loop with reconnection
func (sc *StreamClient) startStreaming(ctx context.Context, config StreamConfig) {
	defer close(sc.done)
	defer close(sc.messages)
	defer close(sc.errors)

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := sc.connectAndStream(ctx, config)
		if err != nil && ctx.Err() == nil {
			select {
			case sc.errors <- fmt.Errorf("streaming error: %w", err):
			default:
			}
		}

		if config.MaxReconnectAttempts > 0 && attempts >= config.MaxReconnectAttempts {
			select {
			case sc.errors <- fmt.Errorf("max reconnect attempts (%d) exceeded", config.MaxReconnectAttempts):
			default:
			}
			return
		}

		attempts++

		select {
		case <-time.After(config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// connectAndStream establishes SSE connection and processes messages
func (sc *StreamClient) connectAndStream(ctx context.Context, config StreamConfig) error {
	streamURL := sc.client.baseURL.ResolveReference(&url.URL{Path: "/api/v1/messages/stream"})

	if config.Topic != "" {
		values := streamURL.Query()
		values.Set("topic", config.Topic)
		streamURL.RawQuery = values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create streaming request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+sc.client.token)

	// The stream stays open indefinitely, so the client's request timeout must not apply
	httpClient := *sc.client.httpClient
	httpClient.Timeout = 0

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}

	sc.mu.Lock()
	sc.response = resp
	sc.mu.Unlock()
	defer func() {
		resp.Body.Close()
		sc.mu.Lock()
		sc.response = nil
		sc.mu.Unlock()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("streaming failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return sc.processSSEStream(ctx, resp.Body)
}

// processSSEStream reads and parses Server-Sent Events
func (sc *StreamClient) processSSEStream(ctx context.Context, reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		if strings.HasPrefix(line, "data: ") {
			var msg StreamMessage
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
				select {
				case sc.errors <- fmt.Errorf("failed to parse message: %w", err):
				default:
				}
				continue
			}

			select {
			case sc.messages <- msg:
			case <-ctx.Done():
				return ctx.Err()
			default:
				// Channel full, drop message
			}
		}
		// Keepalive comments, blank separators and id:/event: fields are ignored
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}

	return nil
}
