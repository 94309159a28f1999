package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/pumprelay-go/pkg/httpclient"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/transport"
	"go.uber.org/zap"
)

// HTTPPushLink delivers messages by posting them to each discovered node's message
// API. Each node gets its own authenticated client.
type HTTPPushLink struct {
	clientID  string
	timeout   time.Duration
	discovery Discovery
	logger    *zap.Logger

	mu      sync.Mutex
	clients map[string]*httpclient.Client
}

// NewHTTPPushLink creates a push link that authenticates to nodes as clientID.
func NewHTTPPushLink(clientID string, timeout time.Duration, discovery Discovery, logger *zap.Logger) *HTTPPushLink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPPushLink{
		clientID:  clientID,
		timeout:   timeout,
		discovery: discovery,
		logger:    logger,
		clients:   make(map[string]*httpclient.Client),
	}
}

// Name identifies the link in logs
func (l *HTTPPushLink) Name() string {
	return "http-push"
}

// ConnectedNodes returns the discovered nodes
func (l *HTTPPushLink) ConnectedNodes(ctx context.Context) ([]transport.Node, error) {
	return l.discovery.FindNodes(ctx)
}

// SendMessage posts msg to node, authenticating first when needed. A rejected
// token is discarded so the next message re-authenticates.
func (l *HTTPPushLink) SendMessage(ctx context.Context, node transport.Node, msg transport.Message) error {
	client, err := l.clientFor(node)
	if err != nil {
		return err
	}

	if !client.IsAuthenticated() {
		if err := client.Authenticate(ctx); err != nil {
			return err
		}
		l.logger.Info("authenticated to host node", zap.String("node", node.ID()))
	}

	_, err = client.SendMessage(ctx, msg.Topic, msg.Payload)
	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		client.SetToken("")
	}
	return err
}

func (l *HTTPPushLink) clientFor(node transport.Node) (*httpclient.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if client, ok := l.clients[node.ID()]; ok {
		return client, nil
	}
	client, err := httpclient.NewClient(httpclient.Config{
		ServerURL: node.Address(),
		ClientID:  l.clientID,
		Timeout:   l.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid node %s: %w", node.ID(), err)
	}
	l.clients[node.ID()] = client
	return client, nil
}

// Verify that HTTPPushLink implements the transport.Link interface at compile time
var _ transport.Link = (*HTTPPushLink)(nil)
