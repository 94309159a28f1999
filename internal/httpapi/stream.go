package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/transport"
	"go.uber.org/zap"
)

var (
	// ErrStreamClosed is returned when delivering to a stream that has gone away
	ErrStreamClosed = errors.New("stream closed")
	// ErrStreamBacklog is returned when a stream's buffer is full
	ErrStreamBacklog = errors.New("stream backlog full")
)

// DefaultStreamBuffer is the per-stream message buffer
const DefaultStreamBuffer = 100

// streamNode is a host attached through an open event stream
type streamNode struct {
	id       string
	clientID string
	topic    string // empty for all topics
	messages chan transport.Message
}

func (n *streamNode) ID() string      { return n.id }
func (n *streamNode) Address() string { return "sse://" + n.clientID }

func (n *streamNode) wants(topic string) bool {
	return n.topic == "" || n.topic == topic
}

// StreamHub implements transport.Link for hosts attached over server-sent events.
// Every open stream is one node; delivery never blocks on a slow reader.
type StreamHub struct {
	mu     sync.RWMutex
	nodes  map[string]*streamNode
	buffer int
	logger *zap.Logger
}

// NewStreamHub creates a hub buffering up to buffer messages per stream.
func NewStreamHub(buffer int, logger *zap.Logger) *StreamHub {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHub{
		nodes:  make(map[string]*streamNode),
		buffer: buffer,
		logger: logger,
	}
}

// Name identifies the link in logs
func (h *StreamHub) Name() string {
	return "sse"
}

// ConnectedNodes returns one node per open stream.
func (h *StreamHub) ConnectedNodes(ctx context.Context) ([]transport.Node, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	nodes := make([]transport.Node, 0, len(h.nodes))
	for _, n := range h.nodes {
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// SendMessage queues msg on the node's stream. Messages outside the stream's
// topic filter are skipped.
func (h *StreamHub) SendMessage(ctx context.Context, node transport.Node, msg transport.Message) error {
	h.mu.RLock()
	n, ok := h.nodes[node.ID()]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamClosed, node.ID())
	}
	if !n.wants(msg.Topic) {
		return nil
	}

	select {
	case n.messages <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrStreamBacklog, node.ID())
	}
}

// attach registers a new stream for clientID, filtered to topic when non-empty.
func (h *StreamHub) attach(clientID, topic string) *streamNode {
	n := &streamNode{
		id:       uuid.NewString(),
		clientID: clientID,
		topic:    topic,
		messages: make(chan transport.Message, h.buffer),
	}

	h.mu.Lock()
	h.nodes[n.id] = n
	count := len(h.nodes)
	h.mu.Unlock()

	h.logger.Info("host stream attached",
		zap.String("streamId", n.id),
		zap.String("clientId", clientID),
		zap.String("topic", topic),
		zap.Int("streams", count))
	return n
}

func (h *StreamHub) detach(n *streamNode) {
	h.mu.Lock()
	delete(h.nodes, n.id)
	count := len(h.nodes)
	h.mu.Unlock()

	h.logger.Info("host stream detached",
		zap.String("streamId", n.id),
		zap.String("clientId", n.clientID),
		zap.Int("streams", count))
}

// Len returns the number of open streams.
func (h *StreamHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Verify that StreamHub implements the transport.Link interface at compile time
var _ transport.Link = (*StreamHub)(nil)
