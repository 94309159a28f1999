package transport

import (
	"context"
	"time"
)

// Node is a host reachable through a Link
type Node interface {
	// ID returns unique identifier for this node
	ID() string

	// Address returns the node's address, or a description for stream-attached nodes
	Address() string
}

// Message is one outbound relay message
type Message struct {
	// ID uniquely identifies the message across all nodes
	ID string

	// Topic is the outbound path, with leading slash
	Topic string

	Payload   []byte
	Timestamp time.Time
}

// Link reaches a set of nodes
type Link interface {
	// Name identifies the link in logs
	Name() string

	// ConnectedNodes returns the nodes currently reachable through this link.
	ConnectedNodes(ctx context.Context) ([]Node, error)

	// SendMessage delivers msg to node.
	SendMessage(ctx context.Context, node Node, msg Message) error
}

// Publisher hands messages to the transport.
type Publisher interface {
	// Send queues payload for delivery on topic. It never blocks and never fails;
	// undeliverable messages are logged and dropped.
	Send(topic string, payload []byte)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(topic string, payload []byte)

// Send calls f(topic, payload).
func (f PublisherFunc) Send(topic string, payload []byte) {
	f(topic, payload)
}
