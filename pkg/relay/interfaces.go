package relay

import (
	"context"
	"errors"

	"github.com/rmacdonaldsmith/pumprelay-go/pkg/worker"
)

var (
	// ErrUnknownTopic is returned for inbound topics the relay does not handle
	ErrUnknownTopic = errors.New("relay: unknown topic")
	// ErrInvalidPayload is returned when an inbound payload does not decode
	ErrInvalidPayload = errors.New("relay: invalid payload")
)

// Result describes how an inbound message was handled
type Result struct {
	// Topic is the normalized inbound topic
	Topic string

	// Kind is the worker request submitted, zero when none was
	Kind worker.RequestKind

	// Commands is the number of commands submitted
	Commands int
}

// Health summarizes the relay for health checks
type Health struct {
	Healthy        bool
	NodeID         string
	Status         worker.Status
	ConnectedNodes int
	Message        string
}

// Activator brings the relay's foreground activity up on request
type Activator interface {
	Activate(ctx context.Context) error
}

// Relay accepts inbound host messages.
type Relay interface {
	// HandleMessage dispatches payload received on topic. Topics are accepted with
	// or without a leading slash.
	HandleMessage(ctx context.Context, topic string, payload []byte) (Result, error)

	// Health returns the current health summary.
	Health(ctx context.Context) Health
}
