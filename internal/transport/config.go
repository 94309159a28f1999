package transport

import (
	"errors"
	"time"

	"github.com/rmacdonaldsmith/pumprelay-go/internal/metrics"
)

var (
	// ErrEmptyNodeID is returned when node ID is empty
	ErrEmptyNodeID = errors.New("node ID cannot be empty")
	// ErrInvalidQueueSize is returned when the send queue size is negative
	ErrInvalidQueueSize = errors.New("send queue size cannot be negative")
)

// Config holds configuration for the transport adapter
type Config struct {
	// NodeID identifies this relay to host nodes
	NodeID string

	// SendQueueSize bounds messages waiting for dispatch; further sends are dropped
	SendQueueSize int

	// RequestTimeout bounds delivery to a single node
	RequestTimeout time.Duration

	// Metrics is optional
	Metrics *metrics.Metrics
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if c.SendQueueSize < 0 {
		return ErrInvalidQueueSize
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.SendQueueSize == 0 {
		c.SendQueueSize = 1000
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
}
