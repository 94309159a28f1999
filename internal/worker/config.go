package worker

import (
	"errors"

	"github.com/rmacdonaldsmith/pumprelay-go/internal/metrics"
)

// DefaultMaxPendingRequests bounds the host request backlog.
const DefaultMaxPendingRequests = 1024

// ErrInvalidMaxPending is returned when MaxPendingRequests is negative
var ErrInvalidMaxPending = errors.New("max pending requests cannot be negative")

// Config holds configuration for a Worker
type Config struct {
	// MaxPendingRequests bounds queued host requests. Session events are never
	// refused, so they do not count against it.
	MaxPendingRequests int

	// Metrics is optional
	Metrics *metrics.Metrics
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.MaxPendingRequests == 0 {
		c.MaxPendingRequests = DefaultMaxPendingRequests
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.MaxPendingRequests < 0 {
		return ErrInvalidMaxPending
	}
	return nil
}
