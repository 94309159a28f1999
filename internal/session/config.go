package session

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/metrics"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/peripheral"
)

// DefaultConnectBackoff is the fixed delay between scan attempts while the radio
// permission is missing.
const DefaultConnectBackoff = 500 * time.Millisecond

// Config holds configuration for a Session
type Config struct {
	// ConnectBackoff is the delay between permission-denied scan attempts
	ConnectBackoff time.Duration

	// Options are handed to the protocol library
	Options peripheral.Options

	// Clock drives the backoff timer; tests substitute a mock
	Clock clock.Clock

	// Metrics is optional
	Metrics *metrics.Metrics
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = DefaultConnectBackoff
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}
