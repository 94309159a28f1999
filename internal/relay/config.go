package relay

import (
	"errors"
)

// ErrEmptyNodeID is returned when node ID is empty
var ErrEmptyNodeID = errors.New("node ID cannot be empty")

// Config represents configuration for a relay Service
type Config struct {
	// NodeID identifies this relay
	NodeID string

	// InitializeOnStart enqueues an Initialize request when the service starts
	InitializeOnStart bool
}

// NewConfig creates a relay configuration with safe defaults
func NewConfig(nodeID string) *Config {
	return &Config{
		NodeID:            nodeID,
		InitializeOnStart: true,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	return nil
}
