// Package config loads the relay's YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rmacdonaldsmith/pumprelay-go/internal/bluez"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/httpapi"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/logging"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/session"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/transport"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/worker"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
	"gopkg.in/yaml.v3"
)

// Pump backends
const (
	BackendSim   = "sim"
	BackendBlueZ = "bluez"
)

var (
	// ErrUnknownBackend is returned for a pump backend other than sim or bluez
	ErrUnknownBackend = errors.New("unknown pump backend")
	// ErrEmptyNodeID is returned when no node id is configured
	ErrEmptyNodeID = errors.New("node id cannot be empty")
)

// Config is the complete relay configuration
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	HTTP      HTTPConfig      `yaml:"http"`
	Transport TransportConfig `yaml:"transport"`
	Pump      PumpConfig      `yaml:"pump"`
	Logging   logging.Config  `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// NodeConfig identifies the relay
type NodeConfig struct {
	ID string `yaml:"id"`
}

// HTTPConfig configures the host-facing API
type HTTPConfig struct {
	ListenAddress     string        `yaml:"listen_address"`
	SecretKey         string        `yaml:"secret_key"`
	NoAuth            bool          `yaml:"no_auth"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	StreamBuffer      int           `yaml:"stream_buffer"`
}

// TransportConfig configures delivery to host nodes
type TransportConfig struct {
	// Nodes are hosts the relay pushes to over their HTTP API
	Nodes          []transport.StaticNode `yaml:"nodes"`
	ClientID       string                 `yaml:"client_id"`
	SendQueueSize  int                    `yaml:"send_queue_size"`
	RequestTimeout time.Duration          `yaml:"request_timeout"`
}

// PumpConfig configures the pump session and backend
type PumpConfig struct {
	Backend            string        `yaml:"backend"`
	ConnectBackoff     time.Duration `yaml:"connect_backoff"`
	MaxPendingRequests int           `yaml:"max_pending_requests"`
	InitializeOnStart  *bool         `yaml:"initialize_on_start"`

	// ActivityCommand runs on to-phone/start-activity (program and arguments)
	ActivityCommand []string `yaml:"activity_command"`

	BlueZ BlueZConfig `yaml:"bluez"`
	Sim   SimConfig   `yaml:"sim"`
}

// BlueZConfig configures the BlueZ backend
type BlueZConfig struct {
	Adapter    string `yaml:"adapter"`
	NamePrefix string `yaml:"name_prefix"`

	// Characteristics maps characteristic names (e.g. "current-status") to GATT UUIDs
	Characteristics map[string]string `yaml:"characteristics"`
	PairingOpcode   int8              `yaml:"pairing_opcode"`
	ResolveTimeout  time.Duration     `yaml:"resolve_timeout"`
}

// SimConfig configures the simulated pump
type SimConfig struct {
	DeviceName   string        `yaml:"device_name"`
	Model        string        `yaml:"model"`
	DeniedScans  int           `yaml:"denied_scans"`
	ConnectDelay time.Duration `yaml:"connect_delay"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{Logging: logging.DefaultConfig(logging.ProfileRuntime)}
	c.SetDefaults()
	return c
}

// Load reads path and applies defaults. An empty path yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	c := &Config{Logging: logging.DefaultConfig(logging.ProfileRuntime)}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.SetDefaults()
	return c, nil
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Node.ID == "" {
		c.Node.ID = defaultNodeID()
	}
	if c.HTTP.ListenAddress == "" {
		c.HTTP.ListenAddress = ":8081"
	}
	if c.HTTP.KeepaliveInterval <= 0 {
		c.HTTP.KeepaliveInterval = httpapi.DefaultKeepaliveInterval
	}
	if c.HTTP.StreamBuffer <= 0 {
		c.HTTP.StreamBuffer = httpapi.DefaultStreamBuffer
	}
	if c.Transport.ClientID == "" {
		c.Transport.ClientID = c.Node.ID
	}
	if c.Transport.SendQueueSize == 0 {
		c.Transport.SendQueueSize = 1000
	}
	if c.Transport.RequestTimeout <= 0 {
		c.Transport.RequestTimeout = 5 * time.Second
	}
	if c.Pump.Backend == "" {
		c.Pump.Backend = BackendSim
	}
	if c.Pump.ConnectBackoff <= 0 {
		c.Pump.ConnectBackoff = session.DefaultConnectBackoff
	}
	if c.Pump.MaxPendingRequests == 0 {
		c.Pump.MaxPendingRequests = worker.DefaultMaxPendingRequests
	}
	if c.Pump.InitializeOnStart == nil {
		c.Pump.InitializeOnStart = boolPtr(true)
	}
	if c.Metrics.Enabled == nil {
		c.Metrics.Enabled = boolPtr(true)
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return ErrEmptyNodeID
	}
	httpConfig := c.HTTPServerConfig()
	if err := httpConfig.Validate(); err != nil {
		return err
	}
	switch c.Pump.Backend {
	case BackendSim:
	case BackendBlueZ:
		bz, err := c.BlueZ()
		if err != nil {
			return err
		}
		if err := bz.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Pump.Backend)
	}
	if c.Pump.MaxPendingRequests < 0 {
		return worker.ErrInvalidMaxPending
	}
	if c.Transport.SendQueueSize < 0 {
		return transport.ErrInvalidQueueSize
	}
	for i, n := range c.Transport.Nodes {
		if n.URL == "" {
			return fmt.Errorf("transport node %d: url is required", i)
		}
	}
	return nil
}

// HTTPServerConfig returns the HTTP API server configuration
func (c *Config) HTTPServerConfig() httpapi.Config {
	return httpapi.Config{
		ListenAddress:     c.HTTP.ListenAddress,
		SecretKey:         c.HTTP.SecretKey,
		NoAuth:            c.HTTP.NoAuth,
		KeepaliveInterval: c.HTTP.KeepaliveInterval,
	}
}

// BlueZ returns the BlueZ backend configuration with characteristic names resolved.
func (c *Config) BlueZ() (bluez.Config, error) {
	bz := bluez.Config{
		Adapter:        c.Pump.BlueZ.Adapter,
		NamePrefix:     c.Pump.BlueZ.NamePrefix,
		PairingOpcode:  pumpmsg.Opcode(c.Pump.BlueZ.PairingOpcode),
		ResolveTimeout: c.Pump.BlueZ.ResolveTimeout,
	}
	if len(c.Pump.BlueZ.Characteristics) > 0 {
		bz.Characteristics = bluez.DefaultCharacteristicUUIDs()
		for name, id := range c.Pump.BlueZ.Characteristics {
			ch, err := pumpmsg.ParseCharacteristic(name)
			if err != nil {
				return bluez.Config{}, fmt.Errorf("pump.bluez.characteristics: %w", err)
			}
			bz.Characteristics[ch] = id
		}
	}
	bz.SetDefaults()
	return bz, nil
}

func defaultNodeID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "pumprelay-1"
	}
	return "pumprelay-" + hostname
}

func boolPtr(b bool) *bool {
	return &b
}
