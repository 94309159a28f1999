package bluez

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
)

// Standard GATT characteristic carrying the device model number string
const ModelNumberUUID = "00002a24-0000-1000-8000-00805f9b34fb"

var (
	// ErrEmptyAdapter is returned when no adapter name is configured
	ErrEmptyAdapter = errors.New("bluetooth adapter cannot be empty")
	// ErrNoCharacteristics is returned when no characteristic UUIDs are configured
	ErrNoCharacteristics = errors.New("at least one characteristic UUID is required")
)

// DefaultCharacteristicUUIDs maps pump characteristics to their GATT UUIDs.
func DefaultCharacteristicUUIDs() map[pumpmsg.Characteristic]string {
	return map[pumpmsg.Characteristic]string{
		pumpmsg.CurrentStatus:    "7b83fff6-9f77-4e5c-8064-aae2c24838b9",
		pumpmsg.QualifyingEvents: "7b83fff7-9f77-4e5c-8064-aae2c24838b9",
		pumpmsg.HistoryLog:       "7b83fff8-9f77-4e5c-8064-aae2c24838b9",
		pumpmsg.Authorization:    "7b83fff9-9f77-4e5c-8064-aae2c24838b9",
		pumpmsg.Control:          "7b83fffc-9f77-4e5c-8064-aae2c24838b9",
		pumpmsg.ControlStream:    "7b83fffd-9f77-4e5c-8064-aae2c24838b9",
	}
}

// Config holds configuration for the BlueZ protocol backend
type Config struct {
	// Adapter is the HCI adapter name, e.g. "hci0"
	Adapter string

	// NamePrefix selects the pump among discovered devices by its advertised name
	NamePrefix string

	// Characteristics maps each pump characteristic to a GATT characteristic UUID
	Characteristics map[pumpmsg.Characteristic]string

	// PairingOpcode is the Authorization opcode the pump sends when it wants a pairing code
	PairingOpcode pumpmsg.Opcode

	// ResolveTimeout bounds waiting for GATT services after connecting
	ResolveTimeout time.Duration
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Adapter == "" {
		c.Adapter = "hci0"
	}
	if c.NamePrefix == "" {
		c.NamePrefix = "tslim X2"
	}
	if len(c.Characteristics) == 0 {
		c.Characteristics = DefaultCharacteristicUUIDs()
	}
	if c.PairingOpcode == 0 {
		c.PairingOpcode = 17
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 30 * time.Second
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Adapter) == "" {
		return ErrEmptyAdapter
	}
	if len(c.Characteristics) == 0 {
		return ErrNoCharacteristics
	}
	for ch, id := range c.Characteristics {
		if !ch.Valid() {
			return fmt.Errorf("invalid characteristic %d", ch)
		}
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("empty UUID for characteristic %s", ch)
		}
	}
	return nil
}

// uuidIndex maps lowercased UUIDs back to characteristics
func (c *Config) uuidIndex() map[string]pumpmsg.Characteristic {
	idx := make(map[string]pumpmsg.Characteristic, len(c.Characteristics))
	for ch, id := range c.Characteristics {
		idx[strings.ToLower(strings.TrimSpace(id))] = ch
	}
	return idx
}
