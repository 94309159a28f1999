package pumpmsg

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Characteristic identifies the logical radio characteristic a message travels on.
type Characteristic uint8

const (
	// CharacteristicUnknown is the zero value and never valid on the wire
	CharacteristicUnknown Characteristic = iota
	CurrentStatus
	QualifyingEvents
	HistoryLog
	Authorization
	Control
	ControlStream
)

var characteristicNames = map[Characteristic]string{
	CurrentStatus:    "current-status",
	QualifyingEvents: "qualifying-events",
	HistoryLog:       "history-log",
	Authorization:    "authorization",
	Control:          "control",
	ControlStream:    "control-stream",
}

func (c Characteristic) String() string {
	if name, ok := characteristicNames[c]; ok {
		return name
	}
	return fmt.Sprintf("characteristic(%d)", uint8(c))
}

// Valid reports whether c is one of the known characteristics.
func (c Characteristic) Valid() bool {
	_, ok := characteristicNames[c]
	return ok
}

// ParseCharacteristic resolves a characteristic from its name ("current-status",
// "CURRENT_STATUS" and "currentstatus" are all accepted).
func ParseCharacteristic(name string) (Characteristic, error) {
	norm := strings.ToLower(strings.TrimSpace(name))
	norm = strings.NewReplacer("_", "", "-", "", " ", "").Replace(norm)
	for c, n := range characteristicNames {
		if strings.ReplaceAll(n, "-", "") == norm {
			return c, nil
		}
	}
	return CharacteristicUnknown, fmt.Errorf("unknown characteristic %q", name)
}

// Characteristics returns all known characteristics in ascending order.
func Characteristics() []Characteristic {
	out := make([]Characteristic, 0, len(characteristicNames))
	for c := range characteristicNames {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Opcode tags the semantic type of a message within a characteristic.
// Pump opcodes are signed bytes.
type Opcode int8

// Command is a request to the pump. It is consumed exactly once by the command worker.
type Command struct {
	// Channel is the characteristic the command is written to
	Channel Characteristic

	// Opcode is the request type
	Opcode Opcode

	// ResponseOpcode is the opcode of the reply the pump is expected to send
	ResponseOpcode Opcode

	// TxID is the transaction id assigned by the host
	TxID uint8

	// Payload is the opaque command cargo
	Payload []byte
}

// NewCommand creates a Command, copying the payload.
func NewCommand(channel Characteristic, opcode, responseOpcode Opcode, payload []byte) Command {
	return Command{
		Channel:        channel,
		Opcode:         opcode,
		ResponseOpcode: responseOpcode,
		Payload:        clone(payload),
	}
}

// ResponseKey is the cache key the reply to this command is stored under.
func (c Command) ResponseKey() CacheKey {
	return CacheKey{Channel: c.Channel, Opcode: c.ResponseOpcode}
}

func (c Command) String() string {
	return fmt.Sprintf("Command{channel=%s opcode=%d responseOpcode=%d txId=%d payload=%s}",
		c.Channel, c.Opcode, c.ResponseOpcode, c.TxID, hex.EncodeToString(c.Payload))
}

// Response is a reply or notification received from the pump. It is never mutated
// after creation.
type Response struct {
	Channel Characteristic
	Opcode  Opcode
	TxID    uint8
	payload []byte
}

// NewResponse creates a Response, copying the payload.
func NewResponse(channel Characteristic, opcode Opcode, txID uint8, payload []byte) *Response {
	return &Response{
		Channel: channel,
		Opcode:  opcode,
		TxID:    txID,
		payload: clone(payload),
	}
}

// Payload returns a copy of the response cargo.
func (r *Response) Payload() []byte {
	return clone(r.payload)
}

// Key is the cache key this response is stored under.
func (r *Response) Key() CacheKey {
	return CacheKey{Channel: r.Channel, Opcode: r.Opcode}
}

func (r *Response) String() string {
	return fmt.Sprintf("Response{channel=%s opcode=%d txId=%d payload=%s}",
		r.Channel, r.Opcode, r.TxID, hex.EncodeToString(r.payload))
}

// CacheKey identifies the most recent response of one type on one characteristic.
type CacheKey struct {
	Channel Characteristic
	Opcode  Opcode
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s/%d", k.Channel, k.Opcode)
}

// QualifyingEvent is a pump-defined event marker. The relay does not interpret it.
type QualifyingEvent uint32

// QualifyingEventSet is the set of markers accompanying one pump notification.
type QualifyingEventSet []QualifyingEvent

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
