package peripheral

import (
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
)

// Event is a notification from the peripheral session. The set of implementations
// is closed; consumers type switch over it.
type Event interface {
	isEvent()
}

// ScanStartedEvent reports that scanning began (after permission was granted or
// after a disconnect).
type ScanStartedEvent struct{}

// InitialConnectionEvent reports the radio link is up but pairing has not finished.
type InitialConnectionEvent struct {
	Handle Handle
}

// ConnectedEvent reports the pump is paired and ready for commands.
type ConnectedEvent struct {
	Handle Handle
	Name   string
}

// DisconnectedEvent reports the link to the pump was lost.
type DisconnectedEvent struct {
	Name string
}

// ModelIdentifiedEvent carries the pump's model identifier.
type ModelIdentifiedEvent struct {
	Model string
}

// CriticalErrorEvent carries a pump-reported critical error.
type CriticalErrorEvent struct {
	Reason string
}

// MessageEvent carries a response received from the pump.
type MessageEvent struct {
	Response *pumpmsg.Response
}

// QualifyingEventsEvent carries an opaque set of qualifying events.
type QualifyingEventsEvent struct {
	Events pumpmsg.QualifyingEventSet
}

// PairingCodeNeededEvent reports the pump is waiting for a pairing code.
type PairingCodeNeededEvent struct {
	Challenge *pumpmsg.Response
}

func (ScanStartedEvent) isEvent()       {}
func (InitialConnectionEvent) isEvent() {}
func (ConnectedEvent) isEvent()         {}
func (DisconnectedEvent) isEvent()      {}
func (ModelIdentifiedEvent) isEvent()   {}
func (CriticalErrorEvent) isEvent()     {}
func (MessageEvent) isEvent()           {}
func (QualifyingEventsEvent) isEvent()  {}
func (PairingCodeNeededEvent) isEvent() {}

// StaticHandle is a Handle with fixed values.
type StaticHandle struct {
	DeviceName    string
	DeviceAddress string
}

func (h StaticHandle) Name() string    { return h.DeviceName }
func (h StaticHandle) Address() string { return h.DeviceAddress }
