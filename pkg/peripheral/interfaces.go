package peripheral

import (
	"context"
	"errors"
	"io"

	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
)

var (
	// ErrPermissionDenied is returned by Protocol.StartScan while the radio permission
	// has not been granted yet. It is the only error the session retries.
	ErrPermissionDenied = errors.New("peripheral: radio permission not granted")

	// ErrAlreadyConnecting is returned when Connect is called more than once.
	ErrAlreadyConnecting = errors.New("peripheral: connect already started")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("peripheral: session closed")
)

// ConnectionState is the lifecycle state of the peripheral connection
type ConnectionState int

const (
	Uninitialized ConnectionState = iota
	Scanning
	Connected
	Disconnected
	CriticalError
)

func (s ConnectionState) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Scanning:
		return "Scanning"
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	case CriticalError:
		return "CriticalError"
	default:
		return "Unknown"
	}
}

// Handle is an opaque reference to the bonded peripheral
type Handle interface {
	// Name returns the peripheral's advertised display name
	Name() string

	// Address returns the radio address of the peripheral
	Address() string
}

// Options are passed to the protocol library on construction
type Options struct {
	// ConnectionSharing lets the library share an existing pump connection
	// held by another application on the device.
	ConnectionSharing bool

	// SendSharedConnectionResponses delivers responses to commands issued by the
	// other application as well.
	SendSharedConnectionResponses bool
}

// DefaultOptions returns the options the relay starts the library with.
func DefaultOptions() Options {
	return Options{
		ConnectionSharing:             true,
		SendSharedConnectionResponses: true,
	}
}

// EventSink receives every notification from the protocol library, in order.
type EventSink func(Event)

// Protocol is the pump communication library. It owns scanning, pairing and the
// wire protocol; the relay only drives it.
type Protocol interface {
	io.Closer

	// StartScan begins scanning for and pairing with the pump. On success the
	// protocol emits ScanStartedEvent before any connection event.
	// Returns ErrPermissionDenied while the radio permission is missing.
	StartScan(ctx context.Context) error

	// Send transmits cmd to the peripheral identified by handle.
	// Delivery is fire and forget; replies arrive later as MessageEvents.
	Send(handle Handle, cmd pumpmsg.Command) error
}

// ProtocolFactory constructs a Protocol that reports to sink.
type ProtocolFactory func(opts Options, sink EventSink) (Protocol, error)

// Session owns the connection to the peripheral.
type Session interface {
	io.Closer

	// Connect starts the scan/pair retry task. It may be called once per session.
	Connect(ctx context.Context) error

	// SendCommand transmits cmd. It logs and does nothing when handle is nil or
	// the session is not Connected.
	SendCommand(handle Handle, cmd pumpmsg.Command)

	// State returns the session's view of the connection state.
	State() ConnectionState
}

// SessionFactory constructs a Session that reports to sink.
type SessionFactory func(sink EventSink) (Session, error)
