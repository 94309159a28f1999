// Package pumpsim is an in-process pump that speaks the peripheral protocol
// contract. It backs the relay in development and in tests.
package pumpsim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/peripheral"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by Send before the simulated pump has connected
	ErrNotConnected = errors.New("pumpsim: pump not connected")
	// ErrUnknownPeripheral is returned by Send for a handle other than the simulated pump
	ErrUnknownPeripheral = errors.New("pumpsim: unknown peripheral")
)

// Responder produces the pump's replies to cmd.
type Responder func(cmd pumpmsg.Command) []*pumpmsg.Response

// EchoResponder replies on the command's response opcode with the command's
// payload and transaction id.
func EchoResponder(cmd pumpmsg.Command) []*pumpmsg.Response {
	return []*pumpmsg.Response{
		pumpmsg.NewResponse(cmd.Channel, cmd.ResponseOpcode, cmd.TxID, cmd.Payload),
	}
}

// Config configures the simulated pump
type Config struct {
	DeviceName string
	Address    string
	Model      string

	// DeniedScans is how many scans fail with ErrPermissionDenied before one succeeds
	DeniedScans int

	// ConnectDelay is the time between a successful scan and the connection
	ConnectDelay time.Duration

	// Responder answers commands; EchoResponder when nil
	Responder Responder

	Clock clock.Clock
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.DeviceName == "" {
		c.DeviceName = "tslim X2 ***SIM"
	}
	if c.Address == "" {
		c.Address = "00:00:00:00:00:00"
	}
	if c.Model == "" {
		c.Model = "t:slim X2"
	}
	if c.Responder == nil {
		c.Responder = EchoResponder
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Simulator implements peripheral.Protocol.
// Events are emitted while holding the simulator lock so the sink sees them in
// the order the simulated pump produced them.
type Simulator struct {
	mu     sync.Mutex
	config Config
	opts   peripheral.Options
	sink   peripheral.EventSink
	logger *zap.Logger
	handle peripheral.StaticHandle

	scans     int
	connected bool
	closed    bool
	stop      chan struct{}
	sent      []pumpmsg.Command
}

// New creates a simulated pump reporting to sink.
func New(config Config, opts peripheral.Options, sink peripheral.EventSink, logger *zap.Logger) *Simulator {
	config.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		config: config,
		opts:   opts,
		sink:   sink,
		logger: logger,
		handle: peripheral.StaticHandle{DeviceName: config.DeviceName, DeviceAddress: config.Address},
		stop:   make(chan struct{}),
	}
}

// NewFactory returns a ProtocolFactory building simulators from config. The last
// simulator built is reported to onCreate when it is non-nil.
func NewFactory(config Config, logger *zap.Logger, onCreate func(*Simulator)) peripheral.ProtocolFactory {
	return func(opts peripheral.Options, sink peripheral.EventSink) (peripheral.Protocol, error) {
		sim := New(config, opts, sink, logger)
		if onCreate != nil {
			onCreate(sim)
		}
		return sim, nil
	}
}

// StartScan fails with ErrPermissionDenied for the first DeniedScans calls, then
// starts scanning and connects after ConnectDelay.
func (s *Simulator) StartScan(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return peripheral.ErrSessionClosed
	}
	s.scans++
	if s.scans <= s.config.DeniedScans {
		return peripheral.ErrPermissionDenied
	}

	s.logger.Info("simulated scan started", zap.Int("scan", s.scans))
	s.sink(peripheral.ScanStartedEvent{})
	go s.connectAfter(s.config.ConnectDelay)
	return nil
}

func (s *Simulator) connectAfter(delay time.Duration) {
	if delay > 0 {
		select {
		case <-s.config.Clock.After(delay):
		case <-s.stop:
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.connected {
		return
	}
	s.connected = true
	s.sink(peripheral.InitialConnectionEvent{Handle: s.handle})
	s.sink(peripheral.ConnectedEvent{Handle: s.handle, Name: s.handle.DeviceName})
	s.sink(peripheral.ModelIdentifiedEvent{Model: s.config.Model})
}

// Send records cmd and emits the responder's replies.
func (s *Simulator) Send(handle peripheral.Handle, cmd pumpmsg.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}
	if handle == nil || handle.Address() != s.handle.DeviceAddress {
		return ErrUnknownPeripheral
	}

	s.sent = append(s.sent, cmd)
	for _, resp := range s.config.Responder(cmd) {
		s.sink(peripheral.MessageEvent{Response: resp})
	}
	return nil
}

// Close stops the simulated pump.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.connected = false
	close(s.stop)
	return nil
}

// Disconnect drops the link. With reconnect the pump scans and connects again
// the way the protocol library does after an unexpected disconnect.
func (s *Simulator) Disconnect(reconnect bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.connected = false
	s.sink(peripheral.DisconnectedEvent{Name: s.handle.DeviceName})
	if reconnect && !s.closed {
		s.sink(peripheral.ScanStartedEvent{})
		go s.connectAfter(s.config.ConnectDelay)
	}
}

// CriticalError reports a pump critical error.
func (s *Simulator) CriticalError(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink(peripheral.CriticalErrorEvent{Reason: reason})
}

// QualifyingEvents reports a set of qualifying events.
func (s *Simulator) QualifyingEvents(events pumpmsg.QualifyingEventSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink(peripheral.QualifyingEventsEvent{Events: events})
}

// RequestPairing reports that the pump is waiting for a pairing code.
func (s *Simulator) RequestPairing(challenge *pumpmsg.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink(peripheral.PairingCodeNeededEvent{Challenge: challenge})
}

// Push emits an unsolicited pump message.
func (s *Simulator) Push(resp *pumpmsg.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink(peripheral.MessageEvent{Response: resp})
}

// Connected reports whether the simulated link is up.
func (s *Simulator) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Scans returns the number of StartScan calls.
func (s *Simulator) Scans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

// Sent returns the commands received so far.
func (s *Simulator) Sent() []pumpmsg.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pumpmsg.Command(nil), s.sent...)
}

// Options returns the library options the simulator was built with.
func (s *Simulator) Options() peripheral.Options {
	return s.opts
}

// Verify that Simulator implements the peripheral.Protocol interface at compile time
var _ peripheral.Protocol = (*Simulator)(nil)
