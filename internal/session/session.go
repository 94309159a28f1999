package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rmacdonaldsmith/pumprelay-go/internal/metrics"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/peripheral"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
	"go.uber.org/zap"
)

// Session implements peripheral.Session on top of a protocol library.
//
// Every notification from the library passes through the session, which tracks the
// connection state and then hands the event to the sink unchanged.
type Session struct {
	mu     sync.Mutex
	config Config
	proto  peripheral.Protocol
	sink   peripheral.EventSink
	logger *zap.Logger

	state atomic.Int32

	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a session and constructs its protocol library with factory.
func New(config Config, factory peripheral.ProtocolFactory, sink peripheral.EventSink, logger *zap.Logger) (*Session, error) {
	if factory == nil {
		return nil, errors.New("protocol factory cannot be nil")
	}
	if sink == nil {
		return nil, errors.New("event sink cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.SetDefaults()

	s := &Session{
		config: config,
		sink:   sink,
		logger: logger,
	}
	s.state.Store(int32(peripheral.Uninitialized))

	proto, err := factory(config.Options, s.emit)
	if err != nil {
		return nil, fmt.Errorf("failed to create protocol: %w", err)
	}
	s.proto = proto
	s.logger.Info("pump session created",
		zap.Bool("connectionSharing", config.Options.ConnectionSharing),
		zap.Bool("sharedResponses", config.Options.SendSharedConnectionResponses))
	return s, nil
}

// Connect starts the scan task. The task retries every ConnectBackoff while the
// radio permission is missing, with no attempt limit, until it succeeds, ctx is
// cancelled or the session is closed. Connect itself never blocks.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return peripheral.ErrSessionClosed
	}
	if s.started {
		return peripheral.ErrAlreadyConnecting
	}

	taskCtx, cancel := context.WithCancel(ctx)
	s.started = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.connectLoop(taskCtx)
	return nil
}

func (s *Session) connectLoop(ctx context.Context) {
	defer close(s.done)

	for attempt := 1; ; attempt++ {
		s.config.Metrics.ConnectAttempt()
		s.logger.Info("starting scan", zap.Int("attempt", attempt))

		err := s.proto.StartScan(ctx)
		switch {
		case err == nil:
			s.logger.Info("scan started", zap.Int("attempts", attempt))
			return
		case ctx.Err() != nil:
			return
		case errors.Is(err, peripheral.ErrPermissionDenied):
			s.logger.Warn("waiting for radio permission",
				zap.Error(err),
				zap.Duration("backoff", s.config.ConnectBackoff))
		default:
			s.logger.Error("scan failed", zap.Error(err))
			s.emit(peripheral.CriticalErrorEvent{Reason: err.Error()})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-s.config.Clock.After(s.config.ConnectBackoff):
		}
	}
}

// SendCommand transmits cmd to the peripheral. It declines, logging only, when
// handle is nil or the session is not connected.
func (s *Session) SendCommand(handle peripheral.Handle, cmd pumpmsg.Command) {
	if handle == nil {
		s.logger.Warn("not sending command, no saved peripheral yet", zap.Stringer("command", cmd))
		s.config.Metrics.CommandDropped(metrics.DropNoHandle)
		return
	}
	if state := s.State(); state != peripheral.Connected {
		s.logger.Warn("not sending command due to pump state",
			zap.Stringer("state", state),
			zap.Stringer("command", cmd))
		s.config.Metrics.CommandDropped(metrics.DropNotConnected)
		return
	}

	s.logger.Info("pump send command", zap.Stringer("command", cmd), zap.String("peripheral", handle.Name()))
	if err := s.proto.Send(handle, cmd); err != nil {
		s.logger.Warn("pump send failed", zap.Stringer("command", cmd), zap.Error(err))
		s.config.Metrics.CommandDropped(metrics.DropSendFailed)
		return
	}
	s.config.Metrics.CommandSent()
}

// State returns the connection state as last reported by the protocol library.
func (s *Session) State() peripheral.ConnectionState {
	return peripheral.ConnectionState(s.state.Load())
}

// Close stops the scan task and closes the protocol library.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := s.proto.Close(); err != nil {
		return fmt.Errorf("failed to close protocol: %w", err)
	}
	return nil
}

// emit records the state change carried by ev and forwards ev to the sink.
func (s *Session) emit(ev peripheral.Event) {
	switch e := ev.(type) {
	case peripheral.ScanStartedEvent:
		s.setState(peripheral.Scanning)
	case peripheral.ConnectedEvent:
		s.setState(peripheral.Connected)
	case peripheral.DisconnectedEvent:
		s.setState(peripheral.Disconnected)
	case peripheral.CriticalErrorEvent:
		s.logger.Warn("pump critical error", zap.String("reason", e.Reason))
		s.setState(peripheral.CriticalError)
	}
	s.sink(ev)
}

func (s *Session) setState(state peripheral.ConnectionState) {
	prev := peripheral.ConnectionState(s.state.Swap(int32(state)))
	if prev != state {
		s.logger.Info("pump state changed", zap.Stringer("from", prev), zap.Stringer("to", state))
	}
}

// Verify that Session implements the peripheral.Session interface at compile time
var _ peripheral.Session = (*Session)(nil)
