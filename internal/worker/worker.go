package worker

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rmacdonaldsmith/pumprelay-go/internal/metrics"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/responsecache"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/peripheral"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
	responsecachepkg "github.com/rmacdonaldsmith/pumprelay-go/pkg/responsecache"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/topics"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/transport"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/worker"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned when Run is called more than once
var ErrAlreadyRunning = errors.New("worker already running")

// Worker implements the worker.Worker interface.
//
// All fields below the queue are owned by the Run goroutine. Everything that
// touches them (host requests, session events) arrives through the queue and is
// handled one item at a time, so no locking is needed.
type Worker struct {
	config    Config
	queue     *queue
	factory   peripheral.SessionFactory
	publisher transport.Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics

	running   atomic.Bool
	stopped   chan struct{}
	processed atomic.Uint64
	status    atomic.Pointer[worker.Status]

	// Owned by Run
	ctx        context.Context
	cache      responsecachepkg.Cache
	session    peripheral.Session
	generation uint64
	state      peripheral.ConnectionState
	handle     peripheral.Handle
	model      string
}

// New creates a worker. Call Run to start processing.
func New(config Config, factory peripheral.SessionFactory, publisher transport.Publisher, logger *zap.Logger) (*Worker, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if factory == nil {
		return nil, errors.New("session factory cannot be nil")
	}
	if publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Worker{
		config:    config,
		queue:     newQueue(),
		factory:   factory,
		publisher: publisher,
		logger:    logger,
		metrics:   config.Metrics,
		stopped:   make(chan struct{}),
		cache:     responsecache.NewInMemoryCache(),
		state:     peripheral.Uninitialized,
	}
	w.publishStatus()
	return w, nil
}

// Submit enqueues req behind everything already queued.
func (w *Worker) Submit(ctx context.Context, req worker.Request) error {
	if !req.Kind.Valid() {
		return fmt.Errorf("%w: %d", worker.ErrUnknownKind, req.Kind)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-w.stopped:
		return worker.ErrStopped
	default:
	}

	if !w.queue.pushRequest(req, w.config.MaxPendingRequests) {
		w.logger.Warn("request queue full, rejecting request",
			zap.Stringer("kind", req.Kind),
			zap.Int("limit", w.config.MaxPendingRequests))
		return worker.ErrQueueFull
	}
	w.metrics.SetQueueDepth(w.queue.len())
	return nil
}

// Status returns the snapshot taken after the last processed item.
func (w *Worker) Status() worker.Status {
	st := *w.status.Load()
	st.QueueDepth = w.queue.len()
	return st
}

// Run processes the queue until ctx is cancelled. The pump session, if any, is
// closed on return.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	w.ctx = ctx
	defer w.shutdown()

	w.logger.Info("command worker started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		it, ok := w.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-w.queue.ready:
			}
			continue
		}
		w.metrics.SetQueueDepth(w.queue.len())
		w.process(it)
	}
}

// sinkFor returns the event sink for the session of the given generation. It may
// be called from any goroutine.
func (w *Worker) sinkFor(generation uint64) peripheral.EventSink {
	return func(ev peripheral.Event) {
		select {
		case <-w.stopped:
			w.logger.Debug("dropping session event after stop", zap.String("event", fmt.Sprintf("%T", ev)))
			return
		default:
		}
		w.queue.pushEvent(generation, ev)
	}
}

func (w *Worker) shutdown() {
	close(w.stopped)
	if w.session != nil {
		if err := w.session.Close(); err != nil {
			w.logger.Warn("failed to close pump session", zap.Error(err))
		}
	}
	w.logger.Info("command worker stopped", zap.Int("pending", w.queue.len()))
}

func (w *Worker) process(it item) {
	switch {
	case it.request != nil:
		w.handleRequest(*it.request)
	case it.generation != w.generation:
		w.logger.Debug("ignoring event from replaced pump session",
			zap.String("event", fmt.Sprintf("%T", it.event)),
			zap.Uint64("generation", it.generation))
	default:
		w.handleEvent(it.event)
	}
	w.processed.Add(1)
	w.publishStatus()
}

func (w *Worker) handleRequest(req worker.Request) {
	w.logger.Debug("handling request", zap.Stringer("kind", req.Kind), zap.Int("commands", len(req.Commands)))

	switch req.Kind {
	case worker.KindInitialize:
		w.initialize()
	case worker.KindSendCommand, worker.KindSendCommandsBulk:
		for _, cmd := range req.Commands {
			w.send(cmd)
		}
	case worker.KindSendCommandsBulkBustCache:
		for _, cmd := range req.Commands {
			if w.cache.Invalidate(cmd.ResponseKey()) {
				w.logger.Info("busted cache", zap.Stringer("key", cmd.ResponseKey()))
				w.metrics.CacheBust()
			}
			w.send(cmd)
		}
	case worker.KindReadCachedBulk:
		for _, cmd := range req.Commands {
			w.readCached(cmd)
		}
	case worker.KindAnnounceConnection:
		w.announceConnection()
	}
}

// initialize builds a fresh session and starts its connect task. A second call
// replaces the running session; events the old one still emits are ignored.
func (w *Worker) initialize() {
	if w.session != nil {
		w.logger.Warn("initialize requested again, replacing pump session")
		if err := w.session.Close(); err != nil {
			w.logger.Warn("failed to close previous pump session", zap.Error(err))
		}
		w.session = nil
		w.handle = nil
		w.model = ""
		w.state = peripheral.Uninitialized
	}

	w.generation++
	session, err := w.factory(w.sinkFor(w.generation))
	if err != nil {
		w.logger.Error("failed to create pump session", zap.Error(err))
		return
	}
	w.session = session

	if err := session.Connect(w.ctx); err != nil {
		w.logger.Error("failed to start pump connect", zap.Error(err))
		return
	}
	w.logger.Info("pump session initialized")
}

// announceConnection repeats pump-connected for a host that asked whether the
// pump is connected. Nothing is published otherwise.
func (w *Worker) announceConnection() {
	if w.session == nil || w.state != peripheral.Connected || w.handle == nil {
		w.logger.Debug("pump not connected, nothing to announce", zap.Stringer("state", w.state))
		return
	}
	w.forward(topics.PumpConnected, []byte(w.handle.Name()))
}

func (w *Worker) readCached(cmd pumpmsg.Command) {
	key := cmd.ResponseKey()
	if resp, ok := w.cache.Get(key); ok {
		w.logger.Info("cached hit", zap.Stringer("response", resp))
		w.metrics.CacheHit()
		w.forwardResponse(topics.ReceiveCachedMessage, resp)
		return
	}
	w.logger.Info("cached miss", zap.Stringer("command", cmd))
	w.metrics.CacheMiss()
	w.send(cmd)
}

func (w *Worker) send(cmd pumpmsg.Command) {
	switch {
	case w.session == nil || w.state != peripheral.Connected:
		w.logger.Warn("not sending command due to pump state",
			zap.Bool("initialized", w.session != nil),
			zap.Stringer("state", w.state),
			zap.Stringer("command", cmd))
		w.metrics.CommandDropped(metrics.DropNotConnected)
	case w.handle == nil:
		w.logger.Warn("not sending command, no saved peripheral", zap.Stringer("command", cmd))
		w.metrics.CommandDropped(metrics.DropNoHandle)
	default:
		w.session.SendCommand(w.handle, cmd)
	}
}

func (w *Worker) handleEvent(ev peripheral.Event) {
	switch e := ev.(type) {
	case peripheral.ScanStartedEvent:
		w.state = peripheral.Scanning
		w.logger.Info("pump scanning")

	case peripheral.InitialConnectionEvent:
		w.handle = e.Handle
		w.logger.Info("initial pump connection", zap.String("peripheral", handleName(e.Handle)))

	case peripheral.ConnectedEvent:
		if e.Handle != nil {
			w.handle = e.Handle
		}
		w.state = peripheral.Connected
		name := e.Name
		if name == "" {
			name = handleName(w.handle)
		}
		w.logger.Info("pump connected", zap.String("peripheral", name))
		w.forward(topics.PumpConnected, []byte(name))

	case peripheral.DisconnectedEvent:
		w.handle = nil
		w.state = peripheral.Disconnected
		w.logger.Info("pump disconnected", zap.String("peripheral", e.Name))
		w.forward(topics.PumpDisconnected, []byte(e.Name))

	case peripheral.ModelIdentifiedEvent:
		w.model = e.Model
		w.logger.Info("pump model", zap.String("model", e.Model))
		w.forward(topics.PumpModel, []byte(e.Model))

	case peripheral.CriticalErrorEvent:
		w.state = peripheral.CriticalError
		w.logger.Warn("pump critical error", zap.String("reason", e.Reason))
		w.forward(topics.PumpCriticalError, []byte(e.Reason))

	case peripheral.MessageEvent:
		if e.Response == nil {
			w.logger.Warn("ignoring empty pump message")
			return
		}
		w.cache.Put(e.Response.Key(), e.Response)
		w.logger.Info("pump message received", zap.Stringer("response", e.Response))
		w.forwardResponse(topics.ReceiveMessage, e.Response)

	case peripheral.QualifyingEventsEvent:
		w.logger.Info("qualifying events", zap.Int("count", len(e.Events)))
		w.forward(topics.ReceiveQualifyingEvent, pumpmsg.MarshalQualifyingEvents(e.Events))

	case peripheral.PairingCodeNeededEvent:
		w.logger.Info("waiting for pairing code")
		if e.Challenge == nil {
			w.forward(topics.WaitingForPairingCode, []byte{})
			return
		}
		w.forwardResponse(topics.WaitingForPairingCode, e.Challenge)

	default:
		w.logger.Warn("unhandled session event", zap.String("event", fmt.Sprintf("%T", ev)))
	}
}

func (w *Worker) forwardResponse(topic string, resp *pumpmsg.Response) {
	payload, err := pumpmsg.MarshalResponse(resp)
	if err != nil {
		w.logger.Error("failed to encode response", zap.String("topic", topic), zap.Error(err))
		return
	}
	w.forward(topic, payload)
}

func (w *Worker) forward(topic string, payload []byte) {
	if ce := w.logger.Check(zap.DebugLevel, "forwarding to host"); ce != nil {
		ce.Write(zap.String("topic", topic), zap.String("payload", hex.EncodeToString(payload)))
	}
	w.publisher.Send(topic, payload)
	w.metrics.EventForwarded(topic)
}

func (w *Worker) publishStatus() {
	st := worker.Status{
		Initialized:   w.session != nil,
		State:         w.state,
		HasPeripheral: w.handle != nil,
		Model:         w.model,
		CacheSize:     w.cache.Len(),
		Processed:     w.processed.Load(),
	}
	if w.handle != nil {
		st.PeripheralName = w.handle.Name()
	}
	w.status.Store(&st)
	w.metrics.SetConnectionState(int(w.state))
}

func handleName(h peripheral.Handle) string {
	if h == nil {
		return ""
	}
	return h.Name()
}

// Verify that Worker implements the worker.Worker interface at compile time
var _ worker.Worker = (*Worker)(nil)
