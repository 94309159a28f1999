package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/metrics"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/peripheral"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeProtocol denies permission for the first denials scans and records the mock
// time of every attempt.
type fakeProtocol struct {
	mu      sync.Mutex
	clock   clock.Clock
	denials int
	scanErr error
	scans   []time.Time
	sent    []pumpmsg.Command
	sendErr error
	closed  bool
	opts    peripheral.Options
	sink    peripheral.EventSink
}

func (p *fakeProtocol) StartScan(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scans = append(p.scans, p.clock.Now())
	if p.scanErr != nil {
		return p.scanErr
	}
	if len(p.scans) <= p.denials {
		return peripheral.ErrPermissionDenied
	}
	p.sink(peripheral.ScanStartedEvent{})
	return nil
}

func (p *fakeProtocol) Send(handle peripheral.Handle, cmd pumpmsg.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, cmd)
	return nil
}

func (p *fakeProtocol) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeProtocol) scanTimes() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.scans...)
}

func (p *fakeProtocol) sentCommands() []pumpmsg.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pumpmsg.Command(nil), p.sent...)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []peripheral.Event
}

func (r *eventRecorder) sink(ev peripheral.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []peripheral.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]peripheral.Event(nil), r.events...)
}

func newTestSession(t *testing.T, proto *fakeProtocol, m *metrics.Metrics) (*Session, *eventRecorder, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	proto.clock = mock
	rec := &eventRecorder{}

	factory := func(opts peripheral.Options, sink peripheral.EventSink) (peripheral.Protocol, error) {
		proto.opts = opts
		proto.sink = sink
		return proto, nil
	}
	s, err := New(Config{
		Options: peripheral.DefaultOptions(),
		Clock:   mock,
		Metrics: m,
	}, factory, rec.sink, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, rec, mock
}

func TestNew_Validation(t *testing.T) {
	sink := func(peripheral.Event) {}
	_, err := New(Config{}, nil, sink, nil)
	assert.Error(t, err)

	factory := func(peripheral.Options, peripheral.EventSink) (peripheral.Protocol, error) {
		return nil, errors.New("no radio")
	}
	_, err = New(Config{}, factory, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{}, factory, sink, nil)
	assert.ErrorContains(t, err, "no radio")
}

func TestNew_PassesOptionsToProtocol(t *testing.T) {
	proto := &fakeProtocol{}
	s, _, _ := newTestSession(t, proto, nil)

	assert.True(t, proto.opts.ConnectionSharing)
	assert.True(t, proto.opts.SendSharedConnectionResponses)
	assert.Equal(t, peripheral.Uninitialized, s.State())
	assert.Equal(t, DefaultConnectBackoff, s.config.ConnectBackoff)
}

func TestConnect_PermissionGranted(t *testing.T) {
	proto := &fakeProtocol{}
	s, rec, _ := newTestSession(t, proto, nil)

	require.NoError(t, s.Connect(context.Background()))

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, peripheral.ScanStartedEvent{}, rec.all()[0])
	assert.Equal(t, peripheral.Scanning, s.State())
	assert.Len(t, proto.scanTimes(), 1)
}

func TestConnect_RetriesWhilePermissionDenied(t *testing.T) {
	m := metrics.New()
	proto := &fakeProtocol{denials: 4}
	s, rec, mock := newTestSession(t, proto, m)

	require.NoError(t, s.Connect(context.Background()))

	require.Eventually(t, func() bool {
		mock.Add(100 * time.Millisecond)
		return len(proto.scanTimes()) >= 5
	}, 5*time.Second, time.Millisecond)

	scans := proto.scanTimes()
	for i := 1; i < len(scans); i++ {
		assert.GreaterOrEqual(t, scans[i].Sub(scans[i-1]), DefaultConnectBackoff, "attempt %d", i)
	}

	// Earlier denials never surface once the scan succeeds
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, peripheral.ScanStartedEvent{}, rec.all()[0])
	assert.Equal(t, peripheral.Scanning, s.State())
	assert.Equal(t, float64(5), testutil.ToFloat64(m.ConnectAttempts))
}

func TestConnect_TwiceReturnsAlreadyConnecting(t *testing.T) {
	proto := &fakeProtocol{denials: 1000}
	s, _, _ := newTestSession(t, proto, nil)

	require.NoError(t, s.Connect(context.Background()))
	assert.ErrorIs(t, s.Connect(context.Background()), peripheral.ErrAlreadyConnecting)
}

func TestConnect_OtherScanErrorIsCritical(t *testing.T) {
	proto := &fakeProtocol{scanErr: errors.New("adapter missing")}
	s, rec, _ := newTestSession(t, proto, nil)

	require.NoError(t, s.Connect(context.Background()))

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, peripheral.CriticalErrorEvent{Reason: "adapter missing"}, rec.all()[0])
	assert.Equal(t, peripheral.CriticalError, s.State())
	assert.Len(t, proto.scanTimes(), 1)
}

func TestClose_StopsRetryTask(t *testing.T) {
	proto := &fakeProtocol{denials: 1000}
	s, rec, mock := newTestSession(t, proto, nil)

	require.NoError(t, s.Connect(context.Background()))
	require.Eventually(t, func() bool { return len(proto.scanTimes()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.Close())
	mock.Add(10 * DefaultConnectBackoff)

	assert.Len(t, proto.scanTimes(), 1)
	assert.Empty(t, rec.all())
	assert.True(t, proto.closed)
	assert.ErrorIs(t, s.Connect(context.Background()), peripheral.ErrSessionClosed)
	assert.NoError(t, s.Close())
}

func TestConnect_ContextCancelStopsRetryTask(t *testing.T) {
	proto := &fakeProtocol{denials: 1000}
	s, _, mock := newTestSession(t, proto, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Connect(ctx))
	require.Eventually(t, func() bool { return len(proto.scanTimes()) == 1 }, time.Second, time.Millisecond)

	cancel()
	<-s.done
	mock.Add(10 * DefaultConnectBackoff)
	assert.Len(t, proto.scanTimes(), 1)
}

func TestSendCommand_DeclinesWithoutHandle(t *testing.T) {
	m := metrics.New()
	proto := &fakeProtocol{}
	s, _, _ := newTestSession(t, proto, m)
	proto.sink(peripheral.ConnectedEvent{Handle: peripheral.StaticHandle{DeviceName: "pump"}, Name: "pump"})

	s.SendCommand(nil, pumpmsg.NewCommand(pumpmsg.CurrentStatus, 36, 37, nil))

	assert.Empty(t, proto.sentCommands())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CommandsDropped.WithLabelValues(metrics.DropNoHandle)))
}

func TestSendCommand_DeclinesWhenNotConnected(t *testing.T) {
	m := metrics.New()
	proto := &fakeProtocol{}
	s, _, _ := newTestSession(t, proto, m)
	handle := peripheral.StaticHandle{DeviceName: "pump"}

	s.SendCommand(handle, pumpmsg.NewCommand(pumpmsg.CurrentStatus, 36, 37, nil))
	proto.sink(peripheral.ConnectedEvent{Handle: handle, Name: "pump"})
	proto.sink(peripheral.DisconnectedEvent{Name: "pump"})
	s.SendCommand(handle, pumpmsg.NewCommand(pumpmsg.CurrentStatus, 36, 37, nil))

	assert.Empty(t, proto.sentCommands())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CommandsDropped.WithLabelValues(metrics.DropNotConnected)))
}

func TestSendCommand_SendsWhenConnected(t *testing.T) {
	m := metrics.New()
	proto := &fakeProtocol{}
	s, rec, _ := newTestSession(t, proto, m)
	handle := peripheral.StaticHandle{DeviceName: "pump"}
	cmd := pumpmsg.NewCommand(pumpmsg.Control, -16, -15, []byte{1})

	proto.sink(peripheral.ConnectedEvent{Handle: handle, Name: "pump"})
	s.SendCommand(handle, cmd)

	assert.Equal(t, []pumpmsg.Command{cmd}, proto.sentCommands())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CommandsSent))
	assert.Len(t, rec.all(), 1)

	proto.sendErr = errors.New("write failed")
	s.SendCommand(handle, cmd)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CommandsDropped.WithLabelValues(metrics.DropSendFailed)))
}

func TestEmit_TracksStateAndForwardsEvents(t *testing.T) {
	proto := &fakeProtocol{}
	s, rec, _ := newTestSession(t, proto, nil)
	handle := peripheral.StaticHandle{DeviceName: "pump"}

	steps := []struct {
		event peripheral.Event
		state peripheral.ConnectionState
	}{
		{peripheral.ScanStartedEvent{}, peripheral.Scanning},
		{peripheral.InitialConnectionEvent{Handle: handle}, peripheral.Scanning},
		{peripheral.ConnectedEvent{Handle: handle, Name: "pump"}, peripheral.Connected},
		{peripheral.ModelIdentifiedEvent{Model: "X2"}, peripheral.Connected},
		{peripheral.CriticalErrorEvent{Reason: "occlusion"}, peripheral.CriticalError},
		{peripheral.DisconnectedEvent{Name: "pump"}, peripheral.Disconnected},
		{peripheral.ScanStartedEvent{}, peripheral.Scanning},
		{peripheral.ConnectedEvent{Handle: handle, Name: "pump"}, peripheral.Connected},
	}
	for i, step := range steps {
		proto.sink(step.event)
		assert.Equal(t, step.state, s.State(), "step %d", i)
	}

	events := rec.all()
	require.Len(t, events, len(steps))
	for i, step := range steps {
		assert.Equal(t, step.event, events[i])
	}
}
