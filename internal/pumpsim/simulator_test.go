package pumpsim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/peripheral"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu     sync.Mutex
	events []peripheral.Event
}

func (r *recorder) sink(ev peripheral.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []peripheral.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]peripheral.Event(nil), r.events...)
}

func newSim(t *testing.T, config Config) (*Simulator, *recorder) {
	t.Helper()
	rec := &recorder{}
	sim := New(config, peripheral.DefaultOptions(), rec.sink, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = sim.Close() })
	return sim, rec
}

func connect(t *testing.T, sim *Simulator) {
	t.Helper()
	require.NoError(t, sim.StartScan(context.Background()))
	require.Eventually(t, sim.Connected, time.Second, time.Millisecond)
}

func TestSimulator_DeniesFirstScans(t *testing.T) {
	sim, rec := newSim(t, Config{DeniedScans: 2})

	assert.ErrorIs(t, sim.StartScan(context.Background()), peripheral.ErrPermissionDenied)
	assert.ErrorIs(t, sim.StartScan(context.Background()), peripheral.ErrPermissionDenied)
	assert.Empty(t, rec.all())

	connect(t, sim)
	assert.Equal(t, 3, sim.Scans())
}

func TestSimulator_ConnectSequence(t *testing.T) {
	sim, rec := newSim(t, Config{DeviceName: "tslim X2 ***123", Address: "AA:BB", Model: "X2"})
	connect(t, sim)

	handle := peripheral.StaticHandle{DeviceName: "tslim X2 ***123", DeviceAddress: "AA:BB"}
	assert.Equal(t, []peripheral.Event{
		peripheral.ScanStartedEvent{},
		peripheral.InitialConnectionEvent{Handle: handle},
		peripheral.ConnectedEvent{Handle: handle, Name: "tslim X2 ***123"},
		peripheral.ModelIdentifiedEvent{Model: "X2"},
	}, rec.all())
}

func TestSimulator_ConnectDelayUsesClock(t *testing.T) {
	mock := clock.NewMock()
	sim, _ := newSim(t, Config{ConnectDelay: time.Second, Clock: mock})

	require.NoError(t, sim.StartScan(context.Background()))
	assert.False(t, sim.Connected())

	require.Eventually(t, func() bool {
		mock.Add(250 * time.Millisecond)
		return sim.Connected()
	}, time.Second, time.Millisecond)
}

func TestSimulator_SendEchoes(t *testing.T) {
	sim, rec := newSim(t, Config{Address: "AA"})

	cmd := pumpmsg.NewCommand(pumpmsg.CurrentStatus, 36, 37, []byte{0x01})
	cmd.TxID = 4
	assert.ErrorIs(t, sim.Send(peripheral.StaticHandle{DeviceAddress: "AA"}, cmd), ErrNotConnected)

	connect(t, sim)
	before := len(rec.all())

	require.NoError(t, sim.Send(peripheral.StaticHandle{DeviceAddress: "AA"}, cmd))
	events := rec.all()[before:]
	require.Len(t, events, 1)
	msg, ok := events[0].(peripheral.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, pumpmsg.CacheKey{Channel: pumpmsg.CurrentStatus, Opcode: 37}, msg.Response.Key())
	assert.Equal(t, uint8(4), msg.Response.TxID)
	assert.Equal(t, []byte{0x01}, msg.Response.Payload())
	assert.Equal(t, []pumpmsg.Command{cmd}, sim.Sent())

	assert.ErrorIs(t, sim.Send(peripheral.StaticHandle{DeviceAddress: "BB"}, cmd), ErrUnknownPeripheral)
	assert.ErrorIs(t, sim.Send(nil, cmd), ErrUnknownPeripheral)
}

func TestSimulator_CustomResponder(t *testing.T) {
	sim, rec := newSim(t, Config{Responder: func(pumpmsg.Command) []*pumpmsg.Response { return nil }})
	connect(t, sim)
	before := len(rec.all())

	require.NoError(t, sim.Send(peripheral.StaticHandle{DeviceAddress: sim.handle.DeviceAddress}, pumpmsg.NewCommand(pumpmsg.Control, 1, 2, nil)))
	assert.Len(t, rec.all(), before)
}

func TestSimulator_DisconnectAndReconnect(t *testing.T) {
	sim, rec := newSim(t, Config{DeviceName: "pump"})
	connect(t, sim)

	sim.Disconnect(false)
	assert.False(t, sim.Connected())
	events := rec.all()
	assert.Equal(t, peripheral.DisconnectedEvent{Name: "pump"}, events[len(events)-1])

	// no-op while already disconnected
	sim.Disconnect(true)
	assert.Len(t, rec.all(), len(events))

	require.NoError(t, sim.StartScan(context.Background()))
	require.Eventually(t, sim.Connected, time.Second, time.Millisecond)

	sim.Disconnect(true)
	require.Eventually(t, sim.Connected, time.Second, time.Millisecond)
}

func TestSimulator_Triggers(t *testing.T) {
	sim, rec := newSim(t, Config{})
	challenge := pumpmsg.NewResponse(pumpmsg.Authorization, 17, 0, []byte("c"))
	unsolicited := pumpmsg.NewResponse(pumpmsg.HistoryLog, 60, 0, nil)

	sim.CriticalError("occlusion")
	sim.QualifyingEvents(pumpmsg.QualifyingEventSet{2})
	sim.RequestPairing(challenge)
	sim.Push(unsolicited)

	assert.Equal(t, []peripheral.Event{
		peripheral.CriticalErrorEvent{Reason: "occlusion"},
		peripheral.QualifyingEventsEvent{Events: pumpmsg.QualifyingEventSet{2}},
		peripheral.PairingCodeNeededEvent{Challenge: challenge},
		peripheral.MessageEvent{Response: unsolicited},
	}, rec.all())
}

func TestSimulator_Close(t *testing.T) {
	mock := clock.NewMock()
	sim, rec := newSim(t, Config{ConnectDelay: time.Second, Clock: mock})

	require.NoError(t, sim.StartScan(context.Background()))
	require.NoError(t, sim.Close())
	require.NoError(t, sim.Close())
	mock.Add(2 * time.Second)

	assert.False(t, sim.Connected())
	assert.Equal(t, []peripheral.Event{peripheral.ScanStartedEvent{}}, rec.all())
	assert.ErrorIs(t, sim.StartScan(context.Background()), peripheral.ErrSessionClosed)
}

func TestNewFactory(t *testing.T) {
	var built *Simulator
	factory := NewFactory(Config{Model: "X2"}, nil, func(s *Simulator) { built = s })

	proto, err := factory(peripheral.Options{ConnectionSharing: true}, func(peripheral.Event) {})
	require.NoError(t, err)
	require.NotNil(t, built)
	assert.Same(t, built, proto)
	assert.True(t, built.Options().ConnectionSharing)
	assert.Equal(t, "X2", built.config.Model)
}
