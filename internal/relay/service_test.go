package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rmacdonaldsmith/pumprelay-go/internal/metrics"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/peripheral"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/relay"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/topics"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/transport"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeWorker struct {
	mu        sync.Mutex
	requests  []worker.Request
	status    worker.Status
	submitErr error
}

func (w *fakeWorker) Submit(ctx context.Context, req worker.Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitErr != nil {
		return w.submitErr
	}
	w.requests = append(w.requests, req)
	return nil
}

func (w *fakeWorker) Status() worker.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *fakeWorker) submitted() []worker.Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]worker.Request(nil), w.requests...)
}

type fakeActivator struct {
	calls int
	err   error
}

func (a *fakeActivator) Activate(ctx context.Context) error {
	a.calls++
	return a.err
}

type fakeNodes struct {
	nodes []transport.Node
	err   error
}

func (n *fakeNodes) ConnectedNodes(ctx context.Context) ([]transport.Node, error) {
	return n.nodes, n.err
}

type hostNode string

func (n hostNode) ID() string      { return string(n) }
func (n hostNode) Address() string { return string(n) }

type serviceFixture struct {
	svc       *Service
	worker    *fakeWorker
	activator *fakeActivator
	nodes     *fakeNodes
	metrics   *metrics.Metrics
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		worker:    &fakeWorker{},
		activator: &fakeActivator{},
		nodes:     &fakeNodes{},
		metrics:   metrics.New(),
	}
	svc, err := NewService(NewConfig("relay-1"), f.worker, f.activator, f.nodes, zaptest.NewLogger(t), f.metrics)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func mustCommand(t *testing.T, cmd pumpmsg.Command) []byte {
	t.Helper()
	data, err := pumpmsg.MarshalCommand(cmd)
	require.NoError(t, err)
	return data
}

func mustCommands(t *testing.T, cmds ...pumpmsg.Command) []byte {
	t.Helper()
	data, err := pumpmsg.MarshalCommands(cmds)
	require.NoError(t, err)
	return data
}

func TestNewService_Validation(t *testing.T) {
	w := &fakeWorker{}

	_, err := NewService(nil, w, nil, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewService(&Config{}, w, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyNodeID)

	_, err = NewService(NewConfig("n"), nil, nil, nil, nil, nil)
	assert.Error(t, err)

	svc, err := NewService(NewConfig("n"), w, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc.activator)
}

func TestService_StartInitializesOnce(t *testing.T) {
	f := newServiceFixture(t)

	require.NoError(t, f.svc.Start(context.Background()))
	require.NoError(t, f.svc.Start(context.Background()))

	assert.Equal(t, []worker.Request{{Kind: worker.KindInitialize}}, f.worker.submitted())
}

func TestService_StartWithoutInitialize(t *testing.T) {
	w := &fakeWorker{}
	config := NewConfig("relay-1")
	config.InitializeOnStart = false
	svc, err := NewService(config, w, nil, nil, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	require.NoError(t, svc.Start(context.Background()))
	assert.Empty(t, w.submitted())
}

func TestService_StartSubmitError(t *testing.T) {
	f := newServiceFixture(t)
	f.worker.submitErr = worker.ErrStopped

	err := f.svc.Start(context.Background())
	assert.ErrorIs(t, err, worker.ErrStopped)

	// a failed start can be retried
	f.worker.submitErr = nil
	require.NoError(t, f.svc.Start(context.Background()))
	assert.Len(t, f.worker.submitted(), 1)
}

func TestService_CommandTopics(t *testing.T) {
	a := pumpmsg.NewCommand(pumpmsg.CurrentStatus, 36, 37, []byte{0x01})
	b := pumpmsg.NewCommand(pumpmsg.Control, -16, -15, nil)

	tests := []struct {
		name    string
		topic   string
		payload func(t *testing.T) []byte
		kind    worker.RequestKind
		cmds    []pumpmsg.Command
	}{
		{
			name:    "single command",
			topic:   "/to-pump/command",
			payload: func(t *testing.T) []byte { return mustCommand(t, a) },
			kind:    worker.KindSendCommand,
			cmds:    []pumpmsg.Command{a},
		},
		{
			name:    "bulk",
			topic:   "to-pump/commands",
			payload: func(t *testing.T) []byte { return mustCommands(t, a, b) },
			kind:    worker.KindSendCommandsBulk,
			cmds:    []pumpmsg.Command{a, b},
		},
		{
			name:    "bulk bust cache",
			topic:   "/to-pump/commands-bust-cache",
			payload: func(t *testing.T) []byte { return mustCommands(t, b, a) },
			kind:    worker.KindSendCommandsBulkBustCache,
			cmds:    []pumpmsg.Command{b, a},
		},
		{
			name:    "cached",
			topic:   " /to-pump/cached-commands ",
			payload: func(t *testing.T) []byte { return mustCommands(t, a) },
			kind:    worker.KindReadCachedBulk,
			cmds:    []pumpmsg.Command{a},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)

			result, err := f.svc.HandleMessage(context.Background(), tt.topic, tt.payload(t))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, result.Kind)
			assert.Equal(t, len(tt.cmds), result.Commands)
			assert.Equal(t, topics.Normalize(tt.topic), result.Topic)

			require.Len(t, f.worker.submitted(), 1)
			assert.Equal(t, worker.Request{Kind: tt.kind, Commands: tt.cmds}, f.worker.submitted()[0])
		})
	}
}

func TestService_RejectsUndecodablePayload(t *testing.T) {
	good := pumpmsg.NewCommand(pumpmsg.CurrentStatus, 36, 37, nil)
	goodBytes := mustCommand(t, good)

	// second element has no channel
	var batch []byte
	batch = append(batch, mustCommands(t, good)...)
	batch = append(batch, 0x02, 0x10, 0x02)
	batch = append(batch, mustCommands(t, good)...)

	tests := []struct {
		topic   string
		payload []byte
	}{
		{topics.Command, nil},
		{topics.Command, []byte{0xff}},
		{topics.Commands, nil},
		{topics.Commands, batch},
		{topics.CommandsBustCache, batch},
		{topics.CachedCommands, goodBytes[:1]},
	}

	f := newServiceFixture(t)
	for _, tt := range tests {
		result, err := f.svc.HandleMessage(context.Background(), tt.topic, tt.payload)
		assert.ErrorIs(t, err, relay.ErrInvalidPayload, tt.topic)
		assert.Zero(t, result.Kind)
	}

	assert.Empty(t, f.worker.submitted())
	assert.Equal(t, float64(len(tests)), testutil.ToFloat64(f.metrics.RequestsRejected))
}

func TestService_BulkRejectionReportsElement(t *testing.T) {
	f := newServiceFixture(t)
	good := pumpmsg.NewCommand(pumpmsg.CurrentStatus, 36, 37, nil)

	batch := mustCommands(t, good)
	batch = append(batch, 0x02, 0x10, 0x02)

	_, err := f.svc.HandleMessage(context.Background(), topics.Commands, batch)
	var decodeErr *pumpmsg.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, 1, decodeErr.Index)
}

func TestService_SubmitFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.worker.submitErr = worker.ErrQueueFull

	_, err := f.svc.HandleMessage(context.Background(), topics.Command, mustCommand(t, pumpmsg.NewCommand(pumpmsg.Control, 1, 2, nil)))
	assert.ErrorIs(t, err, worker.ErrQueueFull)
}

func TestService_UnknownTopic(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.HandleMessage(context.Background(), "/to-pump/nonsense", []byte{1})
	assert.ErrorIs(t, err, relay.ErrUnknownTopic)
	assert.Equal(t, "/to-pump/nonsense", result.Topic)
	assert.Empty(t, f.worker.submitted())
}

func TestService_StartActivity(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.HandleMessage(context.Background(), topics.StartActivity, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.activator.calls)

	// activation failures are not reported to the host
	f.activator.err = errors.New("no display")
	_, err = f.svc.HandleMessage(context.Background(), topics.StartActivity, nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, f.activator.calls)
	assert.Empty(t, f.worker.submitted())
}

func TestService_IsPumpConnectedQueuesAnnouncement(t *testing.T) {
	f := newServiceFixture(t)
	// The service never answers from a status snapshot
	f.worker.status = worker.Status{State: peripheral.Connected, HasPeripheral: true, PeripheralName: "tslim X2 ***123"}

	result, err := f.svc.HandleMessage(context.Background(), topics.IsPumpConnected, nil)
	require.NoError(t, err)
	assert.Equal(t, worker.KindAnnounceConnection, result.Kind)
	assert.Equal(t, []worker.Request{{Kind: worker.KindAnnounceConnection}}, f.worker.submitted())

	f.worker.submitErr = worker.ErrQueueFull
	_, err = f.svc.HandleMessage(context.Background(), topics.IsPumpConnected, nil)
	assert.ErrorIs(t, err, worker.ErrQueueFull)
}

func TestService_Health(t *testing.T) {
	f := newServiceFixture(t)
	f.worker.status = worker.Status{Initialized: true, State: peripheral.Scanning, CacheSize: 3}
	f.nodes.nodes = []transport.Node{hostNode("a"), hostNode("b")}

	health := f.svc.Health(context.Background())
	assert.True(t, health.Healthy)
	assert.Equal(t, "relay-1", health.NodeID)
	assert.Equal(t, 2, health.ConnectedNodes)
	assert.Equal(t, 3, health.Status.CacheSize)
	assert.Equal(t, peripheral.Scanning, health.Status.State)

	f.nodes.err = errors.New("discovery down")
	health = f.svc.Health(context.Background())
	assert.True(t, health.Healthy)
	assert.Zero(t, health.ConnectedNodes)
	assert.Contains(t, health.Message, "discovery down")
}

func TestCommandActivator(t *testing.T) {
	a := NewCommandActivator(nil, zaptest.NewLogger(t))
	assert.NoError(t, a.Activate(context.Background()))

	a = NewCommandActivator([]string{"/nonexistent/pumprelay-activity"}, zaptest.NewLogger(t))
	assert.Error(t, a.Activate(context.Background()))
}
