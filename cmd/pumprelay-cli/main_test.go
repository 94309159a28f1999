package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/pumprelay-go/internal/httpapi"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/httpclient"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/relay"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/topics"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type received struct {
	topic   string
	payload []byte
}

// recordingRelay accepts every message and remembers it
type recordingRelay struct {
	mu       sync.Mutex
	messages []received
}

func (r *recordingRelay) HandleMessage(ctx context.Context, topic string, payload []byte) (relay.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, received{topic: topics.Normalize(topic), payload: payload})

	result := relay.Result{Topic: topics.Normalize(topic)}
	if cmds, err := pumpmsg.UnmarshalCommands(payload); err == nil {
		result.Kind = worker.KindSendCommandsBulk
		result.Commands = len(cmds)
	}
	return result, nil
}

func (r *recordingRelay) Health(ctx context.Context) relay.Health {
	return relay.Health{
		Healthy:        true,
		NodeID:         "relay-1",
		Status:         worker.Status{Initialized: true},
		ConnectedNodes: 1,
		Message:        "relay running",
	}
}

func (r *recordingRelay) last() received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[len(r.messages)-1]
}

// setupCLI points the global client at a relay API backed by a recordingRelay
// and captures output.
func setupCLI(t *testing.T) (*recordingRelay, *bytes.Buffer) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	rec := &recordingRelay{}
	server, err := httpapi.NewServer(httpapi.Config{NoAuth: true}, rec, httpapi.NewStreamHub(10, logger), nil, logger)
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	serverURL = ts.URL
	noAuth = true
	clientID = ""
	token = ""
	timeout = 5 * time.Second
	client, err = httpclient.NewClient(httpclient.Config{ServerURL: ts.URL, ClientID: "dev-client", Timeout: timeout})
	require.NoError(t, err)
	client.SetToken("no-auth-mode")

	var buf bytes.Buffer
	out = &buf
	t.Cleanup(func() {
		client = nil
		noAuth = false
	})
	return rec, &buf
}

func TestParseCommand(t *testing.T) {
	cmd, err := parseCommand("current-status:36:37", 3)
	require.NoError(t, err)
	assert.Equal(t, pumpmsg.CurrentStatus, cmd.Channel)
	assert.Equal(t, pumpmsg.Opcode(36), cmd.Opcode)
	assert.Equal(t, pumpmsg.Opcode(37), cmd.ResponseOpcode)
	assert.Equal(t, uint8(3), cmd.TxID)
	assert.Empty(t, cmd.Payload)

	cmd, err = parseCommand("control:-92:0x25:0a0b", 0)
	require.NoError(t, err)
	assert.Equal(t, pumpmsg.Control, cmd.Channel)
	assert.Equal(t, pumpmsg.Opcode(-92), cmd.Opcode)
	assert.Equal(t, pumpmsg.Opcode(37), cmd.ResponseOpcode)
	assert.Equal(t, []byte{0x0a, 0x0b}, cmd.Payload)
}

func TestParseCommand_Errors(t *testing.T) {
	for _, arg := range []string{
		"current-status:36",
		"bogus:1:2",
		"control:200:1",
		"control:1:x",
		"control:1:2:zz",
		"control:1:2:3:4",
	} {
		_, err := parseCommand(arg, 0)
		assert.Error(t, err, arg)
	}
}

func TestParseCommands_NumbersTransactions(t *testing.T) {
	cmds, err := parseCommands([]string{"current-status:36:37", "control:-16:-15"}, 254)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, uint8(254), cmds[0].TxID)
	assert.Equal(t, uint8(255), cmds[1].TxID)

	_, err = parseCommands(nil, 0)
	assert.Error(t, err)
}

func TestRunSend(t *testing.T) {
	rec, buf := setupCLI(t)

	require.NoError(t, runSend("current-status:36:37:01", 7))

	msg := rec.last()
	assert.Equal(t, topics.Command, msg.topic)
	cmd, err := pumpmsg.UnmarshalCommand(msg.payload)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), cmd.TxID)
	assert.Equal(t, []byte{0x01}, cmd.Payload)
	assert.Contains(t, buf.String(), "Message ID:")
}

func TestRunBulk(t *testing.T) {
	tests := []struct {
		mode  bulkMode
		topic string
	}{
		{sendBulk, topics.Commands},
		{bustCache, topics.CommandsBustCache},
		{cachedRead, topics.CachedCommands},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			rec, buf := setupCLI(t)

			require.NoError(t, runBulk(tt.mode, []string{"current-status:36:37", "current-status:40:41"}, 1))

			msg := rec.last()
			assert.Equal(t, tt.topic, msg.topic)
			cmds, err := pumpmsg.UnmarshalCommands(msg.payload)
			require.NoError(t, err)
			require.Len(t, cmds, 2)
			assert.Equal(t, pumpmsg.Opcode(40), cmds[1].Opcode)
			assert.Equal(t, uint8(2), cmds[1].TxID)
			assert.Contains(t, buf.String(), "2 commands")
		})
	}
}

func TestRunBulk_InvalidCommandSendsNothing(t *testing.T) {
	rec, _ := setupCLI(t)

	assert.Error(t, runBulk(sendBulk, []string{"current-status:36:37", "bogus:1:2"}, 0))
	assert.Empty(t, rec.messages)
}

func TestRunStatus(t *testing.T) {
	rec, buf := setupCLI(t)

	require.NoError(t, runStatus(true))
	assert.Contains(t, buf.String(), "Relay relay-1 is healthy")
	assert.Contains(t, buf.String(), "Connected hosts: 1")
	assert.Equal(t, topics.IsPumpConnected, rec.last().topic)
}

func TestActivateCommand(t *testing.T) {
	rec, buf := setupCLI(t)

	cmd := newActivateCommand()
	require.NoError(t, cmd.RunE(cmd, nil))
	assert.Equal(t, topics.StartActivity, rec.last().topic)
	assert.Contains(t, buf.String(), "Activity requested")
}

func TestPrintMessage(t *testing.T) {
	_, buf := setupCLI(t)

	payload, err := pumpmsg.MarshalResponse(pumpmsg.NewResponse(pumpmsg.CurrentStatus, 37, 2, []byte{0x01}))
	require.NoError(t, err)
	printMessage(httpclient.StreamMessage{Topic: topics.ReceiveMessage, Payload: payload})
	printMessage(httpclient.StreamMessage{Topic: topics.PumpConnected, Payload: []byte("tslim X2 ***123")})
	printMessage(httpclient.StreamMessage{Topic: topics.ReceiveQualifyingEvent, Payload: pumpmsg.MarshalQualifyingEvents(pumpmsg.QualifyingEventSet{4})})

	output := buf.String()
	assert.Contains(t, output, topics.ReceiveMessage)
	assert.Contains(t, output, "tslim X2 ***123")
	assert.Contains(t, output, "events: [4]")
}

func TestInitializeClient_RequiresClientID(t *testing.T) {
	root := newRootCommand()
	noAuth = false
	clientID = ""

	sendCmd, _, err := root.Find([]string{"send"})
	require.NoError(t, err)
	assert.Error(t, initializeClient(sendCmd, nil))
}
