package httpapi

import (
	"context"
	"testing"

	"github.com/rmacdonaldsmith/pumprelay-go/pkg/topics"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStreamHub_AttachDetach(t *testing.T) {
	hub := NewStreamHub(0, zaptest.NewLogger(t))
	assert.Equal(t, "sse", hub.Name())

	a := hub.attach("host-a", "")
	b := hub.attach("host-b", topics.PumpConnected)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, "sse://host-a", a.Address())
	assert.Equal(t, DefaultStreamBuffer, cap(a.messages))

	nodes, err := hub.ConnectedNodes(context.Background())
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	hub.detach(a)
	assert.Equal(t, 1, hub.Len())
	err = hub.SendMessage(context.Background(), a, transport.Message{Topic: topics.PumpModel})
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestStreamHub_TopicFilter(t *testing.T) {
	hub := NewStreamHub(4, zaptest.NewLogger(t))
	all := hub.attach("host-a", "")
	connected := hub.attach("host-b", topics.PumpConnected)

	for _, topic := range []string{topics.PumpModel, topics.PumpConnected} {
		msg := transport.Message{Topic: topic}
		require.NoError(t, hub.SendMessage(context.Background(), all, msg))
		require.NoError(t, hub.SendMessage(context.Background(), connected, msg))
	}

	assert.Len(t, all.messages, 2)
	require.Len(t, connected.messages, 1)
	assert.Equal(t, topics.PumpConnected, (<-connected.messages).Topic)
}

func TestStreamHub_BacklogFull(t *testing.T) {
	hub := NewStreamHub(1, zaptest.NewLogger(t))
	n := hub.attach("slow-host", "")

	require.NoError(t, hub.SendMessage(context.Background(), n, transport.Message{Topic: topics.PumpModel}))
	err := hub.SendMessage(context.Background(), n, transport.Message{Topic: topics.PumpModel})
	assert.ErrorIs(t, err, ErrStreamBacklog)
}
