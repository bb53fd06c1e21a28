package pubsub

import (
	"context"
	"sync"
	"testing"

	"roomchat/internal/apperror"
	"roomchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (r *recorder) HandleMessage(_ string, msg models.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Text)
	}
	return out
}

func TestMemoryBus_FanOutAcrossClients(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	a, b := bus.Client(), bus.Client()

	recA, recB := &recorder{}, &recorder{}
	require.NoError(t, a.Subscribe(ctx, "r1", recA))
	require.NoError(t, b.Subscribe(ctx, "r1", recB))

	require.NoError(t, a.Publish(ctx, "r1", models.Message{RoomID: "r1", Text: "hi"}))
	require.NoError(t, a.Publish(ctx, "r2", models.Message{RoomID: "r2", Text: "elsewhere"}))

	assert.Equal(t, []string{"hi"}, recA.texts(), "publisher receives its own message")
	assert.Equal(t, []string{"hi"}, recB.texts())
}

func TestMemoryBus_SubscribeReplacesHandler(t *testing.T) {
	ctx := context.Background()
	c := NewBus().Client()

	first, second := &recorder{}, &recorder{}
	require.NoError(t, c.Subscribe(ctx, "r1", first))
	require.NoError(t, c.Subscribe(ctx, "r1", second))
	require.NoError(t, c.Publish(ctx, "r1", models.Message{Text: "x"}))

	assert.Empty(t, first.texts())
	assert.Equal(t, []string{"x"}, second.texts())
	assert.Equal(t, []string{"r1"}, c.Subscriptions())
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	c := NewBus().Client()

	rec := &recorder{}
	require.NoError(t, c.Subscribe(ctx, "r1", rec))
	require.NoError(t, c.Subscribe(ctx, "r2", rec))
	require.NoError(t, c.Unsubscribe(ctx, "r1"))
	require.NoError(t, c.Publish(ctx, "r1", models.Message{Text: "gone"}))
	require.NoError(t, c.Publish(ctx, "r2", models.Message{Text: "kept"}))
	assert.Equal(t, []string{"kept"}, rec.texts())

	require.NoError(t, c.UnsubscribeAll(ctx))
	assert.Empty(t, c.Subscriptions())
}

func TestMemoryBus_ReconnectResubscribesEverything(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	node, peer := bus.Client(), bus.Client()

	rec := &recorder{}
	for _, room := range []string{"r1", "r2", "r3"} {
		require.NoError(t, node.Subscribe(ctx, room, rec))
	}

	node.Disconnect()
	assert.False(t, node.IsConnected(ctx))

	err := node.Publish(ctx, "r1", models.Message{Text: "x"})
	assert.True(t, apperror.IsInfrastructure(err))

	require.NoError(t, peer.Publish(ctx, "r1", models.Message{Text: "lost"}))
	assert.Empty(t, rec.texts())

	require.NoError(t, node.Reconnect(ctx))
	assert.True(t, node.IsConnected(ctx))

	for _, room := range []string{"r1", "r2", "r3"} {
		require.NoError(t, peer.Publish(ctx, room, models.Message{Text: room}))
	}
	assert.Equal(t, []string{"r1", "r2", "r3"}, rec.texts())
}

func TestMemoryBus_Close(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	c, peer := bus.Client(), bus.Client()

	rec := &recorder{}
	require.NoError(t, c.Subscribe(ctx, "r1", rec))
	require.NoError(t, c.Close())

	require.NoError(t, peer.Publish(ctx, "r1", models.Message{Text: "x"}))
	assert.Empty(t, rec.texts())
	assert.ErrorIs(t, c.Subscribe(ctx, "r1", rec), ErrClosed)
	assert.ErrorIs(t, c.Reconnect(ctx), ErrClosed)
}

func TestHandlerFunc(t *testing.T) {
	var got string
	var h Handler = HandlerFunc(func(roomID string, msg models.Message) {
		got = roomID + ":" + msg.Text
	})
	h.HandleMessage("r1", models.Message{Text: "hello"})
	assert.Equal(t, "r1:hello", got)
}
