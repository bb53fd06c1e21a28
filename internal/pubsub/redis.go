package pubsub

import (
	"context"
	"strings"
	"sync"

	"roomchat/internal/apperror"
	"roomchat/internal/models"
	"roomchat/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "chan:"

func redisChannel(roomID string) string {
	return redisChannelPrefix + roomID
}

// RedisBroker multiplexes every room channel over one PubSub connection.
type RedisBroker struct {
	client *redis.Client

	mu         sync.Mutex
	handlers   handlerTable        // desired
	subscribed map[string]struct{} // confirmed on ps
	ps         *redis.PubSub
	closed   bool
	wg       sync.WaitGroup
}

func NewRedisBroker(ctx context.Context, client *redis.Client) *RedisBroker {
	b := &RedisBroker{
		client:     client,
		handlers:   make(handlerTable),
		subscribed: make(map[string]struct{}),
	}
	b.ps = client.Subscribe(ctx)
	b.startDispatch(b.ps)
	return b
}

// startDispatch reads one PubSub until it is closed. Callers hold b.mu or own b.
func (b *RedisBroker) startDispatch(ps *redis.PubSub) {
	ch := ps.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for m := range ch {
			b.dispatch(m)
		}
	}()
}

func (b *RedisBroker) dispatch(m *redis.Message) {
	roomID := strings.TrimPrefix(m.Channel, redisChannelPrefix)

	msg, err := decodeMessage([]byte(m.Payload))
	if err != nil {
		logger.Warn("Dropping undecodable message on %s: %v", m.Channel, err)
		return
	}

	b.mu.Lock()
	h, ok := b.handlers[roomID]
	b.mu.Unlock()
	if !ok {
		return
	}
	h.HandleMessage(roomID, msg)
}

func (b *RedisBroker) Publish(ctx context.Context, roomID string, msg models.Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return apperror.Internal(err)
	}
	if err := b.client.Publish(ctx, redisChannel(roomID), data).Err(); err != nil {
		return apperror.Infrastructure("pubsub.publish", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, roomID string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	b.handlers[roomID] = h
	if _, ok := b.subscribed[roomID]; ok {
		return nil
	}
	if err := b.ps.Subscribe(ctx, redisChannel(roomID)); err != nil {
		return apperror.Infrastructure("pubsub.subscribe", err)
	}
	b.subscribed[roomID] = struct{}{}
	logger.Debug("Subscribed to %s", redisChannel(roomID))
	return nil
}

func (b *RedisBroker) Unsubscribe(ctx context.Context, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.handlers[roomID]; !ok {
		return nil
	}
	delete(b.handlers, roomID)
	delete(b.subscribed, roomID)
	if b.closed {
		return nil
	}
	if err := b.ps.Unsubscribe(ctx, redisChannel(roomID)); err != nil {
		return apperror.Infrastructure("pubsub.unsubscribe", err)
	}
	logger.Debug("Unsubscribed from %s", redisChannel(roomID))
	return nil
}

func (b *RedisBroker) UnsubscribeAll(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(handlerTable)
	b.subscribed = make(map[string]struct{})
	if b.closed {
		return nil
	}
	if err := b.ps.Unsubscribe(ctx); err != nil {
		return apperror.Infrastructure("pubsub.unsubscribe_all", err)
	}
	return nil
}

func (b *RedisBroker) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers.rooms()
}

func (b *RedisBroker) IsConnected(ctx context.Context) bool {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return false
	}
	return b.client.Ping(ctx).Err() == nil
}

// Reconnect drops the PubSub connection and subscribes a fresh one to every
// room in the handler table.
func (b *RedisBroker) Reconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	if err := b.ps.Close(); err != nil {
		logger.Warn("Closing stale pubsub connection: %v", err)
	}

	snapshot := b.handlers.snapshot()
	channels := make([]string, 0, len(snapshot))
	for roomID := range snapshot {
		channels = append(channels, redisChannel(roomID))
	}

	b.ps = b.client.Subscribe(ctx)
	b.startDispatch(b.ps)
	b.subscribed = make(map[string]struct{})
	if len(channels) > 0 {
		if err := b.ps.Subscribe(ctx, channels...); err != nil {
			return apperror.Infrastructure("pubsub.resubscribe", err)
		}
	}
	for roomID := range snapshot {
		b.subscribed[roomID] = struct{}{}
	}

	logger.Info("Redis pubsub reconnected, resubscribed %d rooms", len(channels))
	return nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	err := b.ps.Close()
	b.mu.Unlock()

	b.wg.Wait()
	return err
}
