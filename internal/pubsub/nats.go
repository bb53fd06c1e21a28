package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"roomchat/internal/apperror"
	"roomchat/internal/models"
	"roomchat/pkg/logger"

	"github.com/nats-io/nats.go"
)

const natsSubjectPrefix = "chat.room."

func natsSubject(roomID string) string {
	return natsSubjectPrefix + roomID
}

type NATSBroker struct {
	url  string
	opts []nats.Option

	mu       sync.Mutex
	nc       *nats.Conn
	handlers handlerTable
	subs     map[string]*nats.Subscription
	closed   bool
}

func NewNATSBroker(url, name string) (*NATSBroker, error) {
	b := &NATSBroker{
		url:      url,
		handlers: make(handlerTable),
		subs:     make(map[string]*nats.Subscription),
		opts: []nats.Option{
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("NATS disconnected: %v", err)
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
			}),
		},
	}

	nc, err := nats.Connect(url, b.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	b.nc = nc

	logger.Info("Connected to NATS at %s", url)
	return b, nil
}

// subscribeLocked binds a NATS subscription for roomID. Callers hold b.mu.
func (b *NATSBroker) subscribeLocked(roomID string) error {
	sub, err := b.nc.Subscribe(natsSubject(roomID), func(m *nats.Msg) {
		msg, err := decodeMessage(m.Data)
		if err != nil {
			logger.Warn("Dropping undecodable message on %s: %v", m.Subject, err)
			return
		}
		b.mu.Lock()
		h, ok := b.handlers[roomID]
		b.mu.Unlock()
		if ok {
			h.HandleMessage(roomID, msg)
		}
	})
	if err != nil {
		return err
	}
	b.subs[roomID] = sub
	// Make the interest visible to the server before publishers race it.
	return b.nc.Flush()
}

func (b *NATSBroker) Publish(_ context.Context, roomID string, msg models.Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return apperror.Internal(err)
	}

	b.mu.Lock()
	nc := b.nc
	b.mu.Unlock()

	if err := nc.Publish(natsSubject(roomID), data); err != nil {
		return apperror.Infrastructure("pubsub.publish", err)
	}
	return nil
}

func (b *NATSBroker) Subscribe(_ context.Context, roomID string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	b.handlers[roomID] = h
	if _, ok := b.subs[roomID]; ok {
		return nil
	}
	if err := b.subscribeLocked(roomID); err != nil {
		return apperror.Infrastructure("pubsub.subscribe", err)
	}
	return nil
}

func (b *NATSBroker) Unsubscribe(_ context.Context, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handlers, roomID)
	sub, ok := b.subs[roomID]
	if !ok {
		return nil
	}
	delete(b.subs, roomID)
	if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		return apperror.Infrastructure("pubsub.unsubscribe", err)
	}
	return nil
}

func (b *NATSBroker) UnsubscribeAll(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for roomID, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && firstErr == nil {
			firstErr = apperror.Infrastructure("pubsub.unsubscribe_all", err)
		}
		delete(b.subs, roomID)
	}
	b.handlers = make(handlerTable)
	return firstErr
}

func (b *NATSBroker) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers.rooms()
}

func (b *NATSBroker) IsConnected(_ context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed && b.nc != nil && b.nc.IsConnected()
}

// Reconnect replaces the connection and re-subscribes every room in the
// handler table. The client library's own reconnect keeps subscriptions;
// this path covers a connection that was closed outright.
func (b *NATSBroker) Reconnect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	if b.nc != nil {
		b.nc.Close()
	}
	nc, err := nats.Connect(b.url, b.opts...)
	if err != nil {
		return apperror.Infrastructure("pubsub.reconnect", err)
	}
	b.nc = nc
	b.subs = make(map[string]*nats.Subscription)

	for roomID := range b.handlers.snapshot() {
		if err := b.subscribeLocked(roomID); err != nil {
			return apperror.Infrastructure("pubsub.resubscribe", err)
		}
	}

	logger.Info("NATS reconnected, resubscribed %d rooms", len(b.subs))
	return nil
}

func (b *NATSBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.nc != nil {
		return b.nc.Drain()
	}
	return nil
}
