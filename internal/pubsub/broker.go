// Package pubsub fans room messages out across server processes. Each
// process keeps exactly one handler per room; a reconnect re-registers every
// handler from a snapshot of that table.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"roomchat/internal/models"
)

var ErrClosed = errors.New("pubsub: broker closed")

// Handler receives every message delivered on a room channel, including
// messages this process published itself.
type Handler interface {
	HandleMessage(roomID string, msg models.Message)
}

type HandlerFunc func(roomID string, msg models.Message)

func (f HandlerFunc) HandleMessage(roomID string, msg models.Message) {
	f(roomID, msg)
}

type Broker interface {
	Publish(ctx context.Context, roomID string, msg models.Message) error
	// Subscribe replaces any existing handler for roomID.
	Subscribe(ctx context.Context, roomID string, h Handler) error
	Unsubscribe(ctx context.Context, roomID string) error
	UnsubscribeAll(ctx context.Context) error
	Subscriptions() []string
	IsConnected(ctx context.Context) bool
	Reconnect(ctx context.Context) error
	Close() error
}

func encodeMessage(msg models.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

func decodeMessage(data []byte) (models.Message, error) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return msg, nil
}

// handlerTable is the desired subscription state. Callers hold their own lock.
type handlerTable map[string]Handler

func (t handlerTable) snapshot() map[string]Handler {
	out := make(map[string]Handler, len(t))
	for room, h := range t {
		out[room] = h
	}
	return out
}

func (t handlerTable) rooms() []string {
	out := make([]string, 0, len(t))
	for room := range t {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}
