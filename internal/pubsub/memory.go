package pubsub

import (
	"context"
	"errors"
	"sync"

	"roomchat/internal/apperror"
	"roomchat/internal/models"
)

var errBusDisconnected = errors.New("memory bus: client disconnected")

// Bus is an in-process transport. Each Client stands in for one server
// process attached to the shared bus.
type Bus struct {
	mu      sync.RWMutex
	clients map[*MemoryBroker]struct{}
}

func NewBus() *Bus {
	return &Bus{clients: make(map[*MemoryBroker]struct{})}
}

func (bus *Bus) Client() *MemoryBroker {
	c := &MemoryBroker{
		bus:       bus,
		handlers:  make(handlerTable),
		active:    make(handlerTable),
		connected: true,
	}
	bus.mu.Lock()
	bus.clients[c] = struct{}{}
	bus.mu.Unlock()
	return c
}

func (bus *Bus) deliver(roomID string, msg models.Message) {
	bus.mu.RLock()
	var targets []Handler
	for c := range bus.clients {
		if h, ok := c.activeHandler(roomID); ok {
			targets = append(targets, h)
		}
	}
	bus.mu.RUnlock()

	for _, h := range targets {
		h.HandleMessage(roomID, msg)
	}
}

// MemoryBroker delivers synchronously on the publishing goroutine.
type MemoryBroker struct {
	bus *Bus

	mu        sync.Mutex
	handlers  handlerTable // desired
	active    handlerTable // live on the bus
	connected bool
	closed    bool
}

func (c *MemoryBroker) activeHandler(roomID string) (Handler, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.active[roomID]
	return h, ok
}

func (c *MemoryBroker) Publish(_ context.Context, roomID string, msg models.Message) error {
	c.mu.Lock()
	ok := c.connected && !c.closed
	c.mu.Unlock()
	if !ok {
		return apperror.Infrastructure("pubsub.publish", errBusDisconnected)
	}
	c.bus.deliver(roomID, msg)
	return nil
}

func (c *MemoryBroker) Subscribe(_ context.Context, roomID string, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.handlers[roomID] = h
	if c.connected {
		c.active[roomID] = h
	}
	return nil
}

func (c *MemoryBroker) Unsubscribe(_ context.Context, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, roomID)
	delete(c.active, roomID)
	return nil
}

func (c *MemoryBroker) UnsubscribeAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = make(handlerTable)
	c.active = make(handlerTable)
	return nil
}

func (c *MemoryBroker) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers.rooms()
}

func (c *MemoryBroker) IsConnected(_ context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

// Disconnect simulates a transport failure: live subscriptions are lost but
// the handler table is kept for Reconnect.
func (c *MemoryBroker) Disconnect() {
	c.mu.Lock()
	c.connected = false
	c.active = make(handlerTable)
	c.mu.Unlock()
}

func (c *MemoryBroker) Reconnect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.connected = true
	c.active = c.handlers.snapshot()
	return nil
}

func (c *MemoryBroker) Close() error {
	c.mu.Lock()
	c.closed = true
	c.active = make(handlerTable)
	c.mu.Unlock()

	c.bus.mu.Lock()
	delete(c.bus.clients, c)
	c.bus.mu.Unlock()
	return nil
}
