package websocket

import (
	"sort"
	"sync"
)

// Binding ties a live connection to the user and room it joined.
type Binding struct {
	Conn   Connection
	UserID string
	RoomID string
}

// Registry is the process-local connection <-> user <-> room index. All three
// maps change under one lock so readers never observe a half-applied binding.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*Binding
	byUser map[string]string
	byRoom map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*Binding),
		byUser: make(map[string]string),
		byRoom: make(map[string]map[string]struct{}),
	}
}

// removeLocked drops a binding from every index. Callers hold r.mu.
func (r *Registry) removeLocked(connID string) (*Binding, bool) {
	b, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	delete(r.byConn, connID)
	if r.byUser[b.UserID] == connID {
		delete(r.byUser, b.UserID)
	}
	if members, ok := r.byRoom[b.RoomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.byRoom, b.RoomID)
		}
	}
	return b, true
}

// Register binds conn to userID in roomID. A different connection already
// bound to userID is evicted and returned. Re-registering the same connection
// moves it to the new room.
func (r *Registry) Register(conn Connection, userID, roomID string) (evicted *Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID := conn.ID()
	if prevConn, ok := r.byUser[userID]; ok && prevConn != connID {
		evicted, _ = r.removeLocked(prevConn)
	}
	r.removeLocked(connID)

	r.byConn[connID] = &Binding{Conn: conn, UserID: userID, RoomID: roomID}
	r.byUser[userID] = connID
	members, ok := r.byRoom[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.byRoom[roomID] = members
	}
	members[connID] = struct{}{}

	return evicted
}

func (r *Registry) Unregister(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.removeLocked(connID)
	if !ok {
		return Binding{}, false
	}
	return *b, true
}

func (r *Registry) UnregisterByUser(userID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID, ok := r.byUser[userID]
	if !ok {
		return Binding{}, false
	}
	b, _ := r.removeLocked(connID)
	return *b, true
}

func (r *Registry) Lookup(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.byConn[connID]
	if !ok {
		return Binding{}, false
	}
	return *b, true
}

func (r *Registry) LookupUser(userID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byUser[userID]
	if !ok {
		return Binding{}, false
	}
	return *r.byConn[connID], true
}

// ConnectionsInRoom returns the open connections bound to roomID.
func (r *Registry) ConnectionsInRoom(roomID string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0, len(r.byRoom[roomID]))
	for connID := range r.byRoom[roomID] {
		if c := r.byConn[connID].Conn; c.IsOpen() {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) UsersInRoom(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byRoom[roomID]))
	for connID := range r.byRoom[roomID] {
		out = append(out, r.byConn[connID].UserID)
	}
	sort.Strings(out)
	return out
}

// RoomSize counts local bindings for roomID, open or not.
func (r *Registry) RoomSize(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRoom[roomID])
}

func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byRoom))
	for id := range r.byRoom {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SweepDeadConnections unbinds every closed connection and returns what was
// removed so the caller can release room membership.
func (r *Registry) SweepDeadConnections() []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Binding
	for connID, b := range r.byConn {
		if b.Conn.IsOpen() {
			continue
		}
		r.removeLocked(connID)
		removed = append(removed, *b)
	}
	return removed
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
