package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"roomchat/internal/apperror"
	"roomchat/internal/models"
)

type memoryRoom struct {
	members   map[string]struct{}
	emptiesAt time.Time // zero when no lease is pending
}

// MemoryStore is the single-process backend. It has no server-side expiry, so
// leases are enforced lazily on every read and by the janitor sweep.
type MemoryStore struct {
	mu          sync.Mutex
	rooms       map[string]*memoryRoom
	presence    map[string]time.Time
	roomTTL     time.Duration
	presenceTTL time.Duration
	now         func() time.Time
}

func NewMemoryStore(roomTTL, presenceTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		rooms:       make(map[string]*memoryRoom),
		presence:    make(map[string]time.Time),
		roomTTL:     roomTTL,
		presenceTTL: presenceTTL,
		now:         time.Now,
	}
}

// WithClock replaces the time source; tests use it to step past leases.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// room returns a live room, dropping it first if its lease has elapsed.
// Callers hold s.mu.
func (s *MemoryStore) room(roomID string, now time.Time) *memoryRoom {
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	if len(r.members) == 0 && (r.emptiesAt.IsZero() || !now.Before(r.emptiesAt)) {
		delete(s.rooms, roomID)
		return nil
	}
	return r
}

func sortedMembers(r *memoryRoom) []string {
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *MemoryStore) Join(_ context.Context, roomID, userID string) (*models.JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.room(roomID, s.now())
	if r == nil {
		r = &memoryRoom{members: make(map[string]struct{})}
		s.rooms[roomID] = r
	}
	wasEmpty := !r.emptiesAt.IsZero()
	r.emptiesAt = time.Time{}
	r.members[userID] = struct{}{}

	return &models.JoinResult{Members: sortedMembers(r), WasEmpty: wasEmpty}, nil
}

func (s *MemoryStore) Leave(_ context.Context, roomID, userID string) (*models.LeaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r := s.room(roomID, now)
	if r == nil {
		return &models.LeaveResult{}, nil
	}
	if _, ok := r.members[userID]; !ok {
		return &models.LeaveResult{Remaining: len(r.members)}, nil
	}

	delete(r.members, userID)
	res := &models.LeaveResult{Removed: true, Remaining: len(r.members)}
	if len(r.members) == 0 {
		r.emptiesAt = now.Add(s.roomTTL)
		res.LeaseArmed = true
	}
	return res, nil
}

func (s *MemoryStore) Members(_ context.Context, roomID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.room(roomID, s.now())
	if r == nil {
		return []string{}, nil
	}
	return sortedMembers(r), nil
}

func (s *MemoryStore) Exists(_ context.Context, roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room(roomID, s.now()) != nil, nil
}

func (s *MemoryStore) ScheduledForDeletion(_ context.Context, roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.room(roomID, s.now())
	return r != nil && !r.emptiesAt.IsZero(), nil
}

func (s *MemoryStore) Describe(_ context.Context, roomID string) (*models.RoomMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.room(roomID, s.now())
	if r == nil {
		return nil, apperror.RoomNotFound(roomID)
	}
	view := &models.RoomMembership{RoomID: roomID, Members: sortedMembers(r)}
	if !r.emptiesAt.IsZero() {
		at := r.emptiesAt
		view.EmptiesAt = &at
		view.ScheduledForDeletion = true
	}
	return view, nil
}

func (s *MemoryStore) Delete(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

func (s *MemoryStore) DeleteIfExpired(_ context.Context, roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return false, nil
	}
	if len(r.members) > 0 || (!r.emptiesAt.IsZero() && s.now().Before(r.emptiesAt)) {
		return false, nil
	}
	delete(s.rooms, roomID)
	return true, nil
}

// FindCandidatesForExpiry does not apply lazy expiry so the sweep sees rooms
// whose deadline has already passed.
func (s *MemoryStore) FindCandidatesForExpiry(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for id, r := range s.rooms {
		if len(r.members) == 0 && !r.emptiesAt.IsZero() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Refresh(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[userID] = s.now().Add(s.presenceTTL)
	return nil
}

func (s *MemoryStore) IsOnline(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.presence[userID]
	if !ok {
		return false, nil
	}
	if !s.now().Before(exp) {
		delete(s.presence, userID)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.presence, userID)
	return nil
}

func (s *MemoryStore) OnlineUsers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	users := make([]string, 0, len(s.presence))
	for id, exp := range s.presence {
		if !now.Before(exp) {
			delete(s.presence, id)
			continue
		}
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
