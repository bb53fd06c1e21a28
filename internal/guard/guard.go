// Package guard enforces per-user send rate and client message id dedup.
// Both tables are process-local and volatile.
package guard

import (
	"sync"
	"time"

	"roomchat/internal/apperror"
)

const (
	DefaultRateLimit   = 5
	DefaultRateWindow  = time.Second
	DefaultDedupWindow = 60 * time.Second
)

type rateWindow struct {
	count int
	start time.Time
}

type Guard struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	dedupWindow time.Duration
	rates       map[string]*rateWindow
	seen        map[string]time.Time
	now         func() time.Time
}

func New(limit int, window, dedupWindow time.Duration) *Guard {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	return &Guard{
		limit:       limit,
		window:      window,
		dedupWindow: dedupWindow,
		rates:       make(map[string]*rateWindow),
		seen:        make(map[string]time.Time),
		now:         time.Now,
	}
}

// WithClock replaces the time source.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
	return g
}

// Admit decides one send as a unit: the rate limit is checked first, then the
// dedup window, and only an accepted send is recorded in either table.
func (g *Guard) Admit(userID, clientMsgID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if err := g.checkRate(userID, now); err != nil {
		return err
	}
	if g.isDuplicate(clientMsgID, now) {
		return apperror.DuplicateMessage(clientMsgID)
	}
	g.recordRate(userID, now)
	if clientMsgID != "" {
		g.seen[clientMsgID] = now
	}
	return nil
}

// CheckAndRecord counts one send for userID. The window restarts lazily once
// its start is a full window old. A rejected send is not counted.
func (g *Guard) CheckAndRecord(userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if err := g.checkRate(userID, now); err != nil {
		return err
	}
	g.recordRate(userID, now)
	return nil
}

// CheckDuplicate records clientMsgID on first sight. An id seen again inside
// the dedup window is rejected; an older entry is replaced.
func (g *Guard) CheckDuplicate(clientMsgID string) error {
	if clientMsgID == "" {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.isDuplicate(clientMsgID, now) {
		return apperror.DuplicateMessage(clientMsgID)
	}
	g.seen[clientMsgID] = now
	return nil
}

// Callers hold g.mu.
func (g *Guard) checkRate(userID string, now time.Time) error {
	w, ok := g.rates[userID]
	if !ok || now.Sub(w.start) >= g.window {
		return nil
	}
	if w.count >= g.limit {
		retry := w.start.Add(g.window).Sub(now)
		return apperror.RateLimited(w.count, g.limit, retry)
	}
	return nil
}

func (g *Guard) recordRate(userID string, now time.Time) {
	w, ok := g.rates[userID]
	if !ok || now.Sub(w.start) >= g.window {
		g.rates[userID] = &rateWindow{count: 1, start: now}
		return
	}
	w.count++
}

func (g *Guard) isDuplicate(clientMsgID string, now time.Time) bool {
	if clientMsgID == "" {
		return false
	}
	at, ok := g.seen[clientMsgID]
	return ok && now.Sub(at) < g.dedupWindow
}

// Cleanup purges stale rate windows and dedup entries and reports how many of
// each were removed.
func (g *Guard) Cleanup() (rates, dedup int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for id, w := range g.rates {
		if now.Sub(w.start) >= g.window {
			delete(g.rates, id)
			rates++
		}
	}
	for id, at := range g.seen {
		if now.Sub(at) >= g.dedupWindow {
			delete(g.seen, id)
			dedup++
		}
	}
	return rates, dedup
}

// Size reports tracked users and dedup entries.
func (g *Guard) Size() (users, ids int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rates), len(g.seen)
}
