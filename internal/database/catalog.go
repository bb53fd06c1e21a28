package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"roomchat/internal/models"
	"roomchat/pkg/logger"
)

// DefaultErrorInfo is the built-in text used when no catalog database is
// configured and to seed one that is. {0}, {1}... are parameter slots.
var DefaultErrorInfo = []models.ErrorInfo{
	{Code: "PROTOCOL_ERROR", Message: "Malformed frame: {0}"},
	{Code: "UNSUPPORTED_MESSAGE", Message: "Message type is not supported by the server"},
	{Code: "VALIDATION_ERROR", Message: "Request is missing a required field"},
	{Code: "INVALID_ROOM_ID", Message: "Room id is missing or invalid"},
	{Code: "INVALID_TOKEN", Message: "Token is missing or invalid"},
	{Code: "EMPTY_MESSAGE", Message: "Empty messages cannot be sent"},
	{Code: "NOT_JOINED", Message: "Join a room before sending messages"},
	{Code: "ROOM_NOT_FOUND", Message: "Room {0} was not found"},
	{Code: "RATE_LIMIT_EXCEEDED", Message: "Too many messages ({0}/{1} per second), slow down"},
	{Code: "DUPLICATE_MESSAGE", Message: "Message {0} was already sent"},
	{Code: "MESSAGE_TOO_LARGE", Message: "Message is {0} bytes, the limit is {1}"},
	{Code: "ROOM_SCHEDULED_FOR_DELETION", Message: "Room {0} is scheduled for deletion"},
	{Code: "SESSION_REPLACED", Message: "This session was replaced by a newer connection"},
	{Code: "INVALID_NICKNAME", Message: "Nickname is not allowed: {0}"},
	{Code: "SYSTEM_OVERLOAD", Message: "The server is busy, try again shortly"},
	{Code: "SERVICE_UNAVAILABLE", Message: "A backing service is unavailable, try again shortly"},
	{Code: "INTERNAL_ERROR", Message: "Internal server error"},
	{Code: "SERIALIZE_ERROR", Message: "Message serialization failed"},
}

type staticCatalog map[string]models.ErrorInfo

// NewStaticCatalog serves the given entries from memory.
func NewStaticCatalog(entries []models.ErrorInfo) ErrorCatalog {
	c := make(staticCatalog, len(entries))
	for _, e := range entries {
		c[e.Code] = e
	}
	return c
}

func (c staticCatalog) Lookup(_ context.Context, code string) (*models.ErrorInfo, error) {
	info, ok := c[code]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

// CachedCatalog consults primary first, falls back on miss or error, and
// caches hits from primary. Errors from primary are logged, never returned.
type CachedCatalog struct {
	primary  ErrorCatalog
	fallback ErrorCatalog
	mu       sync.RWMutex
	cache    map[string]*models.ErrorInfo
}

func NewCachedCatalog(primary, fallback ErrorCatalog) *CachedCatalog {
	return &CachedCatalog{
		primary:  primary,
		fallback: fallback,
		cache:    make(map[string]*models.ErrorInfo),
	}
}

func (c *CachedCatalog) Lookup(ctx context.Context, code string) (*models.ErrorInfo, error) {
	c.mu.RLock()
	info, ok := c.cache[code]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	if c.primary != nil {
		info, err := c.primary.Lookup(ctx, code)
		if err != nil {
			logger.Warn("Error catalog lookup failed for %s: %v", code, err)
		} else if info != nil {
			c.mu.Lock()
			c.cache[code] = info
			c.mu.Unlock()
			return info, nil
		}
	}

	if c.fallback == nil {
		return nil, nil
	}
	return c.fallback.Lookup(ctx, code)
}

// Invalidate drops cached entries so edited rows are picked up.
func (c *CachedCatalog) Invalidate() {
	c.mu.Lock()
	c.cache = make(map[string]*models.ErrorInfo)
	c.mu.Unlock()
}

// Render substitutes {i} slots with params; unused slots are left as-is.
func Render(template string, params []any) string {
	if len(params) == 0 || !strings.Contains(template, "{") {
		return template
	}
	pairs := make([]string, 0, len(params)*2)
	for i, p := range params {
		pairs = append(pairs, "{"+strconv.Itoa(i)+"}", fmt.Sprint(p))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
