package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"roomchat/internal/apperror"

	"github.com/redis/go-redis/v9"
)

// RedisPresenceStore keeps user:{id}:presence = "online" with a fixed TTL.
// Presence is advisory; room membership never depends on it.
type RedisPresenceStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPresenceStore(client *redis.Client, ttl time.Duration) *RedisPresenceStore {
	return &RedisPresenceStore{client: client, ttl: ttl}
}

func (s *RedisPresenceStore) Refresh(ctx context.Context, userID string) error {
	if err := s.client.Set(ctx, presenceKey(userID), presenceValue, s.ttl).Err(); err != nil {
		return apperror.Infrastructure("presence.refresh", err)
	}
	return nil
}

func (s *RedisPresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, apperror.Infrastructure("presence.is_online", err)
	}
	return n == 1, nil
}

func (s *RedisPresenceStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return apperror.Infrastructure("presence.clear", err)
	}
	return nil
}

func (s *RedisPresenceStore) OnlineUsers(ctx context.Context) ([]string, error) {
	var users []string
	iter := s.client.Scan(ctx, 0, userKeyPrefix+"*"+presenceKeySuffix, 100).Iterator()
	for iter.Next(ctx) {
		if id, ok := userIDFromPresenceKey(iter.Val()); ok {
			users = append(users, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, apperror.Infrastructure("presence.scan", err)
	}
	sort.Strings(users)
	return users, nil
}

// RedisStore bundles both repositories over one client.
type RedisStore struct {
	*RedisRoomStore
	*RedisPresenceStore
	client *redis.Client
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func NewRedisStore(client *redis.Client, roomTTL, presenceTTL time.Duration) *RedisStore {
	return &RedisStore{
		RedisRoomStore:     NewRedisRoomStore(client, roomTTL),
		RedisPresenceStore: NewRedisPresenceStore(client, presenceTTL),
		client:             client,
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperror.Infrastructure("store.ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
