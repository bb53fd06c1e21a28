package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"roomchat/internal/apperror"
	"roomchat/internal/models"

	"github.com/redis/go-redis/v9"
)

// Redis deletes a SET when its last member is removed, so the pending
// deletion lease lives in its own key next to the member set:
//
//	room:{id}:members  SET of user ids
//	room:{id}:lease    deadline in unix ms, PX = empty-room TTL
//
// KEYS[1]: members key, KEYS[2]: lease key
// ARGV[1]: user id
// returns {leaseCleared, members}
var joinScript = redis.NewScript(`
redis.call('SADD', KEYS[1], ARGV[1])
local cleared = redis.call('DEL', KEYS[2])
return {cleared, redis.call('SMEMBERS', KEYS[1])}
`)

// KEYS[1]: members key, KEYS[2]: lease key
// ARGV[1]: user id, ARGV[2]: deadline (unix ms), ARGV[3]: ttl (ms)
// returns {removed, remaining, leaseArmed}
//
// Only the call whose SREM empties the set arms the lease.
var leaveScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
local remaining = redis.call('SCARD', KEYS[1])
if removed == 1 and remaining == 0 then
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
  return {removed, remaining, 1}
end
return {removed, remaining, 0}
`)

// KEYS[1]: members key, KEYS[2]: lease key
// ARGV[1]: now (unix ms)
// returns 1 when the room was deleted
var deleteIfExpiredScript = redis.NewScript(`
if redis.call('SCARD', KEYS[1]) > 0 then
  return 0
end
local deadline = redis.call('GET', KEYS[2])
if deadline and tonumber(deadline) > tonumber(ARGV[1]) then
  return 0
end
redis.call('DEL', KEYS[1], KEYS[2])
return 1
`)

type RedisRoomStore struct {
	client   *redis.Client
	emptyTTL time.Duration
	now      func() time.Time
}

func NewRedisRoomStore(client *redis.Client, emptyTTL time.Duration) *RedisRoomStore {
	return &RedisRoomStore{
		client:   client,
		emptyTTL: emptyTTL,
		now:      time.Now,
	}
}

func (s *RedisRoomStore) Join(ctx context.Context, roomID, userID string) (*models.JoinResult, error) {
	res, err := joinScript.Run(ctx, s.client,
		[]string{roomMembersKey(roomID), roomLeaseKey(roomID)},
		userID,
	).Slice()
	if err != nil {
		return nil, apperror.Infrastructure("room.join", err)
	}
	if len(res) != 2 {
		return nil, apperror.Internal(fmt.Errorf("unexpected join script reply: %v", res))
	}

	cleared, _ := res[0].(int64)
	raw, _ := res[1].([]interface{})
	members := make([]string, 0, len(raw))
	for _, m := range raw {
		if id, ok := m.(string); ok {
			members = append(members, id)
		}
	}
	sort.Strings(members)

	return &models.JoinResult{Members: members, WasEmpty: cleared == 1}, nil
}

func (s *RedisRoomStore) Leave(ctx context.Context, roomID, userID string) (*models.LeaveResult, error) {
	deadline := s.now().Add(s.emptyTTL).UnixMilli()
	res, err := leaveScript.Run(ctx, s.client,
		[]string{roomMembersKey(roomID), roomLeaseKey(roomID)},
		userID, deadline, s.emptyTTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, apperror.Infrastructure("room.leave", err)
	}
	if len(res) != 3 {
		return nil, apperror.Internal(fmt.Errorf("unexpected leave script reply: %v", res))
	}

	return &models.LeaveResult{
		Removed:    res[0] == 1,
		Remaining:  int(res[1]),
		LeaseArmed: res[2] == 1,
	}, nil
}

func (s *RedisRoomStore) Members(ctx context.Context, roomID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, roomMembersKey(roomID)).Result()
	if err != nil {
		return nil, apperror.Infrastructure("room.members", err)
	}
	sort.Strings(members)
	return members, nil
}

func (s *RedisRoomStore) Exists(ctx context.Context, roomID string) (bool, error) {
	n, err := s.client.Exists(ctx, roomMembersKey(roomID), roomLeaseKey(roomID)).Result()
	if err != nil {
		return false, apperror.Infrastructure("room.exists", err)
	}
	return n > 0, nil
}

func (s *RedisRoomStore) ScheduledForDeletion(ctx context.Context, roomID string) (bool, error) {
	n, err := s.client.Exists(ctx, roomLeaseKey(roomID)).Result()
	if err != nil {
		return false, apperror.Infrastructure("room.lease", err)
	}
	return n == 1, nil
}

func (s *RedisRoomStore) Describe(ctx context.Context, roomID string) (*models.RoomMembership, error) {
	pipe := s.client.Pipeline()
	membersCmd := pipe.SMembers(ctx, roomMembersKey(roomID))
	leaseCmd := pipe.Get(ctx, roomLeaseKey(roomID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperror.Infrastructure("room.describe", err)
	}

	members := membersCmd.Val()
	sort.Strings(members)
	view := &models.RoomMembership{RoomID: roomID, Members: members}

	if raw, err := leaseCmd.Result(); err == nil {
		if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			at := time.UnixMilli(ms)
			view.EmptiesAt = &at
		}
		view.ScheduledForDeletion = true
	}

	if len(view.Members) == 0 && !view.ScheduledForDeletion {
		return nil, apperror.RoomNotFound(roomID)
	}
	return view, nil
}

func (s *RedisRoomStore) Delete(ctx context.Context, roomID string) error {
	if err := s.client.Del(ctx, roomMembersKey(roomID), roomLeaseKey(roomID)).Err(); err != nil {
		return apperror.Infrastructure("room.delete", err)
	}
	return nil
}

func (s *RedisRoomStore) DeleteIfExpired(ctx context.Context, roomID string) (bool, error) {
	n, err := deleteIfExpiredScript.Run(ctx, s.client,
		[]string{roomMembersKey(roomID), roomLeaseKey(roomID)},
		s.now().UnixMilli(),
	).Int()
	if err != nil {
		return false, apperror.Infrastructure("room.delete_if_expired", err)
	}
	return n == 1, nil
}

// FindCandidatesForExpiry scans lease keys and keeps rooms that are still
// empty. Redis expires leases itself; this is the fallback path.
func (s *RedisRoomStore) FindCandidatesForExpiry(ctx context.Context) ([]string, error) {
	var candidates []string
	iter := s.client.Scan(ctx, 0, roomKeyPrefix+"*"+leaseKeySuffix, 100).Iterator()
	for iter.Next(ctx) {
		roomID, ok := roomIDFromLeaseKey(iter.Val())
		if !ok {
			continue
		}
		n, err := s.client.SCard(ctx, roomMembersKey(roomID)).Result()
		if err != nil {
			return nil, apperror.Infrastructure("room.scan", err)
		}
		if n == 0 {
			candidates = append(candidates, roomID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, apperror.Infrastructure("room.scan", err)
	}
	sort.Strings(candidates)
	return candidates, nil
}
