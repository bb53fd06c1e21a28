package services

import (
	"context"
	"testing"
	"time"

	"roomchat/internal/apperror"
	"roomchat/internal/database"
	"roomchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRoom_CreatorIsFirstMember(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore(time.Minute, time.Minute)
	svc := NewRoomService(store, store)

	resp, err := svc.CreateRoom(ctx, &models.CreateRoomRequest{CreatorName: "  alice "})
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{12}$`, resp.RoomID)

	members, err := store.Members(ctx, resp.RoomID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	info, err := svc.GetRoom(ctx, resp.RoomID)
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, 1, info.MemberCount)
	assert.False(t, info.ScheduledForDeletion)
}

func TestCreateRoom_InvalidNickname(t *testing.T) {
	store := database.NewMemoryStore(time.Minute, time.Minute)
	svc := NewRoomService(store, store)

	_, err := svc.CreateRoom(context.Background(), &models.CreateRoomRequest{CreatorName: "admin"})
	assert.Equal(t, apperror.CodeInvalidNickname, apperror.CodeOf(err))
}

func TestCreateRoom_RetriesTakenIDs(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore(time.Minute, time.Minute)
	_, err := store.Join(ctx, "aaaaaaaaaaaa", "someone")
	require.NoError(t, err)

	svc := NewRoomService(store, store)
	ids := []string{"aaaaaaaaaaaa", "aaaaaaaaaaaa", "bbbbbbbbbbbb"}
	calls := 0
	svc.newID = func() (string, error) {
		id := ids[calls]
		calls++
		return id, nil
	}

	resp, err := svc.CreateRoom(ctx, &models.CreateRoomRequest{CreatorName: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "bbbbbbbbbbbb", resp.RoomID)
	assert.Equal(t, 3, calls)
}

func TestCreateRoom_GivesUpAfterTenAttempts(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore(time.Minute, time.Minute)
	_, err := store.Join(ctx, "aaaaaaaaaaaa", "someone")
	require.NoError(t, err)

	svc := NewRoomService(store, store)
	calls := 0
	svc.newID = func() (string, error) {
		calls++
		return "aaaaaaaaaaaa", nil
	}

	_, err = svc.CreateRoom(ctx, &models.CreateRoomRequest{CreatorName: "alice"})
	assert.Equal(t, apperror.CodeSystemOverload, apperror.CodeOf(err))
	assert.Equal(t, maxRoomIDAttempts, calls)
}

func TestGetRoom(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore(time.Minute, time.Minute)
	svc := NewRoomService(store, store)

	info, err := svc.GetRoom(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, info.Exists)

	_, err = svc.GetRoom(ctx, "")
	assert.Equal(t, apperror.CodeInvalidRoomID, apperror.CodeOf(err))

	_, err = store.Join(ctx, "r1", "alice")
	require.NoError(t, err)
	_, err = store.Leave(ctx, "r1", "alice")
	require.NoError(t, err)

	info, err = svc.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Zero(t, info.MemberCount)
	assert.True(t, info.ScheduledForDeletion)

	_, err = svc.GetRoomMembers(ctx, "missing")
	assert.Equal(t, apperror.CodeRoomNotFound, apperror.CodeOf(err))
}

func TestValidRoomID(t *testing.T) {
	assert.True(t, ValidRoomID("a1b2c3d4e5f6"))
	assert.True(t, ValidRoomID("lobby-1"))
	assert.False(t, ValidRoomID(""))
	assert.False(t, ValidRoomID("has space"))
	assert.False(t, ValidRoomID("tab\there"))
	assert.False(t, ValidRoomID(string(make([]byte, 65))))
}
