package database

import (
	"context"

	"roomchat/internal/models"
)

// RoomRepository is the authoritative room membership store. A room exists
// while it has members or a pending deletion lease; Join and Leave are each a
// single atomic unit against the backing store.
type RoomRepository interface {
	Join(ctx context.Context, roomID, userID string) (*models.JoinResult, error)
	Leave(ctx context.Context, roomID, userID string) (*models.LeaveResult, error)
	Members(ctx context.Context, roomID string) ([]string, error)
	Exists(ctx context.Context, roomID string) (bool, error)
	ScheduledForDeletion(ctx context.Context, roomID string) (bool, error)
	Describe(ctx context.Context, roomID string) (*models.RoomMembership, error)
	Delete(ctx context.Context, roomID string) error
	// DeleteIfExpired removes the room only if it is still empty and its
	// lease deadline has passed.
	DeleteIfExpired(ctx context.Context, roomID string) (bool, error)
	FindCandidatesForExpiry(ctx context.Context) ([]string, error)
}

type PresenceRepository interface {
	Refresh(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	Clear(ctx context.Context, userID string) error
	OnlineUsers(ctx context.Context) ([]string, error)
}

// ErrorCatalog resolves an error code to human-facing text. A nil result with
// a nil error means the code is unknown to the catalog.
type ErrorCatalog interface {
	Lookup(ctx context.Context, code string) (*models.ErrorInfo, error)
}

type Store interface {
	RoomRepository
	PresenceRepository
	Ping(ctx context.Context) error
	Close() error
}
