package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"unicode"

	"roomchat/internal/apperror"
	"roomchat/internal/auth"
	"roomchat/internal/database"
	"roomchat/internal/models"
	"roomchat/pkg/logger"
)

const (
	roomIDBytes       = 6 // 12 hex characters
	maxRoomIDAttempts = 10
	maxRoomIDLength   = 64
)

// ValidRoomID accepts non-empty ids without whitespace or control characters.
func ValidRoomID(roomID string) bool {
	if roomID == "" || len(roomID) > maxRoomIDLength {
		return false
	}
	return strings.IndexFunc(roomID, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) < 0
}

func generateRoomID() (string, error) {
	b := make([]byte, roomIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RoomService backs the REST facade.
type RoomService struct {
	rooms    database.RoomRepository
	presence database.PresenceRepository
	newID    func() (string, error)
}

func NewRoomService(rooms database.RoomRepository, presence database.PresenceRepository) *RoomService {
	return &RoomService{
		rooms:    rooms,
		presence: presence,
		newID:    generateRoomID,
	}
}

// CreateRoom picks an unused id and joins the creator as the first member, so
// a room never exists empty without a lease.
func (s *RoomService) CreateRoom(ctx context.Context, req *models.CreateRoomRequest) (*models.CreateRoomResponse, error) {
	creator, err := auth.ValidateNickname(req.CreatorName)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxRoomIDAttempts; attempt++ {
		roomID, err := s.newID()
		if err != nil {
			return nil, apperror.Internal(err)
		}

		exists, err := s.rooms.Exists(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if exists {
			logger.Debug("Room id %s already taken (attempt %d)", roomID, attempt)
			continue
		}

		if _, err := s.rooms.Join(ctx, roomID, creator); err != nil {
			return nil, err
		}
		logger.Info("Room %s created by %s", roomID, creator)
		return &models.CreateRoomResponse{RoomID: roomID}, nil
	}

	logger.Error("Could not allocate a room id after %d attempts", maxRoomIDAttempts)
	return nil, apperror.Domain(apperror.CodeSystemOverload)
}

func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*models.RoomInfoResponse, error) {
	if !ValidRoomID(roomID) {
		return nil, apperror.Validation(apperror.CodeInvalidRoomID)
	}

	view, err := s.rooms.Describe(ctx, roomID)
	if apperror.CodeOf(err) == apperror.CodeRoomNotFound {
		return &models.RoomInfoResponse{RoomID: roomID}, nil
	}
	if err != nil {
		return nil, err
	}

	return &models.RoomInfoResponse{
		RoomID:               roomID,
		Exists:               true,
		MemberCount:          view.MemberCount(),
		ScheduledForDeletion: view.ScheduledForDeletion,
	}, nil
}

func (s *RoomService) GetRoomMembers(ctx context.Context, roomID string) (*models.RoomMembership, error) {
	if !ValidRoomID(roomID) {
		return nil, apperror.Validation(apperror.CodeInvalidRoomID)
	}
	return s.rooms.Describe(ctx, roomID)
}

func (s *RoomService) OnlineUsers(ctx context.Context) ([]string, error) {
	return s.presence.OnlineUsers(ctx)
}
