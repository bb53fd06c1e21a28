package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"roomchat/internal/apperror"
	"roomchat/internal/database"
	"roomchat/internal/models"
	"roomchat/internal/services"
)

type RoomHandlers struct {
	roomService *services.RoomService
	catalog     database.ErrorCatalog
}

func NewRoomHandlers(roomService *services.RoomService, catalog database.ErrorCatalog) *RoomHandlers {
	return &RoomHandlers{
		roomService: roomService,
		catalog:     catalog,
	}
}

func (h *RoomHandlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, h.catalog, apperror.Validation(apperror.CodeValidation))
		return
	}

	resp, err := h.roomService.CreateRoom(r.Context(), &req)
	if err != nil {
		writeError(r.Context(), w, h.catalog, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *RoomHandlers) GetRoom(w http.ResponseWriter, r *http.Request) {
	info, err := h.roomService.GetRoom(r.Context(), getRoomIDFromPath(r))
	if err != nil {
		writeError(r.Context(), w, h.catalog, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (h *RoomHandlers) GetRoomMembers(w http.ResponseWriter, r *http.Request) {
	view, err := h.roomService.GetRoomMembers(r.Context(), getRoomIDFromPath(r))
	if err != nil {
		writeError(r.Context(), w, h.catalog, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *RoomHandlers) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.roomService.OnlineUsers(r.Context())
	if err != nil {
		writeError(r.Context(), w, h.catalog, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// getRoomIDFromPath reads {id} from /rooms/{id}[/...].
func getRoomIDFromPath(r *http.Request) string {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
