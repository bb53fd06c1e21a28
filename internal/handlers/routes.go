package handlers

import (
	"net/http"
	"strings"
)

type Router struct {
	Rooms     *RoomHandlers
	WebSocket *WebSocketHandlers
	System    *SystemHandlers
	Origins   []string
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rt.Rooms.CreateRoom(w, r)
	})

	// Room sub-routes
	mux.HandleFunc("/rooms/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		if len(parts) < 3 || parts[2] == "" {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		switch {
		// /rooms/{id}
		case len(parts) == 3:
			rt.Rooms.GetRoom(w, r)
		// /rooms/{id}/members
		case len(parts) == 4 && parts[3] == "members":
			rt.Rooms.GetRoomMembers(w, r)
		default:
			http.Error(w, "endpoint not found", http.StatusNotFound)
		}
	})

	mux.HandleFunc("/presence", rt.Rooms.OnlineUsers)
	mux.HandleFunc("/healthz", rt.System.Health)
	mux.HandleFunc("/stats", rt.System.Stats)

	// WebSocket route
	mux.HandleFunc("/ws", rt.WebSocket.HandleWebSocket)

	return corsMiddleware(rt.Origins, mux)
}

func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
