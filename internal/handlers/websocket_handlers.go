package handlers

import (
	"context"
	"net/http"
	"time"

	"roomchat/internal/services"
	ws "roomchat/internal/websocket"
	"roomchat/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	frameTimeout   = 10 * time.Second
	cleanupTimeout = 5 * time.Second
)

type WebSocketHandlers struct {
	orch     *services.Orchestrator
	opts     ws.ClientOptions
	upgrader websocket.Upgrader
}

func NewWebSocketHandlers(orch *services.Orchestrator, allowedOrigins []string, opts ws.ClientOptions) *WebSocketHandlers {
	return &WebSocketHandlers{
		orch: orch,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker allows requests without an Origin header and any origin when
// the list contains "*".
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade connection to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Upgrade error: %v", err)
		return
	}

	client, err := ws.NewClient(conn, h.opts)
	if err != nil {
		logger.Error("Error creating client: %v", err)
		conn.Close()
		return
	}

	session := h.orch.Open(client)

	// Start client pumps
	go client.WritePump()
	go func() {
		err := client.ReadPump(func(frame []byte) {
			ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
			defer cancel()
			h.orch.HandleFrame(ctx, session, frame)
		})

		reason := "closed"
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			reason = "transport error"
		}
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		h.orch.Disconnect(ctx, session, reason)
	}()
}
