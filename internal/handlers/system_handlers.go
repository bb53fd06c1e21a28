package handlers

import (
	"context"
	"net/http"
	"time"

	"roomchat/internal/pubsub"
	"roomchat/internal/services"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type SystemHandlers struct {
	orch   *services.Orchestrator
	broker pubsub.Broker
	store  pinger
}

func NewSystemHandlers(orch *services.Orchestrator, broker pubsub.Broker, store pinger) *SystemHandlers {
	return &SystemHandlers{orch: orch, broker: broker, store: store}
}

// Health reports store and broker reachability; 503 when either is down.
func (h *SystemHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	storeOK := h.store.Ping(ctx) == nil
	brokerOK := h.broker.IsConnected(ctx)

	status := http.StatusOK
	if !storeOK || !brokerOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"store":  storeOK,
		"broker": brokerOK,
	})
}

func (h *SystemHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Stats())
}
