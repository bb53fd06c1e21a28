package services

import (
	"context"
	"time"

	"roomchat/internal/database"
	"roomchat/internal/guard"
	"roomchat/internal/pubsub"
	"roomchat/pkg/logger"
)

type SweepReport struct {
	RoomsDeleted    int
	DeadConnections int
	RateEntries     int
	DedupEntries    int
	Reconnected     bool
}

// Janitor runs the periodic reconciliation passes: expired rooms, dead
// connections, stale guard entries and broker health.
type Janitor struct {
	rooms    database.RoomRepository
	orch     *Orchestrator
	guard    *guard.Guard
	broker   pubsub.Broker
	interval time.Duration
}

func NewJanitor(rooms database.RoomRepository, orch *Orchestrator, g *guard.Guard, broker pubsub.Broker, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Janitor{
		rooms:    rooms,
		orch:     orch,
		guard:    g,
		broker:   broker,
		interval: interval,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	logger.Info("Janitor started (interval %s)", j.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report := j.Sweep(ctx)
			if report.RoomsDeleted > 0 || report.DeadConnections > 0 || report.Reconnected {
				logger.Info("Sweep: %d rooms deleted, %d dead connections, reconnected=%t",
					report.RoomsDeleted, report.DeadConnections, report.Reconnected)
			}
		}
	}
}

func (j *Janitor) Sweep(ctx context.Context) SweepReport {
	var report SweepReport

	if !j.broker.IsConnected(ctx) {
		logger.Warn("Broker connection lost, reconnecting")
		if err := j.broker.Reconnect(ctx); err != nil {
			logger.Error("Broker reconnect failed: %v", err)
		} else {
			report.Reconnected = true
		}
	}

	report.DeadConnections = j.orch.SweepDeadSessions(ctx)

	candidates, err := j.rooms.FindCandidatesForExpiry(ctx)
	if err != nil {
		logger.Error("Room expiry scan failed: %v", err)
	}
	for _, roomID := range candidates {
		deleted, err := j.rooms.DeleteIfExpired(ctx, roomID)
		if err != nil {
			logger.Error("Deleting expired room %s failed: %v", roomID, err)
			continue
		}
		if deleted {
			report.RoomsDeleted++
			logger.Debug("Room %s expired", roomID)
		}
	}

	report.RateEntries, report.DedupEntries = j.guard.Cleanup()
	return report
}
