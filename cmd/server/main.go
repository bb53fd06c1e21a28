package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"roomchat/internal/auth"
	"roomchat/internal/config"
	"roomchat/internal/database"
	"roomchat/internal/guard"
	"roomchat/internal/handlers"
	"roomchat/internal/pubsub"
	"roomchat/internal/services"
	"roomchat/internal/websocket"
	"roomchat/pkg/logger"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn("Unknown log level %q, keeping info", cfg.LogLevel)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis is shared by the store and broker when either uses it
	var redisClient *redis.Client
	if cfg.Backend.Store == "redis" || cfg.Backend.Broker == "redis" {
		client, err := database.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		redisClient = client
	}

	// Initialize store
	var store database.Store
	switch cfg.Backend.Store {
	case "memory":
		store = database.NewMemoryStore(cfg.Room.EmptyTTL, cfg.Presence.TTL)
	default:
		store = database.NewRedisStore(redisClient, cfg.Room.EmptyTTL, cfg.Presence.TTL)
	}

	broker, err := newBroker(ctx, cfg, redisClient)
	if err != nil {
		logger.Fatal("Failed to connect to broker: %v", err)
	}
	defer broker.Close()

	catalog, closeCatalog := newCatalog(ctx, cfg)
	defer closeCatalog()

	// Initialize services
	g := guard.New(cfg.Message.RateLimit, cfg.Message.RateWindow, cfg.Message.DedupWindow)
	registry := websocket.NewRegistry()
	orch := services.NewOrchestrator(store, store, g, broker, registry, auth.NewResolver(cfg.JWT.Secret), catalog, services.OrchestratorConfig{
		NodeID:          cfg.NodeID,
		MaxMessageBytes: cfg.Message.MaxBytes,
		StaleAfter:      3 * cfg.Presence.HeartbeatInterval,
	})
	roomService := services.NewRoomService(store, store)
	janitor := services.NewJanitor(store, orch, g, broker, cfg.Room.SweepInterval)

	// Initialize handlers
	router := &handlers.Router{
		Rooms: handlers.NewRoomHandlers(roomService, catalog),
		WebSocket: handlers.NewWebSocketHandlers(orch, cfg.Server.AllowedOrigins, websocket.ClientOptions{
			ReadLimit:  cfg.Server.WSReadLimit,
			SendBuffer: cfg.Server.SendBuffer,
		}),
		System:  handlers.NewSystemHandlers(orch, broker, store),
		Origins: cfg.Server.AllowedOrigins,
	}

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("🚀 Server %s started on http://localhost%s (store=%s, broker=%s)",
		cfg.NodeID, cfg.Server.Port, cfg.Backend.Store, cfg.Backend.Broker)
	logger.Info("📡 WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)
	printAPIEndpoints()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return janitor.Run(gctx)
	})

	// Graceful shutdown
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("Server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		n := orch.Shutdown(shutdownCtx)
		logger.Info("Closed %d sessions", n)
		return err
	})

	if err := group.Wait(); err != nil {
		logger.Error("Server error: %v", err)
	}
}

func newBroker(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (pubsub.Broker, error) {
	switch cfg.Backend.Broker {
	case "nats":
		return pubsub.NewNATSBroker(cfg.NATS.URL, "roomchat-"+cfg.NodeID)
	case "memory":
		return pubsub.NewBus().Client(), nil
	default:
		return pubsub.NewRedisBroker(ctx, redisClient), nil
	}
}

// newCatalog prefers the postgres error catalog and falls back to the
// built-in texts when it is not configured or unreachable.
func newCatalog(ctx context.Context, cfg *config.Config) (database.ErrorCatalog, func()) {
	static := database.NewStaticCatalog(database.DefaultErrorInfo)
	if cfg.Database.URL == "" {
		return static, func() {}
	}

	pg, err := database.NewPostgresCatalog(ctx, cfg.Database.URL)
	if err != nil {
		logger.Warn("Error catalog unavailable, using built-in texts: %v", err)
		return static, func() {}
	}
	if err := pg.EnsureSchema(ctx, database.DefaultErrorInfo); err != nil {
		logger.Warn("Error catalog schema setup failed: %v", err)
	}
	return database.NewCachedCatalog(pg, static), func() { pg.Close() }
}

func printAPIEndpoints() {
	logger.Info("🔗 API endpoints:")
	logger.Info("   POST /rooms")
	logger.Info("   GET  /rooms/{id}")
	logger.Info("   GET  /rooms/{id}/members")
	logger.Info("   GET  /presence")
	logger.Info("   GET  /healthz")
	logger.Info("   GET  /stats")
	logger.Info("   GET  /ws")
}
