package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Backend  BackendConfig
	Room     RoomConfig
	Presence PresenceConfig
	Message  MessageConfig
	NodeID   string
	LogLevel string
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	WSReadLimit    int64
	SendBuffer     int
}

type RedisConfig struct {
	URL string
}

type NATSConfig struct {
	URL string
}

// DatabaseConfig points at the error catalog. An empty URL disables it and
// the built-in error texts are used.
type DatabaseConfig struct {
	URL string
}

// JWTConfig with an empty secret makes join tokens opaque user ids.
type JWTConfig struct {
	Secret []byte
}

type BackendConfig struct {
	Store  string // redis | memory
	Broker string // redis | nats | memory
}

type RoomConfig struct {
	EmptyTTL      time.Duration
	SweepInterval time.Duration
}

type PresenceConfig struct {
	TTL               time.Duration
	HeartbeatInterval time.Duration
}

type MessageConfig struct {
	RateLimit   int
	RateWindow  time.Duration
	MaxBytes    int
	DedupWindow time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env file: %v", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvOrDefault("PORT", ":8080"),
			ReadTimeout:    getDurationOrDefault("READ_TIMEOUT", "15s"),
			WriteTimeout:   getDurationOrDefault("WRITE_TIMEOUT", "15s"),
			AllowedOrigins: getListOrDefault("ALLOWED_ORIGINS", "*"),
			WSReadLimit:    int64(getIntOrDefault("WS_READ_LIMIT", 0)),
			SendBuffer:     getIntOrDefault("WS_SEND_BUFFER", 256),
		},
		Redis: RedisConfig{
			URL: getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		},
		NATS: NATSConfig{
			URL: getEnvOrDefault("NATS_URL", "nats://localhost:4222"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		JWT: JWTConfig{
			Secret: []byte(os.Getenv("JWT_SECRET")),
		},
		Backend: BackendConfig{
			Store:  getEnvOrDefault("STORE_BACKEND", "redis"),
			Broker: getEnvOrDefault("BROKER_BACKEND", "redis"),
		},
		Room: RoomConfig{
			EmptyTTL:      getDurationOrDefault("ROOM_EMPTY_TTL", "300s"),
			SweepInterval: getDurationOrDefault("ROOM_SWEEP_INTERVAL", "30s"),
		},
		Presence: PresenceConfig{
			TTL:               getDurationOrDefault("PRESENCE_TTL", "30s"),
			HeartbeatInterval: getDurationOrDefault("HEARTBEAT_INTERVAL", "10s"),
		},
		Message: MessageConfig{
			RateLimit:   getIntOrDefault("RATE_LIMIT_PER_SEC", 5),
			RateWindow:  getDurationOrDefault("RATE_WINDOW", "1s"),
			MaxBytes:    getIntOrDefault("MAX_MESSAGE_BYTES", 2048),
			DedupWindow: getDurationOrDefault("DEDUP_WINDOW", "60s"),
		},
		NodeID:   getEnvOrDefault("NODE_ID", uuid.NewString()),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if cfg.Server.WSReadLimit <= 0 {
		cfg.Server.WSReadLimit = ReadLimitFor(cfg.Message.MaxBytes)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

// Validate checks cross-field constraints that the per-key parsers cannot.
func (c *Config) Validate() error {
	switch c.Backend.Store {
	case "redis", "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be redis or memory, got %q", c.Backend.Store)
	}
	switch c.Backend.Broker {
	case "redis", "nats", "memory":
	default:
		return fmt.Errorf("BROKER_BACKEND must be redis, nats or memory, got %q", c.Backend.Broker)
	}
	if c.Backend.Broker == "memory" && c.Backend.Store == "redis" {
		log.Printf("BROKER_BACKEND=memory only fans out within this process")
	}
	if c.Presence.TTL <= c.Presence.HeartbeatInterval {
		return fmt.Errorf("PRESENCE_TTL (%s) must exceed HEARTBEAT_INTERVAL (%s)", c.Presence.TTL, c.Presence.HeartbeatInterval)
	}
	if c.Message.RateLimit <= 0 || c.Message.RateWindow <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.Message.MaxBytes <= 0 {
		return fmt.Errorf("MAX_MESSAGE_BYTES must be positive")
	}
	if c.Room.EmptyTTL <= 0 {
		return fmt.Errorf("ROOM_EMPTY_TTL must be positive")
	}
	return nil
}

// ReadLimitFor sizes the websocket frame limit so that a text of maxBytes
// fully escaped as \u00XX still reaches the size check.
func ReadLimitFor(maxBytes int) int64 {
	return int64(6*maxBytes + 1024)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key, defaultValue string) time.Duration {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid duration for %s: %v", key, err)
	}
	return duration
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("Invalid integer for %s: %v", key, err)
	}
	return intValue
}

func getListOrDefault(key, defaultValue string) []string {
	raw := getEnvOrDefault(key, defaultValue)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
