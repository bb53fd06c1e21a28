package database

import (
	"context"
	"errors"
	"fmt"

	"roomchat/internal/models"
	"roomchat/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatalog reads human-facing error text from the error_info table.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

func NewPostgresCatalog(ctx context.Context, databaseURL string) (*PostgresCatalog, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to error catalog database")
	return &PostgresCatalog{pool: pool}, nil
}

func (c *PostgresCatalog) Close() error {
	c.pool.Close()
	return nil
}

// EnsureSchema creates error_info if missing and seeds any codes that are not
// present yet. Existing rows are never overwritten.
func (c *PostgresCatalog) EnsureSchema(ctx context.Context, seed []models.ErrorInfo) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS error_info (
			id          BIGSERIAL PRIMARY KEY,
			code        VARCHAR(50) NOT NULL UNIQUE,
			message     TEXT NOT NULL,
			description TEXT,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create error_info: %w", err)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO error_info (code, message, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO NOTHING`
	for _, info := range seed {
		if _, err := tx.Exec(ctx, query, info.Code, info.Message, info.Description); err != nil {
			return fmt.Errorf("failed to seed %s: %w", info.Code, err)
		}
	}

	return tx.Commit(ctx)
}

func (c *PostgresCatalog) Lookup(ctx context.Context, code string) (*models.ErrorInfo, error) {
	query := `SELECT code, message, COALESCE(description, '') FROM error_info WHERE code = $1`

	info := &models.ErrorInfo{}
	err := c.pool.QueryRow(ctx, query, code).Scan(&info.Code, &info.Message, &info.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return info, nil
}
