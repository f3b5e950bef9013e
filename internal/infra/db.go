package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"vidgen/internal/sqlinline"
)

// NewDBPool initializes a new pgx connection pool using the provided configuration.
// One connection per intake worker is reserved on top of the base size, plus
// one for the queue listener.
func NewDBPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MaxConns = int32(10 + cfg.WorkerConcurrency + 1)
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

var schemaStatements = []struct {
	name  string
	query string
}{
	{"video_jobs", sqlinline.QEnsureVideoJobsTable},
	{"video_generations", sqlinline.QEnsureVideoGenerationsTable},
	{"integration_tokens", sqlinline.QEnsureIntegrationTokensTable},
}

// Migrate creates the tables the services rely on. Every statement is
// idempotent.
func Migrate(ctx context.Context, sql SQLExecutor) error {
	for _, stmt := range schemaStatements {
		if _, err := sql.Exec(ctx, stmt.query); err != nil {
			return fmt.Errorf("migrate %s: %w", stmt.name, err)
		}
	}
	return nil
}
