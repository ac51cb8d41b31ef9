// Package postgres implements the store ports on PostgreSQL with pgx.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcade-backend/internal/config"
	"github.com/arcade-backend/internal/store"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ store.Store = (*Repository)(nil)

// scanner is satisfied by pgx.Row and pgx.Rows
type scanner interface {
	Scan(dest ...any) error
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping reports whether the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS score_submissions (
			id VARCHAR(64) PRIMARY KEY,
			player_id VARCHAR(64) NOT NULL,
			display_name VARCHAR(255) NOT NULL DEFAULT '',
			score BIGINT NOT NULL,
			achieved_at TIMESTAMPTZ NOT NULL,
			game_duration_ms BIGINT,
			bot_used BOOLEAN NOT NULL DEFAULT FALSE,
			friend_ids TEXT[],
			tournament_id VARCHAR(64) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS leaderboard_entries (
			scope VARCHAR(128) NOT NULL,
			scope_kind VARCHAR(16) NOT NULL,
			player_id VARCHAR(64) NOT NULL,
			display_name VARCHAR(255) NOT NULL DEFAULT '',
			score BIGINT NOT NULL,
			achieved_at TIMESTAMPTZ NOT NULL,
			rank BIGINT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (scope, player_id)
		)`,
		`CREATE TABLE IF NOT EXISTS players (
			id VARCHAR(64) PRIMARY KEY,
			display_name VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wallets (
			player_id VARCHAR(64) PRIMARY KEY,
			lifetime_spend NUMERIC(14, 2) NOT NULL DEFAULT 0,
			purchase_count BIGINT NOT NULL DEFAULT 0,
			last_purchase_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wallet_balances (
			player_id VARCHAR(64) NOT NULL,
			currency VARCHAR(32) NOT NULL,
			amount BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (player_id, currency)
		)`,
		`CREATE TABLE IF NOT EXISTS purchase_receipts (
			id VARCHAR(64) PRIMARY KEY,
			player_id VARCHAR(64) NOT NULL,
			product_id VARCHAR(128) NOT NULL,
			receipt_data TEXT NOT NULL,
			platform VARCHAR(16) NOT NULL,
			price NUMERIC(12, 2) NOT NULL DEFAULT 0,
			transaction_id VARCHAR(255) NOT NULL DEFAULT '',
			validated BOOLEAN,
			rewarded BOOLEAN NOT NULL DEFAULT FALSE,
			validation_error TEXT NOT NULL DEFAULT '',
			verification_result JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			validated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS processed_transactions (
			platform VARCHAR(16) NOT NULL,
			transaction_id VARCHAR(255) NOT NULL,
			receipt_id VARCHAR(64) NOT NULL,
			player_id VARCHAR(64) NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (platform, transaction_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tournaments (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT FALSE,
			rewards JSONB NOT NULL DEFAULT '[]',
			results_processed BOOLEAN NOT NULL DEFAULT FALSE,
			final_rankings JSONB,
			participant_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			settled_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS gameplay_events (
			id VARCHAR(64) PRIMARY KEY,
			player_id VARCHAR(64) NOT NULL,
			event_type VARCHAR(32) NOT NULL,
			score BIGINT NOT NULL DEFAULT 0,
			game_duration_ms BIGINT,
			occurred_at TIMESTAMPTZ NOT NULL,
			metadata JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS flagged_players (
			player_id VARCHAR(64) PRIMARY KEY,
			reasons TEXT[] NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'pending_review',
			flagged_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS daily_reports (
			date VARCHAR(10) PRIMARY KEY,
			report JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS job_cursors (
			job VARCHAR(160) PRIMARY KEY,
			cursor_key TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS job_runs (
			id VARCHAR(64) PRIMARY KEY,
			job VARCHAR(64) NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL,
			processed INT NOT NULL,
			remaining BOOLEAN NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_player_valid ON score_submissions(player_id, achieved_at DESC) WHERE status = 'valid'`,
		`ALTER TABLE leaderboard_entries ADD COLUMN IF NOT EXISTS ranked_at TIMESTAMPTZ`,
		`ALTER TABLE purchase_receipts ADD COLUMN IF NOT EXISTS processing_error TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE purchase_receipts ADD COLUMN IF NOT EXISTS errored_at TIMESTAMPTZ`,
		`ALTER TABLE tournaments ADD COLUMN IF NOT EXISTS ended_at TIMESTAMPTZ`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_retryable ON score_submissions(id) WHERE status IN ('error', 'pending')`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_created ON score_submissions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_ranking ON leaderboard_entries(scope, score DESC, achieved_at ASC, player_id ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_expiry ON leaderboard_entries(scope_kind, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_validated ON purchase_receipts(validated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tournaments_active ON tournaments(id) WHERE active`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_unverified ON purchase_receipts(id) WHERE validated IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_tournaments_unsettled ON tournaments(id) WHERE NOT active AND NOT results_processed`,
		`CREATE INDEX IF NOT EXISTS idx_gameplay_player ON gameplay_events(player_id, occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_gameplay_recent ON gameplay_events(event_type, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_job_runs_started ON job_runs(started_at)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}
