package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arcade-backend/internal/domain"
)

const entryColumns = `scope, player_id, display_name, score, achieved_at, rank, ranked_at, created_at, updated_at`

func scanEntry(row scanner) (*domain.LeaderboardEntry, error) {
	var e domain.LeaderboardEntry
	err := row.Scan(
		&e.Scope,
		&e.PlayerID,
		&e.DisplayName,
		&e.Score,
		&e.AchievedAt,
		&e.Rank,
		&e.RankedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertBest inserts the entry or raises its score when strictly greater.
// The conditional update runs as one statement, so concurrent writers for the
// same key cannot lose the higher score.
func (r *Repository) UpsertBest(ctx context.Context, entry domain.LeaderboardEntry) (bool, error) {
	query := `
		INSERT INTO leaderboard_entries (scope, scope_kind, player_id, display_name, score, achieved_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (scope, player_id)
		DO UPDATE SET
			score = EXCLUDED.score,
			achieved_at = EXCLUDED.achieved_at,
			display_name = EXCLUDED.display_name,
			updated_at = EXCLUDED.updated_at
		WHERE EXCLUDED.score > leaderboard_entries.score
	`
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = entry.UpdatedAt
	}
	result, err := r.pool.Exec(ctx, query,
		string(entry.Scope),
		string(entry.Scope.Kind()),
		entry.PlayerID,
		entry.DisplayName,
		entry.Score,
		entry.AchievedAt,
		createdAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upserting best score: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// GetEntry retrieves a player's entry in scope
func (r *Repository) GetEntry(ctx context.Context, scope domain.Scope, playerID string) (*domain.LeaderboardEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM leaderboard_entries WHERE scope = $1 AND player_id = $2`
	entry, err := scanEntry(r.pool.QueryRow(ctx, query, string(scope), playerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, fmt.Errorf("getting entry: %w", err)
	}
	return entry, nil
}

// TopEntries retrieves entries of scope in ranking order with pagination
func (r *Repository) TopEntries(ctx context.Context, scope domain.Scope, offset, limit int) ([]domain.LeaderboardEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM leaderboard_entries
		WHERE scope = $1
		ORDER BY score DESC, achieved_at ASC, player_id ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, string(scope), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("getting top entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// SetRanks persists computed ranks in one batch, stamping each with pass
func (r *Repository) SetRanks(ctx context.Context, scope domain.Scope, ranks []domain.RankAssignment, pass time.Time) error {
	if len(ranks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `UPDATE leaderboard_entries SET rank = $3, ranked_at = $4 WHERE scope = $1 AND player_id = $2`
	for _, rank := range ranks {
		batch.Queue(query, string(scope), rank.PlayerID, rank.Rank, pass)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range ranks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch setting ranks: %w", err)
		}
	}
	return nil
}

// ClearStaleRanks nulls every rank in scope not written by pass
func (r *Repository) ClearStaleRanks(ctx context.Context, scope domain.Scope, pass time.Time) (int, error) {
	query := `
		UPDATE leaderboard_entries SET rank = NULL, ranked_at = NULL
		WHERE scope = $1 AND rank IS NOT NULL AND (ranked_at IS NULL OR ranked_at <> $2)
	`
	result, err := r.pool.Exec(ctx, query, string(scope), pass)
	if err != nil {
		return 0, fmt.Errorf("clearing stale ranks: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// ListExpiredEntries pages keys of kind created before cutoff
func (r *Repository) ListExpiredEntries(ctx context.Context, kind domain.ScopeKind, cutoff time.Time, after domain.EntryKey, limit int) ([]domain.EntryKey, error) {
	query := `
		SELECT scope, player_id
		FROM leaderboard_entries
		WHERE scope_kind = $1 AND created_at < $2 AND (scope, player_id) > ($3, $4)
		ORDER BY scope, player_id
		LIMIT $5
	`
	rows, err := r.pool.Query(ctx, query, string(kind), cutoff, string(after.Scope), after.PlayerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing expired entries: %w", err)
	}
	defer rows.Close()

	var keys []domain.EntryKey
	for rows.Next() {
		var key domain.EntryKey
		if err := rows.Scan(&key.Scope, &key.PlayerID); err != nil {
			return nil, fmt.Errorf("scanning entry key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteEntries removes the given entries in one statement
func (r *Repository) DeleteEntries(ctx context.Context, keys []domain.EntryKey) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	scopes := make([]string, len(keys))
	players := make([]string, len(keys))
	for i, k := range keys {
		scopes[i] = string(k.Scope)
		players[i] = k.PlayerID
	}

	query := `
		DELETE FROM leaderboard_entries
		WHERE (scope, player_id) IN (SELECT * FROM unnest($1::text[], $2::text[]))
	`
	result, err := r.pool.Exec(ctx, query, scopes, players)
	if err != nil {
		return 0, fmt.Errorf("deleting entries: %w", err)
	}
	return int(result.RowsAffected()), nil
}
