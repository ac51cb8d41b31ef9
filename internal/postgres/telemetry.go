package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arcade-backend/internal/domain"
)

// RecordGameplay inserts events; ids already stored are skipped
func (r *Repository) RecordGameplay(ctx context.Context, events []domain.GameplayEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO gameplay_events (id, player_id, event_type, score, game_duration_ms, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, e := range events {
		var metadata []byte
		if len(e.Metadata) > 0 {
			var err error
			if metadata, err = json.Marshal(e.Metadata); err != nil {
				return fmt.Errorf("encoding metadata: %w", err)
			}
		}
		batch.Queue(query, e.ID, e.PlayerID, e.Type, e.Score, e.GameDurationMs, e.OccurredAt, metadata)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("recording gameplay: %w", err)
		}
	}
	return nil
}

// ListActivePlayers pages players with at least minEvents game_end events since
func (r *Repository) ListActivePlayers(ctx context.Context, since time.Time, minEvents int, afterPlayer string, limit int) ([]string, error) {
	query := `
		SELECT player_id
		FROM gameplay_events
		WHERE event_type = $1 AND occurred_at >= $2 AND player_id > $3
		GROUP BY player_id
		HAVING COUNT(*) >= $4
		ORDER BY player_id
		LIMIT $5
	`
	rows, err := r.pool.Query(ctx, query, domain.GameplayEventGameEnd, since, afterPlayer, minEvents, limit)
	if err != nil {
		return nil, fmt.Errorf("listing active players: %w", err)
	}
	defer rows.Close()

	var players []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		players = append(players, id)
	}
	return players, rows.Err()
}

// RecentScores returns the player's latest game_end scores, oldest first
func (r *Repository) RecentScores(ctx context.Context, playerID string, since time.Time, limit int) ([]int64, error) {
	query := `
		SELECT score FROM (
			SELECT score, occurred_at, id
			FROM gameplay_events
			WHERE player_id = $1 AND event_type = $2 AND occurred_at >= $3
			ORDER BY occurred_at DESC, id DESC
			LIMIT NULLIF($4, 0)
		) recent
		ORDER BY occurred_at ASC, id ASC
	`
	if limit < 0 {
		limit = 0
	}
	rows, err := r.pool.Query(ctx, query, playerID, domain.GameplayEventGameEnd, since, limit)
	if err != nil {
		return nil, fmt.Errorf("getting recent scores: %w", err)
	}
	defer rows.Close()

	var scores []int64
	for rows.Next() {
		var score int64
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}
