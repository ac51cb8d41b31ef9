package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arcade-backend/internal/domain"
)

const submissionColumns = `id, player_id, display_name, score, achieved_at, game_duration_ms, bot_used,
	friend_ids, tournament_id, status, reason, created_at, processed_at`

func scanSubmission(row scanner) (*domain.PendingScoreSubmission, error) {
	var sub domain.PendingScoreSubmission
	err := row.Scan(
		&sub.ID,
		&sub.PlayerID,
		&sub.DisplayName,
		&sub.Score,
		&sub.AchievedAt,
		&sub.GameDurationMs,
		&sub.BotUsed,
		&sub.FriendIDs,
		&sub.TournamentID,
		&sub.Status,
		&sub.Reason,
		&sub.CreatedAt,
		&sub.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateSubmission inserts a pending submission; an existing id is kept
func (r *Repository) CreateSubmission(ctx context.Context, sub *domain.PendingScoreSubmission) error {
	query := `
		INSERT INTO score_submissions (id, player_id, display_name, score, achieved_at, game_duration_ms,
			bot_used, friend_ids, tournament_id, status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', $11)
		ON CONFLICT (id) DO NOTHING
	`
	status := sub.Status
	if status == "" {
		status = domain.SubmissionPending
	}
	_, err := r.pool.Exec(ctx, query,
		sub.ID,
		sub.PlayerID,
		sub.DisplayName,
		sub.Score,
		sub.AchievedAt,
		sub.GameDurationMs,
		sub.BotUsed,
		sub.FriendIDs,
		sub.TournamentID,
		string(status),
		sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating submission: %w", err)
	}
	return nil
}

// GetSubmission retrieves a submission by ID
func (r *Repository) GetSubmission(ctx context.Context, id string) (*domain.PendingScoreSubmission, error) {
	query := `SELECT ` + submissionColumns + ` FROM score_submissions WHERE id = $1`
	sub, err := scanSubmission(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("getting submission: %w", err)
	}
	return sub, nil
}

// MarkSubmission moves a non-terminal submission to status
func (r *Repository) MarkSubmission(ctx context.Context, id string, status domain.SubmissionStatus, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE score_submissions
		SET status = $2, reason = $3, processed_at = $4
		WHERE id = $1 AND status NOT IN ('valid', 'invalid')
	`
	result, err := r.pool.Exec(ctx, query, id, string(status), reason, at)
	if err != nil {
		return false, fmt.Errorf("marking submission: %w", err)
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM score_submissions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking submission existence: %w", err)
	}
	if !exists {
		return false, domain.ErrSubmissionNotFound
	}
	return false, nil
}

// RecentBestScore returns the best of the player's last limit valid submissions
func (r *Repository) RecentBestScore(ctx context.Context, playerID string, limit int) (int64, bool, error) {
	query := `
		SELECT MAX(score) FROM (
			SELECT score FROM score_submissions
			WHERE player_id = $1 AND status = 'valid'
			ORDER BY achieved_at DESC
			LIMIT $2
		) recent
	`
	var best *int64
	if err := r.pool.QueryRow(ctx, query, playerID, limit).Scan(&best); err != nil {
		return 0, false, fmt.Errorf("getting recent best: %w", err)
	}
	if best == nil {
		return 0, false, nil
	}
	return *best, true, nil
}

// ListRetryableSubmissions pages errored submissions, and pending ones created
// before staleBefore, by id
func (r *Repository) ListRetryableSubmissions(ctx context.Context, staleBefore time.Time, afterID string, limit int) ([]domain.PendingScoreSubmission, error) {
	query := `SELECT ` + submissionColumns + `
		FROM score_submissions
		WHERE (status = 'error' OR (status = 'pending' AND created_at < $1)) AND id > $2
		ORDER BY id
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, staleBefore, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing retryable submissions: %w", err)
	}
	defer rows.Close()

	var subs []domain.PendingScoreSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning submission: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
