package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/arcade-backend/internal/domain"
)

// FlagPlayer merges reasons into the player's flag, creating it pending_review.
// A reason already on the flag is not repeated.
func (r *Repository) FlagPlayer(ctx context.Context, playerID string, reasons []string, at time.Time) error {
	query := `
		INSERT INTO flagged_players (player_id, reasons, status, flagged_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (player_id)
		DO UPDATE SET
			reasons = ARRAY(
				SELECT reason
				FROM unnest(flagged_players.reasons || EXCLUDED.reasons) WITH ORDINALITY AS merged(reason, n)
				GROUP BY reason
				ORDER BY min(n)
			),
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.pool.Exec(ctx, query, playerID, reasons, string(domain.FlagPendingReview), at); err != nil {
		return fmt.Errorf("flagging player: %w", err)
	}
	return nil
}

// ListFlagged returns flags newest first, optionally filtered by status
func (r *Repository) ListFlagged(ctx context.Context, status domain.FlagStatus, limit int) ([]domain.FlaggedPlayer, error) {
	query := `
		SELECT player_id, reasons, status, flagged_at, updated_at
		FROM flagged_players
		WHERE $1 = '' OR status = $1
		ORDER BY flagged_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("listing flagged players: %w", err)
	}
	defer rows.Close()

	var flagged []domain.FlaggedPlayer
	for rows.Next() {
		var f domain.FlaggedPlayer
		if err := rows.Scan(&f.PlayerID, &f.Reasons, &f.Status, &f.FlaggedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning flagged player: %w", err)
		}
		flagged = append(flagged, f)
	}
	return flagged, rows.Err()
}

// AggregateDay computes the report metrics for [start, end)
func (r *Repository) AggregateDay(ctx context.Context, start, end time.Time) (*domain.DailyReport, error) {
	report := &domain.DailyReport{Date: domain.ReportDate(start)}

	batch := &pgx.Batch{}
	batch.Queue(`
		SELECT
			COUNT(*) FILTER (WHERE created_at >= $1 AND created_at < $2),
			COUNT(*) FILTER (WHERE last_seen_at >= $1 AND last_seen_at < $2)
		FROM players
	`, start, end)
	batch.Queue(`
		SELECT COUNT(*) FROM flagged_players WHERE flagged_at >= $1 AND flagged_at < $2
	`, start, end)
	batch.Queue(`
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'valid'),
			COUNT(*) FILTER (WHERE status = 'invalid'),
			COUNT(*) FILTER (WHERE status = 'error'),
			COALESCE(AVG(score) FILTER (WHERE status = 'valid'), 0)::float8,
			COALESCE(MAX(score) FILTER (WHERE status = 'valid'), 0)
		FROM score_submissions
		WHERE created_at >= $1 AND created_at < $2
	`, start, end)
	batch.Queue(`
		SELECT
			COALESCE(SUM(price) FILTER (WHERE validated), 0),
			COUNT(*) FILTER (WHERE validated),
			COUNT(*) FILTER (WHERE NOT validated)
		FROM purchase_receipts
		WHERE validated IS NOT NULL AND validated_at >= $1 AND validated_at < $2
	`, start, end)
	batch.Queue(`
		SELECT COUNT(*), COUNT(*) FILTER (WHERE error <> '')
		FROM job_runs
		WHERE started_at >= $1 AND started_at < $2
	`, start, end)

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	if err := br.QueryRow().Scan(&report.Players.New, &report.Players.Active); err != nil {
		return nil, fmt.Errorf("aggregating players: %w", err)
	}
	if err := br.QueryRow().Scan(&report.Players.Flagged); err != nil {
		return nil, fmt.Errorf("aggregating flags: %w", err)
	}
	g := &report.Gameplay
	if err := br.QueryRow().Scan(&g.Submissions, &g.Valid, &g.Invalid, &g.Errored, &g.AverageScore, &g.TopScore); err != nil {
		return nil, fmt.Errorf("aggregating submissions: %w", err)
	}
	var total decimal.Decimal
	if err := br.QueryRow().Scan(&total, &report.Revenue.Purchases, &report.Revenue.Rejected); err != nil {
		return nil, fmt.Errorf("aggregating revenue: %w", err)
	}
	report.Revenue.Total = total
	if err := br.QueryRow().Scan(&report.Performance.JobRuns, &report.Performance.JobFailures); err != nil {
		return nil, fmt.Errorf("aggregating job runs: %w", err)
	}
	return report, nil
}

// CreateReport writes the report unless one exists for the date
func (r *Repository) CreateReport(ctx context.Context, report *domain.DailyReport) (bool, error) {
	encoded, err := json.Marshal(report)
	if err != nil {
		return false, fmt.Errorf("encoding report: %w", err)
	}

	query := `
		INSERT INTO daily_reports (date, report, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (date) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query, report.Date, encoded, report.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("creating report: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetReport retrieves the report for a date
func (r *Repository) GetReport(ctx context.Context, date string) (*domain.DailyReport, error) {
	var encoded []byte
	err := r.pool.QueryRow(ctx, `SELECT report FROM daily_reports WHERE date = $1`, date).Scan(&encoded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReportNotFound
		}
		return nil, fmt.Errorf("getting report: %w", err)
	}

	var report domain.DailyReport
	if err := json.Unmarshal(encoded, &report); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &report, nil
}

// LoadCursor returns the saved resumption key, or "" when none is stored
func (r *Repository) LoadCursor(ctx context.Context, job string) (string, error) {
	var key string
	err := r.pool.QueryRow(ctx, `SELECT cursor_key FROM job_cursors WHERE job = $1`, job).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("loading cursor: %w", err)
	}
	return key, nil
}

// SaveCursor stores the resumption key; an empty key clears it
func (r *Repository) SaveCursor(ctx context.Context, job, key string) error {
	if key == "" {
		if _, err := r.pool.Exec(ctx, `DELETE FROM job_cursors WHERE job = $1`, job); err != nil {
			return fmt.Errorf("clearing cursor: %w", err)
		}
		return nil
	}

	query := `
		INSERT INTO job_cursors (job, cursor_key, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (job) DO UPDATE SET cursor_key = EXCLUDED.cursor_key, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.pool.Exec(ctx, query, job, key); err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}

// RecordJobRun appends a job outcome
func (r *Repository) RecordJobRun(ctx context.Context, run domain.JobRun) error {
	query := `
		INSERT INTO job_runs (id, job, started_at, duration_ms, processed, remaining, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		run.ID,
		string(run.Job),
		run.StartedAt,
		run.Duration.Milliseconds(),
		run.Processed,
		run.Remaining,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("recording job run: %w", err)
	}
	return nil
}
