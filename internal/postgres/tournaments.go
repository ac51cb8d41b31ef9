package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arcade-backend/internal/domain"
)

const tournamentColumns = `id, name, active, rewards, results_processed, final_rankings,
	participant_count, created_at, updated_at, ended_at, settled_at`

func scanTournament(row scanner) (*domain.Tournament, error) {
	var (
		t        domain.Tournament
		rewards  []byte
		rankings []byte
	)
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Active,
		&rewards,
		&t.ResultsProcessed,
		&rankings,
		&t.ParticipantCount,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.EndedAt,
		&t.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	if len(rewards) > 0 {
		if err := json.Unmarshal(rewards, &t.Rewards); err != nil {
			return nil, fmt.Errorf("decoding rewards: %w", err)
		}
	}
	if len(rankings) > 0 {
		if err := json.Unmarshal(rankings, &t.FinalRankings); err != nil {
			return nil, fmt.Errorf("decoding final rankings: %w", err)
		}
	}
	return &t, nil
}

// CreateTournament inserts a tournament
func (r *Repository) CreateTournament(ctx context.Context, t *domain.Tournament) error {
	rewards, err := json.Marshal(t.Rewards)
	if err != nil {
		return fmt.Errorf("encoding rewards: %w", err)
	}

	query := `
		INSERT INTO tournaments (id, name, active, rewards, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.pool.Exec(ctx, query, t.ID, t.Name, t.Active, rewards, t.CreatedAt, t.UpdatedAt); err != nil {
		return fmt.Errorf("creating tournament: %w", err)
	}
	return nil
}

// GetTournament retrieves a tournament by ID
func (r *Repository) GetTournament(ctx context.Context, id string) (*domain.Tournament, error) {
	query := `SELECT ` + tournamentColumns + ` FROM tournaments WHERE id = $1`
	t, err := scanTournament(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTournamentNotFound
		}
		return nil, fmt.Errorf("getting tournament: %w", err)
	}
	return t, nil
}

// SetTournamentActive updates the flag and returns the previous value.
// The row lock serializes concurrent toggles so each observes its predecessor.
// Deactivating an active tournament stamps ended_at; activating clears it.
func (r *Repository) SetTournamentActive(ctx context.Context, id string, active bool, at time.Time) (bool, error) {
	query := `
		UPDATE tournaments t
		SET active = $2, updated_at = $3,
			ended_at = CASE
				WHEN $2 THEN NULL
				WHEN prev.active THEN $3
				ELSE t.ended_at
			END
		FROM (SELECT id, active FROM tournaments WHERE id = $1 FOR UPDATE) prev
		WHERE t.id = prev.id
		RETURNING prev.active
	`
	var was bool
	err := r.pool.QueryRow(ctx, query, id, active, at).Scan(&was)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrTournamentNotFound
		}
		return false, fmt.Errorf("setting tournament active: %w", err)
	}
	return was, nil
}

// ListActiveTournaments returns every active tournament
func (r *Repository) ListActiveTournaments(ctx context.Context) ([]domain.Tournament, error) {
	query := `SELECT ` + tournamentColumns + ` FROM tournaments WHERE active ORDER BY id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing active tournaments: %w", err)
	}
	defer rows.Close()

	var tournaments []domain.Tournament
	for rows.Next() {
		t, err := scanTournament(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tournament: %w", err)
		}
		tournaments = append(tournaments, *t)
	}
	return tournaments, rows.Err()
}

// ListUnsettledTournaments pages ended tournaments whose results were never
// claimed, by id
func (r *Repository) ListUnsettledTournaments(ctx context.Context, afterID string, limit int) ([]domain.Tournament, error) {
	query := `SELECT ` + tournamentColumns + `
		FROM tournaments
		WHERE active = FALSE AND ended_at IS NOT NULL AND results_processed = FALSE AND id > $1
		ORDER BY id
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unsettled tournaments: %w", err)
	}
	defer rows.Close()

	var tournaments []domain.Tournament
	for rows.Next() {
		t, err := scanTournament(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tournament: %w", err)
		}
		tournaments = append(tournaments, *t)
	}
	return tournaments, rows.Err()
}

// ClaimSettlement flips results_processed on an inactive tournament
func (r *Repository) ClaimSettlement(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE tournaments
		SET results_processed = TRUE, updated_at = $2
		WHERE id = $1 AND active = FALSE AND results_processed = FALSE
	`
	tag, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("claiming settlement: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tournaments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking tournament existence: %w", err)
	}
	if !exists {
		return false, domain.ErrTournamentNotFound
	}
	return false, nil
}

// SaveResults stores the final rankings of a settled tournament
func (r *Repository) SaveResults(ctx context.Context, id string, rankings []domain.FinalRanking, at time.Time) error {
	encoded, err := json.Marshal(rankings)
	if err != nil {
		return fmt.Errorf("encoding final rankings: %w", err)
	}

	query := `
		UPDATE tournaments
		SET final_rankings = $2, participant_count = $3, settled_at = $4, updated_at = $4
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, encoded, len(rankings), at)
	if err != nil {
		return fmt.Errorf("saving results: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTournamentNotFound
	}
	return nil
}
