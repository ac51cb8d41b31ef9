package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arcade-backend/internal/domain"
)

const (
	ensureWalletQuery = `
		INSERT INTO wallets (player_id, updated_at)
		VALUES ($1, $2)
		ON CONFLICT (player_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
	`
	incrementBalanceQuery = `
		INSERT INTO wallet_balances (player_id, currency, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (player_id, currency)
		DO UPDATE SET amount = wallet_balances.amount + EXCLUDED.amount
	`
)

// TouchPlayer creates the player or refreshes its name and last-seen time
func (r *Repository) TouchPlayer(ctx context.Context, playerID, displayName string, at time.Time) error {
	query := `
		INSERT INTO players (id, display_name, created_at, last_seen_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id)
		DO UPDATE SET
			display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), players.display_name),
			last_seen_at = GREATEST(players.last_seen_at, EXCLUDED.last_seen_at)
	`
	if _, err := r.pool.Exec(ctx, query, playerID, displayName, at); err != nil {
		return fmt.Errorf("touching player: %w", err)
	}
	return nil
}

// ApplyCurrency applies every grant as an increment in one transaction
func (r *Repository) ApplyCurrency(ctx context.Context, grants []domain.CurrencyGrant, at time.Time) error {
	if len(grants) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, g := range grants {
			batch.Queue(ensureWalletQuery, g.PlayerID, at)
			batch.Queue(incrementBalanceQuery, g.PlayerID, g.Currency, g.Amount)
		}

		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("applying currency: %w", err)
			}
		}
		return br.Close()
	})
}

// GetWallet retrieves a player's balances and monetization ledger
func (r *Repository) GetWallet(ctx context.Context, playerID string) (*domain.Wallet, error) {
	query := `
		SELECT player_id, lifetime_spend, purchase_count, last_purchase_at, updated_at
		FROM wallets
		WHERE player_id = $1
	`
	w := domain.Wallet{Balances: make(map[string]int64)}
	err := r.pool.QueryRow(ctx, query, playerID).Scan(
		&w.PlayerID,
		&w.LifetimeSpend,
		&w.PurchaseCount,
		&w.LastPurchaseAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting wallet: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT currency, amount FROM wallet_balances WHERE player_id = $1`, playerID)
	if err != nil {
		return nil, fmt.Errorf("getting balances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var currency string
		var amount int64
		if err := rows.Scan(&currency, &amount); err != nil {
			return nil, fmt.Errorf("scanning balance: %w", err)
		}
		w.Balances[currency] = amount
	}
	return &w, rows.Err()
}
