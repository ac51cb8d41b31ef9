package service

import (
	"context"

	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/store"
)

// PlayerQueries serves read-only player views
type PlayerQueries struct {
	players store.Players
	flags   store.Flags
}

// NewPlayerQueries creates the player read model
func NewPlayerQueries(players store.Players, flags store.Flags) *PlayerQueries {
	return &PlayerQueries{players: players, flags: flags}
}

// Wallet returns a player's balances and purchase ledger
func (q *PlayerQueries) Wallet(ctx context.Context, playerID string) (*domain.Wallet, error) {
	return q.players.GetWallet(ctx, playerID)
}

// Flagged lists the review queue, newest first
func (q *PlayerQueries) Flagged(ctx context.Context, status domain.FlagStatus, limit int) ([]domain.FlaggedPlayer, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return q.flags.ListFlagged(ctx, status, limit)
}
