package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a player's currency balances and monetization ledger
type Wallet struct {
	PlayerID       string           `json:"player_id"`
	Balances       map[string]int64 `json:"balances"`
	LifetimeSpend  decimal.Decimal  `json:"lifetime_spend"`
	PurchaseCount  int64            `json:"purchase_count"`
	LastPurchaseAt *time.Time       `json:"last_purchase_at,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// CurrencyGrant increments one balance of one player
type CurrencyGrant struct {
	PlayerID string `json:"player_id"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

// Player is the account row kept for reporting
type Player struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}
