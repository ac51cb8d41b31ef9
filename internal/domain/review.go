package domain

import "time"

// FlagStatus is the review state of a flagged player
type FlagStatus string

const (
	FlagPendingReview FlagStatus = "pending_review"
	FlagCleared       FlagStatus = "cleared"
	FlagConfirmed     FlagStatus = "confirmed"
)

// FlaggedPlayer queues a player for human review. The system never resolves it.
type FlaggedPlayer struct {
	PlayerID  string     `json:"player_id"`
	Reasons   []string   `json:"reasons"`
	Status    FlagStatus `json:"status"`
	FlaggedAt time.Time  `json:"flagged_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
