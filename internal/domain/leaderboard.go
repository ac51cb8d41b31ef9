package domain

import (
	"strings"
	"time"
)

// LeaderboardEntry is the best score of a player within a scope
type LeaderboardEntry struct {
	Scope       Scope     `json:"scope"`
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Score       int64     `json:"score"`
	AchievedAt  time.Time `json:"achieved_at"`
	Rank        *int64    `json:"rank,omitempty"`
	// RankedAt identifies the recompute pass that wrote Rank
	RankedAt *time.Time `json:"ranked_at,omitempty"`
	// LiveRank is 1 + the number of mirrored players with a strictly higher
	// score. It is never persisted.
	LiveRank  *int64    `json:"live_rank,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntryKey identifies a leaderboard entry
type EntryKey struct {
	Scope    Scope  `json:"scope"`
	PlayerID string `json:"player_id"`
}

// String renders the key as a resumption cursor
func (k EntryKey) String() string {
	return string(k.Scope) + "|" + k.PlayerID
}

// RankAssignment is a rank computed by the recompute job
type RankAssignment struct {
	PlayerID string `json:"player_id"`
	Rank     int64  `json:"rank"`
}

// Outranks is the deterministic ordering of entries: higher score first, then
// the earlier achievedAt, then the lower player id.
func Outranks(a, b LeaderboardEntry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.AchievedAt.Equal(b.AchievedAt) {
		return a.AchievedAt.Before(b.AchievedAt)
	}
	return a.PlayerID < b.PlayerID
}

// ParseEntryKey reverses EntryKey.String; an empty string yields the zero key
func ParseEntryKey(raw string) EntryKey {
	scope, playerID, _ := strings.Cut(raw, "|")
	return EntryKey{Scope: Scope(scope), PlayerID: playerID}
}
