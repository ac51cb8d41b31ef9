package domain

import "time"

// SubmissionStatus is the processing state of a score submission
type SubmissionStatus string

const (
	SubmissionPending SubmissionStatus = "pending"
	SubmissionValid   SubmissionStatus = "valid"
	SubmissionInvalid SubmissionStatus = "invalid"
	// SubmissionError marks a store/backend failure; it is not terminal and is
	// picked up by the reprocessing job.
	SubmissionError SubmissionStatus = "error"
)

// PendingScoreSubmission is a client-originated score write
type PendingScoreSubmission struct {
	ID             string           `json:"id"`
	PlayerID       string           `json:"player_id"`
	DisplayName    string           `json:"display_name"`
	Score          int64            `json:"score"`
	AchievedAt     time.Time        `json:"achieved_at"`
	GameDurationMs *int64           `json:"game_duration_ms,omitempty"`
	BotUsed        bool             `json:"bot_used"`
	FriendIDs      []string         `json:"friend_ids,omitempty"`
	TournamentID   string           `json:"tournament_id,omitempty"`
	Status         SubmissionStatus `json:"status"`
	Reason         string           `json:"reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	ProcessedAt    *time.Time       `json:"processed_at,omitempty"`
}

// Terminal reports whether the submission reached valid or invalid
func (s *PendingScoreSubmission) Terminal() bool {
	return s.Status == SubmissionValid || s.Status == SubmissionInvalid
}

// Processed mirrors the processed flag clients read
func (s *PendingScoreSubmission) Processed() bool {
	return s.Terminal()
}

// GameDuration returns the reported duration, if any
func (s *PendingScoreSubmission) GameDuration() (time.Duration, bool) {
	if s.GameDurationMs == nil {
		return 0, false
	}
	return time.Duration(*s.GameDurationMs) * time.Millisecond, true
}

// GameplayEvent is one telemetry record consumed by the suspicious activity scan
type GameplayEvent struct {
	ID             string         `json:"id"`
	PlayerID       string         `json:"player_id"`
	Type           string         `json:"type"`
	Score          int64          `json:"score"`
	GameDurationMs *int64         `json:"game_duration_ms,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// GameplayEventGameEnd is recorded for every accepted score
const GameplayEventGameEnd = "game_end"
