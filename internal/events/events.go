// Package events defines the trigger envelopes consumed by the backend and the
// dispatch table that routes them to handlers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arcade-backend/internal/domain"
)

// Type tags the payload carried by an Envelope
type Type string

const (
	TypeScoreSubmitted         Type = "score.submitted"
	TypeReceiptSubmitted       Type = "receipt.submitted"
	TypeTournamentStateChanged Type = "tournament.state_changed"
	TypeTimerFired             Type = "timer.fired"
)

// Envelope is the wire format of every trigger
type Envelope struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Key        string          `json:"key,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// ScoreSubmitted is emitted when a client creates a pending score submission
type ScoreSubmitted struct {
	Submission domain.PendingScoreSubmission `json:"submission"`
}

// ReceiptSubmitted is emitted when a client creates a purchase receipt
type ReceiptSubmitted struct {
	Receipt domain.PurchaseReceipt `json:"receipt"`
}

// TournamentStateChanged is emitted when a tournament's active flag is written
type TournamentStateChanged struct {
	TournamentID string `json:"tournament_id"`
	WasActive    bool   `json:"was_active"`
	IsActive     bool   `json:"is_active"`
}

// Deactivated reports the active -> inactive transition
func (e TournamentStateChanged) Deactivated() bool {
	return e.WasActive && !e.IsActive
}

// TimerFired is emitted by the scheduler or a manual trigger
type TimerFired struct {
	Job domain.Job `json:"job"`
}

// New builds an envelope around payload. key is used as the partition key so
// events of one subject keep their relative order.
func New(t Type, key string, payload any, at time.Time) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling %s payload: %w", t, err)
	}
	return Envelope{
		ID:         uuid.New().String(),
		Type:       t,
		Key:        key,
		OccurredAt: at,
		Payload:    data,
	}, nil
}

// Decode unmarshals the payload into v
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}
