package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrSubmissionNotFound   = errors.New("score submission not found")
	ErrReceiptNotFound      = errors.New("purchase receipt not found")
	ErrTournamentNotFound   = errors.New("tournament not found")
	ErrPlayerNotFound       = errors.New("player not found")
	ErrEntryNotFound        = errors.New("leaderboard entry not found")
	ErrReportNotFound       = errors.New("daily report not found")
	ErrInvalidScope         = errors.New("invalid leaderboard scope")
	ErrDuplicateTransaction = errors.New("transaction already validated")
	ErrSettlementClaimed    = errors.New("tournament settlement already claimed")
	ErrUnknownEventType     = errors.New("unknown event type")
	ErrUnknownJob           = errors.New("unknown job")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInternalError        = errors.New("internal server error")
)

// Reasons persisted on rejected submissions and receipts.
const (
	ReasonMissingFields        = "Missing required fields"
	ReasonScoreOutOfRange      = "Score out of range"
	ReasonRateLimited          = "Rate limit exceeded"
	ReasonUnrealisticScore     = "Unrealistic score improvement"
	ReasonGameTooShort         = "Game duration too short"
	ReasonDuplicateTransaction = "Duplicate transaction"
	ReasonUnknownProduct       = "Unknown product"
)

// ValidationError is a rejected input. The record is marked invalid with Reason
// and never retried automatically.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NewValidationError creates a ValidationError with a formatted reason
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// TransientStoreError wraps a store failure. The record is put in the error
// state and the invocation fails so the event can be redelivered.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientStoreError unless it already is one.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var t *TransientStoreError
	if errors.As(err, &t) {
		return err
	}
	return &TransientStoreError{Op: op, Err: err}
}

// ExternalValidationFailure is a receipt rejected by the platform verifier.
type ExternalValidationFailure struct {
	Platform Platform
	Reason   string
}

func (e *ExternalValidationFailure) Error() string {
	return fmt.Sprintf("%s verification failed: %s", e.Platform, e.Reason)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsTransient reports whether err is a TransientStoreError
func IsTransient(err error) bool {
	var t *TransientStoreError
	return errors.As(err, &t)
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrSubmissionNotFound) ||
		errors.Is(err, ErrReceiptNotFound) ||
		errors.Is(err, ErrTournamentNotFound) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrReportNotFound)
}
