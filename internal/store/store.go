// Package store declares the ports every component reads and writes through.
// The shared durable store is the only source of truth between invocations.
package store

import (
	"context"
	"time"

	"github.com/arcade-backend/internal/domain"
)

// Submissions persists pending score submissions
type Submissions interface {
	// CreateSubmission inserts the submission; an existing id is left untouched.
	CreateSubmission(ctx context.Context, sub *domain.PendingScoreSubmission) error
	GetSubmission(ctx context.Context, id string) (*domain.PendingScoreSubmission, error)
	// MarkSubmission moves a non-terminal submission to status. It reports false
	// when the submission was already terminal.
	MarkSubmission(ctx context.Context, id string, status domain.SubmissionStatus, reason string, at time.Time) (bool, error)
	// RecentBestScore returns the best of the player's last limit valid submissions.
	RecentBestScore(ctx context.Context, playerID string, limit int) (int64, bool, error)
	// ListRetryableSubmissions pages submissions that are in the error state, or
	// still pending and created before staleBefore, ordered by id.
	ListRetryableSubmissions(ctx context.Context, staleBefore time.Time, afterID string, limit int) ([]domain.PendingScoreSubmission, error)
}

// Leaderboards persists per-scope best-score entries
type Leaderboards interface {
	// UpsertBest atomically creates the entry or raises its score when the new
	// score is strictly greater. It reports whether anything was written.
	UpsertBest(ctx context.Context, entry domain.LeaderboardEntry) (bool, error)
	GetEntry(ctx context.Context, scope domain.Scope, playerID string) (*domain.LeaderboardEntry, error)
	// TopEntries returns entries ordered by domain.Outranks.
	TopEntries(ctx context.Context, scope domain.Scope, offset, limit int) ([]domain.LeaderboardEntry, error)
	// SetRanks writes ranks stamped with the recompute pass they belong to.
	SetRanks(ctx context.Context, scope domain.Scope, ranks []domain.RankAssignment, pass time.Time) error
	// ClearStaleRanks drops every rank of scope not written by pass and returns
	// how many were cleared.
	ClearStaleRanks(ctx context.Context, scope domain.Scope, pass time.Time) (int, error)
	// ListExpiredEntries pages entries of kind created before cutoff, ordered by key.
	ListExpiredEntries(ctx context.Context, kind domain.ScopeKind, cutoff time.Time, after domain.EntryKey, limit int) ([]domain.EntryKey, error)
	DeleteEntries(ctx context.Context, keys []domain.EntryKey) (int, error)
}

// Players persists accounts and wallets
type Players interface {
	TouchPlayer(ctx context.Context, playerID, displayName string, at time.Time) error
	// ApplyCurrency applies every grant as an increment in one write batch.
	ApplyCurrency(ctx context.Context, grants []domain.CurrencyGrant, at time.Time) error
	GetWallet(ctx context.Context, playerID string) (*domain.Wallet, error)
}

// Receipts persists purchase receipts and the processed-transaction ledger
type Receipts interface {
	CreateReceipt(ctx context.Context, receipt *domain.PurchaseReceipt) error
	GetReceipt(ctx context.Context, id string) (*domain.PurchaseReceipt, error)
	IsTransactionClaimed(ctx context.Context, platform domain.Platform, transactionID string) (bool, error)
	// CompletePurchase claims the transaction, credits the wallet, updates the
	// ledger and marks the receipt validated as one unit. It returns
	// domain.ErrDuplicateTransaction when the transaction was already claimed.
	CompletePurchase(ctx context.Context, grant domain.PurchaseGrant) error
	// RejectReceipt marks a non-terminal receipt validated=false.
	RejectReceipt(ctx context.Context, id, reason string, result *domain.VerificationResult, at time.Time) error
	// MarkReceiptErrored records a processing failure on a non-terminal receipt.
	MarkReceiptErrored(ctx context.Context, id, reason string, at time.Time) error
	// ListRetryableReceipts pages receipts without a verdict that either failed
	// processing or were created before staleBefore, ordered by id.
	ListRetryableReceipts(ctx context.Context, staleBefore time.Time, afterID string, limit int) ([]domain.PurchaseReceipt, error)
}

// Tournaments persists tournaments
type Tournaments interface {
	CreateTournament(ctx context.Context, t *domain.Tournament) error
	GetTournament(ctx context.Context, id string) (*domain.Tournament, error)
	// SetTournamentActive updates the flag and returns the previous value. The
	// active -> inactive transition stamps EndedAt; activation clears it.
	SetTournamentActive(ctx context.Context, id string, active bool, at time.Time) (bool, error)
	ListActiveTournaments(ctx context.Context) ([]domain.Tournament, error)
	// ListUnsettledTournaments pages ended tournaments whose results were never
	// processed, ordered by id.
	ListUnsettledTournaments(ctx context.Context, afterID string, limit int) ([]domain.Tournament, error)
	// ClaimSettlement flips resultsProcessed false->true on an inactive
	// tournament. Exactly one caller observes true.
	ClaimSettlement(ctx context.Context, id string, at time.Time) (bool, error)
	SaveResults(ctx context.Context, id string, rankings []domain.FinalRanking, at time.Time) error
}

// Telemetry persists gameplay events
type Telemetry interface {
	RecordGameplay(ctx context.Context, events []domain.GameplayEvent) error
	// ListActivePlayers pages players with at least minEvents game_end events since.
	ListActivePlayers(ctx context.Context, since time.Time, minEvents int, afterPlayer string, limit int) ([]string, error)
	// RecentScores returns the player's game_end scores since, oldest first.
	RecentScores(ctx context.Context, playerID string, since time.Time, limit int) ([]int64, error)
}

// Flags persists the human review queue
type Flags interface {
	// FlagPlayer merges reasons into the player's flag, creating it pending_review.
	FlagPlayer(ctx context.Context, playerID string, reasons []string, at time.Time) error
	ListFlagged(ctx context.Context, status domain.FlagStatus, limit int) ([]domain.FlaggedPlayer, error)
}

// Reports persists daily reports
type Reports interface {
	AggregateDay(ctx context.Context, start, end time.Time) (*domain.DailyReport, error)
	// CreateReport writes the report unless one exists for the date.
	CreateReport(ctx context.Context, report *domain.DailyReport) (bool, error)
	GetReport(ctx context.Context, date string) (*domain.DailyReport, error)
}

// Cursors persists per-job resumption keys
type Cursors interface {
	LoadCursor(ctx context.Context, job string) (string, error)
	SaveCursor(ctx context.Context, job, key string) error
}

// JobRuns records job outcomes
type JobRuns interface {
	RecordJobRun(ctx context.Context, run domain.JobRun) error
}

// RateKey identifies a rate-limited (subject, action, window) bucket
type RateKey struct {
	Subject string
	Action  string
	Window  time.Duration
}

// RateLimiter counts events per RateKey in a rolling window.
type RateLimiter interface {
	// Allow records member in the bucket when fewer than limit members fall in
	// the window ending at now. A member already recorded is allowed again.
	Allow(ctx context.Context, key RateKey, member string, limit int, now time.Time) (bool, error)
}

// Store aggregates every port
type Store interface {
	Submissions
	Leaderboards
	Players
	Receipts
	Tournaments
	Telemetry
	Flags
	Reports
	Cursors
	JobRuns
}
