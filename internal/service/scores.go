package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arcade-backend/internal/config"
	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/events"
	"github.com/arcade-backend/internal/quota"
	"github.com/arcade-backend/internal/store"
)

const actionScoreSubmission = "score_submission"

// SubmitScoreRequest is the client payload of a score submission
type SubmitScoreRequest struct {
	PlayerID       string    `json:"player_id"`
	DisplayName    string    `json:"display_name"`
	Score          int64     `json:"score"`
	AchievedAt     time.Time `json:"achieved_at"`
	GameDurationMs *int64    `json:"game_duration_ms,omitempty"`
	BotUsed        bool      `json:"bot_used"`
	FriendIDs      []string  `json:"friend_ids,omitempty"`
	TournamentID   string    `json:"tournament_id,omitempty"`
}

// ScoreValidator applies anti-cheat checks to submissions and fans accepted
// scores out to the leaderboards.
type ScoreValidator struct {
	submissions store.Submissions
	players     store.Players
	telemetry   store.Telemetry
	limiter     store.RateLimiter
	ranking     *RankingEngine
	publisher   events.Publisher
	exec        *quota.Executor
	cfg         config.GameConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewScoreValidator creates a score validator
func NewScoreValidator(
	st store.Store,
	limiter store.RateLimiter,
	ranking *RankingEngine,
	publisher events.Publisher,
	exec *quota.Executor,
	cfg config.GameConfig,
	logger *slog.Logger,
) *ScoreValidator {
	return &ScoreValidator{
		submissions: st,
		players:     st,
		telemetry:   st,
		limiter:     limiter,
		ranking:     ranking,
		publisher:   publisher,
		exec:        exec,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock replaces the validator's clock
func (v *ScoreValidator) SetClock(now func() time.Time) {
	v.now = now
}

// Enqueue stores a pending submission and publishes its creation event
func (v *ScoreValidator) Enqueue(ctx context.Context, req SubmitScoreRequest) (*domain.PendingScoreSubmission, error) {
	sub := &domain.PendingScoreSubmission{
		ID:             uuid.New().String(),
		PlayerID:       req.PlayerID,
		DisplayName:    req.DisplayName,
		Score:          req.Score,
		AchievedAt:     req.AchievedAt,
		GameDurationMs: req.GameDurationMs,
		BotUsed:        req.BotUsed,
		FriendIDs:      req.FriendIDs,
		TournamentID:   req.TournamentID,
		Status:         domain.SubmissionPending,
		CreatedAt:      v.now(),
	}
	if err := v.submissions.CreateSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("creating submission: %w", err)
	}

	env, err := events.New(events.TypeScoreSubmitted, sub.PlayerID, events.ScoreSubmitted{Submission: *sub}, sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := v.publisher.Publish(ctx, env); err != nil {
		return nil, fmt.Errorf("publishing submission: %w", err)
	}
	return v.submissions.GetSubmission(ctx, sub.ID)
}

// Get returns a submission by id
func (v *ScoreValidator) Get(ctx context.Context, id string) (*domain.PendingScoreSubmission, error) {
	return v.submissions.GetSubmission(ctx, id)
}

// HandleSubmitted is the score.submitted event handler
func (v *ScoreValidator) HandleSubmitted(ctx context.Context, env events.Envelope) error {
	var payload events.ScoreSubmitted
	if err := env.Decode(&payload); err != nil {
		return err
	}
	sub := payload.Submission
	if sub.ID == "" {
		sub.ID = env.ID
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = env.OccurredAt
	}
	sub.Status = domain.SubmissionPending
	if err := v.submissions.CreateSubmission(ctx, &sub); err != nil {
		return domain.Transient("creating submission", err)
	}
	return v.Process(ctx, sub.ID)
}

// Process validates one submission. A terminal submission is left untouched,
// so redelivery of the same event never counts a score twice.
func (v *ScoreValidator) Process(ctx context.Context, id string) error {
	sub, err := v.submissions.GetSubmission(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSubmissionNotFound) {
			return err
		}
		return domain.Transient("loading submission", err)
	}
	if sub.Terminal() {
		v.logger.Debug("submission already processed", "submission_id", id, "status", sub.Status)
		return nil
	}

	err = v.validate(ctx, sub)
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		v.logger.Info("score rejected",
			"submission_id", sub.ID,
			"player_id", sub.PlayerID,
			"score", sub.Score,
			"reason", verr.Reason,
		)
		return v.mark(ctx, sub, domain.SubmissionInvalid, verr.Reason)
	}
	if err == nil {
		err = v.accept(ctx, sub)
	}
	if err != nil {
		v.logger.Error("score processing failed", "submission_id", sub.ID, "player_id", sub.PlayerID, "error", err)
		if markErr := v.mark(ctx, sub, domain.SubmissionError, err.Error()); markErr != nil {
			v.logger.Error("failed to mark submission errored", "submission_id", sub.ID, "error", markErr)
		}
		return domain.Transient("processing submission", err)
	}

	return v.mark(ctx, sub, domain.SubmissionValid, "")
}

func (v *ScoreValidator) validate(ctx context.Context, sub *domain.PendingScoreSubmission) error {
	if sub.PlayerID == "" || sub.DisplayName == "" || sub.AchievedAt.IsZero() {
		return &domain.ValidationError{Reason: domain.ReasonMissingFields}
	}

	if sub.Score < 0 || sub.Score > v.cfg.MaxReasonableScore {
		return &domain.ValidationError{Reason: domain.ReasonScoreOutOfRange}
	}

	at := sub.CreatedAt
	if at.IsZero() {
		at = v.now()
	}
	allowed, err := v.limiter.Allow(ctx, store.RateKey{
		Subject: sub.PlayerID,
		Action:  actionScoreSubmission,
		Window:  time.Minute,
	}, sub.ID, v.cfg.MaxSubmissionsPerMinute, at)
	if err != nil {
		return fmt.Errorf("checking submission rate: %w", err)
	}
	if !allowed {
		return &domain.ValidationError{Reason: domain.ReasonRateLimited}
	}

	best, ok, err := v.submissions.RecentBestScore(ctx, sub.PlayerID, v.cfg.RecentHistorySize)
	if err != nil {
		return fmt.Errorf("loading recent best: %w", err)
	}
	if ok && best > 0 && float64(sub.Score) > float64(best)*v.cfg.MaxImprovementRatio {
		return &domain.ValidationError{Reason: domain.ReasonUnrealisticScore}
	}

	if d, ok := sub.GameDuration(); ok && d < v.cfg.MinGameDuration {
		return &domain.ValidationError{Reason: domain.ReasonGameTooShort}
	}
	return nil
}

func (v *ScoreValidator) accept(ctx context.Context, sub *domain.PendingScoreSubmission) error {
	scopes, err := v.ranking.ScopesFor(ctx, sub)
	if err != nil {
		return err
	}
	updated, err := v.ranking.Submit(ctx, sub, scopes)
	if err != nil {
		return err
	}

	now := v.now()
	if err := v.players.TouchPlayer(ctx, sub.PlayerID, sub.DisplayName, now); err != nil {
		return fmt.Errorf("touching player: %w", err)
	}

	event := domain.GameplayEvent{
		ID:             sub.ID,
		PlayerID:       sub.PlayerID,
		Type:           domain.GameplayEventGameEnd,
		Score:          sub.Score,
		GameDurationMs: sub.GameDurationMs,
		OccurredAt:     sub.AchievedAt,
		Metadata:       map[string]any{"bot_used": sub.BotUsed},
	}
	if err := v.telemetry.RecordGameplay(ctx, []domain.GameplayEvent{event}); err != nil {
		return fmt.Errorf("recording gameplay: %w", err)
	}

	v.logger.Info("score accepted",
		"submission_id", sub.ID,
		"player_id", sub.PlayerID,
		"score", sub.Score,
		"scopes", len(scopes),
		"updated", updated,
	)
	return nil
}

func (v *ScoreValidator) mark(ctx context.Context, sub *domain.PendingScoreSubmission, status domain.SubmissionStatus, reason string) error {
	if _, err := v.submissions.MarkSubmission(ctx, sub.ID, status, reason, v.now()); err != nil {
		return domain.Transient("marking submission", err)
	}
	return nil
}

// ReprocessErrored re-runs validation for submissions left in the error state
// and for pending ones older than the grace period
func (v *ScoreValidator) ReprocessErrored(ctx context.Context) (quota.Result, error) {
	staleBefore := v.now().Add(-v.cfg.PendingGracePeriod)
	fetch := func(ctx context.Context, after string, limit int) ([]domain.PendingScoreSubmission, error) {
		return v.submissions.ListRetryableSubmissions(ctx, staleBefore, after, limit)
	}
	key := func(s domain.PendingScoreSubmission) string { return s.ID }
	process := func(ctx context.Context, batch []domain.PendingScoreSubmission) error {
		for _, sub := range batch {
			if err := v.Process(ctx, sub.ID); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				v.logger.Warn("reprocessing failed", "submission_id", sub.ID, "error", err)
			}
		}
		return nil
	}
	return quota.Drain(ctx, v.exec, string(domain.JobReprocessErrored), v.exec.NewBudget(), fetch, key, process)
}

// RecordTelemetry stores client gameplay events for the suspicious activity scan
func (v *ScoreValidator) RecordTelemetry(ctx context.Context, batch []domain.GameplayEvent) (int, error) {
	now := v.now()
	kept := make([]domain.GameplayEvent, 0, len(batch))
	for _, e := range batch {
		if e.PlayerID == "" || e.Type == "" {
			continue
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.OccurredAt.IsZero() {
			e.OccurredAt = now
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		return 0, domain.ErrInvalidRequest
	}
	if err := v.telemetry.RecordGameplay(ctx, kept); err != nil {
		return 0, fmt.Errorf("recording gameplay: %w", err)
	}
	return len(kept), nil
}
