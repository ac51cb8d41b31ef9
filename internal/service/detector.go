package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcade-backend/internal/config"
	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/quota"
	"github.com/arcade-backend/internal/store"
)

// Detector scans recent gameplay for bot-like or implausible score patterns
// and queues the players it finds for human review.
type Detector struct {
	telemetry store.Telemetry
	flags     store.Flags
	exec      *quota.Executor
	cfg       config.DetectorConfig
	game      config.GameConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewDetector creates a suspicious activity detector
func NewDetector(
	telemetry store.Telemetry,
	flags store.Flags,
	exec *quota.Executor,
	cfg config.DetectorConfig,
	game config.GameConfig,
	logger *slog.Logger,
) *Detector {
	return &Detector{
		telemetry: telemetry,
		flags:     flags,
		exec:      exec,
		cfg:       cfg,
		game:      game,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the detector's clock
func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
}

// Run scans every player with enough scores in the detection window
func (d *Detector) Run(ctx context.Context) (quota.Result, error) {
	since := d.now().Add(-d.cfg.Window)

	fetch := func(ctx context.Context, after string, limit int) ([]string, error) {
		return d.telemetry.ListActivePlayers(ctx, since, d.cfg.MinScores, after, limit)
	}
	process := func(ctx context.Context, players []string) error {
		for _, playerID := range players {
			if err := d.scan(ctx, playerID, since); err != nil {
				return err
			}
		}
		return nil
	}
	key := func(playerID string) string { return playerID }

	return quota.Drain(ctx, d.exec, string(domain.JobDetectSuspicious), d.exec.NewBudget(), fetch, key, process)
}

func (d *Detector) scan(ctx context.Context, playerID string, since time.Time) error {
	scores, err := d.telemetry.RecentScores(ctx, playerID, since, d.cfg.RecentScores)
	if err != nil {
		return fmt.Errorf("loading scores of %s: %w", playerID, err)
	}
	reasons := d.Analyze(scores)
	if len(reasons) == 0 {
		return nil
	}

	if err := d.flags.FlagPlayer(ctx, playerID, reasons, d.now()); err != nil {
		return fmt.Errorf("flagging %s: %w", playerID, err)
	}
	d.logger.Warn("player flagged for review", "player_id", playerID, "reasons", reasons)
	return nil
}

// Analyze applies the heuristics to scores ordered oldest first and returns
// the reasons that fired.
func (d *Detector) Analyze(scores []int64) []string {
	if len(scores) < d.cfg.MinScores || len(scores) < 2 {
		return nil
	}

	var reasons []string

	// run of identical scores ending at the latest one
	last := scores[len(scores)-1]
	run := 1
	for i := len(scores) - 2; i >= 0 && scores[i] == last; i-- {
		run++
	}
	if run > d.cfg.RepeatThreshold {
		reasons = append(reasons, fmt.Sprintf("Identical score %d repeated more than %d times", last, d.cfg.RepeatThreshold))
	}

	for i := 1; i < len(scores); i++ {
		prev, cur := scores[i-1], scores[i]
		if prev > 0 && float64(cur) > float64(prev)*d.game.MaxImprovementRatio {
			reasons = append(reasons, fmt.Sprintf("Score jumped from %d to %d", prev, cur))
			break
		}
	}

	maxScore := scores[0]
	for _, s := range scores[1:] {
		maxScore = max(maxScore, s)
	}
	if float64(maxScore) > d.cfg.HighScoreFraction*float64(d.game.MaxReasonableScore) {
		reasons = append(reasons, fmt.Sprintf("Score %d near the maximum", maxScore))
	}
	return reasons
}
