package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/quota"
	"github.com/arcade-backend/internal/store"
)

// Reporter writes one immutable summary per UTC day
type Reporter struct {
	reports store.Reports
	logger  *slog.Logger
	now     func() time.Time
}

// NewReporter creates a daily report aggregator
func NewReporter(reports store.Reports, logger *slog.Logger) *Reporter {
	return &Reporter{reports: reports, logger: logger, now: time.Now}
}

// SetClock replaces the reporter's clock
func (r *Reporter) SetClock(now func() time.Time) {
	r.now = now
}

// GenerateDailyReport aggregates the UTC day containing day. It reports false
// when the day already had a report, which is left unchanged.
func (r *Reporter) GenerateDailyReport(ctx context.Context, day time.Time) (*domain.DailyReport, bool, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	report, err := r.reports.AggregateDay(ctx, start, end)
	if err != nil {
		return nil, false, fmt.Errorf("aggregating %s: %w", domain.ReportDate(start), err)
	}
	report.Date = domain.ReportDate(start)
	report.CreatedAt = r.now()

	created, err := r.reports.CreateReport(ctx, report)
	if err != nil {
		return nil, false, fmt.Errorf("creating report: %w", err)
	}
	if !created {
		existing, err := r.reports.GetReport(ctx, report.Date)
		if err != nil {
			return nil, false, fmt.Errorf("loading report: %w", err)
		}
		return existing, false, nil
	}

	r.logger.Info("daily report created",
		"date", report.Date,
		"active_players", report.Players.Active,
		"submissions", report.Gameplay.Submissions,
		"revenue", report.Revenue.Total.String(),
	)
	return report, true, nil
}

// Run reports the previous UTC day
func (r *Reporter) Run(ctx context.Context) (quota.Result, error) {
	_, created, err := r.GenerateDailyReport(ctx, r.now().Add(-24*time.Hour))
	if err != nil {
		return quota.Result{}, err
	}
	res := quota.Result{}
	if created {
		res.Processed = 1
	}
	return res, nil
}

// Get returns the report of date
func (r *Reporter) Get(ctx context.Context, date string) (*domain.DailyReport, error) {
	return r.reports.GetReport(ctx, date)
}
