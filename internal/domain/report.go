package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyReport aggregates one UTC day. It is written once and never updated.
type DailyReport struct {
	Date        string           `json:"date"`
	Players     PlayerStats      `json:"players"`
	Revenue     RevenueStats     `json:"revenue"`
	Gameplay    GameplayStats    `json:"gameplay"`
	Performance PerformanceStats `json:"performance"`
	CreatedAt   time.Time        `json:"created_at"`
}

type PlayerStats struct {
	New     int64 `json:"new"`
	Active  int64 `json:"active"`
	Flagged int64 `json:"flagged"`
}

type RevenueStats struct {
	Total     decimal.Decimal `json:"total"`
	Purchases int64           `json:"purchases"`
	Rejected  int64           `json:"rejected"`
}

type GameplayStats struct {
	Submissions  int64   `json:"submissions"`
	Valid        int64   `json:"valid"`
	Invalid      int64   `json:"invalid"`
	Errored      int64   `json:"errored"`
	AverageScore float64 `json:"average_score"`
	TopScore     int64   `json:"top_score"`
}

type PerformanceStats struct {
	JobRuns     int64 `json:"job_runs"`
	JobFailures int64 `json:"job_failures"`
}

// ReportDate formats the key of the day containing t
func ReportDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
