package domain

import "time"

// Job names a scheduled batch job
type Job string

const (
	JobRecomputeRanks    Job = "recompute_ranks"
	JobCleanup           Job = "leaderboard_cleanup"
	JobDetectSuspicious  Job = "detect_suspicious"
	JobDailyReport       Job = "daily_report"
	JobReprocessErrored  Job = "reprocess_errored"
	JobReprocessReceipts Job = "reprocess_errored_receipts"
	JobSettleTournaments Job = "settle_tournaments"
)

// Jobs lists every schedulable job
var Jobs = []Job{
	JobRecomputeRanks,
	JobCleanup,
	JobDetectSuspicious,
	JobDailyReport,
	JobReprocessErrored,
	JobReprocessReceipts,
	JobSettleTournaments,
}

// ParseJob validates a job name
func ParseJob(raw string) (Job, error) {
	for _, j := range Jobs {
		if string(j) == raw {
			return j, nil
		}
	}
	return "", ErrUnknownJob
}

// JobRun records the outcome of one job invocation
type JobRun struct {
	ID        string        `json:"id"`
	Job       Job           `json:"job"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Processed int           `json:"processed"`
	Remaining bool          `json:"remaining"`
	Error     string        `json:"error,omitempty"`
}
