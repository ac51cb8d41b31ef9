// Package quota bounds the operations a batch job issues per invocation and
// persists where the job stopped so the next invocation resumes from there.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/store"
)

// Budget caps the operations of one invocation. It is safe for concurrent use.
type Budget struct {
	mu    sync.Mutex
	limit int
	used  int
}

// NewBudget creates a budget of limit operations
func NewBudget(limit int) *Budget {
	if limit < 0 {
		limit = 0
	}
	return &Budget{limit: limit}
}

// Remaining returns the operations left
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit - b.used
}

// Take consumes up to n operations and returns how many were granted
func (b *Budget) Take(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	left := b.limit - b.used
	if n > left {
		n = left
	}
	if n < 0 {
		n = 0
	}
	b.used += n
	return n
}

// Split moves the remaining budget into n budgets whose limits differ by at
// most one and sum to what remained. The first budgets take the remainder.
func (b *Budget) Split(n int) []*Budget {
	if n <= 0 {
		return nil
	}
	total := b.Take(b.Remaining())
	share, extra := total/n, total%n
	out := make([]*Budget, n)
	for i := range out {
		limit := share
		if i < extra {
			limit++
		}
		out[i] = NewBudget(limit)
	}
	return out
}

// Result summarises one drain
type Result struct {
	Processed int
	Batches   int
	// Remaining is true when the budget ran out before the backlog did
	Remaining bool
}

// Add merges r2 into r
func (r Result) Add(r2 Result) Result {
	return Result{
		Processed: r.Processed + r2.Processed,
		Batches:   r.Batches + r2.Batches,
		Remaining: r.Remaining || r2.Remaining,
	}
}

// Fetch returns up to limit items following the resumption key after
type Fetch[T any] func(ctx context.Context, after string, limit int) ([]T, error)

// Process handles one batch
type Process[T any] func(ctx context.Context, batch []T) error

// Executor runs quota-bounded batch jobs
type Executor struct {
	cursors       store.Cursors
	runs          store.JobRuns
	batchSize     int
	perInvocation int
	logger        *slog.Logger
	now           func() time.Time
}

// NewExecutor creates an executor. batchSize caps a single write batch and
// perInvocation caps the operations of one job invocation.
func NewExecutor(cursors store.Cursors, runs store.JobRuns, batchSize, perInvocation int, logger *slog.Logger) *Executor {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Executor{
		cursors:       cursors,
		runs:          runs,
		batchSize:     batchSize,
		perInvocation: perInvocation,
		logger:        logger,
		now:           time.Now,
	}
}

// SetClock replaces the clock used to time job runs
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// NewBudget returns a fresh budget for one invocation
func (e *Executor) NewBudget() *Budget {
	return NewBudget(e.perInvocation)
}

// Drain processes the backlog of cursorKey in batches no larger than the
// executor's batch size until the backlog or the budget is exhausted. The
// resumption key is saved after every batch and cleared once the backlog is
// empty.
func Drain[T any](ctx context.Context, e *Executor, cursorKey string, budget *Budget, fetch Fetch[T], key func(T) string, process Process[T]) (Result, error) {
	var res Result

	after, err := e.cursors.LoadCursor(ctx, cursorKey)
	if err != nil {
		return res, fmt.Errorf("loading cursor %s: %w", cursorKey, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		limit := e.batchSize
		if left := budget.Remaining(); left < limit {
			limit = left
		}
		if limit <= 0 {
			res.Remaining = true
			return res, nil
		}

		items, err := fetch(ctx, after, limit)
		if err != nil {
			return res, fmt.Errorf("fetching batch: %w", err)
		}
		if len(items) == 0 {
			return res, e.resetCursor(ctx, cursorKey, after)
		}

		if err := process(ctx, items); err != nil {
			return res, fmt.Errorf("processing batch: %w", err)
		}
		budget.Take(len(items))
		res.Processed += len(items)
		res.Batches++

		after = key(items[len(items)-1])
		if len(items) < limit {
			return res, e.resetCursor(ctx, cursorKey, after)
		}
		if err := e.cursors.SaveCursor(ctx, cursorKey, after); err != nil {
			return res, fmt.Errorf("saving cursor %s: %w", cursorKey, err)
		}
	}
}

func (e *Executor) resetCursor(ctx context.Context, cursorKey, after string) error {
	if after == "" {
		return nil
	}
	if err := e.cursors.SaveCursor(ctx, cursorKey, ""); err != nil {
		return fmt.Errorf("resetting cursor %s: %w", cursorKey, err)
	}
	return nil
}

// Record persists and logs the outcome of one job invocation
func (e *Executor) Record(ctx context.Context, job domain.Job, startedAt time.Time, res Result, runErr error) {
	run := domain.JobRun{
		ID:        uuid.New().String(),
		Job:       job,
		StartedAt: startedAt,
		Duration:  e.now().Sub(startedAt),
		Processed: res.Processed,
		Remaining: res.Remaining,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	if err := e.runs.RecordJobRun(ctx, run); err != nil {
		e.logger.Warn("failed to record job run", "job", job, "error", err)
	}

	if runErr != nil {
		e.logger.Error("job failed",
			"job", job,
			"duration", run.Duration,
			"processed", res.Processed,
			"error", runErr,
		)
		return
	}
	e.logger.Info("job completed",
		"job", job,
		"duration", run.Duration,
		"processed", res.Processed,
		"batches", res.Batches,
		"remaining", res.Remaining,
	)
}
