package quota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/memstore"
)

func newTestExecutor(batchSize, perInvocation int) (*Executor, *memstore.Store) {
	st := memstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExecutor(st, st, batchSize, perInvocation, logger), st
}

// backlog serves ids "item-00".."item-NN" in key order
func backlog(n int) Fetch[string] {
	return func(ctx context.Context, after string, limit int) ([]string, error) {
		var out []string
		for i := 0; i < n && len(out) < limit; i++ {
			id := fmt.Sprintf("item-%02d", i)
			if id > after {
				out = append(out, id)
			}
		}
		return out, nil
	}
}

func identity(s string) string { return s }

func TestBudgetTakeAndSplit(t *testing.T) {
	b := NewBudget(10)
	assert.Equal(t, 4, b.Take(4))
	assert.Equal(t, 6, b.Take(8))
	assert.Equal(t, 0, b.Remaining())

	parts := NewBudget(9).Split(3)
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.Equal(t, 3, p.Remaining())
	}

	assert.Nil(t, NewBudget(5).Split(0))
}

func TestBudgetSplitNeverExceedsParent(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		n     int
		want  []int
	}{
		{name: "fewer ops than parts", limit: 2, n: 5, want: []int{1, 1, 0, 0, 0}},
		{name: "remainder to first", limit: 10, n: 3, want: []int{4, 3, 3}},
		{name: "empty parent", limit: 0, n: 2, want: []int{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := NewBudget(tt.limit)
			parts := parent.Split(tt.n)
			require.Len(t, parts, tt.n)

			sum := 0
			for i, p := range parts {
				assert.Equal(t, tt.want[i], p.Remaining())
				sum += p.Remaining()
			}
			assert.Equal(t, tt.limit, sum)
			assert.Equal(t, 0, parent.Remaining())
		})
	}
}

func TestDrainResumesAcrossInvocations(t *testing.T) {
	e, st := newTestExecutor(3, 5)
	ctx := context.Background()

	var seen []string
	process := func(ctx context.Context, batch []string) error {
		seen = append(seen, batch...)
		return nil
	}

	res, err := Drain(ctx, e, "job", e.NewBudget(), backlog(8), identity, process)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 2, res.Batches)
	assert.True(t, res.Remaining)

	cursor, err := st.LoadCursor(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, "item-04", cursor)

	res, err = Drain(ctx, e, "job", e.NewBudget(), backlog(8), identity, process)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.False(t, res.Remaining)

	cursor, err = st.LoadCursor(ctx, "job")
	require.NoError(t, err)
	assert.Empty(t, cursor)
	assert.Len(t, seen, 8)
	assert.Equal(t, "item-07", seen[7])
}

func TestDrainBatchesNeverExceedBatchSize(t *testing.T) {
	e, _ := newTestExecutor(4, 100)
	var sizes []int
	_, err := Drain(context.Background(), e, "job", e.NewBudget(), backlog(10), identity, func(ctx context.Context, batch []string) error {
		sizes = append(sizes, len(batch))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 2}, sizes)
}

func TestDrainKeepsCursorOnFailure(t *testing.T) {
	e, st := newTestExecutor(2, 100)
	ctx := context.Background()
	calls := 0
	_, err := Drain(ctx, e, "job", e.NewBudget(), backlog(6), identity, func(ctx context.Context, batch []string) error {
		calls++
		if calls == 2 {
			return errors.New("write failed")
		}
		return nil
	})
	require.Error(t, err)

	cursor, err := st.LoadCursor(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, "item-01", cursor)
}

func TestRecordStoresJobRun(t *testing.T) {
	e, st := newTestExecutor(2, 10)
	start := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	e.SetClock(func() time.Time { return start.Add(3 * time.Second) })

	e.Record(context.Background(), domain.JobCleanup, start, Result{Processed: 7, Remaining: true}, nil)
	e.Record(context.Background(), domain.JobCleanup, start, Result{}, errors.New("boom"))

	runs := st.JobRunsFor(domain.JobCleanup)
	require.Len(t, runs, 2)
	assert.Equal(t, 3*time.Second, runs[0].Duration)
	assert.Equal(t, 7, runs[0].Processed)
	assert.True(t, runs[0].Remaining)
	assert.Equal(t, "boom", runs[1].Error)
}
