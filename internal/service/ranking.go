package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arcade-backend/internal/config"
	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/quota"
	"github.com/arcade-backend/internal/store"
)

// ScoreMirror keeps a low-latency copy of each scope's scores. It only ever
// raises a score and answers live rank lookups; listings come from the store.
type ScoreMirror interface {
	RecordBest(ctx context.Context, scope domain.Scope, playerID string, score int64) error
	Sync(ctx context.Context, scope domain.Scope, entries []domain.LeaderboardEntry) error
	LiveRank(ctx context.Context, scope domain.Scope, playerID string) (int64, error)
}

// Broadcaster pushes leaderboard changes to connected clients
type Broadcaster interface {
	BroadcastRanks(scope domain.Scope, entries []domain.LeaderboardEntry)
	BroadcastTournamentSettled(tournament *domain.Tournament)
}

// RankingEngine maintains per-scope best-score entries and their ranks
type RankingEngine struct {
	boards      store.Leaderboards
	tournaments store.Tournaments
	mirror      ScoreMirror
	hub         Broadcaster
	exec        *quota.Executor
	cfg         config.GameConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewRankingEngine creates a ranking engine. mirror and hub may be nil.
func NewRankingEngine(
	boards store.Leaderboards,
	tournaments store.Tournaments,
	mirror ScoreMirror,
	hub Broadcaster,
	exec *quota.Executor,
	cfg config.GameConfig,
	logger *slog.Logger,
) *RankingEngine {
	return &RankingEngine{
		boards:      boards,
		tournaments: tournaments,
		mirror:      mirror,
		hub:         hub,
		exec:        exec,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock replaces the engine's clock
func (e *RankingEngine) SetClock(now func() time.Time) {
	e.now = now
}

// ScopesFor lists every scope an accepted submission fans out into
func (e *RankingEngine) ScopesFor(ctx context.Context, sub *domain.PendingScoreSubmission) ([]domain.Scope, error) {
	now := e.now()
	scopes := []domain.Scope{
		domain.GlobalScope(),
		domain.WeeklyScope(now),
		domain.DailyScope(now),
	}

	if len(sub.FriendIDs) > 0 {
		scopes = append(scopes, domain.FriendsScope(sub.PlayerID))
		seen := map[string]bool{sub.PlayerID: true}
		for _, friendID := range sub.FriendIDs {
			if len(seen) > e.cfg.MaxFriendFanout {
				break
			}
			if friendID == "" || seen[friendID] {
				continue
			}
			seen[friendID] = true
			scopes = append(scopes, domain.FriendsScope(friendID))
		}
	}

	if sub.TournamentID != "" {
		t, err := e.tournaments.GetTournament(ctx, sub.TournamentID)
		switch {
		case err == nil && t.Active:
			scopes = append(scopes, t.Scope())
		case err == nil:
			e.logger.Debug("tournament not active, skipping scope", "tournament_id", sub.TournamentID)
		case domain.IsNotFoundError(err):
			e.logger.Warn("submission references unknown tournament", "tournament_id", sub.TournamentID)
		default:
			return nil, fmt.Errorf("getting tournament: %w", err)
		}
	}
	return scopes, nil
}

// Submit applies a best-score-wins upsert of sub to every scope. It returns
// the number of scopes whose entry changed.
func (e *RankingEngine) Submit(ctx context.Context, sub *domain.PendingScoreSubmission, scopes []domain.Scope) (int, error) {
	now := e.now()
	updated := 0
	for _, scope := range scopes {
		written, err := e.boards.UpsertBest(ctx, domain.LeaderboardEntry{
			Scope:       scope,
			PlayerID:    sub.PlayerID,
			DisplayName: sub.DisplayName,
			Score:       sub.Score,
			AchievedAt:  sub.AchievedAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return updated, fmt.Errorf("upserting %s entry: %w", scope, err)
		}
		if !written {
			continue
		}
		updated++

		if e.mirror != nil {
			if err := e.mirror.RecordBest(ctx, scope, sub.PlayerID, sub.Score); err != nil {
				e.logger.Warn("failed to mirror score", "scope", scope, "player_id", sub.PlayerID, "error", err)
			}
		}
	}
	return updated, nil
}

// ActiveScopes returns the scopes whose ranks are recomputed
func (e *RankingEngine) ActiveScopes(ctx context.Context) ([]domain.Scope, error) {
	now := e.now()
	scopes := []domain.Scope{
		domain.GlobalScope(),
		domain.DailyScope(now),
		domain.WeeklyScope(now),
	}
	active, err := e.tournaments.ListActiveTournaments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active tournaments: %w", err)
	}
	for i := range active {
		scopes = append(scopes, active[i].Scope())
	}
	return scopes, nil
}

type rankedEntry struct {
	entry domain.LeaderboardEntry
	rank  int64
}

// RecomputeRanks assigns sequential ranks to the top entries of every active
// scope. The invocation budget is split evenly between scopes.
func (e *RankingEngine) RecomputeRanks(ctx context.Context) (quota.Result, error) {
	scopes, err := e.ActiveScopes(ctx)
	if err != nil {
		return quota.Result{}, err
	}
	budgets := e.exec.NewBudget().Split(len(scopes))

	var (
		mu    sync.Mutex
		total quota.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, scope := range scopes {
		i, scope := i, scope
		g.Go(func() error {
			res, err := e.recomputeScope(gctx, scope, budgets[i])
			mu.Lock()
			total = total.Add(res)
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("recomputing %s: %w", scope, err)
			}
			return nil
		})
	}
	err = g.Wait()
	return total, err
}

// rankCursor is the resumption key of a recompute pass: the last rank written
// and the pass that wrote it.
type rankCursor struct {
	offset int
	pass   time.Time
}

func (c rankCursor) String() string {
	return strconv.Itoa(c.offset) + "@" + strconv.FormatInt(c.pass.UnixNano(), 10)
}

func parseRankCursor(s string) (rankCursor, error) {
	offset, pass, ok := strings.Cut(s, "@")
	if !ok {
		return rankCursor{}, fmt.Errorf("malformed rank cursor %q", s)
	}
	n, err := strconv.Atoi(offset)
	if err != nil {
		return rankCursor{}, fmt.Errorf("parsing rank cursor %q: %w", s, err)
	}
	nanos, err := strconv.ParseInt(pass, 10, 64)
	if err != nil {
		return rankCursor{}, fmt.Errorf("parsing rank cursor %q: %w", s, err)
	}
	return rankCursor{offset: n, pass: time.Unix(0, nanos).UTC()}, nil
}

// recomputeScope ranks the top entries of scope in one pass that may span
// invocations. Every rank written carries the pass time; once the pass
// completes, ranks from earlier passes are cleared so entries that left the
// top or moved are not reported with a stale rank.
func (e *RankingEngine) recomputeScope(ctx context.Context, scope domain.Scope, budget *quota.Budget) (quota.Result, error) {
	maxEntries := e.cfg.MaxEntriesPerScope

	// one op is held back for clearing stale ranks
	if budget.Take(1) == 0 {
		return quota.Result{Remaining: true}, nil
	}

	var pass time.Time
	fetch := func(ctx context.Context, after string, limit int) ([]rankedEntry, error) {
		cur := rankCursor{pass: e.now().UTC().Truncate(time.Microsecond)}
		if after != "" {
			parsed, err := parseRankCursor(after)
			if err != nil {
				return nil, err
			}
			cur = parsed
		}
		pass = cur.pass

		if cur.offset >= maxEntries {
			return nil, nil
		}
		if left := maxEntries - cur.offset; left < limit {
			limit = left
		}
		entries, err := e.boards.TopEntries(ctx, scope, cur.offset, limit)
		if err != nil {
			return nil, err
		}
		out := make([]rankedEntry, len(entries))
		for i, entry := range entries {
			out[i] = rankedEntry{entry: entry, rank: int64(cur.offset + i + 1)}
		}
		return out, nil
	}

	process := func(ctx context.Context, batch []rankedEntry) error {
		ranks := make([]domain.RankAssignment, len(batch))
		entries := make([]domain.LeaderboardEntry, len(batch))
		for i, r := range batch {
			ranks[i] = domain.RankAssignment{PlayerID: r.entry.PlayerID, Rank: r.rank}
			entries[i] = r.entry
		}
		if err := e.boards.SetRanks(ctx, scope, ranks, pass); err != nil {
			return err
		}
		if e.mirror != nil {
			if err := e.mirror.Sync(ctx, scope, entries); err != nil {
				e.logger.Warn("failed to sync mirror", "scope", scope, "error", err)
			}
		}
		return nil
	}

	key := func(r rankedEntry) string {
		return rankCursor{offset: int(r.rank), pass: pass}.String()
	}

	res, err := quota.Drain(ctx, e.exec, "ranks:"+string(scope), budget, fetch, key, process)
	if err != nil || res.Remaining || pass.IsZero() {
		return res, err
	}

	cleared, err := e.boards.ClearStaleRanks(ctx, scope, pass)
	if err != nil {
		return res, fmt.Errorf("clearing stale ranks: %w", err)
	}
	if cleared > 0 {
		e.logger.Debug("cleared stale ranks", "scope", scope, "cleared", cleared)
	}

	if e.hub != nil && res.Processed > 0 {
		top, err := e.boards.TopEntries(ctx, scope, 0, e.cfg.BroadcastTopN)
		if err != nil {
			e.logger.Warn("failed to load top entries for broadcast", "scope", scope, "error", err)
		} else {
			e.hub.BroadcastRanks(scope, top)
		}
	}
	return res, nil
}

// Cleanup deletes daily and weekly entries created before their retention
// window, in batches bounded by the executor.
func (e *RankingEngine) Cleanup(ctx context.Context) (quota.Result, error) {
	now := e.now()
	budget := e.exec.NewBudget()
	windows := []struct {
		kind      domain.ScopeKind
		retention time.Duration
	}{
		{domain.ScopeDaily, e.cfg.DailyRetention},
		{domain.ScopeWeekly, e.cfg.WeeklyRetention},
	}

	var total quota.Result
	for _, w := range windows {
		cutoff := now.Add(-w.retention)
		fetch := func(ctx context.Context, after string, limit int) ([]domain.EntryKey, error) {
			return e.boards.ListExpiredEntries(ctx, w.kind, cutoff, domain.ParseEntryKey(after), limit)
		}
		process := func(ctx context.Context, keys []domain.EntryKey) error {
			deleted, err := e.boards.DeleteEntries(ctx, keys)
			if err != nil {
				return err
			}
			e.logger.Debug("deleted expired entries", "kind", w.kind, "deleted", deleted)
			return nil
		}

		res, err := quota.Drain(ctx, e.exec, "cleanup:"+string(w.kind), budget, fetch, domain.EntryKey.String, process)
		total = total.Add(res)
		if err != nil {
			return total, fmt.Errorf("cleaning %s entries: %w", w.kind, err)
		}
	}
	return total, nil
}

// Top returns the best n entries of scope in rank order
func (e *RankingEngine) Top(ctx context.Context, scope domain.Scope, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 || n > e.cfg.MaxEntriesPerScope {
		n = e.cfg.BroadcastTopN
	}
	entries, err := e.boards.TopEntries(ctx, scope, 0, n)
	if err != nil {
		return nil, fmt.Errorf("reading top entries: %w", err)
	}
	return entries, nil
}

// Entry returns a player's entry in scope. When the mirror is available the
// entry carries its live rank; a player missing from the mirror is restored
// from the store first.
func (e *RankingEngine) Entry(ctx context.Context, scope domain.Scope, playerID string) (*domain.LeaderboardEntry, error) {
	entry, err := e.boards.GetEntry(ctx, scope, playerID)
	if err != nil || e.mirror == nil {
		return entry, err
	}

	rank, err := e.mirror.LiveRank(ctx, scope, playerID)
	if errors.Is(err, domain.ErrEntryNotFound) {
		if err = e.mirror.RecordBest(ctx, scope, playerID, entry.Score); err == nil {
			rank, err = e.mirror.LiveRank(ctx, scope, playerID)
		}
	}
	if err != nil {
		e.logger.Warn("live rank unavailable", "scope", scope, "player_id", playerID, "error", err)
		return entry, nil
	}
	entry.LiveRank = &rank
	return entry, nil
}
