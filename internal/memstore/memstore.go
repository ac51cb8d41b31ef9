// Package memstore is an in-process implementation of the store ports. Every
// operation runs under one mutex, so conditional updates are atomic exactly as
// their Postgres counterparts.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/store"
)

// Store keeps every entity in memory
type Store struct {
	mu sync.Mutex

	submissions  map[string]*domain.PendingScoreSubmission
	entries      map[domain.Scope]map[string]*domain.LeaderboardEntry
	players      map[string]*domain.Player
	wallets      map[string]*domain.Wallet
	receipts     map[string]*domain.PurchaseReceipt
	transactions map[string]string
	tournaments  map[string]*domain.Tournament
	gameplay     []domain.GameplayEvent
	flags        map[string]*domain.FlaggedPlayer
	reports      map[string]*domain.DailyReport
	cursors      map[string]string
	jobRuns      []domain.JobRun
	buckets      map[string]map[string]time.Time
}

var (
	_ store.Store       = (*Store)(nil)
	_ store.RateLimiter = (*Store)(nil)
)

// New creates an empty store
func New() *Store {
	return &Store{
		submissions:  make(map[string]*domain.PendingScoreSubmission),
		entries:      make(map[domain.Scope]map[string]*domain.LeaderboardEntry),
		players:      make(map[string]*domain.Player),
		wallets:      make(map[string]*domain.Wallet),
		receipts:     make(map[string]*domain.PurchaseReceipt),
		transactions: make(map[string]string),
		tournaments:  make(map[string]*domain.Tournament),
		flags:        make(map[string]*domain.FlaggedPlayer),
		reports:      make(map[string]*domain.DailyReport),
		cursors:      make(map[string]string),
		buckets:      make(map[string]map[string]time.Time),
	}
}

// Submissions

func (s *Store) CreateSubmission(ctx context.Context, sub *domain.PendingScoreSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[sub.ID]; ok {
		return nil
	}
	cp := *sub
	cp.FriendIDs = append([]string(nil), sub.FriendIDs...)
	if cp.Status == "" {
		cp.Status = domain.SubmissionPending
	}
	s.submissions[sub.ID] = &cp
	return nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (*domain.PendingScoreSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, domain.ErrSubmissionNotFound
	}
	cp := *sub
	cp.FriendIDs = append([]string(nil), sub.FriendIDs...)
	return &cp, nil
}

func (s *Store) MarkSubmission(ctx context.Context, id string, status domain.SubmissionStatus, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return false, domain.ErrSubmissionNotFound
	}
	if sub.Terminal() {
		return false, nil
	}
	sub.Status = status
	sub.Reason = reason
	sub.ProcessedAt = &at
	return true, nil
}

func (s *Store) RecentBestScore(ctx context.Context, playerID string, limit int) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var valid []*domain.PendingScoreSubmission
	for _, sub := range s.submissions {
		if sub.PlayerID == playerID && sub.Status == domain.SubmissionValid {
			valid = append(valid, sub)
		}
	}
	if len(valid) == 0 {
		return 0, false, nil
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].AchievedAt.After(valid[j].AchievedAt) })
	if limit > 0 && len(valid) > limit {
		valid = valid[:limit]
	}
	best := valid[0].Score
	for _, sub := range valid[1:] {
		if sub.Score > best {
			best = sub.Score
		}
	}
	return best, true, nil
}

func (s *Store) ListRetryableSubmissions(ctx context.Context, staleBefore time.Time, afterID string, limit int) ([]domain.PendingScoreSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PendingScoreSubmission
	for _, sub := range s.submissions {
		if sub.ID <= afterID {
			continue
		}
		stale := sub.Status == domain.SubmissionPending && sub.CreatedAt.Before(staleBefore)
		if sub.Status == domain.SubmissionError || stale {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Leaderboards

func (s *Store) UpsertBest(ctx context.Context, entry domain.LeaderboardEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	board, ok := s.entries[entry.Scope]
	if !ok {
		board = make(map[string]*domain.LeaderboardEntry)
		s.entries[entry.Scope] = board
	}
	current, ok := board[entry.PlayerID]
	if !ok {
		cp := entry
		cp.Rank = nil
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = entry.UpdatedAt
		}
		board[entry.PlayerID] = &cp
		return true, nil
	}
	if entry.Score <= current.Score {
		return false, nil
	}
	current.Score = entry.Score
	current.AchievedAt = entry.AchievedAt
	current.DisplayName = entry.DisplayName
	current.UpdatedAt = entry.UpdatedAt
	return true, nil
}

func (s *Store) GetEntry(ctx context.Context, scope domain.Scope, playerID string) (*domain.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[scope][playerID]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	cp := *entry
	return &cp, nil
}

func (s *Store) TopEntries(ctx context.Context, scope domain.Scope, offset, limit int) ([]domain.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	board := s.entries[scope]
	all := make([]domain.LeaderboardEntry, 0, len(board))
	for _, e := range board {
		all = append(all, *e)
	}
	sort.Slice(all, func(i, j int) bool { return domain.Outranks(all[i], all[j]) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) SetRanks(ctx context.Context, scope domain.Scope, ranks []domain.RankAssignment, pass time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	board := s.entries[scope]
	for _, r := range ranks {
		if e, ok := board[r.PlayerID]; ok {
			rank, at := r.Rank, pass
			e.Rank = &rank
			e.RankedAt = &at
		}
	}
	return nil
}

func (s *Store) ClearStaleRanks(ctx context.Context, scope domain.Scope, pass time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleared := 0
	for _, e := range s.entries[scope] {
		if e.Rank == nil || (e.RankedAt != nil && e.RankedAt.Equal(pass)) {
			continue
		}
		e.Rank = nil
		e.RankedAt = nil
		cleared++
	}
	return cleared, nil
}

func (s *Store) ListExpiredEntries(ctx context.Context, kind domain.ScopeKind, cutoff time.Time, after domain.EntryKey, limit int) ([]domain.EntryKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []domain.EntryKey
	for scope, board := range s.entries {
		if scope.Kind() != kind {
			continue
		}
		for playerID, e := range board {
			key := domain.EntryKey{Scope: scope, PlayerID: playerID}
			if e.CreatedAt.Before(cutoff) && keyAfter(key, after) {
				keys = append(keys, key)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keyAfter(keys[j], keys[i]) })
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func keyAfter(k, after domain.EntryKey) bool {
	if k.Scope != after.Scope {
		return k.Scope > after.Scope
	}
	return k.PlayerID > after.PlayerID
}

func (s *Store) DeleteEntries(ctx context.Context, keys []domain.EntryKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, k := range keys {
		board, ok := s.entries[k.Scope]
		if !ok {
			continue
		}
		if _, ok := board[k.PlayerID]; ok {
			delete(board, k.PlayerID)
			deleted++
		}
		if len(board) == 0 {
			delete(s.entries, k.Scope)
		}
	}
	return deleted, nil
}

// Players

func (s *Store) TouchPlayer(ctx context.Context, playerID, displayName string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[playerID]
	if !ok {
		s.players[playerID] = &domain.Player{ID: playerID, DisplayName: displayName, CreatedAt: at, LastSeenAt: at}
		return nil
	}
	if displayName != "" {
		p.DisplayName = displayName
	}
	if at.After(p.LastSeenAt) {
		p.LastSeenAt = at
	}
	return nil
}

func (s *Store) wallet(playerID string) *domain.Wallet {
	w, ok := s.wallets[playerID]
	if !ok {
		w = &domain.Wallet{PlayerID: playerID, Balances: make(map[string]int64), LifetimeSpend: decimal.Zero}
		s.wallets[playerID] = w
	}
	return w
}

func (s *Store) ApplyCurrency(ctx context.Context, grants []domain.CurrencyGrant, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range grants {
		w := s.wallet(g.PlayerID)
		w.Balances[g.Currency] += g.Amount
		w.UpdatedAt = at
	}
	return nil
}

func (s *Store) GetWallet(ctx context.Context, playerID string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[playerID]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	cp := *w
	cp.Balances = make(map[string]int64, len(w.Balances))
	for k, v := range w.Balances {
		cp.Balances[k] = v
	}
	return &cp, nil
}

// Receipts

func (s *Store) CreateReceipt(ctx context.Context, receipt *domain.PurchaseReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[receipt.ID]; ok {
		return nil
	}
	cp := *receipt
	s.receipts[receipt.ID] = &cp
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, id string) (*domain.PurchaseReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil, domain.ErrReceiptNotFound
	}
	cp := *r
	return &cp, nil
}

func transactionKey(platform domain.Platform, transactionID string) string {
	return string(platform) + "|" + transactionID
}

func (s *Store) IsTransactionClaimed(ctx context.Context, platform domain.Platform, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.transactions[transactionKey(platform, transactionID)]
	return ok, nil
}

func (s *Store) CompletePurchase(ctx context.Context, grant domain.PurchaseGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[grant.ReceiptID]
	if !ok {
		return domain.ErrReceiptNotFound
	}
	key := transactionKey(grant.Platform, grant.TransactionID)
	if _, claimed := s.transactions[key]; claimed {
		return domain.ErrDuplicateTransaction
	}
	s.transactions[key] = grant.ReceiptID

	w := s.wallet(grant.PlayerID)
	for _, reward := range grant.Rewards {
		w.Balances[reward.Currency] += reward.Amount
	}
	w.LifetimeSpend = w.LifetimeSpend.Add(grant.Price)
	w.PurchaseCount++
	at := grant.At
	w.LastPurchaseAt = &at
	w.UpdatedAt = at

	validated := true
	result := grant.Result
	r.Validated = &validated
	r.Rewarded = true
	r.ValidationError = ""
	r.VerificationResult = &result
	r.ValidatedAt = &at
	return nil
}

func (s *Store) RejectReceipt(ctx context.Context, id, reason string, result *domain.VerificationResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return domain.ErrReceiptNotFound
	}
	if r.Terminal() {
		return nil
	}
	validated := false
	r.Validated = &validated
	r.ValidationError = reason
	r.VerificationResult = result
	r.ValidatedAt = &at
	return nil
}

func (s *Store) MarkReceiptErrored(ctx context.Context, id, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return domain.ErrReceiptNotFound
	}
	if r.Terminal() {
		return nil
	}
	r.ProcessingError = reason
	r.ErroredAt = &at
	return nil
}

func (s *Store) ListRetryableReceipts(ctx context.Context, staleBefore time.Time, afterID string, limit int) ([]domain.PurchaseReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PurchaseReceipt
	for _, r := range s.receipts {
		if r.ID <= afterID || r.Terminal() {
			continue
		}
		if r.Errored() || r.CreatedAt.Before(staleBefore) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Tournaments

func (s *Store) CreateTournament(ctx context.Context, t *domain.Tournament) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tournaments[t.ID] = &cp
	return nil
}

func (s *Store) GetTournament(ctx context.Context, id string) (*domain.Tournament, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tournaments[id]
	if !ok {
		return nil, domain.ErrTournamentNotFound
	}
	cp := *t
	cp.FinalRankings = append([]domain.FinalRanking(nil), t.FinalRankings...)
	return &cp, nil
}

func (s *Store) SetTournamentActive(ctx context.Context, id string, active bool, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tournaments[id]
	if !ok {
		return false, domain.ErrTournamentNotFound
	}
	was := t.Active
	t.Active = active
	t.UpdatedAt = at
	switch {
	case active:
		t.EndedAt = nil
	case was:
		ended := at
		t.EndedAt = &ended
	}
	return was, nil
}

func (s *Store) ListActiveTournaments(ctx context.Context) ([]domain.Tournament, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Tournament
	for _, t := range s.tournaments {
		if t.Active {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListUnsettledTournaments(ctx context.Context, afterID string, limit int) ([]domain.Tournament, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Tournament
	for _, t := range s.tournaments {
		if t.ID > afterID && !t.Active && t.EndedAt != nil && !t.ResultsProcessed {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClaimSettlement(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tournaments[id]
	if !ok {
		return false, domain.ErrTournamentNotFound
	}
	if t.Active || t.ResultsProcessed {
		return false, nil
	}
	t.ResultsProcessed = true
	t.UpdatedAt = at
	return true, nil
}

func (s *Store) SaveResults(ctx context.Context, id string, rankings []domain.FinalRanking, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tournaments[id]
	if !ok {
		return domain.ErrTournamentNotFound
	}
	t.FinalRankings = append([]domain.FinalRanking(nil), rankings...)
	t.ParticipantCount = len(rankings)
	t.SettledAt = &at
	t.UpdatedAt = at
	return nil
}

// Telemetry

func (s *Store) RecordGameplay(ctx context.Context, events []domain.GameplayEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		duplicate := false
		for _, existing := range s.gameplay {
			if existing.ID == e.ID {
				duplicate = true
				break
			}
		}
		if !duplicate {
			s.gameplay = append(s.gameplay, e)
		}
	}
	return nil
}

func (s *Store) ListActivePlayers(ctx context.Context, since time.Time, minEvents int, afterPlayer string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range s.gameplay {
		if e.Type == domain.GameplayEventGameEnd && !e.OccurredAt.Before(since) {
			counts[e.PlayerID]++
		}
	}
	var players []string
	for id, n := range counts {
		if n >= minEvents && id > afterPlayer {
			players = append(players, id)
		}
	}
	sort.Strings(players)
	if len(players) > limit {
		players = players[:limit]
	}
	return players, nil
}

func (s *Store) RecentScores(ctx context.Context, playerID string, since time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []domain.GameplayEvent
	for _, e := range s.gameplay {
		if e.PlayerID == playerID && e.Type == domain.GameplayEventGameEnd && !e.OccurredAt.Before(since) {
			events = append(events, e)
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].OccurredAt.Before(events[j].OccurredAt) })
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	scores := make([]int64, len(events))
	for i, e := range events {
		scores[i] = e.Score
	}
	return scores, nil
}

// Flags

func (s *Store) FlagPlayer(ctx context.Context, playerID string, reasons []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flags[playerID]
	if !ok {
		f = &domain.FlaggedPlayer{
			PlayerID:  playerID,
			Status:    domain.FlagPendingReview,
			FlaggedAt: at,
		}
		s.flags[playerID] = f
	}
	for _, reason := range reasons {
		if !slices.Contains(f.Reasons, reason) {
			f.Reasons = append(f.Reasons, reason)
		}
	}
	f.UpdatedAt = at
	return nil
}

func (s *Store) ListFlagged(ctx context.Context, status domain.FlagStatus, limit int) ([]domain.FlaggedPlayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FlaggedPlayer
	for _, f := range s.flags {
		if status == "" || f.Status == status {
			cp := *f
			cp.Reasons = append([]string(nil), f.Reasons...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FlaggedAt.After(out[j].FlaggedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Reports

func (s *Store) AggregateDay(ctx context.Context, start, end time.Time) (*domain.DailyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := func(t time.Time) bool { return !t.Before(start) && t.Before(end) }

	report := &domain.DailyReport{Date: domain.ReportDate(start)}
	report.Revenue.Total = decimal.Zero

	for _, p := range s.players {
		if in(p.CreatedAt) {
			report.Players.New++
		}
		if in(p.LastSeenAt) {
			report.Players.Active++
		}
	}
	for _, f := range s.flags {
		if in(f.FlaggedAt) {
			report.Players.Flagged++
		}
	}

	var scoreSum int64
	for _, sub := range s.submissions {
		if !in(sub.CreatedAt) {
			continue
		}
		report.Gameplay.Submissions++
		switch sub.Status {
		case domain.SubmissionValid:
			report.Gameplay.Valid++
			scoreSum += sub.Score
			if sub.Score > report.Gameplay.TopScore {
				report.Gameplay.TopScore = sub.Score
			}
		case domain.SubmissionInvalid:
			report.Gameplay.Invalid++
		case domain.SubmissionError:
			report.Gameplay.Errored++
		}
	}
	if report.Gameplay.Valid > 0 {
		report.Gameplay.AverageScore = float64(scoreSum) / float64(report.Gameplay.Valid)
	}

	for _, r := range s.receipts {
		if r.ValidatedAt == nil || !in(*r.ValidatedAt) || r.Validated == nil {
			continue
		}
		if *r.Validated {
			report.Revenue.Purchases++
			report.Revenue.Total = report.Revenue.Total.Add(r.Price)
		} else {
			report.Revenue.Rejected++
		}
	}

	for _, run := range s.jobRuns {
		if !in(run.StartedAt) {
			continue
		}
		report.Performance.JobRuns++
		if run.Error != "" {
			report.Performance.JobFailures++
		}
	}
	return report, nil
}

func (s *Store) CreateReport(ctx context.Context, report *domain.DailyReport) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[report.Date]; ok {
		return false, nil
	}
	cp := *report
	s.reports[report.Date] = &cp
	return true, nil
}

func (s *Store) GetReport(ctx context.Context, date string) (*domain.DailyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[date]
	if !ok {
		return nil, domain.ErrReportNotFound
	}
	cp := *r
	return &cp, nil
}

// Cursors and job runs

func (s *Store) LoadCursor(ctx context.Context, job string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[job], nil
}

func (s *Store) SaveCursor(ctx context.Context, job, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		delete(s.cursors, job)
		return nil
	}
	s.cursors[job] = key
	return nil
}

func (s *Store) RecordJobRun(ctx context.Context, run domain.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobRuns = append(s.jobRuns, run)
	return nil
}

// JobRunsFor returns recorded runs of job, oldest first
func (s *Store) JobRunsFor(job domain.Job) []domain.JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.JobRun
	for _, r := range s.jobRuns {
		if r.Job == job {
			out = append(out, r)
		}
	}
	return out
}

// Rate limiting

func (s *Store) Allow(ctx context.Context, key store.RateKey, member string, limit int, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := key.Subject + "|" + key.Action + "|" + key.Window.String()
	bucket, ok := s.buckets[name]
	if !ok {
		bucket = make(map[string]time.Time)
		s.buckets[name] = bucket
	}
	cutoff := now.Add(-key.Window)
	for m, at := range bucket {
		if !at.After(cutoff) {
			delete(bucket, m)
		}
	}
	if _, seen := bucket[member]; seen {
		return true, nil
	}
	if len(bucket) >= limit {
		return false, nil
	}
	bucket[member] = now
	return true, nil
}
