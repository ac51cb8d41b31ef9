package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcade-backend/internal/config"
	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/events"
	"github.com/arcade-backend/internal/memstore"
	"github.com/arcade-backend/internal/notify"
	"github.com/arcade-backend/internal/quota"
	"github.com/arcade-backend/internal/store"
	"github.com/arcade-backend/internal/verify"
)

var testStart = time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// toggleLimiter fails every call while fail is set
type toggleLimiter struct {
	inner store.RateLimiter
	mu    sync.Mutex
	fail  bool
}

func (l *toggleLimiter) setFail(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = fail
}

func (l *toggleLimiter) Allow(ctx context.Context, key store.RateKey, member string, limit int, now time.Time) (bool, error) {
	l.mu.Lock()
	fail := l.fail
	l.mu.Unlock()
	if fail {
		return false, errors.New("connection refused")
	}
	return l.inner.Allow(ctx, key, member, limit, now)
}

// togglePublisher refuses every event while fail is set
type togglePublisher struct {
	inner events.Publisher
	mu    sync.Mutex
	fail  bool
}

func (p *togglePublisher) setFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}

func (p *togglePublisher) Publish(ctx context.Context, env events.Envelope) error {
	p.mu.Lock()
	fail := p.fail
	p.mu.Unlock()
	if fail {
		return errors.New("broker unavailable")
	}
	return p.inner.Publish(ctx, env)
}

// stubVerifier accepts every receipt and uses the receipt data as transaction id
type stubVerifier struct {
	mu      sync.Mutex
	calls   int
	invalid bool
	err     error
	product string
}

func (v *stubVerifier) Verify(ctx context.Context, receiptData string) (*domain.VerificationResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	if v.invalid {
		return &domain.VerificationResult{Valid: false, Status: 21003, Message: "receipt could not be authenticated"}, nil
	}
	return &domain.VerificationResult{Valid: true, TransactionID: receiptData, ProductID: v.product, Environment: "sandbox"}, nil
}

func (v *stubVerifier) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, notification notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) Sent() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notification(nil), n.sent...)
}

type recordingHub struct {
	mu      sync.Mutex
	ranks   map[domain.Scope][]domain.LeaderboardEntry
	settled []string
}

func (h *recordingHub) BroadcastRanks(scope domain.Scope, entries []domain.LeaderboardEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ranks == nil {
		h.ranks = make(map[domain.Scope][]domain.LeaderboardEntry)
	}
	h.ranks[scope] = entries
}

func (h *recordingHub) BroadcastTournamentSettled(t *domain.Tournament) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settled = append(h.settled, t.ID)
}

type fixture struct {
	store       *memstore.Store
	cfg         *config.Config
	clock       *fakeClock
	limiter     *toggleLimiter
	publisher   *togglePublisher
	apple       *stubVerifier
	google      *stubVerifier
	notifier    *recordingNotifier
	hub         *recordingHub
	exec        *quota.Executor
	ranking     *RankingEngine
	scores      *ScoreValidator
	purchases   *PurchaseValidator
	tournaments *TournamentService
	detector    *Detector
	reporter    *Reporter
	jobs        *JobRunner
}

func newFixture(t *testing.T, tune ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	for _, fn := range tune {
		fn(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memstore.New()
	clock := &fakeClock{now: testStart}

	f := &fixture{
		store:    st,
		cfg:      cfg,
		clock:    clock,
		limiter:  &toggleLimiter{inner: st},
		apple:    &stubVerifier{},
		google:   &stubVerifier{},
		notifier: &recordingNotifier{},
		hub:      &recordingHub{},
	}

	dispatcher := events.NewDispatcher(logger)
	f.publisher = &togglePublisher{inner: events.NewInlinePublisher(dispatcher, logger)}
	publisher := f.publisher

	f.exec = quota.NewExecutor(st, st, cfg.Game.BatchSize, cfg.Quota.PerInvocation(), logger)
	f.exec.SetClock(clock.Now)

	f.ranking = NewRankingEngine(st, st, nil, f.hub, f.exec, cfg.Game, logger)
	f.ranking.SetClock(clock.Now)

	f.scores = NewScoreValidator(st, f.limiter, f.ranking, publisher, f.exec, cfg.Game, logger)
	f.scores.SetClock(clock.Now)

	verifiers := map[domain.Platform]verify.Verifier{
		domain.PlatformIOS:     f.apple,
		domain.PlatformAndroid: f.google,
	}
	f.purchases = NewPurchaseValidator(st, f.limiter, verifiers, cfg.Products, publisher, f.exec, cfg.Game, logger)
	f.purchases.SetClock(clock.Now)

	f.tournaments = NewTournamentService(st, f.notifier, f.hub, publisher, f.exec, cfg.Game, logger)
	f.tournaments.SetClock(clock.Now)

	f.detector = NewDetector(st, st, f.exec, cfg.Detector, cfg.Game, logger)
	f.detector.SetClock(clock.Now)

	f.reporter = NewReporter(st, logger)
	f.reporter.SetClock(clock.Now)

	f.jobs = NewJobRunner(f.exec, f.ranking, f.scores, f.purchases, f.tournaments, f.detector, f.reporter, publisher, logger)
	f.jobs.SetClock(clock.Now)

	Register(dispatcher, f.scores, f.purchases, f.tournaments, f.jobs)
	return f
}

func (f *fixture) submit(t *testing.T, req SubmitScoreRequest) *domain.PendingScoreSubmission {
	t.Helper()
	if req.DisplayName == "" {
		req.DisplayName = "Player " + req.PlayerID
	}
	if req.AchievedAt.IsZero() {
		req.AchievedAt = f.clock.Now()
	}
	sub, err := f.scores.Enqueue(context.Background(), req)
	require.NoError(t, err)
	return sub
}

func ms(d time.Duration) *int64 {
	v := d.Milliseconds()
	return &v
}
