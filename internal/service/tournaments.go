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
	"github.com/arcade-backend/internal/notify"
	"github.com/arcade-backend/internal/quota"
	"github.com/arcade-backend/internal/store"
)

// CreateTournamentRequest is the admin payload of a new tournament
type CreateTournamentRequest struct {
	Name    string              `json:"name"`
	Active  bool                `json:"active"`
	Rewards []domain.RewardTier `json:"rewards"`
}

// TournamentService manages tournaments and settles them when they end
type TournamentService struct {
	tournaments store.Tournaments
	boards      store.Leaderboards
	players     store.Players
	notifier    notify.Notifier
	hub         Broadcaster
	publisher   events.Publisher
	exec        *quota.Executor
	cfg         config.GameConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewTournamentService creates a tournament service. hub may be nil.
func NewTournamentService(
	st store.Store,
	notifier notify.Notifier,
	hub Broadcaster,
	publisher events.Publisher,
	exec *quota.Executor,
	cfg config.GameConfig,
	logger *slog.Logger,
) *TournamentService {
	return &TournamentService{
		tournaments: st,
		boards:      st,
		players:     st,
		notifier:    notifier,
		hub:         hub,
		publisher:   publisher,
		exec:        exec,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock replaces the service's clock
func (s *TournamentService) SetClock(now func() time.Time) {
	s.now = now
}

// Create stores a new tournament
func (s *TournamentService) Create(ctx context.Context, req CreateTournamentRequest) (*domain.Tournament, error) {
	if req.Name == "" {
		return nil, domain.ErrInvalidRequest
	}
	for _, tier := range req.Rewards {
		if tier.MinRank < 1 || tier.MaxRank < tier.MinRank {
			return nil, fmt.Errorf("%w: reward tier [%d, %d]", domain.ErrInvalidRequest, tier.MinRank, tier.MaxRank)
		}
	}

	now := s.now()
	t := &domain.Tournament{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Active:    req.Active,
		Rewards:   req.Rewards,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tournaments.CreateTournament(ctx, t); err != nil {
		return nil, fmt.Errorf("creating tournament: %w", err)
	}
	return t, nil
}

// Get returns a tournament by id
func (s *TournamentService) Get(ctx context.Context, id string) (*domain.Tournament, error) {
	return s.tournaments.GetTournament(ctx, id)
}

// SetActive writes the active flag and publishes the state change
func (s *TournamentService) SetActive(ctx context.Context, id string, active bool) error {
	now := s.now()
	wasActive, err := s.tournaments.SetTournamentActive(ctx, id, active, now)
	if err != nil {
		return fmt.Errorf("updating tournament: %w", err)
	}

	env, err := events.New(events.TypeTournamentStateChanged, id, events.TournamentStateChanged{
		TournamentID: id,
		WasActive:    wasActive,
		IsActive:     active,
	}, now)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, env)
}

// HandleStateChanged settles a tournament on its active -> inactive transition
func (s *TournamentService) HandleStateChanged(ctx context.Context, env events.Envelope) error {
	var change events.TournamentStateChanged
	if err := env.Decode(&change); err != nil {
		return err
	}
	if !change.Deactivated() {
		return nil
	}

	_, err := s.Settle(ctx, change.TournamentID)
	if errors.Is(err, domain.ErrSettlementClaimed) {
		s.logger.Info("settlement already claimed", "tournament_id", change.TournamentID)
		return nil
	}
	return err
}

// SettleEnded settles tournaments that were deactivated but never claimed,
// which happens when the state change event was not delivered
func (s *TournamentService) SettleEnded(ctx context.Context) (quota.Result, error) {
	fetch := func(ctx context.Context, after string, limit int) ([]domain.Tournament, error) {
		return s.tournaments.ListUnsettledTournaments(ctx, after, limit)
	}
	key := func(t domain.Tournament) string { return t.ID }
	process := func(ctx context.Context, batch []domain.Tournament) error {
		for _, t := range batch {
			_, err := s.Settle(ctx, t.ID)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrSettlementClaimed):
				s.logger.Debug("settlement already claimed", "tournament_id", t.ID)
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				s.logger.Warn("settling ended tournament failed", "tournament_id", t.ID, "error", err)
			}
		}
		return nil
	}
	return quota.Drain(ctx, s.exec, string(domain.JobSettleTournaments), s.exec.NewBudget(), fetch, key, process)
}

// Settle computes final standings and pays rewards. Only the caller that wins
// the settlement claim proceeds; every other caller gets ErrSettlementClaimed
// and leaves no side effects.
func (s *TournamentService) Settle(ctx context.Context, id string) ([]domain.FinalRanking, error) {
	now := s.now()
	claimed, err := s.tournaments.ClaimSettlement(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("claiming settlement: %w", err)
	}
	if !claimed {
		return nil, domain.ErrSettlementClaimed
	}

	t, err := s.tournaments.GetTournament(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading tournament: %w", err)
	}

	entries, err := s.boards.TopEntries(ctx, t.Scope(), 0, s.cfg.TournamentParticipantCap)
	if err != nil {
		return nil, fmt.Errorf("loading standings: %w", err)
	}

	rankings := make([]domain.FinalRanking, len(entries))
	var grants []domain.CurrencyGrant
	for i, entry := range entries {
		rank := int64(i + 1)
		rankings[i] = domain.FinalRanking{
			PlayerID:    entry.PlayerID,
			DisplayName: entry.DisplayName,
			Score:       entry.Score,
			Rank:        rank,
		}
		if bundle, ok := t.RewardsFor(rank); ok {
			rankings[i].Rewards = bundle
			grants = append(grants, bundle.Grants(entry.PlayerID)...)
		}
	}

	for start := 0; start < len(grants); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(grants))
		if err := s.players.ApplyCurrency(ctx, grants[start:end], now); err != nil {
			return nil, fmt.Errorf("applying rewards: %w", err)
		}
	}

	if err := s.tournaments.SaveResults(ctx, id, rankings, now); err != nil {
		return nil, fmt.Errorf("saving results: %w", err)
	}

	s.logger.Info("tournament settled",
		"tournament_id", id,
		"participants", len(rankings),
		"grants", len(grants),
	)

	if len(rankings) > 0 {
		playerIDs := make([]string, len(rankings))
		for i, r := range rankings {
			playerIDs[i] = r.PlayerID
		}
		err := s.notifier.Notify(ctx, notify.Notification{
			Kind:      notify.KindTournamentCompleted,
			PlayerIDs: playerIDs,
			Payload: notify.TournamentCompleted{
				TournamentID:   id,
				TournamentName: t.Name,
				Participants:   len(rankings),
			},
		})
		if err != nil {
			s.logger.Warn("failed to notify participants", "tournament_id", id, "error", err)
		}
	}

	if s.hub != nil {
		t.FinalRankings = rankings
		t.ParticipantCount = len(rankings)
		t.SettledAt = &now
		s.hub.BroadcastTournamentSettled(t)
	}
	return rankings, nil
}
