package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/store"
)

var t0 = time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)

func TestAllowSlidingWindow(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := store.RateKey{Subject: "p1", Action: "score_submission", Window: time.Minute}

	for i, member := range []string{"a", "b", "c"} {
		ok, err := s.Allow(ctx, key, member, 3, t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := s.Allow(ctx, key, "d", 3, t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Allow(ctx, key, "b", 3, t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.True(t, ok, "a recorded member is allowed again")

	ok, err = s.Allow(ctx, key, "d", 3, t0.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, ok, "oldest member left the window")
}

func TestUpsertBestOnlyRaises(t *testing.T) {
	s := New()
	ctx := context.Background()
	entry := domain.LeaderboardEntry{Scope: domain.GlobalScope(), PlayerID: "p1", Score: 100, AchievedAt: t0, CreatedAt: t0, UpdatedAt: t0}

	wrote, err := s.UpsertBest(ctx, entry)
	require.NoError(t, err)
	assert.True(t, wrote)

	entry.Score = 100
	wrote, err = s.UpsertBest(ctx, entry)
	require.NoError(t, err)
	assert.False(t, wrote)

	entry.Score = 150
	wrote, err = s.UpsertBest(ctx, entry)
	require.NoError(t, err)
	assert.True(t, wrote)

	got, err := s.GetEntry(ctx, domain.GlobalScope(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.Score)
}

func TestCompletePurchaseClaimsOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []string{"r1", "r2"} {
		require.NoError(t, s.CreateReceipt(ctx, &domain.PurchaseReceipt{ID: id, PlayerID: "p1", CreatedAt: t0}))
	}

	grant := domain.PurchaseGrant{
		ReceiptID:     "r1",
		PlayerID:      "p1",
		Platform:      domain.PlatformIOS,
		TransactionID: "tx-1",
		Rewards:       domain.RewardBundle{{Currency: "coins", Amount: 1000}},
		Price:         decimal.RequireFromString("0.99"),
		At:            t0,
	}
	require.NoError(t, s.CompletePurchase(ctx, grant))

	grant.ReceiptID = "r2"
	assert.ErrorIs(t, s.CompletePurchase(ctx, grant), domain.ErrDuplicateTransaction)

	wallet, err := s.GetWallet(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), wallet.Balances["coins"])
	assert.True(t, decimal.RequireFromString("0.99").Equal(wallet.LifetimeSpend))
}

func TestClaimSettlementRequiresInactive(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateTournament(ctx, &domain.Tournament{ID: "t1", Active: true}))

	claimed, err := s.ClaimSettlement(ctx, "t1", t0)
	require.NoError(t, err)
	assert.False(t, claimed)

	_, err = s.SetTournamentActive(ctx, "t1", false, t0)
	require.NoError(t, err)

	claimed, err = s.ClaimSettlement(ctx, "t1", t0)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimSettlement(ctx, "t1", t0)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestCursorClearedByEmptyKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SaveCursor(ctx, "job", "k1"))
	got, err := s.LoadCursor(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, "k1", got)

	require.NoError(t, s.SaveCursor(ctx, "job", ""))
	got, err = s.LoadCursor(ctx, "job")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFlagPlayerMergesDistinctReasons(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.FlagPlayer(ctx, "p1", []string{"a", "a", "b"}, t0))
	require.NoError(t, s.FlagPlayer(ctx, "p1", []string{"b", "c"}, t0.Add(time.Minute)))

	flagged, err := s.ListFlagged(ctx, domain.FlagPendingReview, 10)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, []string{"a", "b", "c"}, flagged[0].Reasons)
	assert.Equal(t, t0, flagged[0].FlaggedAt)
	assert.Equal(t, t0.Add(time.Minute), flagged[0].UpdatedAt)
}

func TestClearStaleRanksKeepsCurrentPass(t *testing.T) {
	s := New()
	ctx := context.Background()
	scope := domain.GlobalScope()
	for _, p := range []string{"p1", "p2", "p3"} {
		_, err := s.UpsertBest(ctx, domain.LeaderboardEntry{Scope: scope, PlayerID: p, Score: 10, CreatedAt: t0, UpdatedAt: t0})
		require.NoError(t, err)
	}

	first, second := t0, t0.Add(time.Hour)
	require.NoError(t, s.SetRanks(ctx, scope, []domain.RankAssignment{{PlayerID: "p1", Rank: 1}, {PlayerID: "p2", Rank: 2}}, first))
	require.NoError(t, s.SetRanks(ctx, scope, []domain.RankAssignment{{PlayerID: "p3", Rank: 1}}, second))

	cleared, err := s.ClearStaleRanks(ctx, scope, second)
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	p1, err := s.GetEntry(ctx, scope, "p1")
	require.NoError(t, err)
	assert.Nil(t, p1.Rank)
	assert.Nil(t, p1.RankedAt)

	p3, err := s.GetEntry(ctx, scope, "p3")
	require.NoError(t, err)
	require.NotNil(t, p3.Rank)
	assert.Equal(t, int64(1), *p3.Rank)
}

func TestSetTournamentActiveStampsEnd(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateTournament(ctx, &domain.Tournament{ID: "t1", Active: true}))
	require.NoError(t, s.CreateTournament(ctx, &domain.Tournament{ID: "t2"}))

	_, err := s.SetTournamentActive(ctx, "t1", false, t0)
	require.NoError(t, err)
	_, err = s.SetTournamentActive(ctx, "t2", false, t0)
	require.NoError(t, err)

	ended, err := s.ListUnsettledTournaments(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, ended, 1)
	assert.Equal(t, "t1", ended[0].ID)
	require.NotNil(t, ended[0].EndedAt)
	assert.Equal(t, t0, *ended[0].EndedAt)

	_, err = s.SetTournamentActive(ctx, "t1", true, t0.Add(time.Hour))
	require.NoError(t, err)
	got, err := s.GetTournament(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got.EndedAt)
}
