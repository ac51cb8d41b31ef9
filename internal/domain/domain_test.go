package domain

import (
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScope(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
		kind    ScopeKind
	}{
		{raw: "global", kind: ScopeGlobal},
		{raw: "daily:2024-03-06", kind: ScopeDaily},
		{raw: "weekly:2024-W10", kind: ScopeWeekly},
		{raw: "friends:p1", kind: ScopeFriends},
		{raw: "tournament:t1", kind: ScopeTournament},
		{raw: "global:extra", wantErr: true},
		{raw: "daily:2024-13-40", wantErr: true},
		{raw: "weekly:2024-W60", wantErr: true},
		{raw: "friends:", wantErr: true},
		{raw: "monthly:2024-03", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			scope, err := ParseScope(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidScope)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, scope.Kind())
		})
	}
}

func TestScopeConstructors(t *testing.T) {
	at := time.Date(2024, 3, 6, 23, 30, 0, 0, time.FixedZone("UTC-2", -2*3600))

	assert.Equal(t, Scope("daily:2024-03-07"), DailyScope(at))
	assert.Equal(t, Scope("weekly:2024-W10"), WeeklyScope(at))
	assert.Equal(t, "p1", FriendsScope("p1").Key())
	assert.Equal(t, ScopeTournament, TournamentScope("t1").Kind())

	for _, s := range []Scope{GlobalScope(), DailyScope(at), WeeklyScope(at), FriendsScope("p1"), TournamentScope("t1")} {
		_, err := ParseScope(s.String())
		assert.NoError(t, err, s)
	}
}

func TestWeeklyScopeAtYearBoundary(t *testing.T) {
	assert.Equal(t, Scope("weekly:2025-W01"), WeeklyScope(time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC)))
}

func TestOutranksIsTotalOrder(t *testing.T) {
	early := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Minute)

	entries := []LeaderboardEntry{
		{PlayerID: "c", Score: 100, AchievedAt: late},
		{PlayerID: "b", Score: 100, AchievedAt: early},
		{PlayerID: "a", Score: 100, AchievedAt: early},
		{PlayerID: "d", Score: 500, AchievedAt: late},
	}
	sort.Slice(entries, func(i, j int) bool { return Outranks(entries[i], entries[j]) })

	var order []string
	for _, e := range entries {
		order = append(order, e.PlayerID)
	}
	assert.Equal(t, []string{"d", "a", "b", "c"}, order)
	assert.False(t, Outranks(entries[0], entries[0]))
}

func TestEntryKeyRoundTrip(t *testing.T) {
	key := EntryKey{Scope: DailyScope(time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)), PlayerID: "p|1"}
	assert.Equal(t, key, ParseEntryKey(key.String()))
	assert.Equal(t, EntryKey{}, ParseEntryKey(""))
}

func TestRewardsFor(t *testing.T) {
	tournament := &Tournament{Rewards: []RewardTier{
		{MinRank: 1, MaxRank: 1, Rewards: RewardBundle{{Currency: "gems", Amount: 100}}},
		{MinRank: 2, MaxRank: 10, Rewards: RewardBundle{{Currency: "coins", Amount: 500}}},
	}}

	bundle, ok := tournament.RewardsFor(1)
	require.True(t, ok)
	assert.Equal(t, "gems", bundle[0].Currency)

	bundle, ok = tournament.RewardsFor(10)
	require.True(t, ok)
	assert.Equal(t, "coins", bundle[0].Currency)

	_, ok = tournament.RewardsFor(11)
	assert.False(t, ok)
}

func TestRewardBundleGrantsSkipsZeroAmounts(t *testing.T) {
	grants := RewardBundle{{Currency: "coins", Amount: 10}, {Currency: "gems", Amount: 0}}.Grants("p1")
	assert.Equal(t, []CurrencyGrant{{PlayerID: "p1", Currency: "coins", Amount: 10}}, grants)
}

func TestSubmissionTerminal(t *testing.T) {
	for status, want := range map[SubmissionStatus]bool{
		SubmissionPending: false,
		SubmissionError:   false,
		SubmissionValid:   true,
		SubmissionInvalid: true,
	} {
		sub := &PendingScoreSubmission{Status: status}
		assert.Equal(t, want, sub.Terminal(), status)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	validation := NewValidationError("Score %d out of range", 5)
	assert.True(t, IsValidation(fmt.Errorf("wrapped: %w", validation)))
	assert.False(t, IsTransient(validation))

	cause := errors.New("connection reset")
	transient := Transient("marking submission", cause)
	assert.True(t, IsTransient(transient))
	assert.ErrorIs(t, transient, cause)
	assert.Same(t, transient, Transient("outer", transient))
	assert.Nil(t, Transient("noop", nil))

	external := &ExternalValidationFailure{Platform: PlatformIOS, Reason: "status 21003"}
	assert.Equal(t, "iOS verification failed: status 21003", external.Error())

	assert.True(t, IsNotFoundError(fmt.Errorf("get: %w", ErrReceiptNotFound)))
	assert.False(t, IsNotFoundError(ErrDuplicateTransaction))
}

func TestParseJob(t *testing.T) {
	job, err := ParseJob("daily_report")
	require.NoError(t, err)
	assert.Equal(t, JobDailyReport, job)

	_, err = ParseJob("compact")
	assert.ErrorIs(t, err, ErrUnknownJob)
}
