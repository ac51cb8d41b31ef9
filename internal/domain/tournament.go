package domain

import "time"

// RewardTier maps an inclusive rank range to a reward bundle
type RewardTier struct {
	MinRank int64        `json:"min_rank"`
	MaxRank int64        `json:"max_rank"`
	Rewards RewardBundle `json:"rewards"`
}

// Contains reports whether rank falls within the tier
func (t RewardTier) Contains(rank int64) bool {
	return rank >= t.MinRank && rank <= t.MaxRank
}

// Tournament is a time-boxed competition with its own leaderboard sub-scope
type Tournament struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Active           bool           `json:"active"`
	Rewards          []RewardTier   `json:"rewards"`
	ResultsProcessed bool           `json:"results_processed"`
	FinalRankings    []FinalRanking `json:"final_rankings,omitempty"`
	ParticipantCount int            `json:"participant_count"`
	// EndedAt is set by the active -> inactive transition and cleared on
	// reactivation. An ended, unsettled tournament is owed a settlement.
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}

// Scope returns the tournament's leaderboard sub-scope
func (t *Tournament) Scope() Scope {
	return TournamentScope(t.ID)
}

// RewardsFor returns the bundle of the first tier containing rank
func (t *Tournament) RewardsFor(rank int64) (RewardBundle, bool) {
	for _, tier := range t.Rewards {
		if tier.Contains(rank) {
			return tier.Rewards, true
		}
	}
	return nil, false
}

// FinalRanking is one settled standing
type FinalRanking struct {
	PlayerID    string       `json:"player_id"`
	DisplayName string       `json:"display_name,omitempty"`
	Score       int64        `json:"score"`
	Rank        int64        `json:"rank"`
	Rewards     RewardBundle `json:"rewards,omitempty"`
}
