package domain

import (
	"fmt"
	"strings"
	"time"
)

// ScopeKind is the family a leaderboard scope belongs to
type ScopeKind string

const (
	ScopeGlobal     ScopeKind = "global"
	ScopeDaily      ScopeKind = "daily"
	ScopeWeekly     ScopeKind = "weekly"
	ScopeFriends    ScopeKind = "friends"
	ScopeTournament ScopeKind = "tournament"
)

// Scope names a ranking bucket, e.g. "global", "daily:2024-03-01",
// "weekly:2024-W09", "friends:<player>" or "tournament:<id>".
type Scope string

// GlobalScope returns the all-time scope
func GlobalScope() Scope {
	return Scope(ScopeGlobal)
}

// DailyScope returns the scope of the UTC day containing t
func DailyScope(t time.Time) Scope {
	return Scope(fmt.Sprintf("%s:%s", ScopeDaily, t.UTC().Format("2006-01-02")))
}

// WeeklyScope returns the scope of the ISO week containing t
func WeeklyScope(t time.Time) Scope {
	year, week := t.UTC().ISOWeek()
	return Scope(fmt.Sprintf("%s:%04d-W%02d", ScopeWeekly, year, week))
}

// FriendsScope returns the friends-filtered scope owned by playerID
func FriendsScope(playerID string) Scope {
	return Scope(fmt.Sprintf("%s:%s", ScopeFriends, playerID))
}

// TournamentScope returns the leaderboard sub-scope of a tournament
func TournamentScope(tournamentID string) Scope {
	return Scope(fmt.Sprintf("%s:%s", ScopeTournament, tournamentID))
}

// Kind returns the scope family
func (s Scope) Kind() ScopeKind {
	kind, _, _ := strings.Cut(string(s), ":")
	return ScopeKind(kind)
}

// Key returns the part after the kind prefix
func (s Scope) Key() string {
	_, key, _ := strings.Cut(string(s), ":")
	return key
}

func (s Scope) String() string {
	return string(s)
}

// ParseScope validates a scope string
func ParseScope(raw string) (Scope, error) {
	s := Scope(raw)
	switch s.Kind() {
	case ScopeGlobal:
		if raw != string(ScopeGlobal) {
			return "", ErrInvalidScope
		}
		return s, nil
	case ScopeDaily:
		if _, err := time.Parse("2006-01-02", s.Key()); err != nil {
			return "", ErrInvalidScope
		}
		return s, nil
	case ScopeWeekly:
		var year, week int
		if n, err := fmt.Sscanf(s.Key(), "%04d-W%02d", &year, &week); err != nil || n != 2 || week < 1 || week > 53 {
			return "", ErrInvalidScope
		}
		return s, nil
	case ScopeFriends, ScopeTournament:
		if s.Key() == "" {
			return "", ErrInvalidScope
		}
		return s, nil
	default:
		return "", ErrInvalidScope
	}
}
