// Package notify is the boundary to the push-notification dispatcher.
package notify

import (
	"context"
	"log/slog"
)

// TournamentCompleted is the payload delivered to every settled participant
type TournamentCompleted struct {
	TournamentID   string `json:"tournament_id"`
	TournamentName string `json:"tournament_name"`
	Participants   int    `json:"participants"`
}

// Notification addresses one payload to a set of players
type Notification struct {
	Kind      string   `json:"kind"`
	PlayerIDs []string `json:"player_ids"`
	Payload   any      `json:"payload"`
}

const KindTournamentCompleted = "tournament_completed"

// Notifier hands notifications to the delivery service. Delivery is
// fire-and-forget from the caller's perspective.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier logs notifications instead of delivering them
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier for deployments without a push service
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, notification Notification) error {
	n.logger.Info("push notification",
		"kind", notification.Kind,
		"recipients", len(notification.PlayerIDs),
	)
	return nil
}
