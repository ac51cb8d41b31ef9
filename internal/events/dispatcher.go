package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arcade-backend/internal/domain"
)

// Handler processes one envelope
type Handler func(ctx context.Context, env Envelope) error

// Dispatcher routes envelopes to the handler registered for their type
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatch table
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[Type]Handler),
		logger:   logger,
	}
}

// Register binds h to t, replacing any previous handler
func (d *Dispatcher) Register(t Type, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = h
}

// Dispatch invokes the handler of env.Type
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) error {
	d.mu.RLock()
	h, ok := d.handlers[env.Type]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownEventType, env.Type)
	}

	d.logger.Debug("dispatching event", "event_id", env.ID, "type", env.Type)
	return h(ctx, env)
}

// Publisher delivers envelopes to the dispatcher, possibly asynchronously
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// InlinePublisher dispatches in-process. It is used when no broker is configured.
type InlinePublisher struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewInlinePublisher creates a publisher that dispatches synchronously
func NewInlinePublisher(d *Dispatcher, logger *slog.Logger) *InlinePublisher {
	return &InlinePublisher{dispatcher: d, logger: logger}
}

// Publish dispatches env. Handler failures are logged, not returned, because
// they are already recorded on the originating record.
func (p *InlinePublisher) Publish(ctx context.Context, env Envelope) error {
	if err := p.dispatcher.Dispatch(ctx, env); err != nil {
		p.logger.Error("inline dispatch failed", "event_id", env.ID, "type", env.Type, "error", err)
	}
	return nil
}
