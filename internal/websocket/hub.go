// Package websocket pushes rank and tournament updates to subscribed clients.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/arcade-backend/internal/domain"
)

// Message types
const (
	MessageTypeRanksUpdate       = "ranks_update"
	MessageTypeTournamentSettled = "tournament_settled"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string       `json:"type"`
	Scope     domain.Scope `json:"scope,omitempty"`
	Data      any          `json:"data,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// RanksUpdate carries the top of a scope after a recompute
type RanksUpdate struct {
	Scope   domain.Scope              `json:"scope"`
	Entries []domain.LeaderboardEntry `json:"entries"`
}

// TournamentSettled carries the final standings of a tournament
type TournamentSettled struct {
	TournamentID  string                `json:"tournament_id"`
	Name          string                `json:"name"`
	Participants  int                   `json:"participants"`
	FinalRankings []domain.FinalRanking `json:"final_rankings"`
}

// Hub maintains the set of active clients and their scope subscriptions
type Hub struct {
	clients     map[domain.Scope]map[*Client]bool
	allClients  map[*Client]bool
	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest
	mu          sync.RWMutex
	logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	now         func() time.Time
}

type subscriptionRequest struct {
	client *Client
	scope  domain.Scope
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[domain.Scope]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		now:         time.Now,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.removeClient(client)
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.scope]; !ok {
				h.clients[req.scope] = make(map[*Client]bool)
			}
			h.clients[req.scope][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "scope", req.scope)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.scope]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.scope)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "scope", req.scope)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.allClients[client]; !ok {
		return
	}
	delete(h.allClients, client)
	for scope, clients := range h.clients {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.clients, scope)
			}
		}
	}
	close(client.send)
}

// broadcastMessage sends a message to the clients subscribed to its scope
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range h.clients[message.Scope] {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type, "scope", message.Scope)
	}
}

// BroadcastRanks sends the refreshed top of scope to its subscribers
func (h *Hub) BroadcastRanks(scope domain.Scope, entries []domain.LeaderboardEntry) {
	h.enqueue(&Message{
		Type:      MessageTypeRanksUpdate,
		Scope:     scope,
		Data:      RanksUpdate{Scope: scope, Entries: entries},
		Timestamp: h.now(),
	})
}

// BroadcastTournamentSettled sends the final standings to the tournament's subscribers
func (h *Hub) BroadcastTournamentSettled(t *domain.Tournament) {
	h.enqueue(&Message{
		Type:  MessageTypeTournamentSettled,
		Scope: domain.TournamentScope(t.ID),
		Data: TournamentSettled{
			TournamentID:  t.ID,
			Name:          t.Name,
			Participants:  t.ParticipantCount,
			FinalRankings: t.FinalRankings,
		},
		Timestamp: h.now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a scope subscription
func (h *Hub) Subscribe(client *Client, scope domain.Scope) {
	h.subscribe <- &subscriptionRequest{client: client, scope: scope}
}

// Unsubscribe removes a client from a scope subscription
func (h *Hub) Unsubscribe(client *Client, scope domain.Scope) {
	h.unsubscribe <- &subscriptionRequest{client: client, scope: scope}
}

// SubscriberCount returns the number of subscribers of a scope
func (h *Hub) SubscriberCount(scope domain.Scope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[scope])
}

// TotalConnections returns the number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
