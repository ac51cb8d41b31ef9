package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/service"
	"github.com/arcade-backend/internal/websocket"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups the components served over HTTP
type Services struct {
	Scores      *service.ScoreValidator
	Purchases   *service.PurchaseValidator
	Tournaments *service.TournamentService
	Ranking     *service.RankingEngine
	Players     *service.PlayerQueries
	Reports     *service.Reporter
	Jobs        *service.JobRunner
	Schedule    JobSchedule
}

// JobSchedule reports when timer-driven jobs fire next
type JobSchedule interface {
	IsRunning() bool
	NextRuns() map[domain.Job]time.Time
}

// Handler provides HTTP handlers for the game backend API
type Handler struct {
	svc    Services
	hub    *websocket.Hub
	deps   map[string]Pinger
	logger *slog.Logger
}

// NewHandler creates a new HTTP handler. deps are checked by /ready.
func NewHandler(svc Services, hub *websocket.Hub, deps map[string]Pinger, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		hub:    hub,
		deps:   deps,
		logger: logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scores", h.SubmitScore)
		r.Get("/scores/{id}", h.GetSubmission)

		r.Post("/purchases", h.SubmitReceipt)
		r.Get("/purchases/{id}", h.GetReceipt)

		r.Post("/telemetry", h.RecordTelemetry)

		r.Route("/tournaments", func(r chi.Router) {
			r.Post("/", h.CreateTournament)
			r.Get("/{id}", h.GetTournament)
			r.Put("/{id}/active", h.SetTournamentActive)
		})

		r.Route("/leaderboards/{scope}", func(r chi.Router) {
			r.Get("/top", h.GetTop)
			r.Get("/players/{playerID}", h.GetPlayerEntry)
		})

		r.Get("/players/{playerID}/wallet", h.GetWallet)
		r.Get("/flagged", h.ListFlagged)
		r.Get("/reports/{date}", h.GetReport)
		r.Get("/jobs", h.ListJobs)
		r.Post("/jobs/{job}", h.TriggerJob)

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (h *Handler) writeAccepted(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusAccepted, APIResponse{Success: true, Data: data})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{Success: false, Error: err.Error()})
}

// writeServiceError maps a service error onto a status code
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrUnknownJob):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidScope):
		h.writeError(w, http.StatusBadRequest, err)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, def int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]any{
		"total_connections": h.hub.TotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck pings every dependency
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]string, len(h.deps))
	ready := true
	for name, dep := range h.deps {
		if err := dep.Ping(r.Context()); err != nil {
			h.logger.Warn("dependency not ready", "dependency", name, "error", err)
			status[name] = "unavailable"
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{Success: false, Data: status, Error: "not ready"})
		return
	}
	h.writeSuccess(w, status)
}

// SubmitScore stores a pending submission; validation happens asynchronously
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitScoreRequest
	if !h.decode(w, r, &req) {
		return
	}

	sub, err := h.svc.Scores.Enqueue(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "submit score", err)
		return
	}
	h.writeAccepted(w, sub)
}

// GetSubmission returns a submission and its validation status
func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Scores.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "get submission", err)
		return
	}
	h.writeSuccess(w, sub)
}

// SubmitReceipt stores an unvalidated receipt
func (h *Handler) SubmitReceipt(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}

	receipt, err := h.svc.Purchases.Enqueue(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "submit receipt", err)
		return
	}
	h.writeAccepted(w, receipt)
}

// GetReceipt returns a receipt and its validation verdict
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.svc.Purchases.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "get receipt", err)
		return
	}
	h.writeSuccess(w, receipt)
}

// RecordTelemetry stores a batch of gameplay events
func (h *Handler) RecordTelemetry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Events []domain.GameplayEvent `json:"events"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	n, err := h.svc.Scores.RecordTelemetry(r.Context(), req.Events)
	if err != nil {
		h.writeServiceError(w, "record telemetry", err)
		return
	}
	h.writeAccepted(w, map[string]int{"received": n})
}

// CreateTournament stores a new tournament
func (h *Handler) CreateTournament(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTournamentRequest
	if !h.decode(w, r, &req) {
		return
	}

	t, err := h.svc.Tournaments.Create(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create tournament", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: t})
}

// GetTournament returns a tournament, including final rankings once settled
func (h *Handler) GetTournament(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Tournaments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "get tournament", err)
		return
	}
	h.writeSuccess(w, t)
}

// SetTournamentActive writes the active flag; deactivation triggers settlement
func (h *Handler) SetTournamentActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.Active == nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.svc.Tournaments.SetActive(r.Context(), id, *req.Active); err != nil {
		h.writeServiceError(w, "set tournament active", err)
		return
	}
	h.writeAccepted(w, map[string]any{"id": id, "active": *req.Active})
}

// GetTop returns the best entries of a scope
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	scope, err := domain.ParseScope(chi.URLParam(r, "scope"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	limit := queryInt(r, "limit", 10)
	if limit > 100 {
		limit = 100
	}

	entries, err := h.svc.Ranking.Top(r.Context(), scope, limit)
	if err != nil {
		h.writeServiceError(w, "get top", err)
		return
	}
	h.writeSuccess(w, entries)
}

// GetPlayerEntry returns a player's entry in a scope
func (h *Handler) GetPlayerEntry(w http.ResponseWriter, r *http.Request) {
	scope, err := domain.ParseScope(chi.URLParam(r, "scope"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := h.svc.Ranking.Entry(r.Context(), scope, chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, "get player entry", err)
		return
	}
	h.writeSuccess(w, entry)
}

// GetWallet returns a player's balances
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.svc.Players.Wallet(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, "get wallet", err)
		return
	}
	h.writeSuccess(w, wallet)
}

// ListFlagged returns the review queue
func (h *Handler) ListFlagged(w http.ResponseWriter, r *http.Request) {
	status := domain.FlagStatus(r.URL.Query().Get("status"))
	flagged, err := h.svc.Players.Flagged(r.Context(), status, queryInt(r, "limit", 100))
	if err != nil {
		h.writeServiceError(w, "list flagged", err)
		return
	}
	if flagged == nil {
		flagged = []domain.FlaggedPlayer{}
	}
	h.writeSuccess(w, flagged)
}

// GetReport returns the daily report of a date (YYYY-MM-DD)
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Reports.Get(r.Context(), chi.URLParam(r, "date"))
	if err != nil {
		h.writeServiceError(w, "get report", err)
		return
	}
	h.writeSuccess(w, report)
}

type jobStatus struct {
	Job       domain.Job `json:"job"`
	Scheduled bool       `json:"scheduled"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// ListJobs returns every job with its next scheduled run
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	var (
		running bool
		next    map[domain.Job]time.Time
	)
	if h.svc.Schedule != nil {
		running = h.svc.Schedule.IsRunning()
		next = h.svc.Schedule.NextRuns()
	}

	jobs := make([]jobStatus, 0, len(domain.Jobs))
	for _, job := range domain.Jobs {
		status := jobStatus{Job: job}
		if at, ok := next[job]; ok {
			status.Scheduled = true
			status.NextRun = &at
		}
		jobs = append(jobs, status)
	}
	h.writeSuccess(w, map[string]any{
		"scheduler_running": running,
		"jobs":              jobs,
	})
}

// TriggerJob fires a timer event for a job outside its schedule
func (h *Handler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	job, err := domain.ParseJob(chi.URLParam(r, "job"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	if err := h.svc.Jobs.Trigger(r.Context(), job); err != nil {
		h.writeServiceError(w, "trigger job", err)
		return
	}
	h.writeAccepted(w, map[string]string{"job": string(job), "status": "triggered"})
}
