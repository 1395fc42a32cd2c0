package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/adagent/internal/store"
)

// ConversationCounter reports the number of live conversations.
type ConversationCounter interface {
	Len() int
}

// HealthHandler serves the readiness endpoint.
type HealthHandler struct {
	repo          store.Repository
	conversations ConversationCounter
	appName       string
	startedAt     time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(repo store.Repository, conversations ConversationCounter, appName string) *HealthHandler {
	return &HealthHandler{
		repo:          repo,
		conversations: conversations,
		appName:       appName,
		startedAt:     time.Now(),
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	Database      string `json:"database"`
	Conversations int    `json:"conversations"`
	AppName       string `json:"app_name"`
	Uptime        string `json:"uptime"`
}

// RegisterHealth registers GET /api/health.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.HandleHealth)
}

// HandleHealth reports database reachability and the live conversation count.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:   "ok",
		Database: "ok",
		AppName:  h.appName,
		Uptime:   time.Since(h.startedAt).Round(time.Second).String(),
	}
	if h.conversations != nil {
		resp.Conversations = h.conversations.Len()
	}

	status := http.StatusOK
	if err := h.repo.Ping(ctx); err != nil {
		slog.Warn("Health check database ping failed", "error", err)
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	JSON(w, status, resp)
}
