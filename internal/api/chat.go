package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/adagent/internal/chat"
	"github.com/ashureev/adagent/internal/conversation"
	"github.com/ashureev/adagent/internal/identity"
)

// defaultMaxRequestBodySize is the fallback request body cap (64KB).
const defaultMaxRequestBodySize = 64 << 10

// ChatHandler exposes hosted conversations over HTTP and WebSocket.
type ChatHandler struct {
	conversations  *conversation.Manager
	rateLimiter    *RateLimiter
	maxBodySize    int64
	allowedOrigins []string
	isDev          bool
}

// ChatHandlerConfig holds ChatHandler settings.
type ChatHandlerConfig struct {
	MaxRequestBodySize int64
	AllowedOrigins     []string
	IsDevelopment      bool
}

// NewChatHandler creates a chat handler. Conversation creation is limited
// by rateLimiter per client IP.
func NewChatHandler(conversations *conversation.Manager, rateLimiter *RateLimiter, cfg ChatHandlerConfig) *ChatHandler {
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	return &ChatHandler{
		conversations:  conversations,
		rateLimiter:    rateLimiter,
		maxBodySize:    cfg.MaxRequestBodySize,
		allowedOrigins: cfg.AllowedOrigins,
		isDev:          cfg.IsDevelopment,
	}
}

// textRequest is the body of message and input updates.
type textRequest struct {
	Text string `json:"text"`
}

// submitResponse reports whether a submission started an exchange.
type submitResponse struct {
	Accepted bool          `json:"accepted"`
	Error    string        `json:"error,omitempty"`
	Snapshot chat.Snapshot `json:"snapshot"`
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat/sessions", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Delete("/", h.HandleDelete)
			r.Post("/messages", h.HandleSubmit)
			r.Put("/input", h.HandleInput)
		})
	})
	r.Get("/ws/chat/{sessionID}", h.HandleWebSocket)
}

// HandleCreate handles POST /api/chat/sessions: it mounts a conversation.
func (h *ChatHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ip := identity.IPFromRequest(r)
	if h.rateLimiter != nil && !h.rateLimiter.Allow(ip) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	conv, err := h.conversations.Open(r.Context(), ip)
	if err != nil {
		slog.Error("Failed to open conversation",
			"error", err,
			"ip", ip,
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
		if errors.Is(err, conversation.ErrIDCollision) {
			Error(w, http.StatusServiceUnavailable, "could not allocate session")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to open conversation")
		return
	}

	JSON(w, http.StatusCreated, conv.Controller.Snapshot())
}

// HandleGet handles GET /api/chat/sessions/{sessionID}.
func (h *ChatHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	conv := h.lookup(w, r)
	if conv == nil {
		return
	}
	JSON(w, http.StatusOK, conv.Controller.Snapshot())
}

// HandleDelete handles DELETE /api/chat/sessions/{sessionID}.
func (h *ChatHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !identity.ValidToken(sessionID) || !h.conversations.CloseConversation(r.Context(), sessionID, "client") {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSubmit handles POST /api/chat/sessions/{sessionID}/messages.
// The reply arrives later through GET or the WebSocket stream.
func (h *ChatHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	conv := h.lookup(w, r)
	if conv == nil {
		return
	}

	var req textRequest
	if !decodeBody(w, r, h.maxBodySize, &req) {
		return
	}

	accepted := conv.Controller.Submit(req.Text)
	status, reason := submitOutcome(accepted, req.Text, conv.Controller)

	slog.Info("Chat submission",
		"session_id", chi.URLParam(r, "sessionID"),
		"accepted", accepted,
		"message_length", len(req.Text),
	)
	JSON(w, status, submitResponse{
		Accepted: accepted,
		Error:    reason,
		Snapshot: conv.Controller.Snapshot(),
	})
}

// HandleInput handles PUT /api/chat/sessions/{sessionID}/input. Input is
// locked while a reply is pending.
func (h *ChatHandler) HandleInput(w http.ResponseWriter, r *http.Request) {
	conv := h.lookup(w, r)
	if conv == nil {
		return
	}

	var req textRequest
	if !decodeBody(w, r, h.maxBodySize, &req) {
		return
	}

	if !conv.Controller.SetInput(req.Text) {
		status, reason := inputRejection(conv.Controller)
		JSON(w, status, submitResponse{Error: reason, Snapshot: conv.Controller.Snapshot()})
		return
	}
	JSON(w, http.StatusOK, conv.Controller.Snapshot())
}

func (h *ChatHandler) lookup(w http.ResponseWriter, r *http.Request) *conversation.Conversation {
	sessionID := chi.URLParam(r, "sessionID")
	if !identity.ValidToken(sessionID) {
		Error(w, http.StatusNotFound, "conversation not found")
		return nil
	}
	conv := h.conversations.Get(sessionID)
	if conv == nil {
		Error(w, http.StatusNotFound, "conversation not found")
		return nil
	}
	return conv
}

// submitOutcome maps a Submit result to an HTTP status and reason.
func submitOutcome(accepted bool, text string, ctrl *chat.Controller) (int, string) {
	switch {
	case accepted:
		return http.StatusAccepted, ""
	case strings.TrimSpace(text) == "":
		return http.StatusUnprocessableEntity, "message is required"
	case ctrl.Closed():
		return http.StatusGone, "conversation closed"
	default:
		return http.StatusConflict, "a reply is still pending"
	}
}

// inputRejection maps a refused input update to an HTTP status and reason.
func inputRejection(ctrl *chat.Controller) (int, string) {
	if ctrl.Closed() {
		return http.StatusGone, "conversation closed"
	}
	return http.StatusConflict, "a reply is still pending"
}
