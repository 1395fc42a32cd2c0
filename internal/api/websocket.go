package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/adagent/internal/chat"
	"github.com/ashureev/adagent/internal/conversation"
	"github.com/ashureev/adagent/internal/identity"
)

const wsWriteTimeout = 10 * time.Second

// wsMessage is a client to server frame.
type wsMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// wsEvent is a server to client frame.
type wsEvent struct {
	Type     string         `json:"type"`
	Snapshot *chat.Snapshot `json:"snapshot,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// HandleWebSocket handles GET /ws/chat/{sessionID}. It pushes a snapshot on
// every conversation change and accepts submit, input and ping frames.
func (h *ChatHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	var conv *conversation.Conversation
	if identity.ValidToken(sessionID) {
		conv = h.conversations.Get(sessionID)
	}
	if conv == nil {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	updates, unsubscribe := conv.Hub.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	current := conv.Controller.Snapshot()
	if err := h.writeEvent(ctx, ws, wsEvent{Type: "snapshot", Snapshot: &current}); err != nil {
		slog.Debug("Failed to send initial snapshot", "error", err, "session_id", sessionID)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// Output loop: conversation -> WebSocket.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, updates, sessionID)
	}()

	// Input loop: WebSocket -> conversation.
	go func() {
		defer wg.Done()
		defer cancel()
		defer unsubscribe()
		h.inputLoop(ctx, ws, conv.Controller, sessionID)
	}()

	wg.Wait()
	slog.Info("Chat stream ended", "session_id", sessionID)
}

func (h *ChatHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *ChatHandler) inputLoop(ctx context.Context, ws *websocket.Conn, ctrl *chat.Controller, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			if err := h.writeEvent(ctx, ws, wsEvent{Type: "error", Error: "invalid message"}); err != nil {
				return
			}
			continue
		}

		switch msg.Type {
		case "submit":
			if !ctrl.Submit(msg.Text) {
				_, reason := submitOutcome(false, msg.Text, ctrl)
				if err := h.writeEvent(ctx, ws, wsEvent{Type: "rejected", Error: reason}); err != nil {
					return
				}
			}
		case "input":
			if !ctrl.SetInput(msg.Text) {
				_, reason := inputRejection(ctrl)
				if err := h.writeEvent(ctx, ws, wsEvent{Type: "rejected", Error: reason}); err != nil {
					return
				}
			}
		case "ping":
			if err := h.writeEvent(ctx, ws, wsEvent{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		default:
			if err := h.writeEvent(ctx, ws, wsEvent{Type: "error", Error: "unknown message type"}); err != nil {
				return
			}
		}
	}
}

func (h *ChatHandler) outputLoop(ctx context.Context, ws *websocket.Conn, updates <-chan chat.Snapshot, sessionID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				// Hub closed: the conversation was torn down.
				if err := h.writeEvent(ctx, ws, wsEvent{Type: "closed"}); err != nil {
					slog.Debug("Failed to send closed event", "error", err, "session_id", sessionID)
				}
				return
			}
			if err := h.writeEvent(ctx, ws, wsEvent{Type: "snapshot", Snapshot: &snap}); err != nil {
				slog.Debug("Failed to push snapshot", "error", err, "session_id", sessionID)
				return
			}
		}
	}
}

func (h *ChatHandler) writeEvent(ctx context.Context, ws *websocket.Conn, ev wsEvent) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, ev)
}
