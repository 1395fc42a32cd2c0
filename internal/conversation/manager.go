// Package conversation hosts chat controllers on the server: one per
// browser load, keyed by session ID, with idle expiry.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/adagent/internal/agent"
	"github.com/ashureev/adagent/internal/chat"
	"github.com/ashureev/adagent/internal/domain"
	"github.com/ashureev/adagent/internal/identity"
	"github.com/ashureev/adagent/internal/store"
)

// maxIDAttempts bounds regeneration when a generated session ID is taken.
const maxIDAttempts = 3

// ErrIDCollision means the generator kept producing live session IDs.
var ErrIDCollision = errors.New("conversation: could not allocate a unique session id")

// Conversation is a hosted controller and its view hub.
type Conversation struct {
	Controller *chat.Controller
	Hub        *Hub
}

// Config holds manager dependencies.
type Config struct {
	Processor      agent.Processor
	Generator      identity.Generator
	Repo           store.Repository
	AppName        string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Manager owns every live conversation.
type Manager struct {
	processor agent.Processor
	gen       identity.Generator
	repo      store.Repository
	appName   string
	timeout   time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	active map[string]*Conversation
}

// NewManager creates a manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Generator == nil {
		cfg.Generator = identity.Random{}
	}
	return &Manager{
		processor: &trackingProcessor{next: cfg.Processor, repo: cfg.Repo, logger: cfg.Logger},
		gen:       cfg.Generator,
		repo:      cfg.Repo,
		appName:   cfg.AppName,
		timeout:   cfg.RequestTimeout,
		logger:    cfg.Logger,
		active:    make(map[string]*Conversation),
	}
}

// Open mounts a new conversation: it generates the identity pair, records
// the session and launches session initialization without waiting for it.
func (m *Manager) Open(ctx context.Context, remoteIP string) (*Conversation, error) {
	m.mu.Lock()
	var pair identity.Pair
	allocated := false
	for range maxIDAttempts {
		pair = m.gen.Generate()
		if _, taken := m.active[pair.SessionID]; !taken {
			allocated = true
			break
		}
	}
	if !allocated {
		m.mu.Unlock()
		return nil, ErrIDCollision
	}

	hub := NewHub(pair.SessionID, m.repo, m.logger)
	ctrl := chat.NewController(m.processor, identity.Fixed(pair),
		chat.WithView(hub),
		chat.WithLogger(m.logger),
		chat.WithRequestTimeout(m.timeout),
	)
	conv := &Conversation{Controller: ctrl, Hub: hub}
	m.active[pair.SessionID] = conv
	m.mu.Unlock()

	now := time.Now()
	if err := m.repo.CreateSession(ctx, &domain.ChatSession{
		SessionID:      pair.SessionID,
		UserID:         pair.UserID,
		AppName:        m.appName,
		RemoteIP:       remoteIP,
		InitStatus:     domain.InitPending,
		CreatedAt:      now,
		LastActivityAt: now,
	}); err != nil {
		m.mu.Lock()
		delete(m.active, pair.SessionID)
		m.mu.Unlock()
		ctrl.Close()
		hub.Close()
		return nil, fmt.Errorf("record conversation: %w", err)
	}

	ctrl.Start()
	m.logger.Info("Conversation opened",
		"user_id", pair.UserID,
		"session_id", pair.SessionID,
		"ip", remoteIP,
	)
	return conv, nil
}

// Get returns the live conversation for sessionID, or nil.
func (m *Manager) Get(sessionID string) *Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[sessionID]
}

// Len returns the number of live conversations.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CloseConversation tears a conversation down and marks its record closed.
// It reports whether a live conversation was removed.
func (m *Manager) CloseConversation(ctx context.Context, sessionID, reason string) bool {
	m.mu.Lock()
	conv, ok := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	if ok {
		conv.Controller.Close()
		conv.Hub.Close()
		m.logger.Info("Conversation removed", "session_id", sessionID, "reason", reason)
	}

	if err := m.repo.CloseSession(ctx, sessionID, time.Now()); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("Failed to mark conversation closed", "session_id", sessionID, "error", err)
	}
	return ok
}

// Shutdown closes every conversation and waits for in-flight agent calls
// to return or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	convs := make([]*Conversation, 0, len(m.active))
	ids := make([]string, 0, len(m.active))
	for id, conv := range m.active {
		convs = append(convs, conv)
		ids = append(ids, id)
	}
	m.active = make(map[string]*Conversation)
	m.mu.Unlock()

	for i, conv := range convs {
		conv.Controller.Close()
		conv.Hub.Close()
		if err := m.repo.CloseSession(ctx, ids[i], time.Now()); err != nil && !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("Failed to mark conversation closed", "session_id", ids[i], "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, conv := range convs {
			conv.Controller.Wait()
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight agent calls: %w", ctx.Err())
	}
}

// trackingProcessor records the initialization outcome in the repository.
type trackingProcessor struct {
	next   agent.Processor
	repo   store.Repository
	logger *slog.Logger
}

func (p *trackingProcessor) InitializeSession(ctx context.Context, userID, sessionID string) error {
	err := p.next.InitializeSession(ctx, userID, sessionID)

	status, detail := domain.InitOK, ""
	if err != nil {
		status, detail = domain.InitFailed, err.Error()
	}

	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if recErr := p.repo.SetInitStatus(recordCtx, sessionID, status, detail); recErr != nil {
		p.logger.Warn("Failed to record session init status", "session_id", sessionID, "error", recErr)
	}
	return err
}

func (p *trackingProcessor) SendTurn(ctx context.Context, userID, sessionID, text string) (string, error) {
	return p.next.SendTurn(ctx, userID, sessionID, text)
}
