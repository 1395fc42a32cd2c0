package conversation

import (
	"context"
	"log/slog"
	"time"
)

// closedRetention is how long closed conversation records are kept.
const closedRetention = 24 * time.Hour

// StartTTLWorker runs a background goroutine that periodically closes
// conversations idle for longer than ttl. It stops when ctx is done; the
// returned channel is closed once it has.
func StartTTLWorker(ctx context.Context, m *Manager, ttl, interval time.Duration) <-chan struct{} {
	stopped := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(stopped)
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				m.SweepIdle(ctx, ttl)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return stopped
}

// SweepIdle closes conversations whose last activity is older than ttl and
// prunes old closed records. It returns the number of conversations closed.
func (m *Manager) SweepIdle(ctx context.Context, ttl time.Duration) int {
	idle, err := m.repo.GetIdleSessions(ctx, ttl)
	if err != nil {
		m.logger.Error("TTL worker failed to get idle sessions", "error", err)
		return 0
	}

	closed := 0
	for _, session := range idle {
		// The record may lag behind the controller; trust the controller.
		if conv := m.Get(session.SessionID); conv != nil && time.Since(conv.Controller.LastActive()) < ttl {
			continue
		}
		m.CloseConversation(ctx, session.SessionID, "idle")
		closed++
	}
	if closed > 0 {
		m.logger.Info("TTL worker closed idle conversations", "count", closed)
	}

	if deleted, err := m.repo.CleanupClosedSessions(ctx, closedRetention); err != nil {
		m.logger.Error("TTL worker failed to cleanup closed sessions", "error", err)
	} else if deleted > 0 {
		m.logger.Info("TTL worker removed closed session records", "count", deleted)
	}
	return closed
}
