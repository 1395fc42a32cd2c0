package domain

import (
	"testing"
	"time"
)

func TestChatSessionIdleFor(t *testing.T) {
	now := time.Now()
	s := &ChatSession{LastActivityAt: now.Add(-5 * time.Minute)}

	if got := s.IdleFor(now); got != 5*time.Minute {
		t.Errorf("Expected 5m idle, got %v", got)
	}

	s.LastActivityAt = now.Add(time.Minute)
	if got := s.IdleFor(now); got != 0 {
		t.Errorf("Expected 0 idle for future activity, got %v", got)
	}

	closed := now
	s.ClosedAt = &closed
	if s.IsOpen() {
		t.Error("Expected closed session")
	}
	if got := s.IdleFor(now.Add(time.Hour)); got != 0 {
		t.Errorf("Expected 0 idle for closed session, got %v", got)
	}
}
