// Package domain contains core domain types for the adagent site.
package domain

import (
	"time"
)

// InitStatus is the outcome of remote session initialization.
type InitStatus string

const (
	InitPending InitStatus = "pending"
	InitOK      InitStatus = "ok"
	InitFailed  InitStatus = "failed"
)

// ChatSession is server-side metadata about one hosted conversation.
// It never holds transcript text.
type ChatSession struct {
	SessionID      string     `json:"session_id"`
	UserID         string     `json:"user_id"`
	AppName        string     `json:"app_name"`
	RemoteIP       string     `json:"-"`
	InitStatus     InitStatus `json:"init_status"`
	InitError      string     `json:"init_error,omitempty"`
	TurnCount      int        `json:"turn_count"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// IsOpen returns true if the conversation has not been torn down.
func (s *ChatSession) IsOpen() bool {
	return s.ClosedAt == nil
}

// IdleFor returns how long the conversation has been inactive at now.
// Returns 0 for closed conversations.
func (s *ChatSession) IdleFor(now time.Time) time.Duration {
	if !s.IsOpen() {
		return 0
	}
	idle := now.Sub(s.LastActivityAt)
	if idle < 0 {
		return 0
	}
	return idle
}
