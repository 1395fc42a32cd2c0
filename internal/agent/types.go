// Package agent implements the HTTP client for the remote agent service.
package agent

import "time"

const (
	// DefaultBaseURL is the agent service the site was deployed against.
	DefaultBaseURL = "http://43.153.36.204:8000"
	// DefaultAppName identifies the agent application on the remote service.
	DefaultAppName = "multi_tool_agent"
	// FallbackReply is returned when the agent reply has no text.
	FallbackReply = "No response from agent"

	roleUser = "user"
)

// Part is a single piece of message content.
type Part struct {
	Text string `json:"text"`
}

// Message is the envelope for a user utterance.
type Message struct {
	Parts []Part `json:"parts"`
	Role  string `json:"role"`
}

// RunRequest is the body of POST /run.
type RunRequest struct {
	AppName    string  `json:"appName"`
	UserID     string  `json:"userId"`
	SessionID  string  `json:"sessionId"`
	NewMessage Message `json:"newMessage"`
	Streaming  bool    `json:"streaming"`
}

// NewRunRequest wraps text in a single-part user message. Streaming is
// always off.
func NewRunRequest(appName, userID, sessionID, text string) RunRequest {
	return RunRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
		NewMessage: Message{
			Parts: []Part{{Text: text}},
			Role:  roleUser,
		},
		Streaming: false,
	}
}

// ClientConfig holds configuration for the agent client.
type ClientConfig struct {
	BaseURL        string
	AppName        string
	RequestTimeout time.Duration
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        DefaultBaseURL,
		AppName:        DefaultAppName,
		RequestTimeout: 60 * time.Second,
	}
}
