package agent

import "context"

// Processor is the session-scoped messaging contract the chat controller
// depends on. It is implemented by the HTTP client.
type Processor interface {
	// InitializeSession asks the remote service to create the session.
	InitializeSession(ctx context.Context, userID, sessionID string) error

	// SendTurn submits one user utterance and returns the agent's reply text.
	SendTurn(ctx context.Context, userID, sessionID, text string) (string, error)
}

// Ensure Client implements Processor.
var _ Processor = (*Client)(nil)
