package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport matches any *TransportError.
	ErrTransport = errors.New("agent: transport failure")

	// ErrUndecodable indicates the agent answered with a body that is not JSON.
	ErrUndecodable = errors.New("agent: response is not valid JSON")

	// ErrShapeMismatch indicates a JSON reply without the expected text path.
	// SendTurn never returns it; it degrades to FallbackReply instead.
	ErrShapeMismatch = errors.New("agent: response has no reply text")
)

// TransportError wraps network-level failures (DNS, connect, timeout, body
// read). It is never retried.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("agent: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) hold for every TransportError.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }
