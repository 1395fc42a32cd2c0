// Package chat implements the conversation controller that drives the agent
// client: a pure Idle/Pending state machine plus a goroutine-safe host for it.
package chat

import (
	"fmt"
	"strings"
)

// ApologyText replaces the agent reply when a turn fails outright.
const ApologyText = "Sorry, I encountered an error. Please try again."

// Sender identifies who authored a Turn.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Turn is one immutable transcript entry.
type Turn struct {
	Text   string `json:"text"`
	Sender Sender `json:"sender"`
}

// State is the controller's exchange state.
type State int

const (
	// Idle: no exchange in flight, input enabled.
	Idle State = iota
	// Pending: one exchange in flight, input disabled.
	Pending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = Idle
	case "pending":
		*s = Pending
	default:
		return fmt.Errorf("unknown state %q", text)
	}
	return nil
}

// Model is the complete observable conversation state.
type Model struct {
	State      State
	Transcript []Turn
	Input      string
}

// Event is an input to Step.
type Event interface {
	isEvent()
}

// Submit is the user sending Text.
type Submit struct{ Text string }

// ReplyReceived is a successful exchange.
type ReplyReceived struct{ Text string }

// ReplyFailed is an exchange that failed outright.
type ReplyFailed struct{ Err error }

// InputChanged replaces the input buffer. It is ignored while Pending.
type InputChanged struct{ Text string }

func (Submit) isEvent()        {}
func (ReplyReceived) isEvent() {}
func (ReplyFailed) isEvent()   {}
func (InputChanged) isEvent()  {}

// Command is a side effect requested by Step. A nil Command means none.
type Command interface {
	isCommand()
}

// SendTurn asks the host to send Text to the agent.
type SendTurn struct{ Text string }

func (SendTurn) isCommand() {}

// Step applies ev to m and returns the next model and the side effect to run.
// It never mutates m; transcripts are only ever extended.
func Step(m Model, ev Event) (Model, Command) {
	switch ev := ev.(type) {
	case Submit:
		if m.State == Pending || strings.TrimSpace(ev.Text) == "" {
			return m, nil
		}
		m.Transcript = appendTurn(m.Transcript, Turn{Text: ev.Text, Sender: SenderUser})
		m.Input = ""
		m.State = Pending
		return m, SendTurn{Text: ev.Text}

	case ReplyReceived:
		if m.State != Pending {
			return m, nil
		}
		m.Transcript = appendTurn(m.Transcript, Turn{Text: ev.Text, Sender: SenderAgent})
		m.State = Idle
		return m, nil

	case ReplyFailed:
		if m.State != Pending {
			return m, nil
		}
		m.Transcript = appendTurn(m.Transcript, Turn{Text: ApologyText, Sender: SenderAgent})
		m.State = Idle
		return m, nil

	case InputChanged:
		// Input is disabled while a reply is pending.
		if m.State == Pending {
			return m, nil
		}
		m.Input = ev.Text
		return m, nil
	}
	return m, nil
}

// appendTurn copies before appending so earlier models keep their slice.
func appendTurn(ts []Turn, t Turn) []Turn {
	out := make([]Turn, len(ts), len(ts)+1)
	copy(out, ts)
	return append(out, t)
}
