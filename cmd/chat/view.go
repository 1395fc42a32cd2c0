package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/ashureev/adagent/internal/chat"
)

// terminalView prints agent turns as they arrive. User turns are already on
// screen because the user typed them.
type terminalView struct {
	out io.Writer

	mu      sync.Mutex
	printed int
	typing  bool
	idle    chan struct{}
}

func newTerminalView(out io.Writer) *terminalView {
	return &terminalView{out: out, idle: make(chan struct{}, 1)}
}

// Render implements chat.View.
func (v *terminalView) Render(s chat.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.printed > len(s.Transcript) {
		v.printed = 0
	}
	for _, turn := range s.Transcript[v.printed:] {
		if turn.Sender == chat.SenderAgent {
			fmt.Fprintf(v.out, "agent> %s\n", turn.Text)
		}
	}
	v.printed = len(s.Transcript)

	switch {
	case s.Pending && !v.typing:
		v.typing = true
		fmt.Fprintln(v.out, "agent is typing...")
	case !s.Pending && v.typing:
		v.typing = false
		select {
		case v.idle <- struct{}{}:
		default:
		}
	}
}

// Idle is signalled each time an exchange completes.
func (v *terminalView) Idle() <-chan struct{} {
	return v.idle
}
