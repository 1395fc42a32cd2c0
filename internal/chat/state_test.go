package chat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepSubmitFromIdle(t *testing.T) {
	m := Model{Input: "  Hi  "}
	next, cmd := Step(m, Submit{Text: "  Hi  "})

	assert.Equal(t, SendTurn{Text: "  Hi  "}, cmd)
	assert.Equal(t, Pending, next.State)
	assert.Equal(t, []Turn{{Text: "  Hi  ", Sender: SenderUser}}, next.Transcript)
	assert.Empty(t, next.Input)

	// The input model is untouched.
	assert.Equal(t, Idle, m.State)
	assert.Empty(t, m.Transcript)
	assert.Equal(t, "  Hi  ", m.Input)
}

func TestStepSubmitIgnored(t *testing.T) {
	pending := Model{State: Pending, Transcript: []Turn{{Text: "a", Sender: SenderUser}}, Input: "draft"}
	tests := []struct {
		name string
		m    Model
		text string
	}{
		{"empty", Model{Input: "x"}, ""},
		{"spaces", Model{}, "   "},
		{"whitespace mix", Model{}, "\t\n \r"},
		{"pending", pending, "next"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, cmd := Step(tt.m, Submit{Text: tt.text})
			assert.Nil(t, cmd)
			assert.Equal(t, tt.m, next)
		})
	}
}

func TestStepReplies(t *testing.T) {
	pending, _ := Step(Model{}, Submit{Text: "Hi"})

	ok, cmd := Step(pending, ReplyReceived{Text: "Hello!"})
	assert.Nil(t, cmd)
	assert.Equal(t, Idle, ok.State)
	assert.Equal(t, []Turn{
		{Text: "Hi", Sender: SenderUser},
		{Text: "Hello!", Sender: SenderAgent},
	}, ok.Transcript)

	failed, cmd := Step(pending, ReplyFailed{Err: errors.New("boom")})
	assert.Nil(t, cmd)
	assert.Equal(t, Idle, failed.State)
	assert.Equal(t, Turn{Text: ApologyText, Sender: SenderAgent}, failed.Transcript[1])

	// Both branches were derived from the same model without interfering.
	assert.Len(t, pending.Transcript, 1)
}

func TestStepRepliesIgnoredWhenIdle(t *testing.T) {
	idle := Model{Transcript: []Turn{{Text: "a", Sender: SenderUser}}}
	for _, ev := range []Event{ReplyReceived{Text: "late"}, ReplyFailed{Err: errors.New("late")}} {
		next, cmd := Step(idle, ev)
		assert.Nil(t, cmd)
		assert.Equal(t, idle, next)
	}
}

func TestStepInputChanged(t *testing.T) {
	next, cmd := Step(Model{State: Idle}, InputChanged{Text: "typing"})
	assert.Nil(t, cmd)
	assert.Equal(t, "typing", next.Input)
	assert.Equal(t, Idle, next.State)
}

func TestStepInputChangedIgnoredWhilePending(t *testing.T) {
	pending := Model{State: Pending, Transcript: []Turn{{Text: "Hi", Sender: SenderUser}}}
	next, cmd := Step(pending, InputChanged{Text: "typing"})
	assert.Nil(t, cmd)
	assert.Equal(t, pending, next)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "unknown", State(7).String())

	b, err := Pending.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "pending", string(b))
}

func TestStateUnmarshalText(t *testing.T) {
	var s State
	assert.NoError(t, s.UnmarshalText([]byte("pending")))
	assert.Equal(t, Pending, s)
	assert.NoError(t, s.UnmarshalText([]byte("idle")))
	assert.Equal(t, Idle, s)
	assert.Error(t, s.UnmarshalText([]byte("busy")))
}
