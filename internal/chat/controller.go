package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/adagent/internal/agent"
	"github.com/ashureev/adagent/internal/identity"
)

// Snapshot is an immutable copy of a controller's model handed to views.
type Snapshot struct {
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`
	State      State  `json:"state"`
	Pending    bool   `json:"pending"`
	Transcript []Turn `json:"transcript"`
	Input      string `json:"input"`
	// Latest is the index of the newest Turn, or -1 for an empty transcript.
	Latest  int    `json:"latest"`
	Version uint64 `json:"version"`
}

// View renders snapshots. Render is called after every model change, in
// order, while the controller is locked: it must not call back into the
// controller. Every view must bring Transcript[Latest] into view without
// user action.
type View interface {
	Render(Snapshot)
}

// ViewFunc adapts a function to View.
type ViewFunc func(Snapshot)

// Render calls f(s).
func (f ViewFunc) Render(s Snapshot) { f(s) }

// Option configures a Controller.
type Option func(*Controller)

// WithView sets the view notified after every change.
func WithView(v View) Option {
	return func(c *Controller) { c.view = v }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRequestTimeout bounds each agent call. Zero means no bound beyond the
// processor's own.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// Controller hosts one conversation: it owns the model, drives the agent
// processor and notifies its view.
type Controller struct {
	pair      identity.Pair
	processor agent.Processor
	view      View
	logger    *slog.Logger
	timeout   time.Duration

	mu         sync.Mutex
	model      Model
	version    uint64
	started    bool
	closed     bool
	lastActive time.Time

	wg sync.WaitGroup
}

// NewController creates a controller with a fresh identity pair from gen.
func NewController(processor agent.Processor, gen identity.Generator, opts ...Option) *Controller {
	c := &Controller{
		pair:       gen.Generate(),
		processor:  processor,
		logger:     slog.Default(),
		lastActive: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("user_id", c.pair.UserID, "session_id", c.pair.SessionID)
	return c
}

// Pair returns the controller's identity pair.
func (c *Controller) Pair() identity.Pair { return c.pair }

// Start launches session initialization once. Its outcome is only logged;
// the controller accepts submissions immediately.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("Conversation mounted")

	go func() {
		defer c.wg.Done()
		ctx, cancel := c.callContext()
		defer cancel()

		if err := c.processor.InitializeSession(ctx, c.pair.UserID, c.pair.SessionID); err != nil {
			c.logger.Error("Session error", "error", err)
			return
		}
		c.logger.Info("Session initialized")
	}()
}

// Submit sends text to the agent. It returns false, changing nothing, when
// text is blank, an exchange is already pending, or the controller is closed.
func (c *Controller) Submit(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	next, cmd := Step(c.model, Submit{Text: text})
	send, ok := cmd.(SendTurn)
	if !ok {
		return false
	}
	c.apply(next)

	c.wg.Add(1)
	go c.exchange(send.Text)
	return true
}

// SetInput replaces the input buffer. It returns false, changing nothing,
// while an exchange is pending or after Close.
func (c *Controller) SetInput(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.model.State == Pending {
		return false
	}
	next, _ := Step(c.model, InputChanged{Text: text})
	c.apply(next)
	return true
}

// Snapshot returns the current model.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// LastActive reports when the model last changed.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Close tears the controller down. In-flight calls are not aborted; their
// results are discarded when they arrive.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.logger.Info("Conversation closed")
}

// Closed reports whether Close has been called.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Wait blocks until session initialization and every exchange started so
// far have returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) exchange(text string) {
	defer c.wg.Done()

	reply, err := c.send(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.logger.Debug("Discarding reply for closed conversation", "error", err)
		return
	}

	var ev Event = ReplyReceived{Text: reply}
	if err != nil {
		c.logger.Error("API error", "error", err)
		ev = ReplyFailed{Err: err}
	}
	next, _ := Step(c.model, ev)
	c.apply(next)
}

// send calls the processor, converting a panic into an error so the
// exchange always leaves Pending.
func (c *Controller) send(text string) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent call panicked: %v", r)
		}
	}()
	ctx, cancel := c.callContext()
	defer cancel()
	return c.processor.SendTurn(ctx, c.pair.UserID, c.pair.SessionID, text)
}

func (c *Controller) callContext() (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(context.Background(), c.timeout)
	}
	return context.WithCancel(context.Background())
}

// apply installs next and renders it. Callers hold c.mu.
func (c *Controller) apply(next Model) {
	c.model = next
	c.version++
	c.lastActive = time.Now()
	if c.view != nil {
		c.view.Render(c.snapshotLocked())
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	transcript := make([]Turn, len(c.model.Transcript))
	copy(transcript, c.model.Transcript)
	return Snapshot{
		UserID:     c.pair.UserID,
		SessionID:  c.pair.SessionID,
		State:      c.model.State,
		Pending:    c.model.State == Pending,
		Transcript: transcript,
		Input:      c.model.Input,
		Latest:     len(transcript) - 1,
		Version:    c.version,
	}
}
