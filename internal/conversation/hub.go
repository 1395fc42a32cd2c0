package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/adagent/internal/chat"
	"github.com/ashureev/adagent/internal/store"
)

const subscriberQueueSize = 8

// latest is a single-slot mailbox that keeps only the newest snapshot.
type latest struct {
	mu    sync.Mutex
	snap  chat.Snapshot
	ready bool
	wake  chan struct{}
}

func newLatest() *latest {
	return &latest{wake: make(chan struct{}, 1)}
}

func (l *latest) put(s chat.Snapshot) {
	l.mu.Lock()
	if !l.ready || s.Version >= l.snap.Version {
		l.snap = s
		l.ready = true
	}
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *latest) take() (chat.Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.snap, l.ready
	l.ready = false
	return s, ok
}

// Hub is the chat.View of a hosted conversation. Render never blocks: the
// snapshot is parked in a mailbox that keeps only the newest one. One loop
// fans it out to subscribers; a second records activity in the repository,
// so a slow database never delays delivery.
type Hub struct {
	sessionID string
	repo      store.Repository
	logger    *slog.Logger

	fanout *latest
	record *latest
	done   chan struct{}
	loops  sync.WaitGroup
	once   sync.Once

	mu     sync.Mutex
	nextID int64
	subs   map[int64]chan chat.Snapshot
}

// NewHub creates a hub and starts its loops. Call Close to stop them.
func NewHub(sessionID string, repo store.Repository, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		sessionID: sessionID,
		repo:      repo,
		logger:    logger,
		fanout:    newLatest(),
		record:    newLatest(),
		done:      make(chan struct{}),
		subs:      make(map[int64]chan chat.Snapshot),
	}
	h.loops.Add(2)
	go h.run(h.fanout, h.broadcast)
	go h.run(h.record, h.touch)
	return h
}

// Render implements chat.View.
func (h *Hub) Render(s chat.Snapshot) {
	select {
	case <-h.done:
		return
	default:
	}
	h.fanout.put(s)
	h.record.put(s)
}

// Subscribe registers a listener. The returned channel is closed when the
// hub closes or cancel is called. Slow listeners only lose stale snapshots:
// the newest one is always kept.
func (h *Hub) Subscribe() (<-chan chat.Snapshot, func()) {
	ch := make(chan chat.Snapshot, subscriberQueueSize)

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Subscribers returns the number of live listeners.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close stops the loops and closes every subscriber channel. Snapshots
// already parked are delivered first.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.done)
		h.loops.Wait()

		h.mu.Lock()
		defer h.mu.Unlock()
		for id, sub := range h.subs {
			close(sub)
			delete(h.subs, id)
		}
	})
}

func (h *Hub) run(box *latest, handle func(chat.Snapshot)) {
	defer h.loops.Done()
	for {
		select {
		case <-box.wake:
			if snap, ok := box.take(); ok {
				handle(snap)
			}
		case <-h.done:
			if snap, ok := box.take(); ok {
				handle(snap)
			}
			return
		}
	}
}

func (h *Hub) broadcast(snap chat.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub <- snap:
			continue
		default:
		}
		// Full: drop the oldest queued snapshot to make room.
		select {
		case <-sub:
		default:
		}
		select {
		case sub <- snap:
		default:
		}
	}
}

func (h *Hub) touch(snap chat.Snapshot) {
	if h.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.repo.TouchSession(ctx, h.sessionID, len(snap.Transcript), time.Now()); err != nil {
		h.logger.Warn("Failed to record conversation activity", "session_id", h.sessionID, "error", err)
	}
}
