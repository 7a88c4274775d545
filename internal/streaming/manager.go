// Package streaming provides in-memory per-session pub/sub for progress
// events. Publishing is non-blocking: a slow subscriber drops events rather
// than stalling the run. A small seq-numbered ring buffer per session allows
// reconnecting subscribers to replay what they missed.
package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/deepresearch-labs/orchestrator/internal/metrics"
)

// Event types delivered to progress sinks.
const (
	TypeProgress  = "progress"
	TypeStatus    = "status"
	TypeCompleted = "completed"
	TypeError     = "error"
	TypeCancelled = "cancelled"
)

// Event is one message on a session's progress stream.
type Event struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Marshal returns the event as JSON for transport or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

const defaultRingCapacity = 256

// Manager is a process-scoped registry of session subscribers. It is created
// once at startup and injected into whichever component needs it.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewManager creates a streaming manager; capacity <= 0 uses the default
// per-session replay ring size.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe attaches a subscriber channel for sessionID; the caller must
// drain it and call Unsubscribe when done.
func (m *Manager) Subscribe(sessionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[sessionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	metrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe detaches and closes the subscriber channel.
func (m *Manager) Unsubscribe(sessionID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[sessionID]; ok {
		if _, member := subs[ch]; member {
			delete(subs, ch)
			close(ch)
			metrics.StreamSubscribers.Dec()
		}
		if len(subs) == 0 {
			delete(m.subscribers, sessionID)
		}
	}
}

// Publish delivers evt to every subscriber of sessionID without blocking.
// The event is stamped with the next sequence number and recorded for replay.
func (m *Manager) Publish(sessionID string, evt Event) {
	evt.SessionID = sessionID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	m.mu.Lock()
	rg := m.history[sessionID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[sessionID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	// Deliver under the lock so Unsubscribe cannot close a channel mid-send;
	// sends are non-blocking, so the critical section stays short.
	for ch := range m.subscribers[sessionID] {
		select {
		case ch <- evt:
		default:
			metrics.StreamEventsDropped.Inc()
		}
	}
	m.mu.Unlock()

	metrics.ProgressEventsPublished.Inc()
}

// ReplaySince returns events with Seq > since, best-effort within the ring
// capacity.
func (m *Manager) ReplaySince(sessionID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[sessionID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget detaches all subscribers for sessionID and drops its replay history.
// Called when a session is evicted.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subscribers[sessionID] {
		close(ch)
		metrics.StreamSubscribers.Dec()
	}
	delete(m.subscribers, sessionID)
	delete(m.history, sessionID)
}

// SubscriberCount reports the number of attached subscribers across all
// sessions.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, subs := range m.subscribers {
		n += len(subs)
	}
	return n
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity), nextSeq: 1} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
