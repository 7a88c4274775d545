package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deepresearch-labs/orchestrator/internal/metrics"
	"github.com/deepresearch-labs/orchestrator/internal/streaming"
)

// Runner executes one research workflow run to completion. The session
// manager owns lifecycle and cancellation; the runner owns the workflow
// semantics.
type Runner interface {
	Run(ctx context.Context, sessionID, topic string, maxCycles int, progress func(msg string)) (report string, cycles int, err error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, sessionID, topic string, maxCycles int, progress func(msg string)) (string, int, error)

func (f RunnerFunc) Run(ctx context.Context, sessionID, topic string, maxCycles int, progress func(msg string)) (string, int, error) {
	return f(ctx, sessionID, topic, maxCycles, progress)
}

// Config carries the session manager knobs.
type Config struct {
	MaxConcurrent      int           // concurrency ceiling for live runs
	DefaultMaxCycles   int           // review cycle cap when the caller passes 0
	DefaultTimeout     time.Duration // run-scoped deadline when the caller passes 0
	TTL                time.Duration // unconditional session lifetime
	CompletedRetention time.Duration // extra lifetime for terminal sessions
	SweepInterval      time.Duration // periodic sweep cadence
}

// DefaultManagerConfig mirrors the service defaults.
func DefaultManagerConfig() Config {
	return Config{
		MaxConcurrent:      10,
		DefaultMaxCycles:   3,
		DefaultTimeout:     300 * time.Second,
		TTL:                24 * time.Hour,
		CompletedRetention: time.Hour,
		SweepInterval:      30 * time.Minute,
	}
}

type record struct {
	sess   Session
	cancel context.CancelFunc
}

// Manager creates, tracks, cancels, and evicts research sessions. All state
// lives in process memory; the record map is the single shared resource
// mutated by API operations, run completion callbacks, and the TTL sweep,
// all mutually exclusive under one lock.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*record
	runner   Runner
	streams  *streaming.Manager
	logger   *zap.Logger
	cfg      Config
}

// NewManager creates a session manager.
func NewManager(runner Runner, streams *streaming.Manager, cfg Config, logger *zap.Logger) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultManagerConfig().MaxConcurrent
	}
	if cfg.DefaultMaxCycles <= 0 {
		cfg.DefaultMaxCycles = DefaultManagerConfig().DefaultMaxCycles
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultManagerConfig().DefaultTimeout
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultManagerConfig().TTL
	}
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = DefaultManagerConfig().CompletedRetention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultManagerConfig().SweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[string]*record),
		runner:   runner,
		streams:  streams,
		logger:   logger,
		cfg:      cfg,
	}
}

// StartResearch allocates a session and launches its workflow run as an
// independently cancellable background task. Returns ErrTooManySessions when
// the concurrency ceiling is reached.
func (m *Manager) StartResearch(topic string, maxCycles int, timeout time.Duration) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	if maxCycles <= 0 {
		maxCycles = m.cfg.DefaultMaxCycles
	}
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}

	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	live := 0
	for _, rec := range m.sessions {
		if !rec.sess.Status.Terminal() {
			live++
		}
	}
	if live >= m.cfg.MaxConcurrent {
		m.mu.Unlock()
		cancel()
		metrics.SessionsRejected.Inc()
		return "", ErrTooManySessions
	}

	id := uuid.New().String()
	m.sessions[id] = &record{
		sess: Session{
			ID:        id,
			Topic:     topic,
			Status:    StatusInitializing,
			CreatedAt: time.Now(),
		},
		cancel: cancel,
	}
	m.mu.Unlock()

	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Inc()
	m.logger.Info("Research session started",
		zap.String("session_id", id),
		zap.String("topic", truncateTopic(topic)),
		zap.Int("max_cycles", maxCycles),
		zap.Duration("timeout", timeout),
	)

	go m.execute(runCtx, id, topic, maxCycles, timeout)

	return id, nil
}

// execute is the backing task for one session.
func (m *Manager) execute(runCtx context.Context, id, topic string, maxCycles int, timeout time.Duration) {
	m.transition(id, StatusRunning)

	progress := func(msg string) {
		m.mu.Lock()
		rec, ok := m.sessions[id]
		live := ok && !rec.sess.Status.Terminal()
		if live {
			rec.sess.Progress = msg
		}
		m.mu.Unlock()
		// Once the session is terminal (e.g. cancelled) no further progress
		// reaches the sinks.
		if live {
			m.streams.Publish(id, streaming.Event{Type: streaming.TypeProgress, Message: msg})
		}
	}

	ctx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()

	started := time.Now()
	report, cycles, err := m.runner.Run(ctx, id, topic, maxCycles, progress)

	status := StatusCompleted
	errMsg := ""
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		status = StatusTimeout
		errMsg = err.Error()
	case errors.Is(err, context.Canceled):
		status = StatusCancelled
		errMsg = err.Error()
	default:
		status = StatusFailed
		errMsg = err.Error()
	}

	if m.finish(id, status, report, errMsg, cycles) {
		metrics.SessionsActive.Dec()
		metrics.RecordRunCompletion(string(status), time.Since(started).Seconds(), cycles)
		m.logger.Info("Research session finished",
			zap.String("session_id", id),
			zap.String("status", string(status)),
			zap.Int("review_cycles", cycles),
			zap.Duration("duration", time.Since(started)),
		)
	}
}

// transition moves a non-terminal session to status; terminal states are
// never overwritten.
func (m *Manager) transition(id string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.sessions[id]; ok && !rec.sess.Status.Terminal() {
		rec.sess.Status = status
	}
}

// finish records the terminal outcome of a run and publishes the matching
// stream event. Returns false when the session was already terminal (e.g.
// cancelled via the API) or evicted, in which case nothing is published.
func (m *Manager) finish(id string, status Status, result, errMsg string, cycles int) bool {
	now := time.Now()

	m.mu.Lock()
	rec, ok := m.sessions[id]
	if !ok || rec.sess.Status.Terminal() {
		m.mu.Unlock()
		return false
	}
	rec.sess.Status = status
	rec.sess.CompletedAt = &now
	rec.sess.ReviewCycles = cycles
	if status == StatusCompleted {
		rec.sess.Result = result
	} else {
		rec.sess.Error = errMsg
	}
	m.mu.Unlock()

	switch status {
	case StatusCompleted:
		m.streams.Publish(id, streaming.Event{Type: streaming.TypeCompleted, Result: result})
	case StatusCancelled:
		m.streams.Publish(id, streaming.Event{Type: streaming.TypeCancelled, Message: "Research session cancelled"})
	default:
		m.streams.Publish(id, streaming.Event{Type: streaming.TypeError, Error: errMsg})
	}
	return true
}

// GetSession returns a copy of the session record.
func (m *Manager) GetSession(id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return rec.sess, nil
}

// GetResult returns the session once completed. Before completion it fails
// with ErrNotCompleted wrapped with the current status.
func (m *Manager) GetResult(id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if rec.sess.Status != StatusCompleted {
		return Session{}, fmt.Errorf("%w: current status is %s", ErrNotCompleted, rec.sess.Status)
	}
	return rec.sess, nil
}

// ListSessions returns all session records, newest first.
func (m *Manager) ListSessions() []Session {
	m.mu.RLock()
	out := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, rec.sess)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// CancelSession cancels a live session. The bool result distinguishes a real
// cancellation from the no-op on an already-finished session; unknown ids
// fail with ErrNotFound.
func (m *Manager) CancelSession(id string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	rec, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false, ErrNotFound
	}
	if rec.sess.Status.Terminal() {
		m.mu.Unlock()
		return false, nil
	}
	rec.sess.Status = StatusCancelled
	rec.sess.CompletedAt = &now
	cancel := rec.cancel
	m.mu.Unlock()

	cancel()
	metrics.SessionsActive.Dec()
	metrics.RunsCompleted.WithLabelValues(string(StatusCancelled)).Inc()
	m.streams.Publish(id, streaming.Event{Type: streaming.TypeCancelled, Message: "Research session cancelled"})
	m.logger.Info("Cancelled research session", zap.String("session_id", id))
	return true, nil
}

// Counts reports active sessions and attached progress subscribers for the
// liveness probe.
func (m *Manager) Counts() (sessions int, subscribers int) {
	m.mu.RLock()
	sessions = len(m.sessions)
	m.mu.RUnlock()
	return sessions, m.streams.SubscriberCount()
}

// Start launches the periodic TTL sweep; it stops when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(time.Now())
			}
		}
	}()
}

// sweep evicts sessions older than the TTL unconditionally (cancelling live
// runs first) and terminal sessions past the completed-retention window.
// Removal happens under the lock, so concurrent queries see either the full
// record or NotFound.
func (m *Manager) sweep(now time.Time) int {
	ttlCutoff := now.Add(-m.cfg.TTL)
	completedCutoff := now.Add(-m.cfg.CompletedRetention)

	type victim struct {
		id     string
		live   bool
		cancel context.CancelFunc
	}
	var victims []victim

	m.mu.Lock()
	for id, rec := range m.sessions {
		expired := rec.sess.CreatedAt.Before(ttlCutoff)
		stale := rec.sess.Status.Terminal() &&
			rec.sess.CompletedAt != nil && rec.sess.CompletedAt.Before(completedCutoff)
		if expired || stale {
			victims = append(victims, victim{
				id:     id,
				live:   !rec.sess.Status.Terminal(),
				cancel: rec.cancel,
			})
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, v := range victims {
		if v.live {
			v.cancel()
			metrics.SessionsActive.Dec()
		}
		m.streams.Forget(v.id)
		metrics.SessionsEvicted.Inc()
		m.logger.Info("Cleaned up old session", zap.String("session_id", v.id))
	}
	if len(victims) > 0 {
		m.logger.Info("Completed session cleanup", zap.Int("sessions_cleaned", len(victims)))
	}
	return len(victims)
}

// Close cancels all live backing tasks. Called on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.sessions))
	for _, rec := range m.sessions {
		if !rec.sess.Status.Terminal() {
			cancels = append(cancels, rec.cancel)
		}
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func truncateTopic(topic string) string {
	runes := []rune(topic)
	if len(runes) <= 50 {
		return topic
	}
	return string(runes[:50]) + "..."
}
