package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepresearch-labs/orchestrator/internal/streaming"
)

func newTestManager(t *testing.T, runner Runner, cfg Config) (*Manager, *streaming.Manager) {
	t.Helper()
	streams := streaming.NewManager(64)
	m := NewManager(runner, streams, cfg, nil)
	t.Cleanup(m.Close)
	return m, streams
}

// instantRunner completes immediately with a fixed report.
func instantRunner(report string, cycles int) Runner {
	return RunnerFunc(func(_ context.Context, _, _ string, _ int, _ func(string)) (string, int, error) {
		return report, cycles, nil
	})
}

// blockingRunner holds until its context is cancelled.
func blockingRunner() Runner {
	return RunnerFunc(func(ctx context.Context, _, _ string, _ int, _ func(string)) (string, int, error) {
		<-ctx.Done()
		return "", 0, ctx.Err()
	})
}

func waitForStatus(t *testing.T, m *Manager, id string, want Status) Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := m.GetSession(id)
		require.NoError(t, err)
		if sess.Status == want {
			return sess
		}
		time.Sleep(5 * time.Millisecond)
	}
	sess, _ := m.GetSession(id)
	t.Fatalf("session %s never reached %s, stuck at %s", id, want, sess.Status)
	return Session{}
}

func TestStartResearchCompletes(t *testing.T) {
	m, _ := newTestManager(t, instantRunner("the report", 2), Config{})

	id, err := m.StartResearch("quantum error correction", 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sess := waitForStatus(t, m, id, StatusCompleted)
	assert.Equal(t, "quantum error correction", sess.Topic)
	assert.Equal(t, "the report", sess.Result)
	assert.Equal(t, 2, sess.ReviewCycles)
	require.NotNil(t, sess.CompletedAt)

	result, err := m.GetResult(id)
	require.NoError(t, err)
	assert.Equal(t, "the report", result.Result)
}

func TestStartResearchRequiresTopic(t *testing.T) {
	m, _ := newTestManager(t, instantRunner("", 0), Config{})
	_, err := m.StartResearch("", 0, 0)
	require.Error(t, err)
}

func TestGetSessionNotFound(t *testing.T) {
	m, _ := newTestManager(t, instantRunner("", 0), Config{})
	_, err := m.GetSession("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetResult("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetResultBeforeCompletionReportsStatus(t *testing.T) {
	m, _ := newTestManager(t, blockingRunner(), Config{})

	id, err := m.StartResearch("topic", 0, 0)
	require.NoError(t, err)
	waitForStatus(t, m, id, StatusRunning)

	_, err = m.GetResult(id)
	require.ErrorIs(t, err, ErrNotCompleted)
	assert.Contains(t, err.Error(), "running")
}

func TestConcurrencyCeiling(t *testing.T) {
	m, _ := newTestManager(t, blockingRunner(), Config{MaxConcurrent: 2})

	a, err := m.StartResearch("one", 0, 0)
	require.NoError(t, err)
	_, err = m.StartResearch("two", 0, 0)
	require.NoError(t, err)

	_, err = m.StartResearch("three", 0, 0)
	assert.ErrorIs(t, err, ErrTooManySessions)

	// Finishing a run frees a slot.
	ok, err := m.CancelSession(a)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = m.StartResearch("three again", 0, 0)
	assert.NoError(t, err)
}

func TestTerminalSessionsDoNotCountAgainstCeiling(t *testing.T) {
	m, _ := newTestManager(t, instantRunner("r", 1), Config{MaxConcurrent: 1})

	id, err := m.StartResearch("first", 0, 0)
	require.NoError(t, err)
	waitForStatus(t, m, id, StatusCompleted)

	_, err = m.StartResearch("second", 0, 0)
	assert.NoError(t, err)
}

func TestRunTimeoutClassification(t *testing.T) {
	m, _ := newTestManager(t, blockingRunner(), Config{})

	id, err := m.StartResearch("slow topic", 0, 20*time.Millisecond)
	require.NoError(t, err)

	sess := waitForStatus(t, m, id, StatusTimeout)
	assert.Contains(t, sess.Error, context.DeadlineExceeded.Error())
	assert.Empty(t, sess.Result)

	_, err = m.GetResult(id)
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestRunFailureClassification(t *testing.T) {
	runner := RunnerFunc(func(_ context.Context, _, _ string, _ int, _ func(string)) (string, int, error) {
		return "", 0, errors.New("agent service unreachable")
	})
	m, _ := newTestManager(t, runner, Config{})

	id, err := m.StartResearch("topic", 0, 0)
	require.NoError(t, err)

	sess := waitForStatus(t, m, id, StatusFailed)
	assert.Equal(t, "agent service unreachable", sess.Error)
}

func TestCancelSession(t *testing.T) {
	m, streams := newTestManager(t, blockingRunner(), Config{})

	id, err := m.StartResearch("topic", 0, 0)
	require.NoError(t, err)
	waitForStatus(t, m, id, StatusRunning)

	ch := streams.Subscribe(id, 16)
	defer streams.Unsubscribe(id, ch)

	ok, err := m.CancelSession(id)
	require.NoError(t, err)
	assert.True(t, ok)

	sess, err := m.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, sess.Status)
	require.NotNil(t, sess.CompletedAt)

	select {
	case ev := <-ch:
		assert.Equal(t, streaming.TypeCancelled, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no cancellation event published")
	}

	// Second cancel is a no-op, not an error.
	ok, err = m.CancelSession(id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelUnknownSession(t *testing.T) {
	m, _ := newTestManager(t, instantRunner("", 0), Config{})
	_, err := m.CancelSession("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelledStatusIsNotOverwritten(t *testing.T) {
	release := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, _, _ string, _ int, _ func(string)) (string, int, error) {
		<-release
		return "late report", 1, nil
	})
	m, _ := newTestManager(t, runner, Config{})

	id, err := m.StartResearch("topic", 0, 0)
	require.NoError(t, err)
	waitForStatus(t, m, id, StatusRunning)

	ok, err := m.CancelSession(id)
	require.NoError(t, err)
	require.True(t, ok)

	// The run finishes after cancellation; its outcome must not replace the
	// cancelled status.
	close(release)
	time.Sleep(50 * time.Millisecond)

	sess, err := m.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, sess.Status)
	assert.Empty(t, sess.Result)
}

func TestProgressStopsAfterCancellation(t *testing.T) {
	emit := make(chan string)
	runner := RunnerFunc(func(ctx context.Context, _, _ string, _ int, progress func(string)) (string, int, error) {
		for msg := range emit {
			progress(msg)
		}
		<-ctx.Done()
		return "", 0, ctx.Err()
	})
	m, streams := newTestManager(t, runner, Config{})

	id, err := m.StartResearch("topic", 0, 0)
	require.NoError(t, err)
	waitForStatus(t, m, id, StatusRunning)

	ch := streams.Subscribe(id, 16)
	defer streams.Unsubscribe(id, ch)

	emit <- "before cancel"
	select {
	case ev := <-ch:
		assert.Equal(t, "before cancel", ev.Message)
	case <-time.After(time.Second):
		t.Fatal("progress not delivered")
	}

	ok, err := m.CancelSession(id)
	require.NoError(t, err)
	require.True(t, ok)
	drainCancelled(t, ch)

	// Emissions from the still-unwinding run are suppressed.
	emit <- "after cancel"
	close(emit)

	select {
	case ev, open := <-ch:
		if open {
			t.Fatalf("unexpected event after cancellation: %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func drainCancelled(t *testing.T, ch <-chan streaming.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		assert.Equal(t, streaming.TypeCancelled, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no cancellation event published")
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	m, _ := newTestManager(t, blockingRunner(), Config{MaxConcurrent: 5})

	first, err := m.StartResearch("first", 0, 0)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	second, err := m.StartResearch("second", 0, 0)
	require.NoError(t, err)

	list := m.ListSessions()
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
}

func TestSweepEvictsExpiredSessions(t *testing.T) {
	m, streams := newTestManager(t, blockingRunner(), Config{
		TTL:                time.Hour,
		CompletedRetention: 10 * time.Minute,
	})

	id, err := m.StartResearch("old topic", 0, 0)
	require.NoError(t, err)
	waitForStatus(t, m, id, StatusRunning)

	// Age the record past the TTL.
	m.mu.Lock()
	m.sessions[id].sess.CreatedAt = time.Now().Add(-2 * time.Hour)
	m.mu.Unlock()

	evicted := m.sweep(time.Now())
	assert.Equal(t, 1, evicted)

	_, err = m.GetSession(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, streams.SubscriberCount())
}

func TestSweepEvictsStaleTerminalSessions(t *testing.T) {
	m, _ := newTestManager(t, instantRunner("r", 1), Config{
		TTL:                24 * time.Hour,
		CompletedRetention: 10 * time.Minute,
	})

	id, err := m.StartResearch("done topic", 0, 0)
	require.NoError(t, err)
	waitForStatus(t, m, id, StatusCompleted)

	// Not yet past the retention window.
	assert.Equal(t, 0, m.sweep(time.Now()))

	m.mu.Lock()
	past := time.Now().Add(-time.Hour)
	m.sessions[id].sess.CompletedAt = &past
	m.mu.Unlock()

	assert.Equal(t, 1, m.sweep(time.Now()))
	_, err = m.GetSession(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepKeepsFreshSessions(t *testing.T) {
	m, _ := newTestManager(t, blockingRunner(), Config{
		TTL:                time.Hour,
		CompletedRetention: 10 * time.Minute,
	})

	id, err := m.StartResearch("fresh topic", 0, 0)
	require.NoError(t, err)
	waitForStatus(t, m, id, StatusRunning)

	assert.Equal(t, 0, m.sweep(time.Now()))
	_, err = m.GetSession(id)
	assert.NoError(t, err)
}

func TestDefaultsAppliedToZeroConfig(t *testing.T) {
	var got struct {
		maxCycles int
		deadline  bool
	}
	ready := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, _, _ string, maxCycles int, _ func(string)) (string, int, error) {
		got.maxCycles = maxCycles
		_, got.deadline = ctx.Deadline()
		close(ready)
		return "r", 1, nil
	})
	m, _ := newTestManager(t, runner, Config{})

	_, err := m.StartResearch("topic", 0, 0)
	require.NoError(t, err)

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("runner never invoked")
	}
	assert.Equal(t, DefaultManagerConfig().DefaultMaxCycles, got.maxCycles)
	assert.True(t, got.deadline, "run context should carry the default deadline")
}
