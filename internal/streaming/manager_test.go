package streaming

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	m := NewManager(16)
	a := m.Subscribe("s1", 8)
	b := m.Subscribe("s1", 8)
	defer m.Unsubscribe("s1", a)
	defer m.Unsubscribe("s1", b)

	m.Publish("s1", Event{Type: TypeProgress, Message: "hello"})

	for _, ch := range []chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, "s1", ev.SessionID)
			assert.Equal(t, TypeProgress, ev.Type)
			assert.Equal(t, "hello", ev.Message)
			assert.Equal(t, uint64(1), ev.Seq)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishIsSessionScoped(t *testing.T) {
	m := NewManager(16)
	other := m.Subscribe("other", 8)
	defer m.Unsubscribe("other", other)

	m.Publish("s1", Event{Type: TypeProgress, Message: "not for you"})

	select {
	case ev := <-other:
		t.Fatalf("event leaked across sessions: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	m := NewManager(16)
	ch := m.Subscribe("s1", 1)
	defer m.Unsubscribe("s1", ch)

	// The second publish overflows the buffer and must not block.
	done := make(chan struct{})
	go func() {
		m.Publish("s1", Event{Message: "one"})
		m.Publish("s1", Event{Message: "two"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	ev := <-ch
	assert.Equal(t, "one", ev.Message)
	select {
	case ev := <-ch:
		t.Fatalf("overflow event should have been dropped, got %+v", ev)
	default:
	}
}

func TestSequenceNumbersAreMonotonicPerSession(t *testing.T) {
	m := NewManager(16)
	ch := m.Subscribe("s1", 8)
	defer m.Unsubscribe("s1", ch)

	for i := 0; i < 3; i++ {
		m.Publish("s1", Event{Message: fmt.Sprintf("m%d", i)})
	}
	m.Publish("s2", Event{Message: "independent"})

	for want := uint64(1); want <= 3; want++ {
		ev := <-ch
		assert.Equal(t, want, ev.Seq)
	}

	// Each session numbers its own stream.
	replay := m.ReplaySince("s2", 0)
	require.Len(t, replay, 1)
	assert.Equal(t, uint64(1), replay[0].Seq)
}

func TestReplaySince(t *testing.T) {
	m := NewManager(16)
	for i := 0; i < 5; i++ {
		m.Publish("s1", Event{Message: fmt.Sprintf("m%d", i)})
	}

	replay := m.ReplaySince("s1", 3)
	require.Len(t, replay, 2)
	assert.Equal(t, uint64(4), replay[0].Seq)
	assert.Equal(t, uint64(5), replay[1].Seq)

	assert.Nil(t, m.ReplaySince("unknown", 0))
}

func TestReplayBoundedByRingCapacity(t *testing.T) {
	m := NewManager(3)
	for i := 0; i < 10; i++ {
		m.Publish("s1", Event{Message: fmt.Sprintf("m%d", i)})
	}

	replay := m.ReplaySince("s1", 0)
	require.Len(t, replay, 3)
	assert.Equal(t, uint64(8), replay[0].Seq)
	assert.Equal(t, uint64(10), replay[2].Seq)
}

func TestUnsubscribeClosesChannelOnce(t *testing.T) {
	m := NewManager(16)
	ch := m.Subscribe("s1", 8)

	m.Unsubscribe("s1", ch)
	_, open := <-ch
	assert.False(t, open)

	// Double unsubscribe must not panic.
	m.Unsubscribe("s1", ch)
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestForgetDetachesSubscribersAndDropsHistory(t *testing.T) {
	m := NewManager(16)
	ch := m.Subscribe("s1", 8)
	m.Publish("s1", Event{Message: "remembered"})

	m.Forget("s1")

	// Drain the delivered event, then observe the close.
	ev, open := <-ch
	require.True(t, open)
	assert.Equal(t, "remembered", ev.Message)
	_, open = <-ch
	assert.False(t, open)

	assert.Nil(t, m.ReplaySince("s1", 0))
	assert.Equal(t, 0, m.SubscriberCount())

	// Unsubscribe after Forget is a no-op.
	m.Unsubscribe("s1", ch)
}

func TestSubscriberCount(t *testing.T) {
	m := NewManager(16)
	a := m.Subscribe("s1", 1)
	b := m.Subscribe("s2", 1)
	assert.Equal(t, 2, m.SubscriberCount())

	m.Unsubscribe("s1", a)
	assert.Equal(t, 1, m.SubscriberCount())
	m.Unsubscribe("s2", b)
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	m := NewManager(16)
	const n = 20
	chans := make([]chan Event, n)
	for i := range chans {
		chans[i] = m.Subscribe("s1", 1)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			m.Publish("s1", Event{Message: "x"})
		}
		close(done)
	}()
	for _, ch := range chans {
		m.Unsubscribe("s1", ch)
	}
	<-done
}
