package workflow

import "sync"

// CollectState is the explicit outcome of a fan-in collection attempt.
type CollectState int

const (
	// CollectPending means more events are still outstanding.
	CollectPending CollectState = iota
	// CollectReady means the full batch has arrived and is returned exactly once.
	CollectReady
	// CollectInvalid means the expected count was negative.
	CollectInvalid
)

// Collector accumulates fan-out results until the expected count is reached.
// The consuming step calls Collect on every matching event; the batch fires
// exactly once per cycle and the accumulator resets for the next cycle.
type Collector struct {
	mu  sync.Mutex
	buf []Event
}

// Collect adds ev to the accumulator and reports whether the batch of want
// events is complete. On CollectReady the accumulated batch is returned in
// arrival order and the accumulator is cleared; ordering across fan-out
// branches is not guaranteed, so consumers needing determinism must order by
// a correlating key.
func (c *Collector) Collect(ev Event, want int) ([]Event, CollectState) {
	if want < 0 {
		return nil, CollectInvalid
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, ev)
	if len(c.buf) < want {
		return nil, CollectPending
	}
	batch := c.buf
	c.buf = nil
	return batch, CollectReady
}

// Pending returns the number of accumulated events awaiting the batch.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}
