// Package progress fans schedule execution state out to live observers.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop updates (bounded backpressure).
//
// The runner publishes one Update per task start and one terminal Update
// (nil TaskIndex) per run end; consumers reconcile by schedule ID, so a
// dropped intermediate update is recoverable from the next one.
package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

// Update is one observed transition of a schedule's executing task index.
// TaskIndex is nil when the schedule is idle (run finished or aborted).
type Update struct {
	ScheduleID string    `json:"schedule_id"`
	TaskIndex  *int      `json:"task_index"`
	At         time.Time `json:"at"`
}

type Hub interface {
	Publish(u Update)
	Subscribe(buffer int) (ch <-chan Update, unsubscribe func())
}

// NewHub returns a simple in-memory fanout hub.
//
// It intentionally does not own any background goroutines.
func NewHub() Hub {
	return &memHub{subs: map[uint64]chan Update{}}
}

type memHub struct {
	mu   sync.RWMutex
	subs map[uint64]chan Update
	seq  atomic.Uint64
}

func (h *memHub) Publish(u Update) {
	if u.At.IsZero() {
		u.At = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	h.mu.RLock()
	chs := make([]chan Update, 0, len(h.subs))
	for _, ch := range h.subs {
		chs = append(chs, ch)
	}
	h.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- u:
			default:
			}
		}()
	}
}

func (h *memHub) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Update, buffer)
	id := h.seq.Add(1)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}

// TaskIndex is a convenience for building updates in callers and tests.
func TaskIndex(i int) *int { return &i }
