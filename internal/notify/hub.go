package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arch-studio/engine/internal/metrics"
)

const subscriberBuffer = 64

// Hub is the in-process registry: subscriber channels grouped by run id.
type Hub struct {
	mu   sync.RWMutex
	runs map[string]map[uint64]chan Event
	seq  atomic.Uint64
}

var (
	_ Publisher  = (*Hub)(nil)
	_ Subscriber = (*Hub)(nil)
)

func NewHub() *Hub {
	return &Hub{runs: make(map[string]map[uint64]chan Event)}
}

// Publish offers e to every subscriber of e.RunID. A full subscriber buffer drops the event
// for that subscriber only.
func (h *Hub) Publish(ctx context.Context, e Event) bool {
	if ctx.Err() != nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := false
	for _, ch := range h.runs[e.RunID] {
		select {
		case ch <- e:
			delivered = true
		default:
		}
	}
	return delivered
}

func (h *Hub) Subscribe(runID string) (<-chan Event, func()) {
	id := h.seq.Add(1)
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	subs, ok := h.runs[runID]
	if !ok {
		subs = make(map[uint64]chan Event)
		h.runs[runID] = subs
	}
	subs[id] = ch
	h.mu.Unlock()
	metrics.Subscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.runs[runID], id)
			if len(h.runs[runID]) == 0 {
				delete(h.runs, runID)
			}
			h.mu.Unlock()
			metrics.Subscribers.Dec()
		})
	}
}

// Count returns the number of live subscriptions for a run.
func (h *Hub) Count(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.runs[runID])
}
