package resilience

import (
	"sync"

	"github.com/itskum47/waitroom/queue_service/observability"
)

// Health tracks the reachability of the two backing stores. The scheduler
// owns the writes (it probes every tick), the health endpoint reads.
type Health struct {
	mu           sync.RWMutex
	queueStoreUp bool
	metaStoreUp  bool
}

// NewHealth starts optimistic: both stores are assumed reachable until a
// probe says otherwise.
func NewHealth() *Health {
	h := &Health{queueStoreUp: true, metaStoreUp: true}
	observability.StoreUp.WithLabelValues("queue").Set(1)
	observability.StoreUp.WithLabelValues("metadata").Set(1)
	return h
}

// SetQueueStore records queue-store reachability and reports whether the
// value changed, so callers can log transitions exactly once.
func (h *Health) SetQueueStore(up bool) bool {
	h.mu.Lock()
	changed := h.queueStoreUp != up
	h.queueStoreUp = up
	h.mu.Unlock()
	if changed {
		observability.StoreUp.WithLabelValues("queue").Set(boolGauge(up))
	}
	return changed
}

// SetMetaStore records metadata-store reachability, same contract as
// SetQueueStore.
func (h *Health) SetMetaStore(up bool) bool {
	h.mu.Lock()
	changed := h.metaStoreUp != up
	h.metaStoreUp = up
	h.mu.Unlock()
	if changed {
		observability.StoreUp.WithLabelValues("metadata").Set(boolGauge(up))
	}
	return changed
}

func (h *Health) QueueStoreUp() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.queueStoreUp
}

func (h *Health) MetaStoreUp() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.metaStoreUp
}

// Degraded reports whether any backing store is currently unreachable.
func (h *Health) Degraded() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.queueStoreUp || !h.metaStoreUp
}

func boolGauge(up bool) float64 {
	if up {
		return 1
	}
	return 0
}
