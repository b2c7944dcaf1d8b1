package transport

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/dgramfs/internal/metrics"
	"github.com/luma/dgramfs/protocol"
)

// History remembers which request IDs have been handled and what was sent
// back, so that a retransmitted at-most-once request can be answered without
// running it again.
//
// The receive loop adds entries and the sweeper removes them. They never
// coordinate beyond the maps themselves, so both are sync.Maps.
type History struct {
	seen      sync.Map // string -> time.Time
	responses sync.Map // string -> []byte

	retention time.Duration
	now       func() time.Time
	log       *zap.Logger
}

func NewHistory(retention time.Duration, now func() time.Time, log *zap.Logger) *History {
	return &History{
		retention: retention,
		now:       now,
		log:       log,
	}
}

// Replay returns the cached response for id, if id has been handled before
// and its response is still cached.
func (h *History) Replay(id protocol.RequestID) ([]byte, bool) {
	key := id.String()

	if _, ok := h.seen.Load(key); !ok {
		return nil, false
	}

	resp, ok := h.responses.Load(key)
	if !ok {
		return nil, false
	}

	return resp.([]byte), true
}

// Record notes that id is being handled now.
func (h *History) Record(id protocol.RequestID) {
	h.seen.Store(id.String(), h.now())
}

// Cache stores the response sent for id.
func (h *History) Cache(id protocol.RequestID, resp []byte) {
	h.responses.Store(id.String(), append([]byte(nil), resp...))
}

// Len returns the number of remembered request IDs.
func (h *History) Len() int {
	n := 0
	h.seen.Range(func(_, _ interface{}) bool {
		n++
		return true
	})

	return n
}

// Sweep forgets every request ID first seen more than the retention window
// ago, and returns how many it removed.
func (h *History) Sweep() int {
	cutoff := h.now().Add(-h.retention)
	removed := 0

	h.seen.Range(func(key, value interface{}) bool {
		if value.(time.Time).Before(cutoff) {
			h.seen.Delete(key)
			h.responses.Delete(key)
			removed++
		}

		return true
	})

	metrics.SetHistoryEntries(h.Len())

	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (h *History) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			removed := h.Sweep()
			h.log.Info("Swept request history",
				zap.Int("removed", removed),
				zap.Int("remaining", h.Len()))
		}
	}
}
