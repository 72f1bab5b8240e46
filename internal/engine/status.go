package engine

import (
	"time"

	"github.com/shiftbeat/shiftbeat/internal/schema"
)

// EventKind classifies a status stream event.
type EventKind string

const (
	// EventSynced means a record's pending mutation was confirmed remotely.
	EventSynced EventKind = "synced"
	// EventRetrying means a mutation hit a transient failure and will be
	// replayed after backoff; the record stays visibly pending.
	EventRetrying EventKind = "retrying"
	// EventStuck means a mutation exhausted its retry budget and needs a
	// manual retry.
	EventStuck EventKind = "stuck"
	// EventDropped means the remote rejected the mutation permanently and
	// it was removed from the queue.
	EventDropped EventKind = "dropped"
	// EventAuthExpired means the drain paused awaiting re-authentication.
	EventAuthExpired EventKind = "auth_expired"
	// EventDrainComplete means a drain pass emptied the eligible queue.
	EventDrainComplete EventKind = "drain_complete"
)

// Event is one entry in the observable sync status stream. UI badges and
// the dashboard consume these instead of polling the store.
type Event struct {
	Kind     EventKind `json:"kind"`
	Table    string    `json:"table,omitempty"`
	EntityID string    `json:"entity_id,omitempty"`
	Op       schema.Op `json:"op,omitempty"`
	Err      string    `json:"error,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
	Time     time.Time `json:"time"`
}

// Subscribe registers a status stream consumer. The returned cancel
// function must be called to release the subscription. Slow consumers
// miss events rather than blocking the drain loop.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	e.subsMu.Lock()
	e.subs[ch] = true
	e.subsMu.Unlock()

	cancel := func() {
		e.subsMu.Lock()
		if e.subs[ch] {
			delete(e.subs, ch)
			close(ch)
		}
		e.subsMu.Unlock()
	}
	return ch, cancel
}

// publish fans an event out to all subscribers without blocking.
func (e *Engine) publish(ev Event) {
	e.subsMu.RLock()
	defer e.subsMu.RUnlock()

	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full; drop rather than stall the drain.
		}
	}
}
