package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Op is the mutation kind recorded in a queue item.
type Op string

const (
	// OpInsert creates a record remotely. Replayed as an upsert-by-id so
	// retries after ambiguous failures cannot duplicate rows.
	OpInsert Op = "INSERT"
	// OpUpdate applies a partial update-by-id.
	OpUpdate Op = "UPDATE"
	// OpDelete removes the record (and any remote blob it references).
	OpDelete Op = "DELETE"
)

// Valid reports whether op is one of the known mutation kinds.
func (op Op) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ParseOp converts a stored operation string back to an Op.
func ParseOp(s string) (Op, error) {
	op := Op(s)
	if !op.Valid() {
		return "", fmt.Errorf("unknown queue operation %q", s)
	}
	return op, nil
}

// QueueItem is one pending mutation in the sync queue.
//
// Queue order is FIFO by QueueID across entities. Multiple pending
// mutations for the same (Table, EntityID) are coalesced at enqueue time,
// so by the time an item is replayed its payload is the latest local
// state for that entity.
type QueueItem struct {
	// QueueID is monotonically increasing and defines replay order.
	QueueID int64

	// Table names the mirrored table the entity lives in.
	Table string

	// EntityID is the client-generated record id.
	EntityID string

	// Op is the mutation to replay against the remote.
	Op Op

	// Payload is the entity snapshot taken at enqueue time.
	Payload json.RawMessage

	// RemoteURL carries the record's blob reference, if any, so a DELETE
	// can also remove the externally stored file.
	RemoteURL string

	// SnapshotAt is the entity's updated_at at enqueue time. The engine
	// acks a sync only while this still matches the entity, which guards
	// against marking data synced after it was locally mutated again.
	SnapshotAt time.Time

	// EnqueuedAt is when the item entered the queue.
	EnqueuedAt time.Time

	// AttemptCount is how many times replay has been attempted.
	AttemptCount int

	// LastError describes the most recent replay failure, if any.
	LastError string

	// NotBefore defers the item until its backoff window has passed.
	NotBefore time.Time

	// Parked marks an item that exhausted its retry budget. Parked items
	// are skipped by the drain loop until manually retried.
	Parked bool
}

// Validate checks that the item can be enqueued.
func (q *QueueItem) Validate() error {
	if err := ValidateTable(q.Table); err != nil {
		return err
	}
	if q.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}
	if !q.Op.Valid() {
		return fmt.Errorf("invalid operation %q", q.Op)
	}
	if len(q.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	return nil
}
