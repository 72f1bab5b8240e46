// Package schema provides the data model shared by the local store, the
// sync queue, and the remote client.
//
// Every mirrored table holds generic record envelopes: a client-generated
// id, an opaque JSON payload, an updated-at timestamp used for conflict
// comparison, and a sync state flag. The typed payload structures in
// payloads.go describe the business fields carried inside the envelope.
package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncState tracks whether a record's latest local version has been
// confirmed applied remotely.
type SyncState int

const (
	// StateDirty indicates local changes not yet applied remotely.
	StateDirty SyncState = 0
	// StateSynced indicates the record matches the remote system-of-record.
	StateSynced SyncState = 1
	// StateStuck indicates the record's queue item exhausted its retry
	// budget and needs manual intervention.
	StateStuck SyncState = 2
)

// String returns a human-readable representation of the sync state.
func (s SyncState) String() string {
	switch s {
	case StateDirty:
		return "dirty"
	case StateSynced:
		return "synced"
	case StateStuck:
		return "stuck"
	default:
		return "unknown"
	}
}

// Record is a single row in a mirrored table.
//
// IDs are assigned client-side at creation time so local writes are
// immediately addressable and replaying an INSERT against the remote
// upserts instead of duplicating.
type Record struct {
	// ID is the client-generated unique identifier, stable across local
	// and remote storage.
	ID string

	// Payload holds the table-specific business fields as JSON.
	Payload json.RawMessage

	// UpdatedAt is the source of truth for conflict comparison.
	UpdatedAt time.Time

	// SyncState reflects whether this version reached the remote.
	SyncState SyncState

	// RemoteURL optionally points at an externally stored blob, such as a
	// generated report file.
	RemoteURL string
}

// Validate checks that the record can be persisted.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if !json.Valid(r.Payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	return nil
}

// NewID returns a fresh client-side record identifier.
func NewID() string {
	return uuid.NewString()
}
