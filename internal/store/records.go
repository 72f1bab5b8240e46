package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shiftbeat/shiftbeat/internal/schema"
)

// ErrNotFound is returned by Get when no record exists for the id.
var ErrNotFound = sql.ErrNoRows

// Write upserts a record into the given mirrored table and appends the
// matching sync-queue item in a single transaction.
//
// The record is stamped updated_at=now and marked dirty; it is visible to
// subsequent reads before any network activity happens. If the record id
// is new, an INSERT is queued, otherwise an UPDATE. Rapid successive
// writes to the same record coalesce into one pending queue item carrying
// the latest payload.
//
// Storage errors are surfaced synchronously: a failed Write means nothing
// was persisted and nothing was queued.
func (s *Store) Write(ctx context.Context, table string, rec *schema.Record) error {
	if err := schema.ValidateTable(table); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	now := time.Now().UTC()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Decide INSERT vs UPDATE from current local existence.
	var exists int
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id = ?`, table),
		rec.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check record existence: %w", err)
	}

	op := schema.OpInsert
	if exists > 0 {
		op = schema.OpUpdate
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, payload, updated_at, is_synced, remote_url)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		payload = excluded.payload,
		updated_at = excluded.updated_at,
		is_synced = excluded.is_synced,
		remote_url = excluded.remote_url
	`, table)

	_, err = tx.ExecContext(ctx, query,
		rec.ID,
		string(rec.Payload),
		formatTime(now),
		int(schema.StateDirty),
		nullString(rec.RemoteURL),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}

	item := &schema.QueueItem{
		Table:      table,
		EntityID:   rec.ID,
		Op:         op,
		Payload:    rec.Payload,
		RemoteURL:  rec.RemoteURL,
		SnapshotAt: now,
		EnqueuedAt: now,
	}
	if err := enqueueTx(ctx, tx, item); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	rec.UpdatedAt = now
	rec.SyncState = schema.StateDirty
	return nil
}

// Remove deletes a record locally and queues the remote delete.
//
// The local delete is unconditional and immediate; the remote delete is
// eventual. Removing an absent record is a no-op (idempotent). Any
// earlier still-pending INSERT/UPDATE for the record is cancelled by the
// queued DELETE.
func (s *Store) Remove(ctx context.Context, table, id string) error {
	if err := schema.ValidateTable(table); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("id is required")
	}

	now := time.Now().UTC()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Capture the last-known snapshot so the DELETE item can also remove
	// a remote blob the record referenced.
	var payload string
	var remoteURL sql.NullString
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT payload, remote_url FROM %s WHERE id = ?`, table),
		id).Scan(&payload, &remoteURL)
	if err == sql.ErrNoRows {
		// Nothing stored locally and nothing to sync.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read record before delete: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	item := &schema.QueueItem{
		Table:      table,
		EntityID:   id,
		Op:         schema.OpDelete,
		Payload:    []byte(payload),
		RemoteURL:  remoteURL.String,
		SnapshotAt: now,
		EnqueuedAt: now,
	}
	if err := enqueueTx(ctx, tx, item); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Get retrieves a single record by id.
// Returns ErrNotFound if the record doesn't exist.
func (s *Store) Get(ctx context.Context, table, id string) (*schema.Record, error) {
	if err := schema.ValidateTable(table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
	SELECT id, payload, updated_at, is_synced, remote_url
	FROM %s WHERE id = ?
	`, table)

	row := s.conn.QueryRowContext(ctx, query, id)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// ListFilter configures the List query.
type ListFilter struct {
	// SyncState filters by sync state (nil = all states).
	SyncState *schema.SyncState
	// UpdatedSince keeps only records updated at or after this time.
	UpdatedSince time.Time
	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// List retrieves records from a mirrored table, ordered by updated_at
// descending. Reads always reflect the latest local write and never block
// on the network.
func (s *Store) List(ctx context.Context, table string, filter ListFilter) ([]*schema.Record, error) {
	if err := schema.ValidateTable(table); err != nil {
		return nil, err
	}

	var conditions []string
	var args []interface{}

	if filter.SyncState != nil {
		conditions = append(conditions, "is_synced = ?")
		args = append(args, int(*filter.SyncState))
	}

	if !filter.UpdatedSince.IsZero() {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, formatTime(filter.UpdatedSince))
	}

	query := fmt.Sprintf(`
	SELECT id, payload, updated_at, is_synced, remote_url
	FROM %s
	`, table)

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY updated_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var recs []*schema.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return recs, nil
}

// StateCounts returns per-sync-state record counts for a mirrored table.
func (s *Store) StateCounts(ctx context.Context, table string) (map[schema.SyncState]int, error) {
	if err := schema.ValidateTable(table); err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT is_synced, COUNT(*) FROM %s GROUP BY is_synced`, table))
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[schema.SyncState]int)
	for rows.Next() {
		var state, n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[schema.SyncState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}

	return counts, nil
}

// scanRecord scans one record envelope from a row scan function.
func scanRecord(scan func(dest ...interface{}) error) (*schema.Record, error) {
	var rec schema.Record
	var payload, updatedAt string
	var state int
	var remoteURL sql.NullString

	if err := scan(&rec.ID, &payload, &updatedAt, &state, &remoteURL); err != nil {
		return nil, err
	}

	t, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	rec.Payload = []byte(payload)
	rec.UpdatedAt = t
	rec.SyncState = schema.SyncState(state)
	rec.RemoteURL = remoteURL.String
	return &rec, nil
}
