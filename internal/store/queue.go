package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shiftbeat/shiftbeat/internal/schema"
)

// enqueueTx appends a mutation to the sync queue inside an open
// transaction, coalescing with any still-pending item for the same
// (table, entity) key.
//
// Coalescing rules:
//   - INSERT/UPDATE replaces a pending item in place, keeping its
//     queue_id slot, so the latest local payload wins without reordering
//     the queue. A pending INSERT stays an INSERT because the entity has
//     never reached the remote.
//   - DELETE cancels any pending item outright and appends at the tail;
//     there is no point syncing an update for something about to be
//     deleted.
//
// Coalescing also resets the retry bookkeeping: a fresh local intent gets
// a fresh attempt budget.
func enqueueTx(ctx context.Context, tx *sql.Tx, item *schema.QueueItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid queue item: %w", err)
	}

	if item.Op == schema.OpDelete {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sync_queue WHERE table_name = ? AND entity_id = ?`,
			item.Table, item.EntityID); err != nil {
			return fmt.Errorf("failed to cancel pending queue items: %w", err)
		}
		return insertQueueItem(ctx, tx, item)
	}

	res, err := tx.ExecContext(ctx, `
	UPDATE sync_queue SET
		operation = CASE WHEN operation = 'INSERT' THEN 'INSERT' ELSE ? END,
		payload = ?,
		remote_url = ?,
		snapshot_at = ?,
		attempt_count = 0,
		last_error = NULL,
		not_before = '',
		parked = 0
	WHERE table_name = ? AND entity_id = ?
	`,
		string(item.Op),
		string(item.Payload),
		nullString(item.RemoteURL),
		formatTime(item.SnapshotAt),
		item.Table,
		item.EntityID,
	)
	if err != nil {
		return fmt.Errorf("failed to coalesce queue item: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read coalesce result: %w", err)
	}
	if n > 0 {
		return nil
	}

	return insertQueueItem(ctx, tx, item)
}

// insertQueueItem appends a new queue row at the tail.
func insertQueueItem(ctx context.Context, tx *sql.Tx, item *schema.QueueItem) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO sync_queue (
		table_name, entity_id, operation, payload, remote_url,
		snapshot_at, enqueued_at, attempt_count, last_error, not_before, parked
	) VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, '', 0)
	`,
		item.Table,
		item.EntityID,
		string(item.Op),
		string(item.Payload),
		nullString(item.RemoteURL),
		formatTime(item.SnapshotAt),
		formatTime(item.EnqueuedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue item: %w", err)
	}
	return nil
}

// DequeueBatch returns up to limit pending queue items in replay order
// (queue_id ascending). Parked items and items still inside their backoff
// window are skipped. Items are not removed; the engine calls Ack or Fail
// per item, so a crash mid-drain leaves everything in place for the next
// pass.
func (s *Store) DequeueBatch(ctx context.Context, limit int) ([]*schema.QueueItem, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.conn.QueryContext(ctx, `
	SELECT queue_id, table_name, entity_id, operation, payload, remote_url,
	       snapshot_at, enqueued_at, attempt_count, last_error, not_before, parked
	FROM sync_queue
	WHERE parked = 0 AND not_before <= ?
	ORDER BY queue_id ASC
	LIMIT ?
	`, formatTime(time.Now()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue batch: %w", err)
	}
	defer rows.Close()

	var items []*schema.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue items: %w", err)
	}

	return items, nil
}

// Ack confirms that a queue item was applied remotely.
//
// The queue row is dropped only if its snapshot is unchanged; if the
// entity was locally mutated again after the batch was read, the row now
// carries the newer coalesced intent and must survive. The entity itself
// is marked synced only while its updated_at still equals the item's
// snapshot, otherwise it stays dirty and the newer queue item covers it.
//
// Returns whether the entity settled: true when the record was flipped to
// synced (or, for DELETE, the queue row was consumed), false when a newer
// local write superseded the acked snapshot.
func (s *Store) Ack(ctx context.Context, item *schema.QueueItem) (bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE queue_id = ? AND snapshot_at = ?`,
		item.QueueID, formatTime(item.SnapshotAt))
	if err != nil {
		return false, fmt.Errorf("failed to ack queue item: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read ack result: %w", err)
	}

	settled := n > 0
	if n > 0 && item.Op != schema.OpDelete {
		res, err = tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET is_synced = ? WHERE id = ? AND updated_at = ?`, item.Table),
			int(schema.StateSynced), item.EntityID, formatTime(item.SnapshotAt))
		if err != nil {
			return false, fmt.Errorf("failed to mark record synced: %w", err)
		}
		m, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to read sync-mark result: %w", err)
		}
		settled = m > 0
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return settled, nil
}

// Fail records a retryable replay failure for a queue item.
//
// The attempt count is incremented, the error stored, and the item made
// ineligible until the backoff delay has passed. When park is true the
// item stops being retried and the entity is surfaced as stuck; a parked
// item is only replayed again after RetryParked.
func (s *Store) Fail(ctx context.Context, item *schema.QueueItem, cause error, delay time.Duration, park bool) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	parked := 0
	if park {
		parked = 1
	}

	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE sync_queue SET
		attempt_count = attempt_count + 1,
		last_error = ?,
		not_before = ?,
		parked = ?
	WHERE queue_id = ?
	`, msg, formatTime(time.Now().Add(delay)), parked, item.QueueID)
	if err != nil {
		return fmt.Errorf("failed to record queue failure: %w", err)
	}

	if park && item.Op != schema.OpDelete {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET is_synced = ? WHERE id = ?`, item.Table),
			int(schema.StateStuck), item.EntityID)
		if err != nil {
			return fmt.Errorf("failed to mark record stuck: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	item.AttemptCount++
	item.LastError = msg
	item.Parked = park
	return nil
}

// RetryParked returns every parked queue item to the pending pool with a
// fresh attempt budget and flips the matching records back to dirty.
// Returns the number of items revived.
func (s *Store) RetryParked(ctx context.Context) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Flip stuck records back to dirty before reviving their items.
	for _, table := range schema.Tables() {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %[1]s SET is_synced = ?
		WHERE is_synced = ? AND id IN (
			SELECT entity_id FROM sync_queue WHERE table_name = '%[1]s' AND parked = 1
		)`, table), int(schema.StateDirty), int(schema.StateStuck))
		if err != nil {
			return 0, fmt.Errorf("failed to revive stuck records in %s: %w", table, err)
		}
	}

	res, err := tx.ExecContext(ctx, `
	UPDATE sync_queue SET
		attempt_count = 0,
		last_error = NULL,
		not_before = '',
		parked = 0
	WHERE parked = 1
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to revive parked items: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read revive result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return int(n), nil
}

// QueueCounts returns the number of pending and parked queue items.
func (s *Store) QueueCounts(ctx context.Context) (pending, parked int, err error) {
	err = s.conn.QueryRowContext(ctx, `
	SELECT
		COUNT(CASE WHEN parked = 0 THEN 1 END),
		COUNT(CASE WHEN parked = 1 THEN 1 END)
	FROM sync_queue
	`).Scan(&pending, &parked)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return pending, parked, nil
}

// ListQueue returns every queue item in replay order, including parked
// ones. Intended for inspection tooling, not for the drain loop.
func (s *Store) ListQueue(ctx context.Context) ([]*schema.QueueItem, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT queue_id, table_name, entity_id, operation, payload, remote_url,
	       snapshot_at, enqueued_at, attempt_count, last_error, not_before, parked
	FROM sync_queue
	ORDER BY queue_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var items []*schema.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue items: %w", err)
	}

	return items, nil
}

// scanQueueItem scans one queue row from a row scan function.
func scanQueueItem(scan func(dest ...interface{}) error) (*schema.QueueItem, error) {
	var item schema.QueueItem
	var op, payload, snapshotAt, enqueuedAt, notBefore string
	var remoteURL, lastError sql.NullString
	var parked int

	err := scan(
		&item.QueueID,
		&item.Table,
		&item.EntityID,
		&op,
		&payload,
		&remoteURL,
		&snapshotAt,
		&enqueuedAt,
		&item.AttemptCount,
		&lastError,
		&notBefore,
		&parked,
	)
	if err != nil {
		return nil, err
	}

	parsedOp, err := schema.ParseOp(op)
	if err != nil {
		return nil, err
	}
	item.Op = parsedOp
	item.Payload = []byte(payload)
	item.RemoteURL = remoteURL.String
	item.LastError = lastError.String
	item.Parked = parked == 1

	if item.SnapshotAt, err = parseTime(snapshotAt); err != nil {
		return nil, err
	}
	if item.EnqueuedAt, err = parseTime(enqueuedAt); err != nil {
		return nil, err
	}
	if notBefore != "" {
		if item.NotBefore, err = parseTime(notBefore); err != nil {
			return nil, err
		}
	}

	return &item, nil
}
