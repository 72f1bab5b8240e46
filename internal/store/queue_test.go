package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/shiftbeat/shiftbeat/internal/schema"
)

func TestCoalescing_LatestPayloadWins(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	rec := jobRecord(t, "v1")
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	items, err := st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}
	firstID := items[0].QueueID

	// Edit twice more before any drain.
	rec.Payload = []byte(`{"name":"v2"}`)
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	rec.Payload = []byte(`{"name":"v3"}`)
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	items, err = st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("queue has %d items after coalescing, want 1", len(items))
	}

	if diff := cmp.Diff(`{"name":"v3"}`, string(items[0].Payload)); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
	if items[0].QueueID != firstID {
		t.Errorf("coalescing moved the ordering slot: queue_id %d -> %d", firstID, items[0].QueueID)
	}
	// A record that never reached the remote stays an INSERT.
	if items[0].Op != schema.OpInsert {
		t.Errorf("Op = %v, want INSERT", items[0].Op)
	}
}

func TestCoalescing_DeleteSupersedes(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	rec := jobRecord(t, "v1")
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	rec.Payload = []byte(`{"name":"v2"}`)
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	if err := st.Remove(ctx, schema.TableJobs, rec.ID); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	items, err := st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("queue has %d items, want only the DELETE", len(items))
	}
	if items[0].Op != schema.OpDelete {
		t.Errorf("Op = %v, want DELETE", items[0].Op)
	}
}

func TestQueue_FIFOAcrossEntities(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"first", "second", "third"} {
		rec := jobRecord(t, name)
		if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
		ids = append(ids, rec.ID)
	}

	items, err := st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("queue has %d items, want 3", len(items))
	}

	for i, item := range items {
		if item.EntityID != ids[i] {
			t.Errorf("replay position %d = %s, want %s", i, item.EntityID, ids[i])
		}
		if i > 0 && items[i].QueueID <= items[i-1].QueueID {
			t.Errorf("queue ids not ascending: %d then %d", items[i-1].QueueID, items[i].QueueID)
		}
	}
}

func TestAck_MarksSyncedAndDrops(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	rec := jobRecord(t, "j1")
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	items, err := st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}
	settled, err := st.Ack(ctx, items[0])
	if err != nil {
		t.Fatalf("Ack() failed: %v", err)
	}
	if !settled {
		t.Error("Ack() settled = false for an unchanged snapshot, want true")
	}

	pending, parked, err := st.QueueCounts(ctx)
	if err != nil {
		t.Fatalf("QueueCounts() failed: %v", err)
	}
	if pending != 0 || parked != 0 {
		t.Errorf("queue = %d pending %d parked, want empty", pending, parked)
	}

	got, err := st.Get(ctx, schema.TableJobs, rec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.SyncState != schema.StateSynced {
		t.Errorf("SyncState = %v, want synced", got.SyncState)
	}
}

func TestAck_StaleSnapshotLeavesNewerIntent(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	rec := jobRecord(t, "v1")
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	items, err := st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}
	inFlight := items[0]

	// The record is mutated again while the item is "in flight"; the
	// queue row now carries the newer coalesced intent.
	rec.Payload = []byte(`{"name":"v2"}`)
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	settled, err := st.Ack(ctx, inFlight)
	if err != nil {
		t.Fatalf("Ack() failed: %v", err)
	}
	if settled {
		t.Error("Ack() settled = true for a superseded snapshot, want false")
	}

	// The newer intent must survive the stale ack.
	items, err = st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("queue has %d items, want the newer intent", len(items))
	}
	if diff := cmp.Diff(`{"name":"v2"}`, string(items[0].Payload)); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	got, err := st.Get(ctx, schema.TableJobs, rec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.SyncState != schema.StateDirty {
		t.Errorf("SyncState = %v, want dirty (newer local write pending)", got.SyncState)
	}
}

func TestFail_BackoffDefersItem(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	rec := jobRecord(t, "flaky")
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	items, err := st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}

	cause := errors.New("connection refused")
	if err := st.Fail(ctx, items[0], cause, time.Hour, false); err != nil {
		t.Fatalf("Fail() failed: %v", err)
	}

	// Deferred by backoff: not eligible for the next drain pass.
	eligible, err := st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}
	if len(eligible) != 0 {
		t.Errorf("deferred item returned by DequeueBatch (%d items)", len(eligible))
	}

	// But it still exists with failure bookkeeping.
	all, err := st.ListQueue(ctx)
	if err != nil {
		t.Fatalf("ListQueue() failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("queue has %d items, want 1", len(all))
	}
	if all[0].AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", all[0].AttemptCount)
	}
	if all[0].LastError != "connection refused" {
		t.Errorf("LastError = %q", all[0].LastError)
	}
}

func TestFail_ParkMarksEntityStuck(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	rec := jobRecord(t, "doomed")
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	items, err := st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}

	if err := st.Fail(ctx, items[0], errors.New("boom"), 0, true); err != nil {
		t.Fatalf("Fail() failed: %v", err)
	}

	pending, parked, err := st.QueueCounts(ctx)
	if err != nil {
		t.Fatalf("QueueCounts() failed: %v", err)
	}
	if pending != 0 || parked != 1 {
		t.Errorf("queue = %d pending %d parked, want 0/1", pending, parked)
	}

	got, err := st.Get(ctx, schema.TableJobs, rec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.SyncState != schema.StateStuck {
		t.Errorf("SyncState = %v, want stuck", got.SyncState)
	}
}

func TestRetryParked_RevivesItemsAndRecords(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	rec := jobRecord(t, "stuck then retried")
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	items, err := st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}
	if err := st.Fail(ctx, items[0], errors.New("boom"), 0, true); err != nil {
		t.Fatalf("Fail() failed: %v", err)
	}

	n, err := st.RetryParked(ctx)
	if err != nil {
		t.Fatalf("RetryParked() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("RetryParked() = %d, want 1", n)
	}

	eligible, err := st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}
	if len(eligible) != 1 {
		t.Fatalf("revived item not eligible (%d items)", len(eligible))
	}
	if eligible[0].AttemptCount != 0 {
		t.Errorf("AttemptCount = %d, want reset to 0", eligible[0].AttemptCount)
	}

	got, err := st.Get(ctx, schema.TableJobs, rec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.SyncState != schema.StateDirty {
		t.Errorf("SyncState = %v, want dirty after retry", got.SyncState)
	}
}

func TestCoalescing_ResetsRetryBookkeeping(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	rec := jobRecord(t, "v1")
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	items, err := st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}
	if err := st.Fail(ctx, items[0], errors.New("boom"), time.Hour, false); err != nil {
		t.Fatalf("Fail() failed: %v", err)
	}

	// A new local edit is a fresh intent: attempts reset, backoff cleared.
	rec.Payload = []byte(`{"name":"v2"}`)
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	eligible, err := st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}
	if len(eligible) != 1 {
		t.Fatalf("fresh intent not eligible (%d items)", len(eligible))
	}
	if eligible[0].AttemptCount != 0 {
		t.Errorf("AttemptCount = %d, want 0", eligible[0].AttemptCount)
	}
	if eligible[0].LastError != "" {
		t.Errorf("LastError = %q, want cleared", eligible[0].LastError)
	}
}
