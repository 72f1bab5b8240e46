package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/shiftbeat/shiftbeat/internal/schema"
)

// testStore creates an initialized store in a temporary directory.
func testStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return st
}

// jobRecord builds a record with a valid job payload.
func jobRecord(t *testing.T, name string) *schema.Record {
	t.Helper()

	payload, err := schema.MarshalPayload(&schema.Job{Name: name})
	if err != nil {
		t.Fatalf("MarshalPayload() failed: %v", err)
	}
	return &schema.Record{ID: schema.NewID(), Payload: payload}
}

func TestOpen_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer st.Close()

	if st.Path() != path {
		t.Errorf("Path() = %q, want %q", st.Path(), path)
	}
}

func TestInitSchema_CreatesTables(t *testing.T) {
	st := testStore(t)

	want := append(schema.Tables(), "sync_queue")
	for _, table := range want {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := st.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	st := testStore(t)

	if err := st.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestWrite_ReadYourWrites(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	rec := jobRecord(t, "Cafe shift")
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	got, err := st.Get(ctx, schema.TableJobs, rec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	if diff := cmp.Diff(string(rec.Payload), string(got.Payload)); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
	if got.SyncState != schema.StateDirty {
		t.Errorf("SyncState = %v, want dirty", got.SyncState)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestWrite_EnqueuesInsertThenUpdate(t *testing.T) {
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
	if len(items) != 1 {
		t.Fatalf("queue has %d items, want 1", len(items))
	}
	if items[0].Op != schema.OpInsert {
		t.Errorf("Op = %v, want INSERT", items[0].Op)
	}

	// A write to a different, existing record id queues an UPDATE.
	other := jobRecord(t, "other")
	if err := st.Write(ctx, schema.TableJobs, other); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if _, err := st.Ack(ctx, items[0]); err != nil {
		t.Fatalf("Ack() failed: %v", err)
	}

	rec.Payload = []byte(`{"name":"v2"}`)
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("second Write() failed: %v", err)
	}

	items, err = st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}

	var found *schema.QueueItem
	for _, item := range items {
		if item.EntityID == rec.ID {
			found = item
		}
	}
	if found == nil {
		t.Fatal("no queue item for rewritten record")
	}
	if found.Op != schema.OpUpdate {
		t.Errorf("Op = %v, want UPDATE", found.Op)
	}
}

func TestWrite_InvalidRecord(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if err := st.Write(ctx, schema.TableJobs, &schema.Record{}); err == nil {
		t.Error("Write() should reject a record without id")
	}
	if err := st.Write(ctx, "bogus", jobRecord(t, "x")); err == nil {
		t.Error("Write() should reject an unknown table")
	}
}

func TestRemove_DeletesAndQueues(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	rec := jobRecord(t, "to delete")
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	if err := st.Remove(ctx, schema.TableJobs, rec.ID); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	// Local delete is unconditional and immediate.
	if _, err := st.Get(ctx, schema.TableJobs, rec.ID); err != ErrNotFound {
		t.Errorf("Get() after Remove = %v, want ErrNotFound", err)
	}

	items, err := st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("queue has %d items, want 1", len(items))
	}
	if items[0].Op != schema.OpDelete {
		t.Errorf("Op = %v, want DELETE", items[0].Op)
	}
}

func TestRemove_AbsentIsNoop(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if err := st.Remove(ctx, schema.TableJobs, "never-existed"); err != nil {
		t.Fatalf("Remove() of absent record failed: %v", err)
	}

	pending, parked, err := st.QueueCounts(ctx)
	if err != nil {
		t.Fatalf("QueueCounts() failed: %v", err)
	}
	if pending != 0 || parked != 0 {
		t.Errorf("queue = %d pending %d parked, want empty", pending, parked)
	}
}

func TestList_FiltersByState(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	a := jobRecord(t, "a")
	b := jobRecord(t, "b")
	for _, rec := range []*schema.Record{a, b} {
		if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
	}

	// Sync one of them.
	items, err := st.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() failed: %v", err)
	}
	for _, item := range items {
		if item.EntityID == a.ID {
			if _, err := st.Ack(ctx, item); err != nil {
				t.Fatalf("Ack() failed: %v", err)
			}
		}
	}

	dirty := schema.StateDirty
	recs, err := st.List(ctx, schema.TableJobs, ListFilter{SyncState: &dirty})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != b.ID {
		t.Errorf("dirty list = %d records, want just %s", len(recs), b.ID)
	}

	all, err := st.List(ctx, schema.TableJobs, ListFilter{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("full list = %d records, want 2", len(all))
	}
}

func TestCrashSafety_QueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	ctx := context.Background()
	rec := jobRecord(t, "survives")
	if err := st.Write(ctx, schema.TableJobs, rec); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	// Simulate process death and restart.
	if err := st.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	st2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer st2.Close()

	items, err := st2.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() after reopen failed: %v", err)
	}
	if len(items) != 1 || items[0].EntityID != rec.ID {
		t.Fatalf("queue after reopen = %d items, want the un-acked write", len(items))
	}

	got, err := st2.Get(ctx, schema.TableJobs, rec.ID)
	if err != nil {
		t.Fatalf("Get() after reopen failed: %v", err)
	}
	if got.SyncState != schema.StateDirty {
		t.Errorf("SyncState after reopen = %v, want dirty", got.SyncState)
	}
}

func TestStateCounts(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := st.Write(ctx, schema.TableJobs, jobRecord(t, "j")); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
	}

	counts, err := st.StateCounts(ctx, schema.TableJobs)
	if err != nil {
		t.Fatalf("StateCounts() failed: %v", err)
	}
	if counts[schema.StateDirty] != 3 {
		t.Errorf("dirty count = %d, want 3", counts[schema.StateDirty])
	}
}
