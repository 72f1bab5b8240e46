package config

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func startWatch(t *testing.T, path string) *atomic.Int32 {
	t.Helper()

	var fired atomic.Int32
	stop, err := Watch(path, 20*time.Millisecond, log.New(io.Discard, "", 0), func() {
		fired.Add(1)
	})
	if err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	t.Cleanup(stop)
	return &fired
}

func waitForFire(t *testing.T, fired *atomic.Int32, n int32) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("onChange fired %d times, want at least %d", fired.Load(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatch_FiresOnEdit(t *testing.T) {
	path := writeConfig(t, "db_path: /tmp/a.db\n")
	fired := startWatch(t, path)

	if err := os.WriteFile(path, []byte("db_path: /tmp/b.db\n"), 0o644); err != nil {
		t.Fatalf("failed to edit config: %v", err)
	}

	waitForFire(t, fired, 1)
}

func TestWatch_FiresOnAtomicReplace(t *testing.T) {
	path := writeConfig(t, "db_path: /tmp/a.db\n")
	fired := startWatch(t, path)

	// Editors write a temp file and rename it over the original.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte("db_path: /tmp/b.db\n"), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("failed to replace config: %v", err)
	}

	waitForFire(t, fired, 1)
}

func TestWatch_DebouncesBursts(t *testing.T) {
	path := writeConfig(t, "db_path: /tmp/a.db\n")
	fired := startWatch(t, path)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("db_path: /tmp/b.db\n"), 0o644); err != nil {
			t.Fatalf("failed to edit config: %v", err)
		}
		time.Sleep(3 * time.Millisecond)
	}

	waitForFire(t, fired, 1)
	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("onChange fired %d times for one edit burst, want 1", got)
	}
}

func TestWatch_IgnoresSiblingFiles(t *testing.T) {
	path := writeConfig(t, "db_path: /tmp/a.db\n")
	fired := startWatch(t, path)

	sibling := filepath.Join(filepath.Dir(path), "unrelated.yaml")
	if err := os.WriteFile(sibling, []byte("x: 1\n"), 0o644); err != nil {
		t.Fatalf("failed to write sibling: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Errorf("onChange fired %d times for a sibling edit, want 0", got)
	}
}

func TestWatch_StopPreventsFurtherCalls(t *testing.T) {
	path := writeConfig(t, "db_path: /tmp/a.db\n")

	var fired atomic.Int32
	stop, err := Watch(path, 20*time.Millisecond, log.New(io.Discard, "", 0), func() {
		fired.Add(1)
	})
	if err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	stop()

	if err := os.WriteFile(path, []byte("db_path: /tmp/b.db\n"), 0o644); err != nil {
		t.Fatalf("failed to edit config: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Errorf("onChange fired %d times after stop, want 0", got)
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	if _, err := Watch(filepath.Join(t.TempDir(), "absent", "shiftd.yaml"), 0, nil, func() {}); err == nil {
		t.Error("watching a missing directory should fail")
	}
}
