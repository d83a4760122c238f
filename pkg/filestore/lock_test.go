package filestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/remedyrun/remedy/pkg/remedyerr"
)

func TestAcquire_CreatesLockFileWithMetadata(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.json")

	lock, err := Acquire(target, "test-writer", LockOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer lock.Release()

	data, err := os.ReadFile(target + ".lock")
	if err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}
	var meta LockMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("expected parseable lock metadata: %v", err)
	}
	if meta.PID != os.Getpid() {
		t.Errorf("expected lock to record this pid %d, got %d", os.Getpid(), meta.PID)
	}
	if meta.Writer != "test-writer" {
		t.Errorf("expected writer test-writer, got %q", meta.Writer)
	}
}

func TestRelease_RemovesLockFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.json")

	lock, err := Acquire(target, "test-writer", LockOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if _, err := os.Stat(target + ".lock"); !os.IsNotExist(err) {
		t.Error("expected lock file to be unlinked after release")
	}

	// A second release must be safe.
	if err := lock.Release(); err != nil {
		t.Errorf("expected double release to be a no-op, got %v", err)
	}
}

func TestAcquire_TimesOutWhileHeld(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.json")

	held, err := Acquire(target, "holder", LockOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer held.Release()

	_, err = Acquire(target, "contender", LockOptions{
		PollInterval:    5 * time.Millisecond,
		AcquireDeadline: 50 * time.Millisecond,
	})
	if !remedyerr.Is(err, remedyerr.ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout while the lock is held, got %v", err)
	}
}

func TestAcquire_ReclaimsStaleLockByAge(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.json")
	lockPath := target + ".lock"

	// A lock from a writer that started long ago, well past staleness.
	meta := LockMetadata{PID: os.Getpid(), Host: hostname(), StartedAt: time.Now().Add(-time.Hour), Writer: "dead"}
	data, _ := json.Marshal(meta)
	if err := os.WriteFile(lockPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(target, "reclaimer", LockOptions{
		StaleAfter:      time.Second,
		PollInterval:    5 * time.Millisecond,
		AcquireDeadline: time.Second,
	})
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed, got %v", err)
	}
	lock.Release()
}

func TestAcquire_ReclaimsLockFromDeadProcess(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.json")
	lockPath := target + ".lock"

	// Same host, a pid that is almost certainly not alive.
	meta := LockMetadata{PID: 999999999, Host: hostname(), StartedAt: time.Now(), Writer: "dead"}
	data, _ := json.Marshal(meta)
	if err := os.WriteFile(lockPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(target, "reclaimer", LockOptions{
		PollInterval:    5 * time.Millisecond,
		AcquireDeadline: time.Second,
	})
	if err != nil {
		t.Fatalf("expected dead-pid lock to be reclaimed, got %v", err)
	}
	lock.Release()
}

func TestAcquire_SerializesConcurrentWriters(t *testing.T) {
	target := filepath.Join(t.TempDir(), "counter.json")

	// Each writer reads the counter, increments, and writes back under the
	// lock; with correct mutual exclusion no increment is lost.
	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, err := Acquire(target, "writer", LockOptions{
				PollInterval:    time.Millisecond,
				AcquireDeadline: 5 * time.Second,
			})
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			defer lock.Release()

			var counter int
			_ = ReadJSON(target, &counter)
			if err := WriteAtomicJSON(target, counter+1); err != nil {
				t.Errorf("write failed: %v", err)
			}
		}()
	}
	wg.Wait()

	var final int
	if err := ReadJSON(target, &final); err != nil {
		t.Fatalf("reading final counter: %v", err)
	}
	if final != writers {
		t.Errorf("expected %d serialized increments, got %d", writers, final)
	}
}

func TestWriteAtomicJSON_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.json")

	in := map[string]int{"a": 1, "b": 2}
	if err := WriteAtomicJSON(path, in); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var out map[string]int
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if out["a"] != 1 || out["b"] != 2 {
		t.Errorf("round trip mismatch: %v", out)
	}
}

func TestWriteAtomicFile_LeavesNoTempDebris(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	if err := WriteAtomicFile(path, []byte("data")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.json" {
		t.Errorf("expected only the target file, got %v", entries)
	}
}
