package lock

import (
	"os"
	"sync"
	"testing"
	"time"
)

func newRecord(by string) *Record {
	return &Record{
		ProcessID:  os.Getpid(),
		Hostname:   "test-host",
		AcquiredBy: by,
		Direction:  DirectionBidirectional,
	}
}

func TestValidatePolicyRejectsTimeoutExceedingMaxAge(t *testing.T) {
	if err := ValidatePolicy(3*time.Hour, 2*time.Hour); err == nil {
		t.Fatal("expected rejection of timeout > max_lock_age")
	}
	if err := ValidatePolicy(time.Hour, 2*time.Hour); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
}

// TestMutualExclusion asserts that exactly one of two concurrent
// TryAcquire calls succeeds; after release, a third succeeds immediately.
func TestMutualExclusion(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			res, err := c.TryAcquire("ws", 2*time.Second, newRecord("caller"))
			if err != nil {
				t.Errorf("TryAcquire: %v", err)
				return
			}
			results[i] = res
		}()
	}
	wg.Wait()

	acquiredCount := 0
	for _, r := range results {
		if r == Acquired {
			acquiredCount++
		}
	}
	if acquiredCount != 1 {
		t.Fatalf("expected exactly one Acquired among concurrent callers, got %d (%v)", acquiredCount, results)
	}

	if err := c.Release("ws"); err != nil {
		t.Fatal(err)
	}
	res, err := c.TryAcquire("ws", time.Second, newRecord("third"))
	if err != nil {
		t.Fatal(err)
	}
	if res != Acquired {
		t.Fatalf("expected third caller to acquire after release, got %v", res)
	}
}

// TestStaleLockEviction asserts a lock past its max age is evicted and
// reacquired without waiting out a fresh timeout.
func TestStaleLockEviction(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)

	rec := newRecord("original")
	rec.WorkspaceName = "ws"
	rec.AcquiredAt = time.Now().Add(-3 * time.Hour)
	if err := os.WriteFile(c.lockPath("ws"), []byte(rec.Serialize()), 0644); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	res, err := c.TryAcquireWithMaxAge("ws", time.Second, 2*time.Hour, newRecord("new"))
	if err != nil {
		t.Fatal(err)
	}
	if res != Acquired {
		t.Fatalf("expected eviction of stale lock to allow acquisition, got %v", res)
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Fatalf("expected near-immediate acquisition after staleness eviction, took %s", elapsed)
	}
}

func TestGetInfoAndIsStale(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)

	if info, err := c.GetInfo("ws"); err != nil || info != nil {
		t.Fatalf("expected no info for unheld lock, got %v %v", info, err)
	}

	if _, err := c.TryAcquire("ws", time.Second, newRecord("holder")); err != nil {
		t.Fatal(err)
	}
	info, err := c.GetInfo("ws")
	if err != nil {
		t.Fatal(err)
	}
	if info == nil || info.AcquiredBy != "holder" {
		t.Fatalf("expected holder record, got %+v", info)
	}

	stale, err := c.IsStale("ws", 2*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if stale {
		t.Fatal("freshly acquired lock should not be stale")
	}
}

func TestForceUnlock(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	if _, err := c.TryAcquire("ws", time.Second, newRecord("holder")); err != nil {
		t.Fatal(err)
	}
	if err := c.ForceUnlock("ws"); err != nil {
		t.Fatal(err)
	}
	info, err := c.GetInfo("ws")
	if err != nil {
		t.Fatal(err)
	}
	if info != nil {
		t.Fatalf("expected no lock after ForceUnlock, got %+v", info)
	}
}
