package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/msolo/go-bis/flock"
	"github.com/pkg/errors"
)

// MaxLockAge is the default staleness threshold: a LockRecord
// older than this is considered abandoned and evictable by any caller.
const MaxLockAge = 2 * time.Hour

// MaxTimeout bounds how long TryAcquire may be asked to wait; it can never
// exceed MaxLockAge, since waiting longer than the staleness threshold
// would allow a caller to starve behind a lock that should already have
// been evicted.
const MaxTimeout = 2 * time.Hour

const pollInterval = 1 * time.Second

// Result is the outcome of a TryAcquire call.
type Result int

const (
	Acquired Result = iota
	TimedOut
)

// Coordinator serializes sync runs over named workspaces rooted at Dir.
// It exclusively owns the `<name>.lock` files it creates; ad-hoc user
// operations on the repository itself are untouched.
type Coordinator struct {
	Dir string
}

// New returns a Coordinator that stores lock files under dir.
func New(dir string) *Coordinator {
	return &Coordinator{Dir: dir}
}

func (c *Coordinator) lockPath(name string) string {
	return filepath.Join(c.Dir, name+".lock")
}

func (c *Coordinator) mutexPath(name string) string {
	return filepath.Join(c.Dir, name+".lock.mutex")
}

// ValidatePolicy rejects a (timeout, maxAge) pair where timeout exceeds
// maxAge: "If timeout > max_lock_age, reject at validation
// time -- this invariant prevents a caller from waiting longer than the
// staleness threshold would permit."
func ValidatePolicy(timeout, maxAge time.Duration) error {
	if timeout > MaxTimeout {
		return errors.Errorf("lock: timeout %s exceeds maximum of %s", timeout, MaxTimeout)
	}
	if maxAge <= 0 {
		return errors.Errorf("lock: max_lock_age must be positive")
	}
	if timeout > maxAge {
		return errors.Errorf("lock: timeout %s exceeds max_lock_age %s", timeout, maxAge)
	}
	return nil
}

// withHostMutex serializes the create-or-evict-and-retry compound
// operation against other goroutines/processes on this host. The
// cross-agent protocol itself cannot rely on this -- a live flock(2) hold
// disappears the instant its owning process dies, which is exactly the
// abandoned-lock case this package needs to detect -- but it keeps two local
// callers from both observing ENOENT and racing to create the same file.
func (c *Coordinator) withHostMutex(name string, fn func() error) error {
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return errors.WithMessage(err, "lock: storage unavailable")
	}
	fl, err := flock.Open(c.mutexPath(name))
	if err != nil {
		return errors.WithMessage(err, "lock: storage unavailable")
	}
	defer fl.Close()
	return fn()
}

// TryAcquire polls at a 1s cadence until timeout elapses, attempting an
// atomic exclusive-create of the lock file on every attempt and evicting
// stale records it encounters along the way.
func (c *Coordinator) TryAcquire(name string, timeout time.Duration, rec *Record) (Result, error) {
	return c.TryAcquireWithMaxAge(name, timeout, MaxLockAge, rec)
}

// TryAcquireWithMaxAge is TryAcquire with an explicit staleness threshold.
func (c *Coordinator) TryAcquireWithMaxAge(name string, timeout, maxAge time.Duration, rec *Record) (Result, error) {
	if err := ValidatePolicy(timeout, maxAge); err != nil {
		return TimedOut, err
	}
	deadline := time.Now().Add(timeout)
	rec.WorkspaceName = name
	for {
		var acquired, evicted bool
		var attemptErr error
		err := c.withHostMutex(name, func() error {
			rec.AcquiredAt = time.Now()
			ok, ev, aerr := c.tryCreateOnce(name, rec, maxAge)
			acquired, evicted = ok, ev
			attemptErr = aerr
			return nil
		})
		if err != nil {
			return TimedOut, err
		}
		if attemptErr != nil {
			return TimedOut, attemptErr
		}
		if acquired {
			return Acquired, nil
		}
		if evicted {
			// Retry immediately: the slot we just cleared is ours for the
			// taking, no need to burn a full poll interval on it.
			continue
		}
		if time.Now().After(deadline) {
			return TimedOut, nil
		}
		time.Sleep(pollInterval)
	}
}

// tryCreateOnce performs one exclusive-create attempt, evicting the
// current holder first if it is stale. Returns (acquired, evicted, err).
func (c *Coordinator) tryCreateOnce(name string, rec *Record, maxAge time.Duration) (bool, bool, error) {
	path := c.lockPath(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err == nil {
		_, werr := f.WriteString(rec.Serialize())
		cerr := f.Close()
		if werr != nil {
			os.Remove(path)
			return false, false, errors.WithMessage(werr, "lock: write failed")
		}
		if cerr != nil {
			os.Remove(path)
			return false, false, errors.WithMessage(cerr, "lock: write failed")
		}
		return true, false, nil
	}
	if !os.IsExist(err) {
		return false, false, errors.WithMessage(err, "lock: storage unavailable")
	}

	// Contended: inspect the existing record for staleness.
	existing, perr := c.readRecord(name)
	if perr != nil {
		// An unreadable record still blocks acquisition until it ages out
		// by mtime, since we cannot trust its acquired_at (the record is
		// "Unreadable records are treated as absent by GetInfo but still
		// block acquisition until evicted as stale").
		fi, statErr := os.Stat(path)
		if statErr == nil && time.Since(fi.ModTime()) > maxAge {
			os.Remove(path)
			return false, true, nil
		}
		return false, false, nil
	}
	if existing.IsStale(time.Now(), maxAge) {
		os.Remove(path)
		return false, true, nil
	}
	return false, false, nil
}

func (c *Coordinator) readRecord(name string) (*Record, error) {
	data, err := os.ReadFile(c.lockPath(name))
	if err != nil {
		return nil, err
	}
	return ParseRecord(string(data))
}

// Release removes the lock record; a no-op if absent.
func (c *Coordinator) Release(name string) error {
	err := os.Remove(c.lockPath(name))
	if err != nil && !os.IsNotExist(err) {
		return errors.WithMessage(err, "lock: release failed")
	}
	return nil
}

// ForceUnlock removes the lock record regardless of ownership.
func (c *Coordinator) ForceUnlock(name string) error {
	return c.Release(name)
}

// IsStale reports whether the named workspace's current record (if any)
// is older than maxAge. A missing record is not stale -- there is nothing
// to evict.
func (c *Coordinator) IsStale(name string, maxAge time.Duration) (bool, error) {
	rec, err := c.GetInfo(name)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	return rec.IsStale(time.Now(), maxAge), nil
}

// GetInfo returns the current LockRecord for name, or nil if no lock is
// held. An unreadable record is treated as absent.
func (c *Coordinator) GetInfo(name string) (*Record, error) {
	rec, err := c.readRecord(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil // Unreadable: treated as absent.
	}
	return rec, nil
}

// DescribeHolder renders a human-readable summary of the current holder,
// used by the CLI to report lock_contention.
func DescribeHolder(rec *Record) string {
	if rec == nil {
		return "no lock held"
	}
	return fmt.Sprintf("held by pid %d on %s (acquired %s by %s, direction=%s)",
		rec.ProcessID, rec.Hostname, rec.AcquiredAt.Format(time.RFC3339), rec.AcquiredBy, rec.Direction)
}
