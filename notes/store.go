// Package notes implements the changeset-binding store: persisting a
// ChangesetBinding keyed by commit hash in a namespace that does not alter
// commit identity.
package notes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/msolo/go-bis/flock"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/msolo/git-tfs-sync/gitapi"
)

// Binding is a ChangesetBinding, minus CommitHash (the caller already
// knows which commit it asked about).
type Binding struct {
	ChangesetID int
	TfsURL      string
	TfsPath     string
	SyncedAt    time.Time
}

// Store persists Bindings in the `refs/notes/tfvc-sync` namespace of a
// single git working directory.
type Store struct {
	wd        *gitapi.WorkDir
	notesRef  string
	mutexPath string
}

// New returns a Store operating on wd's refs/notes/tfvc-sync namespace.
func New(wd *gitapi.WorkDir) *Store {
	return &Store{wd: wd, notesRef: gitapi.NotesRef, mutexPath: wd.Dir + "/.git/tfvc-sync-notes.mutex"}
}

// Serialize renders a binding as a line-oriented key=value payload.
func Serialize(b *Binding) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "changeset=%d\n", b.ChangesetID)
	if b.TfsURL != "" {
		fmt.Fprintf(&sb, "tfs_url=%s\n", b.TfsURL)
	}
	if b.TfsPath != "" {
		fmt.Fprintf(&sb, "tfs_path=%s\n", b.TfsPath)
	}
	fmt.Fprintf(&sb, "synced_at=%s\n", b.SyncedAt.UTC().Format(time.RFC3339))
	return sb.String()
}

// Parse parses a note body into a Binding. Unknown keys are ignored;
// changeset must be a positive integer; empty tfs_url/tfs_path normalize
// to absent.
func Parse(body string) (*Binding, error) {
	b := &Binding{}
	haveChangeset := false
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]
		switch key {
		case "changeset":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return nil, errors.Errorf("notes: invalid changeset value %q", val)
			}
			b.ChangesetID = n
			haveChangeset = true
		case "tfs_url":
			if val != "" {
				b.TfsURL = val
			}
		case "tfs_path":
			if val != "" {
				b.TfsPath = val
			}
		case "synced_at":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				b.SyncedAt = t
			}
		}
	}
	if !haveChangeset {
		return nil, errors.Errorf("notes: binding missing required changeset key")
	}
	return b, nil
}

// Put writes or replaces the binding for commit. Immutability at the
// ChangesetBinding level is the caller's responsibility --
// CheckinDriver's idempotency gate is what actually prevents a commit from
// ever being bound twice with conflicting data; Put itself is a plain
// upsert, matching `git notes add -f`.
func (s *Store) Put(ctx context.Context, commit, tfsURL, tfsPath string, changesetID int) error {
	fl, err := flock.Open(s.mutexPath)
	if err != nil {
		return errors.WithMessage(err, "notes: binding_write_failed")
	}
	defer fl.Close()

	b := &Binding{
		ChangesetID: changesetID,
		TfsURL:      tfsURL,
		TfsPath:     tfsPath,
		SyncedAt:    time.Now(),
	}
	if err := s.wd.AddNote(ctx, s.notesRef, commit, Serialize(b)); err != nil {
		return errors.WithMessage(err, "notes: binding_write_failed")
	}
	return nil
}

// Get reads the binding for commit, returning (nil, nil) if none exists
// (a missing binding is non-fatal).
func (s *Store) Get(ctx context.Context, commit string) (*Binding, error) {
	body, found, err := s.wd.ShowNote(ctx, s.notesRef, commit)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	b, err := Parse(body)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBulk looks up bindings for many commits concurrently, bounded by an
// errgroup-managed worker pool rather than a single serial notes show per
// commit.
func (s *Store) GetBulk(ctx context.Context, commits []string) (map[string]*Binding, error) {
	results := make(map[string]*Binding, len(commits))
	var mu sync.Mutex

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(10)
	for _, commit := range commits {
		commit := commit
		eg.Go(func() error {
			b, err := s.Get(ctx, commit)
			if err != nil {
				return err
			}
			if b == nil {
				return nil
			}
			mu.Lock()
			results[commit] = b
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ConfigureRemoteToSync idempotently wires the notes namespace into
// remoteName's fetch/push refspec list.
func (s *Store) ConfigureRemoteToSync(ctx context.Context, remoteName string) error {
	return s.wd.ConfigureFetchPushRefspec(ctx, remoteName, s.notesRef)
}

// FetchNamespace pulls just the notes namespace from remoteName.
func (s *Store) FetchNamespace(ctx context.Context, remoteName string) error {
	return s.wd.FetchRef(ctx, remoteName, s.notesRef+":"+s.notesRef)
}

// PushNamespace pushes the notes namespace to remoteName, falling back to
// a force push since conflicts on this shared mutable resource are
// resolved last-writer-wins: any two valid bindings for the same commit
// are equal, so overwriting is safe.
func (s *Store) PushNamespace(ctx context.Context, remoteName string) error {
	refspec := s.notesRef + ":" + s.notesRef
	if err := s.wd.PushRef(ctx, remoteName, refspec); err != nil {
		return s.wd.PushRefForce(ctx, remoteName, refspec)
	}
	return nil
}

// NotesRef exposes the namespace this store operates on, mostly so the
// CLI's repair-notes command can report it in diagnostics.
func (s *Store) NotesRef() string {
	return s.notesRef
}
