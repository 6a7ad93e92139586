// Package ancestor implements the AncestorWalker: recovering which commits
// already carry tracking metadata by walking the DAG from a starting ref,
// and advancing a RemoteDescriptor's cached watermark once new bindings are
// discovered.
package ancestor

import (
	"context"
	"sort"

	"github.com/msolo/git-tfs-sync/gitapi"
	"github.com/msolo/git-tfs-sync/notes"
	"github.com/msolo/git-tfs-sync/remote"
)

// Walker traverses reachable commits from a starting point, looking for
// the nearest bound ancestor(s) along every branch of history -- the set
// of commits a checkin or fetch needs to replay past.
type Walker struct {
	wd    *gitapi.WorkDir
	store *notes.Store
}

// New returns a Walker over wd/store.
func New(wd *gitapi.WorkDir, store *notes.Store) *Walker {
	return &Walker{wd: wd, store: store}
}

// BoundCommit pairs a commit hash with the binding found on it.
type BoundCommit struct {
	CommitHash string
	Binding    *notes.Binding
}

// FindLastParentBindings walks back from head using a LIFO stack, pushing
// parents in reverse order so first-parent lineage is explored with
// priority. Traversal along any one branch stops at its first bound
// commit; the result is every such boundary binding discovered, in the
// order they were found (first-parent branch first).
func (w *Walker) FindLastParentBindings(ctx context.Context, head string) ([]BoundCommit, error) {
	var found []BoundCommit
	visited := make(map[string]bool)
	stack := []string{head}

	for len(stack) > 0 {
		commit := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[commit] {
			continue
		}
		visited[commit] = true

		b, err := w.store.Get(ctx, commit)
		if err != nil {
			return nil, err
		}
		if b != nil {
			found = append(found, BoundCommit{CommitHash: commit, Binding: b})
			continue // stop walking this branch once bound.
		}

		parents, err := w.wd.Parents(ctx, commit)
		if err != nil {
			return nil, err
		}
		// Push in reverse so the first parent is popped (and therefore
		// explored) first -- it is the next commit in the first-parent path.
		for i := len(parents) - 1; i >= 0; i-- {
			if !visited[parents[i]] {
				stack = append(stack, parents[i])
			}
		}
	}
	return found, nil
}

// watermarkStore is the slice of remote.Store's API MoveRemoteForwardIfNeeded
// needs, kept narrow so tests can supply a fake.
type watermarkStore interface {
	AdvanceWatermark(ctx context.Context, id, commitHash string, changesetID int) error
}

var _ watermarkStore = (*remote.Store)(nil)

// MoveRemoteForwardIfNeeded advances d's cached watermark past every newly
// discovered binding within d's own (tfs_url, tfs_repository_path) scope
// that is newer than its current max_changeset_id, applying them in
// ascending changeset order so the watermark only ever moves forward.
func MoveRemoteForwardIfNeeded(ctx context.Context, store watermarkStore, d *remote.Descriptor, found []BoundCommit) error {
	candidates := make([]BoundCommit, 0, len(found))
	for _, bc := range found {
		b := bc.Binding
		if b.TfsURL != "" && b.TfsURL != d.TfsURL {
			continue
		}
		if b.TfsPath != "" && b.TfsPath != d.TfsRepositoryPath {
			continue
		}
		if b.ChangesetID > d.MaxChangesetID {
			candidates = append(candidates, bc)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Binding.ChangesetID < candidates[j].Binding.ChangesetID
	})

	for _, bc := range candidates {
		if err := store.AdvanceWatermark(ctx, d.ID, bc.CommitHash, bc.Binding.ChangesetID); err != nil {
			return err
		}
		d.MaxChangesetID = bc.Binding.ChangesetID
		d.MaxCommitHash = bc.CommitHash
	}
	return nil
}
