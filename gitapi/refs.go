package gitapi

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CommitMeta is the minimal per-commit metadata ChangesetIndex and
// AncestorWalker need while traversing history.
type CommitMeta struct {
	Hash      string
	Parents   []string
	UnixStamp int64
}

// ListCommitsReachableFrom returns commits reachable from refs, newest
// first (time-sorted, descending). When refs is empty
// all refs under refs/remotes are used.
func (wd *WorkDir) ListCommitsReachableFrom(ctx context.Context, refs ...string) ([]CommitMeta, error) {
	args := []string{"rev-list", "--date-order", "--parents", "--pretty=format:%H %P%x00%ct"}
	if len(refs) == 0 {
		args = append(args, "--remotes")
	} else {
		args = append(args, refs...)
	}
	out, err := wd.git(ctx, args...).Output()
	if err != nil {
		return nil, err
	}
	var metas []CommitMeta
	for _, block := range strings.Split(string(out), "\ncommit ") {
		block = strings.TrimPrefix(block, "commit ")
		// lines[0] is rev-list's own "commit <hash> <parents>" header; the
		// --pretty format line carrying the NUL-separated stamp follows it.
		lines := strings.SplitN(block, "\n", 2)
		if len(lines) != 2 {
			continue
		}
		headerAndStamp := strings.SplitN(strings.TrimRight(lines[1], "\n"), "\x00", 2)
		if len(headerAndStamp) != 2 {
			continue
		}
		fields := strings.Fields(headerAndStamp[0])
		if len(fields) == 0 {
			continue
		}
		stamp, _ := strconv.ParseInt(strings.TrimSpace(headerAndStamp[1]), 10, 64)
		metas = append(metas, CommitMeta{
			Hash:      fields[0],
			Parents:   fields[1:],
			UnixStamp: stamp,
		})
	}
	return metas, nil
}

// ListCommitsReachableFromRef restricts enumeration to refs whose
// canonical name ends with scopeRef.
func (wd *WorkDir) ListCommitsReachableFromRef(ctx context.Context, scopeRef string) ([]CommitMeta, error) {
	out, err := wd.git(ctx, "for-each-ref", "--format=%(refname)").Output()
	if err != nil {
		return nil, err
	}
	var matching []string
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" && strings.HasSuffix(line, scopeRef) {
			matching = append(matching, line)
		}
	}
	if len(matching) == 0 {
		return nil, nil
	}
	return wd.ListCommitsReachableFrom(ctx, matching...)
}

// FirstParentPath returns the sequence of commits from `from` back to (but
// excluding) `exclude`, following only first parents, oldest first -- the
// order CheckinDriver must replay them onto TFVC in.
func (wd *WorkDir) FirstParentPath(ctx context.Context, from, exclude string) ([]string, error) {
	args := []string{"rev-list", "--first-parent", "--reverse", from}
	if exclude != "" {
		args = append(args, "^"+exclude)
	}
	out, err := wd.git(ctx, args...).Output()
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimRight(string(out), "\n")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// RevListRange returns every commit reachable from `from` but not from
// `exclude`, oldest first -- unlike FirstParentPath this walks every
// parent, so it picks up commits merged in from a side branch.
func (wd *WorkDir) RevListRange(ctx context.Context, from, exclude string) ([]string, error) {
	args := []string{"rev-list", "--reverse", from}
	if exclude != "" {
		args = append(args, "^"+exclude)
	}
	out, err := wd.git(ctx, args...).Output()
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimRight(string(out), "\n")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// MergeFF attempts a fast-forward-only merge of ref into HEAD. A non-nil
// error with ExitStatus 128 means fast-forward was not possible.
func (wd *WorkDir) MergeFF(ctx context.Context, ref string) error {
	return wd.git(ctx, "merge", "--ff-only", ref).Run()
}

// MergeNoFF creates a merge commit joining ref into HEAD, never fast
// forwarding, so the resulting commit always carries both parents
// (the merge commit is always created on HEAD).
func (wd *WorkDir) MergeNoFF(ctx context.Context, ref, message string) error {
	return wd.git(ctx, "merge", "--no-ff", "-m", message, ref).Run()
}

// PullNoRebase pulls remoteName/branch using a merge strategy, never a
// rebase -- rebasing would rewrite hashes and invalidate bindings
// (fast-forward first, falling back to an explicit merge commit).
func (wd *WorkDir) PullNoRebase(ctx context.Context, remoteName, branch string) error {
	return wd.git(ctx, "pull", "--no-rebase", remoteName, branch).Run()
}

// Push pushes branch to remoteName with a plain push.
func (wd *WorkDir) Push(ctx context.Context, remoteName, branch string) error {
	return wd.git(ctx, "push", remoteName, branch).Run()
}

// PushForceWithLease retries a rejected push using a lease-based force
// push, a fallback after a plain push is rejected by the remote.
func (wd *WorkDir) PushForceWithLease(ctx context.Context, remoteName, branch string) error {
	return wd.git(ctx, "push", "--force-with-lease", remoteName, branch).Run()
}

// ConflictedPaths lists paths with unmerged entries in the index.
func (wd *WorkDir) ConflictedPaths(ctx context.Context) ([]string, error) {
	out, err := wd.git(ctx, "diff", "--name-only", "--diff-filter=U").Output()
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimRight(string(out), "\n")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// RebaseOnto replays commits (newBase, oldBase] onto newBase, preserving
// merge commits. Used only by CheckinDriver's best-effort cleanup path and
// the optional auto-rebase catch-up -- both explicitly acknowledged as the
// one place this engine tolerates history rewriting of *not-yet-bound*
// commits.
func (wd *WorkDir) RebaseOnto(ctx context.Context, newBase, oldBase, branch string) error {
	return wd.git(ctx, "rebase", "--rebase-merges", "--onto", newBase, oldBase, branch).Run()
}

// CheckoutDetached checks out commit without moving any branch pointer.
func (wd *WorkDir) CheckoutDetached(ctx context.Context, commit string) error {
	return wd.git(ctx, "checkout", "-q", "--detach", commit).Run()
}

// CatFileExists reports whether an object exists locally.
func (wd *WorkDir) CatFileExists(ctx context.Context, rev string) (bool, error) {
	err := wd.git(ctx, "cat-file", "-e", rev).Run()
	if err == nil {
		return true, nil
	}
	if status, ok := ExitStatus(err); ok && status == 1 {
		return false, nil
	}
	return false, err
}

// Fetch fetches from remoteName.
func (wd *WorkDir) Fetch(ctx context.Context, remoteName string) error {
	return wd.git(ctx, "fetch", "-q", remoteName).Run()
}

// MergeBase returns the merge base of a and b.
func (wd *WorkDir) MergeBase(ctx context.Context, a, b string) (string, error) {
	out, err := wd.git(ctx, "merge-base", a, b).Output()
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(out)), nil
}

// IsAncestor reports whether candidate is an ancestor of (or equal to) of_.
func (wd *WorkDir) IsAncestor(ctx context.Context, candidate, of_ string) (bool, error) {
	err := wd.git(ctx, "merge-base", "--is-ancestor", candidate, of_).Run()
	if err == nil {
		return true, nil
	}
	if status, ok := ExitStatus(err); ok && status == 1 {
		return false, nil
	}
	return false, errors.WithMessage(err, "merge-base --is-ancestor failed")
}
