package sync

import (
	"context"
	"strconv"
	"strings"

	log "github.com/msolo/go-bis/glug"

	"github.com/msolo/git-tfs-sync/ancestor"
	"github.com/msolo/git-tfs-sync/changeset"
	"github.com/msolo/git-tfs-sync/gitapi"
	"github.com/msolo/git-tfs-sync/notes"
	"github.com/msolo/git-tfs-sync/remote"
)

// Options configures a single CheckinDriver.Checkin invocation.
type Options struct {
	SkipPrecheckinFetch bool
	AutoRebase          bool
	IgnoreMerge         bool
	ExplicitAuthor      string
	AuthenticatedCaller string
}

// Driver is the CheckinDriver: it replays unbound git commits onto TFVC,
// binding each server-returned changeset id to the existing commit hash
// without ever creating a new commit.
type Driver struct {
	wd      *gitapi.WorkDir
	store   *notes.Store
	index   *changeset.Index
	walker  *ancestor.Walker
	client  Client
	authors *AuthorMap
}

// NewDriver assembles a Driver from its dependencies.
func NewDriver(wd *gitapi.WorkDir, store *notes.Store, index *changeset.Index, walker *ancestor.Walker, client Client, authors *AuthorMap) *Driver {
	return &Driver{wd: wd, store: store, index: index, walker: walker, client: client, authors: authors}
}

// stripLegacyTrailers removes any git-tfs-id trailer lines from a commit
// message before it is transmitted to the server, so old metadata from a
// previous tool does not leak into new changeset comments.
func stripLegacyTrailers(message string) string {
	lines := strings.Split(message, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := changeset.ParseLegacyChangesetID(line); ok {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// toCRLF normalizes line endings to CRLF, the convention TFVC check-in
// comments expect.
func toCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// buildCheckinMessage concatenates the messages of every commit reachable
// between runningParent and commit (inclusive of commit), handling the
// case where commit is a merge that folds in a side branch's history.
func (d *Driver) buildCheckinMessage(ctx context.Context, runningParent, commit string) (string, error) {
	commits, err := d.wd.RevListRange(ctx, commit, runningParent)
	if err != nil {
		return "", err
	}
	if len(commits) == 0 {
		commits = []string{commit}
	}
	var parts []string
	for _, c := range commits {
		msg, err := d.wd.CommitMessage(ctx, c)
		if err != nil {
			return "", err
		}
		parts = append(parts, stripLegacyTrailers(msg))
	}
	return toCRLF(strings.TrimRight(strings.Join(parts, "\n\n"), "\n")), nil
}

// resolveMergeParent finds, among commit's git parents other than
// runningParent, the one whose most recent ancestor binding belongs to
// remote -- the branch to offer the server as the merged branch. If more
// than one parent qualifies, the last one found wins and a warning is
// logged. allOtherParentsBound reports whether every non-running parent
// resolved to a binding on remote, meaning the merge introduces no content
// beyond what is already bound -- the caller uses this to skip checking
// commit in as its own changeset.
func (d *Driver) resolveMergeParent(ctx context.Context, commit, runningParent string, remoteDesc *remote.Descriptor) (resolved *notes.Binding, allOtherParentsBound bool, err error) {
	parents, err := d.wd.Parents(ctx, commit)
	if err != nil {
		return nil, false, err
	}
	otherParents := 0
	matchCount := 0
	for _, p := range parents {
		if p == runningParent {
			continue
		}
		otherParents++
		found, err := d.walker.FindLastParentBindings(ctx, p)
		if err != nil {
			return nil, false, err
		}
		for _, bc := range found {
			if bc.Binding.TfsURL == remoteDesc.TfsURL && bc.Binding.TfsPath == remoteDesc.TfsRepositoryPath {
				resolved = bc.Binding
				matchCount++
				break
			}
		}
	}
	if matchCount > 1 {
		log.Warningf("checkin: commit %s has multiple merged parents bound on remote %s; using the last one found", commit, remoteDesc.ID)
	}
	return resolved, otherParents > 0 && matchCount == otherParents, nil
}

// Checkin replays every unbound commit on targetRef since remote's
// high-watermark onto TFVC, one changeset per commit. A merge commit whose
// other parents all resolve to bindings on remote is skipped, not checked in.
func (d *Driver) Checkin(ctx context.Context, targetRef string, remoteDesc *remote.Descriptor, opts Options) error {
	if !opts.SkipPrecheckinFetch {
		before := remoteDesc.MaxChangesetID
		after, err := d.client.Fetch(ctx, remoteDesc.ID)
		if err != nil {
			return WrapError(KindUnknownFatal, "precheckin fetch failed", err)
		}
		if after > before {
			if opts.AutoRebase {
				if err := d.wd.RebaseOnto(ctx, remoteDesc.RemoteRef, remoteDesc.MaxCommitHash, targetRef); err != nil {
					return WrapError(KindUnknownFatal, "auto-rebase to catch up with remote changesets failed", err)
				}
				newTip, err := d.wd.RevParse(ctx, remoteDesc.RemoteRef)
				if err != nil {
					return WrapError(KindUnknownFatal, "failed to resolve the remote tracking ref after auto-rebase", err)
				}
				remoteDesc.MaxCommitHash = newTip
				remoteDesc.MaxChangesetID = after
			} else {
				return NewError(KindRemoteAdvanced,
					"the TFVC remote has new changesets since this workspace's cached watermark",
					"rebase and retry, or pass --auto-rebase")
			}
		}
	}

	commits, err := d.wd.FirstParentPath(ctx, targetRef, remoteDesc.MaxCommitHash)
	if err != nil {
		return WrapError(KindUnknownFatal, "failed to enumerate commits to check in", err)
	}
	if len(commits) == 0 {
		return NewError(KindNothingToCheckin, "no commits between the remote's watermark and "+targetRef)
	}

	runningParent := remoteDesc.MaxCommitHash
	for _, commit := range commits {
		if existing, err := d.store.Get(ctx, commit); err != nil {
			return WrapError(KindUnknownFatal, "failed to check existing binding", err)
		} else if existing != nil {
			log.Infof("checkin: %s already synced as changeset %d, skipping", commit, existing.ChangesetID)
			runningParent = commit
			continue
		}

		message, err := d.buildCheckinMessage(ctx, runningParent, commit)
		if err != nil {
			return WrapError(KindUnknownFatal, "failed to build check-in message", err)
		}

		mergedParent, allOtherParentsBound, err := d.resolveMergeParent(ctx, commit, runningParent, remoteDesc)
		if err != nil {
			return WrapError(KindUnknownFatal, "failed to resolve merge parent", err)
		}
		parents, err := d.wd.Parents(ctx, commit)
		if err != nil {
			return WrapError(KindUnknownFatal, "failed to read commit parents", err)
		}
		if len(parents) > 1 && allOtherParentsBound {
			log.Infof("checkin: %s merges only already-bound parents on remote %s, nothing new to check in, skipping", commit, remoteDesc.ID)
			runningParent = commit
			continue
		}
		if mergedParent == nil && len(parents) > 1 && !opts.IgnoreMerge {
			return NewError(KindUnmergedBranchHasUnbound,
				"commit "+commit+" merges a branch with no bound commits on this remote",
				"check in the other branch first, or pass --ignore-merge")
		}

		gitName, gitEmail, err := d.wd.CommitAuthor(ctx, commit)
		if err != nil {
			return WrapError(KindUnknownFatal, "failed to read commit author", err)
		}
		author := d.authors.ResolveAuthor(opts.ExplicitAuthor, gitName, gitEmail, opts.AuthenticatedCaller)
		if mergedParent != nil {
			// Merge commits credit the last merged parent's author, not the
			// merge commit's own author.
			if mergedParents, _ := d.wd.Parents(ctx, commit); len(mergedParents) > 0 {
				lastParent := mergedParents[len(mergedParents)-1]
				if name, email, err := d.wd.CommitAuthor(ctx, lastParent); err == nil {
					author = d.authors.ResolveAuthor(opts.ExplicitAuthor, name, email, opts.AuthenticatedCaller)
				}
			}
		}

		checkinOpts := CheckinOptions{Message: message, Author: author}
		if mergedParent != nil {
			checkinOpts.ParentBinding = &Binding{TfsURL: mergedParent.TfsURL, TfsPath: mergedParent.TfsPath, ChangesetID: mergedParent.ChangesetID}
			checkinOpts.MergedBranchPath = mergedParent.TfsPath
		}

		changesetID, err := d.client.Checkin(ctx, commit, runningParent, checkinOpts)
		if err != nil {
			d.cleanupAfterFailure(ctx, targetRef, runningParent)
			return WrapError(KindCheckinFailure, "server rejected check-in of commit "+commit, err)
		}

		if err := d.store.Put(ctx, commit, remoteDesc.TfsURL, remoteDesc.TfsRepositoryPath, changesetID); err != nil {
			return WrapError(KindBindingWriteFailed,
				"changeset "+strconv.Itoa(changesetID)+" was accepted by the server but the local binding for "+commit+" failed to write",
				err,
				"run repair-notes once the notes namespace is writable again")
		}
		d.index.RecordPair(commit, changesetID)
		remoteDesc.MaxCommitHash = commit
		remoteDesc.MaxChangesetID = changesetID
		runningParent = commit
	}
	return nil
}

// cleanupAfterFailure performs best-effort cleanup after a failed
// check-in: rebase anything after the last successfully bound commit back
// onto itself, which is a no-op unless something upstream already moved --
// kept as a single named hook so future recovery logic has one place to
// extend.
func (d *Driver) cleanupAfterFailure(ctx context.Context, targetRef, lastBound string) {
	if err := d.wd.RebaseOnto(ctx, lastBound, lastBound, targetRef); err != nil {
		log.Warningf("checkin: best-effort cleanup rebase after failure did not apply cleanly: %v", err)
	}
}
