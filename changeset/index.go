// Package changeset implements the bidirectional commit<->changeset index:
// a lazily-populated in-process cache backed by NotesStore, falling back to
// the legacy git-tfs-id commit-message trailer for history predating the
// notes namespace.
package changeset

import (
	"context"
	"sort"

	log "github.com/msolo/go-bis/glug"

	"github.com/msolo/git-tfs-sync/gitapi"
	"github.com/msolo/git-tfs-sync/notes"
)

// Pair binds one commit to one changeset within a single remote's scope.
type Pair struct {
	CommitHash  string
	ChangesetID int
}

// Index is an in-process, lazily-populated cache mapping changeset ids to
// commit hashes and back. The source of truth is always NotesStore plus
// the legacy trailer; Index never persists anything itself.
type Index struct {
	wd    *gitapi.WorkDir
	store *notes.Store

	byChangeset map[int]string
	byCommit    map[string]int
	complete    bool
}

// New returns an empty Index over wd/store. Call Populate (or rely on
// lazy on-demand population via FindCommitByChangeset) before querying.
func New(wd *gitapi.WorkDir, store *notes.Store) *Index {
	return &Index{
		wd:          wd,
		store:       store,
		byChangeset: make(map[int]string),
		byCommit:    make(map[string]int),
	}
}

// recordPair adds a (commit, changeset) pair to the cache, logging and
// keeping the first-enumerated entry when a changeset id collides --
// collisions should not happen under normal operation (the binding
// invariant forbids it within one remote's scope) but scans over legacy
// history occasionally surface duplicates from manual repairs.
func (idx *Index) recordPair(commit string, changesetID int) {
	if existing, ok := idx.byChangeset[changesetID]; ok && existing != commit {
		log.Warningf("changeset: duplicate changeset %d bound to both %s and %s; keeping %s", changesetID, existing, commit, existing)
		return
	}
	idx.byChangeset[changesetID] = commit
	idx.byCommit[commit] = changesetID
}

// Populate scans commits reachable from scopeRef (or every remote-tracking
// ref if scopeRef is empty), newest first, resolving each one's binding via
// NotesStore and falling back to the legacy trailer. Once complete, the
// cache answers every FindCommitByChangeset query without further git
// subprocess calls.
func (idx *Index) Populate(ctx context.Context, scopeRef string) error {
	var metas []gitapi.CommitMeta
	var err error
	if scopeRef == "" {
		metas, err = idx.wd.ListCommitsReachableFrom(ctx)
	} else {
		metas, err = idx.wd.ListCommitsReachableFromRef(ctx, scopeRef)
	}
	if err != nil {
		return err
	}

	hashes := make([]string, len(metas))
	for i, m := range metas {
		hashes[i] = m.Hash
	}
	bindings, err := idx.store.GetBulk(ctx, hashes)
	if err != nil {
		return err
	}

	for _, m := range metas {
		if b, ok := bindings[m.Hash]; ok {
			idx.recordPair(m.Hash, b.ChangesetID)
			continue
		}
		msg, err := idx.wd.CommitMessage(ctx, m.Hash)
		if err != nil {
			continue
		}
		if csid, ok := ParseLegacyChangesetID(msg); ok {
			idx.recordPair(m.Hash, csid)
		}
	}
	idx.complete = true
	return nil
}

// FindCommitByChangeset returns the commit bound to changesetID, populating
// the cache from scopeRef on first use if it is not yet complete.
func (idx *Index) FindCommitByChangeset(ctx context.Context, scopeRef string, changesetID int) (string, error) {
	if commit, ok := idx.byChangeset[changesetID]; ok {
		return commit, nil
	}
	if idx.complete {
		return "", nil
	}
	if err := idx.Populate(ctx, scopeRef); err != nil {
		return "", err
	}
	return idx.byChangeset[changesetID], nil
}

// FindChangesetByCommit is the inverse lookup.
func (idx *Index) FindChangesetByCommit(ctx context.Context, scopeRef, commit string) (int, bool, error) {
	if csid, ok := idx.byCommit[commit]; ok {
		return csid, true, nil
	}
	if idx.complete {
		return 0, false, nil
	}
	if err := idx.Populate(ctx, scopeRef); err != nil {
		return 0, false, err
	}
	csid, ok := idx.byCommit[commit]
	return csid, ok, nil
}

// RecordPair registers a freshly-created binding directly, sparing a
// re-scan -- called by CheckinDriver right after it writes a new binding.
func (idx *Index) RecordPair(commit string, changesetID int) {
	idx.recordPair(commit, changesetID)
}

// GetPairs returns every cached pair, sorted by changeset id ascending.
func (idx *Index) GetPairs() []Pair {
	pairs := make([]Pair, 0, len(idx.byChangeset))
	for csid, commit := range idx.byChangeset {
		pairs = append(pairs, Pair{CommitHash: commit, ChangesetID: csid})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ChangesetID < pairs[j].ChangesetID })
	return pairs
}

// MaxChangesetID returns the highest changeset id currently cached, or 0 if
// the cache is empty.
func (idx *Index) MaxChangesetID() int {
	max := 0
	for csid := range idx.byChangeset {
		if csid > max {
			max = csid
		}
	}
	return max
}
