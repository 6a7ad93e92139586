package sync

import (
	"context"

	log "github.com/apex/log"

	"github.com/msolo/git-tfs-sync/ancestor"
	"github.com/msolo/git-tfs-sync/gitapi"
	"github.com/msolo/git-tfs-sync/notes"
	"github.com/msolo/git-tfs-sync/remote"
)

// Orchestrator composes fetch, merge, check-in, and push into the three
// sync modes. It assumes its caller already holds the workspace lock and
// has verified the metadata namespace is enabled.
type Orchestrator struct {
	wd          *gitapi.WorkDir
	remoteStore *remote.Store
	notesStore  *notes.Store
	walker      *ancestor.Walker
	driver      *Driver
	client      Client
	remoteName  string // the git remote name (not the RemoteDescriptor id) used for pull/push
	targetRef   string
}

// NewOrchestrator assembles an Orchestrator from its dependencies.
func NewOrchestrator(wd *gitapi.WorkDir, remoteStore *remote.Store, notesStore *notes.Store, walker *ancestor.Walker, driver *Driver, client Client, remoteName, targetRef string) *Orchestrator {
	return &Orchestrator{
		wd:          wd,
		remoteStore: remoteStore,
		notesStore:  notesStore,
		walker:      walker,
		driver:      driver,
		client:      client,
		remoteName:  remoteName,
		targetRef:   targetRef,
	}
}

// pushCommitsAndNamespace pushes the target branch (falling back to a
// lease-based force push once if the plain push is rejected) and then
// pushes the metadata namespace.
func (o *Orchestrator) pushCommitsAndNamespace(ctx context.Context) error {
	if err := o.wd.Push(ctx, o.remoteName, o.targetRef); err != nil {
		if pushErr := o.wd.PushForceWithLease(ctx, o.remoteName, o.targetRef); pushErr != nil {
			return WrapError(KindUnknownFatal, "push of checked-in commits failed", pushErr)
		}
	}
	if err := o.notesStore.PushNamespace(ctx, o.remoteName); err != nil {
		return WrapError(KindUnknownFatal, "push of metadata namespace failed", err)
	}
	return nil
}

// SyncFromTfvc fetches new changesets from TFVC and advances the remote's
// cached watermark. Binding of newly-materialized commits happens as a
// side effect of the TFVC client's Fetch call.
func (o *Orchestrator) SyncFromTfvc(ctx context.Context, d *remote.Descriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	maxChangesetID, err := o.client.Fetch(ctx, d.ID)
	if err != nil {
		return WrapError(KindUnknownFatal, "fetch from TFVC failed", err)
	}
	head, err := o.wd.HeadCommit(ctx)
	if err != nil {
		return WrapError(KindUnknownFatal, "failed to read HEAD after fetch", err)
	}
	found, err := o.walker.FindLastParentBindings(ctx, head)
	if err != nil {
		return WrapError(KindUnknownFatal, "failed to walk ancestors after fetch", err)
	}
	if err := ancestor.MoveRemoteForwardIfNeeded(ctx, o.remoteStore, d, found); err != nil {
		return WrapError(KindUnknownFatal, "failed to advance remote watermark", err)
	}
	log.WithField("max_changeset_id", maxChangesetID).Info("sync: fetched from TFVC")
	return nil
}

// SyncToTfvc pulls the git remote (merge, never rebase), runs the
// check-in driver with skip_precheckin_fetch set (the pull just performed
// makes a second fetch redundant and risks overwriting bindings just
// pulled), then pushes commits and the metadata namespace.
func (o *Orchestrator) SyncToTfvc(ctx context.Context, d *remote.Descriptor, opts Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.wd.PullNoRebase(ctx, o.remoteName, o.targetRef); err != nil {
		return WrapError(KindUnknownFatal, "git pull failed", err)
	}

	opts.SkipPrecheckinFetch = true
	if err := o.driver.Checkin(ctx, o.targetRef, d, opts); err != nil {
		if serr, ok := err.(*Error); ok && serr.Kind == KindNothingToCheckin {
			log.Info("sync: nothing to check in")
		} else {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return o.pushCommitsAndNamespace(ctx)
}

// SyncBidirectional fetches from TFVC, integrates the TFVC tracking ref
// into HEAD (fast-forward, falling back to a merge commit created on
// HEAD), pulls the git remote, runs the check-in driver, and pushes.
func (o *Orchestrator) SyncBidirectional(ctx context.Context, d *remote.Descriptor, arbiter *Arbiter, reportCtx ReportContext, opts Options) error {
	if err := o.SyncFromTfvc(ctx, d); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := o.wd.MergeFF(ctx, d.RemoteRef); err != nil {
		if err := o.wd.MergeNoFF(ctx, d.RemoteRef, "Merge TFVC remote "+d.ID); err != nil {
			hasConflicts, cerr := arbiter.HasConflicts(ctx)
			if cerr != nil {
				return WrapError(KindUnknownFatal, "failed to inspect merge conflicts", cerr)
			}
			if hasConflicts {
				report, rerr := arbiter.BuildReport(ctx, reportCtx)
				if rerr != nil {
					return WrapError(KindUnknownFatal, "failed to build conflict report", rerr)
				}
				return NewError(KindMergeConflict, report)
			}
			return WrapError(KindUnknownFatal, "merge with TFVC remote tracking ref failed", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.wd.PullNoRebase(ctx, o.remoteName, o.targetRef); err != nil {
		return WrapError(KindUnknownFatal, "git pull failed", err)
	}

	refreshed, err := o.remoteStore.Get(ctx, d.ID)
	if err != nil {
		return WrapError(KindUnknownFatal, "failed to refresh remote descriptor after pull", err)
	}
	if refreshed != nil {
		*d = *refreshed
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	opts.SkipPrecheckinFetch = true
	if err := o.driver.Checkin(ctx, o.targetRef, d, opts); err != nil {
		if serr, ok := err.(*Error); ok && serr.Kind == KindNothingToCheckin {
			log.Info("sync: nothing to check in")
		} else {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return o.pushCommitsAndNamespace(ctx)
}
