package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	log "github.com/apex/log"
	"github.com/tebeka/atexit"

	"github.com/msolo/cmdflag"
	"github.com/posener/complete/v2/predict"

	"github.com/msolo/git-tfs-sync/ancestor"
	"github.com/msolo/git-tfs-sync/changeset"
	"github.com/msolo/git-tfs-sync/gitapi"
	"github.com/msolo/git-tfs-sync/lock"
	"github.com/msolo/git-tfs-sync/notes"
	"github.com/msolo/git-tfs-sync/remote"
	syncpkg "github.com/msolo/git-tfs-sync/sync"
)

var (
	syncFromTfvc      bool
	syncToTfvc        bool
	syncDryRun        bool
	syncForceUnlock   bool
	syncNoLock        bool
	syncIgnoreMerge   bool
	syncAutoRebase    bool
	syncWorkspaceName string
	syncWorkspaceRoot string
	syncLockFile      string
	syncAuthorsFile   string
	syncAuthor        string
	syncRemoteID      string
	syncGitRemoteName string
	syncTargetRef     string
	syncTfvcBinary    string
	syncLockTimeout   time.Duration
	syncMaxLockAge    time.Duration
)

var cmdSync = &cmdflag.Command{
	Name:      "sync",
	Run:       runSync,
	UsageLine: "sync [--from-tfvc|--to-tfvc] [flags]",
	UsageLong: `Run one cycle of the TFVC<->git sync engine: fetch new changesets,
integrate them into HEAD, replay unbound commits onto TFVC as new
changesets, and push the result -- all under a workspace lock.

With neither --from-tfvc nor --to-tfvc, runs the full bidirectional cycle.`,
	Flags: []cmdflag.Flag{
		{"from-tfvc", cmdflag.FlagTypeBool, false, "pull new changesets from TFVC and advance the watermark only", nil},
		{"to-tfvc", cmdflag.FlagTypeBool, false, "check in unbound commits to TFVC and push only", nil},
		{"dry-run", cmdflag.FlagTypeBool, false, "report what would happen without acquiring the lock or mutating state", nil},
		{"workspace-name", cmdflag.FlagTypeString, "default", "workspace name the lock file and diagnostics key off of", nil},
		{"workspace-root", cmdflag.FlagTypeString, "", "git working directory root (default: discover from cwd)", predict.Files("*")},
		{"remote-id", cmdflag.FlagTypeString, remote.DefaultID, "configured remote id to sync", nil},
		{"git-remote-name", cmdflag.FlagTypeString, "origin", "git remote to pull/push the target branch from", nil},
		{"target-ref", cmdflag.FlagTypeString, "master", "branch to check in from and merge TFVC changes into", nil},
		{"lock-timeout", cmdflag.FlagTypeDuration, 30 * time.Second, "how long to wait for the workspace lock before giving up", nil},
		{"max-lock-age", cmdflag.FlagTypeDuration, lock.MaxLockAge, "staleness threshold before a held lock becomes evictable", nil},
		{"force-unlock", cmdflag.FlagTypeBool, false, "evict the current lock holder unconditionally before acquiring", nil},
		{"no-lock", cmdflag.FlagTypeBool, false, "skip the workspace lock entirely (single-agent use only)", nil},
		{"lock-file", cmdflag.FlagTypeString, "", "directory to store the lock file in (default: <workspace>/.git)", predict.Files("*")},
		{"authors-file", cmdflag.FlagTypeString, "", "JSONC file mapping git identities to TFVC identities", predict.Files("*.jsonc")},
		{"author", cmdflag.FlagTypeString, "", "explicit TFVC author identity, overriding all inference", nil},
		{"ignore-merge", cmdflag.FlagTypeBool, false, "check in a merge commit even when its merged branch has no bound commits", nil},
		{"auto-rebase", cmdflag.FlagTypeBool, false, "rebase onto a remote that advanced since the last sync instead of failing", nil},
		{"tfvc-binary", cmdflag.FlagTypeString, "tfvc-client", "path to the external TFVC command-line client this run shells out to", predict.Files("*")},
	},
	Args: cmdflag.PredictNothing,
}

func bindSyncFlags() {
	cmdSync.BindFlagSet(map[string]interface{}{
		"from-tfvc":       &syncFromTfvc,
		"to-tfvc":         &syncToTfvc,
		"dry-run":         &syncDryRun,
		"workspace-name":  &syncWorkspaceName,
		"workspace-root":  &syncWorkspaceRoot,
		"remote-id":       &syncRemoteID,
		"git-remote-name": &syncGitRemoteName,
		"target-ref":      &syncTargetRef,
		"lock-timeout":    &syncLockTimeout,
		"max-lock-age":    &syncMaxLockAge,
		"force-unlock":    &syncForceUnlock,
		"no-lock":         &syncNoLock,
		"lock-file":       &syncLockFile,
		"authors-file":    &syncAuthorsFile,
		"author":          &syncAuthor,
		"ignore-merge":    &syncIgnoreMerge,
		"auto-rebase":     &syncAutoRebase,
		"tfvc-binary":     &syncTfvcBinary,
	})
}

// printDryRunReport describes what a real run would attempt, without
// acquiring the lock, contacting the TFVC client, or writing anything.
func printDryRunReport(ctx context.Context, wd *gitapi.WorkDir, d *remote.Descriptor) {
	commits, err := wd.FirstParentPath(ctx, syncTargetRef, d.MaxCommitHash)
	exitOnError(err)
	log.WithField("remote_id", d.ID).WithField("max_changeset_id", d.MaxChangesetID).
		Info("dry-run: current watermark")
	log.WithField("count", len(commits)).Info("dry-run: commits that would be checked in to TFVC")
	if syncFromTfvc {
		log.Info("dry-run: would fetch new changesets from TFVC and advance the watermark")
	} else if syncToTfvc {
		log.Info("dry-run: would check in the commits above and push")
	} else {
		log.Info("dry-run: would run the full bidirectional cycle (fetch, merge, check in, push)")
	}
}

func runSync(ctx context.Context, cmd *cmdflag.Command, args []string) {
	if syncFromTfvc && syncToTfvc {
		reportAndExit(syncpkg.NewError(syncpkg.KindInvalidArguments, "--from-tfvc and --to-tfvc are mutually exclusive"))
	}

	wd := resolveWorkDir(syncWorkspaceRoot)
	remoteStore := remote.NewStore(wd)
	d, err := remoteStore.Get(ctx, syncRemoteID)
	exitOnError(err)
	if d == nil {
		reportAndExit(syncpkg.NewError(syncpkg.KindPreconditionFailed,
			"remote "+syncRemoteID+" is not configured",
			"run `tfsync init --tfs-url=... --tfs-path=...` first"))
	}

	if syncDryRun {
		printDryRunReport(ctx, wd, d)
		return
	}

	lockDir := syncLockFile
	if lockDir == "" {
		lockDir = filepath.Join(wd.Dir, ".git")
	}
	coordinator := lock.New(lockDir)
	if syncForceUnlock {
		exitOnError(coordinator.ForceUnlock(syncWorkspaceName))
	}

	direction := lock.DirectionBidirectional
	switch {
	case syncFromTfvc:
		direction = lock.DirectionFromTfvc
	case syncToTfvc:
		direction = lock.DirectionToTfvc
	}

	if !syncNoLock {
		rec := &lock.Record{
			ProcessID:   os.Getpid(),
			Hostname:    hostname(),
			AcquiredBy:  currentUser(),
			Direction:   direction,
			PipelineID:  os.Getenv("BUILD_BUILDID"),
			BuildNumber: os.Getenv("BUILD_BUILDNUMBER"),
		}
		result, err := coordinator.TryAcquireWithMaxAge(syncWorkspaceName, syncLockTimeout, syncMaxLockAge, rec)
		exitOnError(err)
		if result == lock.TimedOut {
			holder, _ := coordinator.GetInfo(syncWorkspaceName)
			reportAndExit(syncpkg.NewError(syncpkg.KindLockContention,
				"workspace "+syncWorkspaceName+" is locked: "+lock.DescribeHolder(holder),
				"wait for the current holder to finish, or pass --force-unlock if it is known to be abandoned"))
		}
		// Released through atexit: reportAndExit and exitOnError end the
		// process without running deferred calls.
		atexit.Register(func() { coordinator.Release(syncWorkspaceName) })
	}

	notesStore := notes.New(wd)
	index := changeset.New(wd, notesStore)
	walker := ancestor.New(wd, notesStore)
	authors, err := syncpkg.LoadAuthorMap(syncAuthorsFile)
	exitOnError(err)
	client := syncpkg.NewSubprocessClient(syncTfvcBinary, wd.Dir)
	driver := syncpkg.NewDriver(wd, notesStore, index, walker, client, authors)
	orch := syncpkg.NewOrchestrator(wd, remoteStore, notesStore, walker, driver, client, syncGitRemoteName, syncTargetRef)
	arbiter := syncpkg.NewArbiter(wd)

	opts := syncpkg.Options{
		IgnoreMerge:         syncIgnoreMerge,
		AutoRebase:          syncAutoRebase,
		ExplicitAuthor:      syncAuthor,
		AuthenticatedCaller: currentUser(),
	}
	reportCtx := syncpkg.ReportContext{MultiAgent: !syncNoLock}

	switch {
	case syncFromTfvc:
		err = orch.SyncFromTfvc(ctx, d)
	case syncToTfvc:
		err = orch.SyncToTfvc(ctx, d, opts)
	default:
		err = orch.SyncBidirectional(ctx, d, arbiter, reportCtx, opts)
	}
	if err != nil {
		reportAndExit(err)
	}

	exitOnError(remoteStore.AdvanceWatermark(ctx, d.ID, d.MaxCommitHash, d.MaxChangesetID))
	log.WithField("remote_id", d.ID).WithField("max_changeset_id", d.MaxChangesetID).Info("sync: complete")
}
