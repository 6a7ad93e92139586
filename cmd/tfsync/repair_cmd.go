package main

import (
	"context"

	log "github.com/apex/log"

	"github.com/msolo/cmdflag"
	"github.com/posener/complete/v2/predict"

	"github.com/msolo/git-tfs-sync/changeset"
	"github.com/msolo/git-tfs-sync/notes"
	"github.com/msolo/git-tfs-sync/remote"
	syncpkg "github.com/msolo/git-tfs-sync/sync"
)

var (
	repairWorkspaceRoot string
	repairRemoteID      string
)

var cmdRepairNotes = &cmdflag.Command{
	Name:      "repair-notes",
	Run:       runRepairNotes,
	UsageLine: "repair-notes --remote-id=ID [flags]",
	UsageLong: `Scan every commit reachable from any remote-tracking ref and write a
binding for any commit whose legacy git-tfs-id trailer names a changeset
with no corresponding notes binding. This recovers from the crash window
between a TFVC server accepting a check-in and the local binding write
that follows it -- it only ever adds bindings, never overwrites or removes
one that already exists.`,
	Flags: []cmdflag.Flag{
		{"remote-id", cmdflag.FlagTypeString, remote.DefaultID, "remote id whose (tfs_url, tfs_path) scope newly-written bindings are stamped with", nil},
		{"workspace-root", cmdflag.FlagTypeString, "", "git working directory root (default: discover from cwd)", predict.Files("*")},
	},
	Args: cmdflag.PredictNothing,
}

func bindRepairFlags() {
	cmdRepairNotes.BindFlagSet(map[string]interface{}{
		"remote-id":      &repairRemoteID,
		"workspace-root": &repairWorkspaceRoot,
	})
}

func runRepairNotes(ctx context.Context, cmd *cmdflag.Command, args []string) {
	wd := resolveWorkDir(repairWorkspaceRoot)
	remoteStore := remote.NewStore(wd)

	d, err := remoteStore.Get(ctx, repairRemoteID)
	exitOnError(err)
	if d == nil {
		reportAndExit(syncpkg.NewError(syncpkg.KindPreconditionFailed,
			"remote "+repairRemoteID+" is not configured",
			"run `tfsync init` first, or pass the correct --remote-id"))
	}

	notesStore := notes.New(wd)
	metas, err := wd.ListCommitsReachableFrom(ctx)
	exitOnError(err)

	written := 0
	for _, m := range metas {
		existing, err := notesStore.Get(ctx, m.Hash)
		exitOnError(err)
		if existing != nil {
			continue
		}
		msg, err := wd.CommitMessage(ctx, m.Hash)
		exitOnError(err)
		changesetID, ok := changeset.ParseLegacyChangesetID(msg)
		if !ok {
			continue
		}
		if err := notesStore.Put(ctx, m.Hash, d.TfsURL, d.TfsRepositoryPath, changesetID); err != nil {
			log.WithField("commit", m.Hash).Warnf("repair-notes: failed to write binding: %v", err)
			continue
		}
		written++
		log.WithField("commit", m.Hash).WithField("changeset_id", changesetID).Info("repair-notes: wrote missing binding")
	}

	log.WithField("written", written).Info("repair-notes: complete")
}
