package main

import (
	"context"
	"fmt"
	"path/filepath"

	log "github.com/apex/log"

	"github.com/msolo/cmdflag"
	"github.com/posener/complete/v2/predict"

	"github.com/msolo/git-tfs-sync/lock"
	syncpkg "github.com/msolo/git-tfs-sync/sync"
)

var (
	lockWorkspaceName string
	lockWorkspaceRoot string
	lockFile          string
)

var cmdLock = &cmdflag.Command{
	Name:      "lock",
	Run:       runLock,
	UsageLine: "lock status|release|force-unlock --workspace-name=NAME",
	UsageLong: `Inspect or manipulate a workspace's sync lock directly, without running a
sync. Useful for diagnosing a stuck agent or recovering a workspace after a
crash.`,
	Flags: []cmdflag.Flag{
		{"workspace-name", cmdflag.FlagTypeString, "default", "workspace name the lock file is keyed on", nil},
		{"workspace-root", cmdflag.FlagTypeString, "", "git working directory root (default: discover from cwd)", predict.Files("*")},
		{"lock-file", cmdflag.FlagTypeString, "", "directory the lock file lives in (default: <workspace>/.git)", predict.Files("*")},
	},
	Args: predictLockActions,
}

func bindLockFlags() {
	cmdLock.BindFlagSet(map[string]interface{}{
		"workspace-name": &lockWorkspaceName,
		"workspace-root": &lockWorkspaceRoot,
		"lock-file":      &lockFile,
	})
}

func runLock(ctx context.Context, cmd *cmdflag.Command, args []string) {
	if len(args) != 1 {
		reportAndExit(syncpkg.NewError(syncpkg.KindInvalidArguments, "expected exactly one action: status, release, or force-unlock"))
	}

	wd := resolveWorkDir(lockWorkspaceRoot)
	lockDir := lockFile
	if lockDir == "" {
		lockDir = filepath.Join(wd.Dir, ".git")
	}
	coordinator := lock.New(lockDir)

	switch args[0] {
	case "status":
		rec, err := coordinator.GetInfo(lockWorkspaceName)
		exitOnError(err)
		fmt.Println(lock.DescribeHolder(rec))
	case "release":
		exitOnError(coordinator.Release(lockWorkspaceName))
		log.WithField("workspace_name", lockWorkspaceName).Info("lock: released")
	case "force-unlock":
		exitOnError(coordinator.ForceUnlock(lockWorkspaceName))
		log.WithField("workspace_name", lockWorkspaceName).Info("lock: force-unlocked")
	default:
		reportAndExit(syncpkg.NewError(syncpkg.KindInvalidArguments, "unknown lock action "+args[0]+"; expected status, release, or force-unlock"))
	}
}
