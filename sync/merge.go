package sync

import (
	"context"
	"fmt"
	"os"
	"strings"

	isatty "github.com/mattn/go-isatty"

	"github.com/msolo/git-tfs-sync/gitapi"
)

// ciEnvVars are the recognized build-id environment variables that mark a
// run as CI-detected rather than interactive.
var ciEnvVars = []string{"BUILD_BUILDID", "BUILD_BUILDNUMBER", "BUILD_DEFINITIONNAME"}

func runningUnderCI() bool {
	for _, name := range ciEnvVars {
		if os.Getenv(name) != "" {
			return true
		}
	}
	return false
}

// Arbiter inspects a conflicted working tree after a failed merge and
// produces operator guidance. It never attempts conflict resolution
// itself.
type Arbiter struct {
	wd *gitapi.WorkDir
}

// NewArbiter returns an Arbiter over wd.
func NewArbiter(wd *gitapi.WorkDir) *Arbiter {
	return &Arbiter{wd: wd}
}

// HasConflicts reports whether the index currently has unmerged entries.
func (a *Arbiter) HasConflicts(ctx context.Context) (bool, error) {
	paths, err := a.GetConflictedPaths(ctx)
	if err != nil {
		return false, err
	}
	return len(paths) > 0, nil
}

// GetConflictedPaths lists paths with unmerged entries in the index.
func (a *Arbiter) GetConflictedPaths(ctx context.Context) ([]string, error) {
	return a.wd.ConflictedPaths(ctx)
}

// ReportContext carries the multi-agent axis of a merge-conflict report's
// guidance: whether the workspace is one of several agents sharing a sync
// target or a single operator's own checkout. Whether the run is
// CI-detected is not part of it; BuildReport reads that from the
// environment.
type ReportContext struct {
	MultiAgent bool
}

// BuildReport produces human-readable guidance describing the conflict and
// how to resolve it, branching on whether stdout is a terminal and on
// CI-detected environment variables.
func (a *Arbiter) BuildReport(ctx context.Context, rc ReportContext) (string, error) {
	paths, err := a.GetConflictedPaths(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Merge conflict across %d path(s):\n", len(paths))
	for _, p := range paths {
		fmt.Fprintf(&sb, "  %s\n", p)
	}

	interactive := isatty.IsTerminal(os.Stdout.Fd()) && !runningUnderCI()

	switch {
	case runningUnderCI():
		sb.WriteString("\nThis run is CI-detected: resolve the conflict in a local clone,\n")
		sb.WriteString("push the resolution, then re-trigger the build.\n")
	case interactive:
		sb.WriteString("\nResolve the conflicting paths above, `git add` them, commit,\n")
		sb.WriteString("and re-run the sync -- the idempotency gate makes this safe to repeat.\n")
	default:
		sb.WriteString("\nRunning non-interactively outside CI: resolve the conflict and\n")
		sb.WriteString("re-invoke the sync once the working tree is clean.\n")
	}

	if rc.MultiAgent {
		sb.WriteString("\nThis workspace is shared by multiple sync agents: hold the workspace\n")
		sb.WriteString("lock until the conflict is resolved to avoid a racing agent observing\n")
		sb.WriteString("the conflicted tree.\n")
	}

	return sb.String(), nil
}
