package sync

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/msolo/git-tfs-sync/gitapi"
)

// CheckinOptions carries the per-commit parameters CheckinDriver hands to
// the TFVC client for a single check-in call.
type CheckinOptions struct {
	Message          string
	Author           string
	ParentBinding    *Binding
	MergedBranchPath string
}

// Binding is the minimal (tfs_url, tfs_path, changeset_id) triple the TFVC
// client needs to describe a commit's existing server-side position; it
// mirrors notes.Binding without importing the notes package's persistence
// concerns into this boundary.
type Binding struct {
	TfsURL      string
	TfsPath     string
	ChangesetID int
}

// Client is the opaque surface the TFVC server/client library exposes.
// This engine treats it as an external collaborator: the wire protocol,
// authentication, and workspace mapping live entirely behind this
// interface.
type Client interface {
	// Fetch pulls new changesets for remoteID into the local git
	// repository, binding each newly-materialized commit via NotesStore as
	// a side effect, and returns the highest changeset id now present.
	Fetch(ctx context.Context, remoteID string) (maxChangesetID int, err error)

	// Checkin pushes commitHash to the server as a new changeset, using
	// parentCommit as the changeset's predecessor. Returns the assigned
	// changeset id.
	Checkin(ctx context.Context, commitHash, parentCommit string, opts CheckinOptions) (changesetID int, err error)

	// MaxChangesetID reports the highest changeset id known to the server
	// for the given remote, without mutating local state.
	MaxChangesetID(ctx context.Context, remoteID string) (int, error)
}

// SubprocessClient is a thin adapter that shells out to an external TFVC
// command-line client, the same way the rest of this codebase treats other
// tools it does not own (rsync, watchman) as subprocesses wrapped by
// gitapi.Cmd. It is not a complete implementation -- wiring a specific
// TFVC command-line tool's argument conventions is left to deployment
// configuration -- but it fixes the shape every real adapter must have.
type SubprocessClient struct {
	// BinaryPath is the path to the TFVC command-line client executable.
	BinaryPath string
	// WorkspaceRoot is the TFVC workspace the client operates within.
	WorkspaceRoot string
}

// NewSubprocessClient returns a Client that shells out to binaryPath.
func NewSubprocessClient(binaryPath, workspaceRoot string) *SubprocessClient {
	return &SubprocessClient{BinaryPath: binaryPath, WorkspaceRoot: workspaceRoot}
}

func (c *SubprocessClient) run(ctx context.Context, stdin string, args ...string) (string, error) {
	// argv is `<subcommand> --workspace <dir> <flags...>`.
	argv := append([]string{args[0], "--workspace", c.WorkspaceRoot}, args[1:]...)
	cmd := gitapi.Command(ctx, c.BinaryPath, argv...)
	cmd.Env = gitapi.RestrictedEnv()
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.Output()
	if err != nil {
		return "", errors.WithMessagef(err, "tfvc: %s %v failed", c.BinaryPath, args)
	}
	return strings.TrimSpace(string(out)), nil
}

// Fetch invokes `<binary> fetch --workspace <dir> --remote <id>`, which is
// expected to print the highest changeset id now present to stdout.
func (c *SubprocessClient) Fetch(ctx context.Context, remoteID string) (int, error) {
	out, err := c.run(ctx, "", "fetch", "--remote", remoteID)
	if err != nil {
		return 0, err
	}
	return parseChangesetID(out)
}

// Checkin invokes `<binary> checkin --workspace <dir> --commit <hash>
// --parent <hash> [--author <id>] [--merge-parent-url <url> --merge-parent-path <path>
// --merge-parent-changeset <n>] [--merged-branch-path <path>]`, piping the check-in message on stdin and
// reading the assigned changeset id back from stdout.
func (c *SubprocessClient) Checkin(ctx context.Context, commitHash, parentCommit string, opts CheckinOptions) (int, error) {
	args := []string{"checkin", "--commit", commitHash, "--parent", parentCommit}
	if opts.Author != "" {
		args = append(args, "--author", opts.Author)
	}
	if opts.ParentBinding != nil {
		args = append(args,
			"--merge-parent-url", opts.ParentBinding.TfsURL,
			"--merge-parent-path", opts.ParentBinding.TfsPath,
			"--merge-parent-changeset", strconv.Itoa(opts.ParentBinding.ChangesetID))
	}
	if opts.MergedBranchPath != "" {
		args = append(args, "--merged-branch-path", opts.MergedBranchPath)
	}
	out, err := c.run(ctx, opts.Message, args...)
	if err != nil {
		return 0, err
	}
	return parseChangesetID(out)
}

// MaxChangesetID invokes `<binary> max-changeset-id --workspace <dir>
// --remote <id>` without mutating any local state.
func (c *SubprocessClient) MaxChangesetID(ctx context.Context, remoteID string) (int, error) {
	out, err := c.run(ctx, "", "max-changeset-id", "--remote", remoteID)
	if err != nil {
		return 0, err
	}
	return parseChangesetID(out)
}

func parseChangesetID(out string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, errors.Errorf("tfvc: expected a changeset id, got %q", out)
	}
	return n, nil
}

var _ Client = (*SubprocessClient)(nil)
