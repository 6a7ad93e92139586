package gitapi

import (
	"bytes"
	"context"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// WorkDir wraps a git working directory path and exposes git subprocess
// helpers scoped to it via `git -C <dir>`.
type WorkDir struct {
	Dir string
}

// New returns a WorkDir rooted at dir.
func New(dir string) *WorkDir {
	return &WorkDir{Dir: dir}
}

// Discover walks upward from the process's current directory looking for
// a `.git` entry, the same convention the rest of this tool family uses to
// avoid requiring an explicit -C flag for everyday invocations.
func Discover() string {
	wd, err := os.Getwd()
	if err != nil {
		panic(err) // Fatal: a process without a working directory cannot proceed.
	}
	for wd != "/" {
		if _, err := os.Stat(path.Join(wd, ".git")); err == nil {
			return wd
		} else if !os.IsNotExist(err) {
			panic(err)
		}
		wd = path.Dir(wd)
	}
	return ""
}

func (wd *WorkDir) git(ctx context.Context, args ...string) *Cmd {
	gitArgs := make([]string, 0, len(args)+2)
	if wd.Dir != "" {
		gitArgs = append(gitArgs, "-C", wd.Dir)
	}
	gitArgs = append(gitArgs, args...)
	cmd := Command(ctx, "git", gitArgs...)
	cmd.Env = RestrictedEnv()
	return cmd
}

// Config is a parsed `git config -z -l` snapshot.
type Config map[string]string

// Get normalizes section/subsection casing per `man git-config` (only the
// section and key are case-insensitive; the subsection is not) before
// looking the value up.
func (c Config) Get(key string) string {
	parts := strings.Split(key, ".")
	if len(parts) == 3 {
		parts[0] = strings.ToLower(parts[0])
		parts[2] = strings.ToLower(parts[2])
		key = strings.Join(parts, ".")
	} else {
		key = strings.ToLower(key)
	}
	return c[key]
}

// ReadConfig loads the full git config visible to this working directory.
func (wd *WorkDir) ReadConfig(ctx context.Context) (Config, error) {
	out, err := wd.git(ctx, "config", "-z", "-l").Output()
	if err != nil {
		return nil, errors.WithMessage(err, "git config failed")
	}
	cfg := make(Config)
	for _, entry := range SplitNullTerminated(string(out)) {
		kv := strings.SplitN(entry, "\n", 2)
		if len(kv) != 2 {
			continue
		}
		cfg[kv[0]] = kv[1]
	}
	return cfg, nil
}

// SetConfig writes a single git config key.
func (wd *WorkDir) SetConfig(ctx context.Context, key, value string) error {
	return wd.git(ctx, "config", key, value).Run()
}

// GetConfigAll returns every value of a (possibly multi-valued) config key,
// in the order git reports them. Used for remote.<id>.fetch/push refspecs
// and legacy_urls.
func (wd *WorkDir) GetConfigAll(ctx context.Context, key string) ([]string, error) {
	out, err := wd.git(ctx, "config", "-z", "--get-all", key).Output()
	if err != nil {
		if status, ok := ExitStatus(err); ok && status == 1 {
			return nil, nil
		}
		return nil, err
	}
	return SplitNullTerminated(string(out)), nil
}

// AddConfig appends a value to a multi-valued config key rather than
// overwriting it.
func (wd *WorkDir) AddConfig(ctx context.Context, key, value string) error {
	return wd.git(ctx, "config", "--add", key, value).Run()
}

// UnsetConfigSection removes an entire config section (e.g. `tfs-remote.foo`).
func (wd *WorkDir) UnsetConfigSection(ctx context.Context, section string) error {
	err := wd.git(ctx, "config", "--remove-section", section).Run()
	if status, ok := ExitStatus(err); ok && status == 128 {
		return nil // Section never existed.
	}
	return err
}

// RevParse resolves a single rev to its full commit hash.
func (wd *WorkDir) RevParse(ctx context.Context, rev string) (string, error) {
	out, err := wd.git(ctx, "rev-parse", "--verify", rev).Output()
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(out)), nil
}

// RevParseMaybe resolves rev, returning ("", nil) if the ref does not exist
// rather than an error -- useful for optional remote-tracking refs on a
// freshly initialized workspace.
func (wd *WorkDir) RevParseMaybe(ctx context.Context, rev string) (string, error) {
	hash, err := wd.RevParse(ctx, rev)
	if err != nil {
		if status, ok := ExitStatus(err); ok && status == 128 {
			return "", nil
		}
		return "", err
	}
	return hash, nil
}

// HeadCommit returns the commit hash HEAD currently points to.
func (wd *WorkDir) HeadCommit(ctx context.Context) (string, error) {
	return wd.RevParse(ctx, "HEAD")
}

// Parents returns the parent commit hashes of commit, in order.
func (wd *WorkDir) Parents(ctx context.Context, commit string) ([]string, error) {
	out, err := wd.git(ctx, "rev-list", "--parents", "-n", "1", commit).Output()
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(string(bytes.TrimSpace(out)))
	if len(fields) <= 1 {
		return nil, nil
	}
	return fields[1:], nil
}

// CommitMessage returns the raw commit message body.
func (wd *WorkDir) CommitMessage(ctx context.Context, commit string) (string, error) {
	out, err := wd.git(ctx, "show", "-s", "--format=%B", commit).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// CommitAuthor returns the commit's author name and email.
func (wd *WorkDir) CommitAuthor(ctx context.Context, commit string) (name, email string, err error) {
	out, err := wd.git(ctx, "show", "-s", "--format=%an%x00%ae", commit).Output()
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(strings.TrimRight(string(out), "\n"), "\x00", 2)
	if len(parts) != 2 {
		return "", "", errors.Errorf("unexpected author format for %s: %q", commit, out)
	}
	return parts[0], parts[1], nil
}

func parsePorcelainStatus(data []byte) (modifiedFiles []string, err error) {
	entries := SplitNullTerminated(string(data))
	modifiedFiles = make([]string, 0, 16)
	for i := 0; i < len(entries); i++ {
		entry := entries[i]
		if len(entry) < 3 {
			continue
		}
		status, fname := entry[:2], entry[3:]
		if status == "UU" {
			continue
		}
		modifiedFiles = append(modifiedFiles, fname)
		if status[0] == 'R' {
			i++
			if i < len(entries) {
				modifiedFiles = append(modifiedFiles, entries[i])
			}
		}
	}
	return modifiedFiles, nil
}

// WorkingTreeStatus returns changed/untracked paths relative to the index.
func (wd *WorkDir) WorkingTreeStatus(ctx context.Context) ([]string, error) {
	out, err := wd.git(ctx, "status", "-z", "--porcelain", "--untracked-files=all").Output()
	if err != nil {
		return nil, err
	}
	return parsePorcelainStatus(out)
}

// JoinNullTerminated renders ss as a NUL-terminated byte stream, the format
// every `-z` git subcommand expects on stdin/emits on stdout.
func JoinNullTerminated(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return strings.Join(ss, "\000") + "\000"
}

// SplitNullTerminated parses a NUL-terminated byte stream back into its
// component strings.
func SplitNullTerminated(s string) []string {
	if s == "" {
		return nil
	}
	if s[len(s)-1] == '\000' {
		s = s[:len(s)-1]
	}
	return strings.Split(s, "\000")
}
