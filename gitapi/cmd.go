package gitapi

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strings"
	"syscall"

	log "github.com/msolo/go-bis/glug"
	"github.com/pkg/errors"
)

// Cmd wraps exec.Cmd with tracing and stderr-preserving error unwrapping,
// matching the discipline the rest of the tooling in this lineage applies
// to every subprocess invocation.
type Cmd struct {
	*exec.Cmd
	trace bool
}

var trace = true

// SetTrace toggles perf tracing of subprocess invocations. Tests disable
// it to keep output quiet.
func SetTrace(v bool) {
	trace = v
}

// Command builds a traced Cmd for name/args. With cmd.Env left unset the
// subprocess inherits this process's full environment; callers set cmd.Env
// via RestrictedEnv or their own list to narrow it.
func Command(ctx context.Context, name string, arg ...string) *Cmd {
	cmd := exec.CommandContext(ctx, name, arg...)
	return &Cmd{Cmd: cmd, trace: trace}
}

// ExitError preserves the captured stderr alongside the underlying
// *exec.ExitError so callers and the CLI layer can surface it verbatim.
type ExitError struct {
	*exec.ExitError
	Cmd *exec.Cmd
}

func (xe *ExitError) Cause() error {
	return xe.ExitError
}

func (xe *ExitError) Error() string {
	return fmt.Sprintf("cmd failed: %s\n%s", xe.ExitError, xe.ExitError.Stderr)
}

func (cmd *Cmd) bashString() string {
	return BashQuoteCmd(cmd.Args)
}

func wrapErr(err error, cmd *exec.Cmd) error {
	if err == nil {
		return nil
	}
	cause := errors.Cause(err)
	if exitErr, ok := cause.(*exec.ExitError); ok {
		prefix := "  " + path.Base(cmd.Args[0]) + ": "
		if len(exitErr.Stderr) > 0 {
			trimmed := exitErr.Stderr
			if trimmed[len(trimmed)-1] == '\n' {
				trimmed = trimmed[:len(trimmed)-1]
			}
			exitErr.Stderr = append([]byte(prefix),
				bytes.Replace(trimmed, []byte("\n"), []byte("\n"+prefix), -1)...)
			exitErr.Stderr = append(exitErr.Stderr, '\n')
		}
		return &ExitError{ExitError: exitErr, Cmd: cmd}
	}
	return err
}

// Run executes the command, discarding stdout, and surfaces a stderr-bearing
// ExitError on non-zero exit.
func (cmd *Cmd) Run() error {
	if cmd.trace {
		defer log.Tracef("exec: %s", cmd.bashString()).Finish()
	}
	return wrapErr(cmd.Cmd.Run(), cmd.Cmd)
}

// Output runs the command and returns stdout.
func (cmd *Cmd) Output() ([]byte, error) {
	if cmd.trace {
		defer log.Tracef("exec: %s", cmd.bashString()).Finish()
	}
	data, err := cmd.Cmd.Output()
	return data, wrapErr(err, cmd.Cmd)
}

// CombinedOutput runs the command and returns interleaved stdout/stderr.
func (cmd *Cmd) CombinedOutput() ([]byte, error) {
	if cmd.trace {
		defer log.Tracef("exec: %s", cmd.bashString()).Finish()
	}
	data, err := cmd.Cmd.CombinedOutput()
	return data, wrapErr(err, cmd.Cmd)
}

// ExitStatus extracts the process exit status from an error produced by
// this package's Run/Output/CombinedOutput, if any.
func ExitStatus(err error) (int, bool) {
	cause := errors.Cause(err)
	if xe, ok := cause.(*ExitError); ok {
		cause = xe.ExitError
	}
	if exitErr, ok := cause.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return ws.ExitStatus(), true
		}
	}
	return 0, false
}

// RestrictedEnv builds a minimal subprocess environment, forwarding only
// the variables git/ssh/the TFVC client plausibly need plus any GIT_TRACE*
// diagnostics, to keep sync runs reproducible across agents.
func RestrictedEnv() []string {
	keys := []string{"PATH", "USER", "LOGNAME", "HOME", "SSH_AUTH_SOCK"}
	env := make([]string, 0, len(keys))
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "GIT_TRACE") {
			env = append(env, kv)
		}
	}
	return env
}
