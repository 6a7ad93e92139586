package main

import (
	"fmt"
	"os"
	"os/user"

	log "github.com/apex/log"
	"github.com/tebeka/atexit"

	"github.com/msolo/git-tfs-sync/gitapi"
	"github.com/msolo/git-tfs-sync/sync"
)

// resolveWorkDir returns a WorkDir rooted at root, or at the repository
// discovered upward from the current directory if root is empty.
func resolveWorkDir(root string) *gitapi.WorkDir {
	if root == "" {
		root = gitapi.Discover()
	}
	if root == "" {
		exitOnError(fmt.Errorf("tfsync: not inside a git working directory and --workspace-root was not given"))
	}
	return gitapi.New(root)
}

// currentUser returns the best-effort identity of the process's caller,
// used as the lock record's acquired_by field and the author-resolution
// chain's last-resort fallback.
func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

// exitOnError terminates the process via atexit, running deferred cleanup,
// on any unexpected (non-sync.Error) failure.
func exitOnError(err error) {
	if err != nil {
		atexit.Fatal(err)
	}
}

// reportAndExit prints a sync.Error's message and recommendations and
// exits with the code its Kind maps to; any other error is treated as
// unexpected and fatal.
func reportAndExit(err error) {
	if err == nil {
		return
	}
	serr, ok := err.(*sync.Error)
	if !ok {
		atexit.Fatal(err)
		return
	}
	fmt.Fprintf(os.Stderr, "tfsync: %s: %s\n", serr.Kind, serr.Message)
	if len(serr.Recommendations) > 0 {
		fmt.Fprintln(os.Stderr, "Recommended solutions:")
		for _, rec := range serr.Recommendations {
			fmt.Fprintf(os.Stderr, "  - %s\n", rec)
		}
	}
	log.WithField("kind", string(serr.Kind)).Debug(serr.Error())
	atexit.Exit(serr.Kind.ExitCode())
}
