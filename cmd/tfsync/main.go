package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/tebeka/atexit"

	"github.com/msolo/cmdflag"
)

var cmdMain = &cmdflag.Command{
	Name: "tfsync",
	UsageLong: `tfsync - bidirectional sync between a TFVC server and a git repository

tfsync replays changesets from a TFVC server onto a git branch and commits
from that branch back onto the server as new changesets, binding each
commit to the changeset it corresponds to via a dedicated git notes
namespace rather than rewriting commit messages or history.

Subcommands:
  sync          run one fetch/merge/check-in/push cycle
  init          register a new TFVC remote in this working directory
  lock          inspect or manipulate a workspace's sync lock
  repair-notes  recover bindings lost to the server-accept/local-bind crash window
`,
	Flags: []cmdflag.Flag{
		{"timeout", cmdflag.FlagTypeDuration, 0 * time.Millisecond, "overall timeout for the command; 0 disables it", nil},
	},
	Args: cmdflag.PredictNothing,
}

var subcommands = []*cmdflag.Command{
	cmdSync,
	cmdInit,
	cmdLock,
	cmdRepairNotes,
}

// glogLine emulates glog's line format, e.g. I0514 06:27:35.818055 ] message
func glogLine(ent *log.Entry) error {
	levelStr := "DIWEF"
	tsFmt := "0102 15:04:05.000000"
	tsStr := ent.Timestamp.Format(tsFmt)
	msg := strings.TrimSpace(ent.Message)
	for k, v := range ent.Fields {
		msg = fmt.Sprintf("%s %s=%v", msg, k, v)
	}
	fmt.Fprintf(os.Stderr, "%c%s ] %s\n", levelStr[ent.Level], tsStr, msg)
	return nil
}

func main() {
	defer atexit.Exit(0)

	if val := os.Getenv("GIT_TRACE"); val != "" && val != "0" {
		log.SetLevel(log.DebugLevel)
	}
	log.SetHandler(log.HandlerFunc(glogLine))

	var timeout time.Duration
	cmdMain.BindFlagSet(map[string]interface{}{"timeout": &timeout})
	bindSyncFlags()
	bindInitFlags()
	bindLockFlags()
	bindRepairFlags()

	cmd, args := cmdflag.Parse(cmdMain, subcommands)

	ctx := context.Background()
	if timeout > 0 {
		nctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		ctx = nctx
	}

	cmd.Run(ctx, cmd, args)
}
