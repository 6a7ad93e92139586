package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	log "github.com/apex/log"

	"github.com/msolo/cmdflag"
	"github.com/posener/complete/v2/predict"

	"github.com/msolo/git-tfs-sync/notes"
	"github.com/msolo/git-tfs-sync/remote"
	syncpkg "github.com/msolo/git-tfs-sync/sync"
)

var (
	initTfsURL            string
	initTfsPath           string
	initRemoteID          string
	initLegacyURLs        string
	initWorkspaceRoot     string
	initGitRemoteName     string
	initGitignoreTemplate string
)

var cmdInit = &cmdflag.Command{
	Name:      "init",
	Run:       runInit,
	UsageLine: "init --tfs-url=URL --tfs-path=PATH [flags]",
	UsageLong: `Scaffold a new RemoteDescriptor for this working directory and wire the
metadata notes namespace into the named git remote's fetch/push refspecs.`,
	Flags: []cmdflag.Flag{
		{"tfs-url", cmdflag.FlagTypeString, "", "TFVC server URL to bind this remote to", predict.Something},
		{"tfs-path", cmdflag.FlagTypeString, "", "TFVC server path (e.g. $/Project/Main)", predict.Something},
		{"remote-id", cmdflag.FlagTypeString, remote.DefaultID, "id to register this remote under", nil},
		{"legacy-url", cmdflag.FlagTypeString, "", "comma-separated list of retired TFVC server URLs this remote also answers to", nil},
		{"workspace-root", cmdflag.FlagTypeString, "", "git working directory root (default: discover from cwd)", predict.Files("*")},
		{"git-remote-name", cmdflag.FlagTypeString, "origin", "git remote to configure the metadata namespace refspec on", nil},
		{"gitignore-template", cmdflag.FlagTypeString, "", "path to a .gitignore template to copy in if this working directory has none yet", predict.Files("*")},
	},
	Args: cmdflag.PredictNothing,
}

func bindInitFlags() {
	cmdInit.BindFlagSet(map[string]interface{}{
		"tfs-url":            &initTfsURL,
		"tfs-path":           &initTfsPath,
		"remote-id":          &initRemoteID,
		"legacy-url":         &initLegacyURLs,
		"workspace-root":     &initWorkspaceRoot,
		"git-remote-name":    &initGitRemoteName,
		"gitignore-template": &initGitignoreTemplate,
	})
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// copyGitignoreTemplate best-effort copies templatePath to <workspace>/.gitignore
// if it exists and the working directory has no .gitignore yet. A missing
// template, or an already-present .gitignore, is not an error.
func copyGitignoreTemplate(workdirRoot, templatePath string) error {
	if templatePath == "" {
		return nil
	}
	dest := filepath.Join(workdirRoot, ".gitignore")
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	data, err := os.ReadFile(templatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.WriteFile(dest, data, 0644)
}

func runInit(ctx context.Context, cmd *cmdflag.Command, args []string) {
	if initTfsURL == "" || initTfsPath == "" {
		reportAndExit(syncpkg.NewError(syncpkg.KindInvalidArguments, "--tfs-url and --tfs-path are required"))
	}

	wd := resolveWorkDir(initWorkspaceRoot)
	remoteStore := remote.NewStore(wd)

	existing, err := remoteStore.Get(ctx, initRemoteID)
	exitOnError(err)
	if existing != nil {
		reportAndExit(syncpkg.NewError(syncpkg.KindPreconditionFailed,
			"remote "+initRemoteID+" is already configured ("+existing.String()+")",
			"choose a different --remote-id, or run `tfsync init` against a fresh working directory"))
	}

	d := &remote.Descriptor{
		ID:                initRemoteID,
		TfsURL:            initTfsURL,
		TfsRepositoryPath: initTfsPath,
		LegacyURLs:        splitNonEmpty(initLegacyURLs, ","),
	}
	exitOnError(remoteStore.Create(ctx, d))

	notesStore := notes.New(wd)
	exitOnError(notesStore.ConfigureRemoteToSync(ctx, initGitRemoteName))

	if err := copyGitignoreTemplate(wd.Dir, initGitignoreTemplate); err != nil {
		log.Warnf("init: gitignore template not copied: %v", err)
	}

	log.WithField("remote_id", d.ID).WithField("tfs_url", d.TfsURL).WithField("tfs_path", d.TfsRepositoryPath).
		Info("init: remote configured")
}
