package sync

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/msolo/git-tfs-sync/gitapi"
)

func conflictedRepo(t *testing.T) *gitapi.WorkDir {
	t.Helper()
	gitapi.SetTrace(false)
	dir := t.TempDir()
	wd := gitapi.New(dir)
	ctx := context.Background()
	run := func(args ...string) {
		t.Helper()
		c := gitapi.Command(ctx, "git", append([]string{"-C", dir}, args...)...)
		c.Env = gitapi.RestrictedEnv()
		if err := c.Run(); err != nil {
			t.Fatalf("git %v: %v", args, err)
		}
	}
	write := func(content string) {
		if err := os.WriteFile(filepath.Join(dir, "f"), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	run("init", "-q", "-b", "master")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")
	write("base\n")
	run("add", "f")
	run("commit", "-q", "-m", "base")
	run("branch", "side")
	write("mainline\n")
	run("add", "f")
	run("commit", "-q", "-m", "mainline")
	run("checkout", "-q", "side")
	write("side\n")
	run("add", "f")
	run("commit", "-q", "-m", "side")
	run("checkout", "-q", "master")
	mergeCmd := exec.CommandContext(ctx, "git", "-C", dir, "merge", "side")
	mergeCmd.Env = gitapi.RestrictedEnv()
	_ = mergeCmd.Run() // expected to fail with a conflict
	return wd
}

func TestArbiterDetectsConflicts(t *testing.T) {
	wd := conflictedRepo(t)
	ctx := context.Background()
	a := NewArbiter(wd)

	has, err := a.HasConflicts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Fatal("expected conflicts after the merge above")
	}

	paths, err := a.GetConflictedPaths(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != "f" {
		t.Fatalf("expected conflicted path [f], got %v", paths)
	}
}

func TestArbiterNoConflicts(t *testing.T) {
	dir := t.TempDir()
	wd := gitapi.New(dir)
	ctx := context.Background()
	run := func(args ...string) {
		t.Helper()
		c := gitapi.Command(ctx, "git", append([]string{"-C", dir}, args...)...)
		c.Env = gitapi.RestrictedEnv()
		if err := c.Run(); err != nil {
			t.Fatalf("git %v: %v", args, err)
		}
	}
	run("init", "-q", "-b", "master")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")
	if err := os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", "f")
	run("commit", "-q", "-m", "initial")

	a := NewArbiter(wd)
	has, err := a.HasConflicts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Fatal("expected no conflicts in a clean repository")
	}
}

func TestBuildReportMentionsMultiAgent(t *testing.T) {
	wd := conflictedRepo(t)
	ctx := context.Background()
	a := NewArbiter(wd)

	report, err := a.BuildReport(ctx, ReportContext{MultiAgent: true})
	if err != nil {
		t.Fatal(err)
	}
	if report == "" {
		t.Fatal("expected a non-empty report")
	}
	if !strings.Contains(report, "multiple sync agents") {
		t.Fatalf("expected the report to mention the multi-agent workspace, got %q", report)
	}
}
