package gitapi

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// testRepo sets up a throwaway git repository under t.TempDir().
func testRepo(t *testing.T) *WorkDir {
	t.Helper()
	SetTrace(false)
	dir := t.TempDir()
	wd := New(dir)
	ctx := context.Background()
	run := func(args ...string) {
		t.Helper()
		if err := wd.git(ctx, args...).Run(); err != nil {
			t.Fatalf("git %v: %v", args, err)
		}
	}
	run("init", "-q", "-b", "master")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")
	if err := os.WriteFile(filepath.Join(dir, "a"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", "a")
	run("commit", "-q", "-m", "initial")
	return wd
}

func TestHeadCommitAndRevParse(t *testing.T) {
	wd := testRepo(t)
	ctx := context.Background()

	head, err := wd.HeadCommit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(head) != 40 {
		t.Fatalf("expected a 40-hex commit hash, got %q", head)
	}

	resolved, err := wd.RevParse(ctx, "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if resolved != head {
		t.Fatalf("RevParse(HEAD) = %q, want %q", resolved, head)
	}

	missing, err := wd.RevParseMaybe(ctx, "refs/heads/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if missing != "" {
		t.Fatalf("expected empty hash for missing ref, got %q", missing)
	}
}

func TestNotesRoundTrip(t *testing.T) {
	wd := testRepo(t)
	ctx := context.Background()
	head, _ := wd.HeadCommit(ctx)

	if _, found, err := wd.ShowNote(ctx, NotesRef, head); err != nil || found {
		t.Fatalf("expected no note yet: found=%v err=%v", found, err)
	}

	body := "changeset=42\ntfs_url=https://tfs.example/tfs\ntfs_path=$/Proj/Main\nsynced_at=2024-01-01T00:00:00Z\n"
	if err := wd.AddNote(ctx, NotesRef, head, body); err != nil {
		t.Fatal(err)
	}

	got, found, err := wd.ShowNote(ctx, NotesRef, head)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected note to be found after AddNote")
	}
	if got != body {
		t.Fatalf("note body = %q, want %q", got, body)
	}

	commits, err := wd.ListNotes(ctx, NotesRef)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 1 || commits[0] != head {
		t.Fatalf("ListNotes = %v, want [%s]", commits, head)
	}
}

func TestFirstParentPathLinear(t *testing.T) {
	wd := testRepo(t)
	ctx := context.Background()
	base, _ := wd.HeadCommit(ctx)

	writeAndCommit := func(name, msg string) string {
		if err := os.WriteFile(filepath.Join(wd.Dir, name), []byte(msg), 0644); err != nil {
			t.Fatal(err)
		}
		wd.git(ctx, "add", name).Run()
		wd.git(ctx, "commit", "-q", "-m", msg).Run()
		h, _ := wd.HeadCommit(ctx)
		return h
	}
	c1 := writeAndCommit("b", "second")
	c2 := writeAndCommit("c", "third")

	path, err := wd.FirstParentPath(ctx, c2, base)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 2 || path[0] != c1 || path[1] != c2 {
		t.Fatalf("FirstParentPath = %v, want [%s %s]", path, c1, c2)
	}
}

func TestConfigureFetchPushRefspecIdempotent(t *testing.T) {
	wd := testRepo(t)
	ctx := context.Background()
	wd.git(ctx, "remote", "add", "tfs", "https://example/tfs").Run()

	for i := 0; i < 2; i++ {
		if err := wd.ConfigureFetchPushRefspec(ctx, "tfs", NotesRef); err != nil {
			t.Fatal(err)
		}
	}

	fetchSpecs, err := wd.GetConfigAll(ctx, "remote.tfs.fetch")
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, s := range fetchSpecs {
		if s == NotesRef+":"+NotesRef {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one notes refspec after two configures, got %d in %v", count, fetchSpecs)
	}
}
