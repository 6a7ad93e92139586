package changeset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/msolo/git-tfs-sync/gitapi"
	"github.com/msolo/git-tfs-sync/notes"
)

func testRepo(t *testing.T) *gitapi.WorkDir {
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
	run("init", "-q", "-b", "master")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")
	writeCommit := func(name, message string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
		run("add", name)
		run("commit", "-q", "-m", message)
	}
	writeCommit("a", "first\n\ngit-tfs-id: [http://tfs]$/Proj;C1\n")
	writeCommit("b", "second")
	// Populate with no scope enumerates remote-tracking refs only.
	run("update-ref", "refs/remotes/tfs/default", "HEAD")
	return wd
}

func TestIndexPopulateWithNotesAndLegacyFallback(t *testing.T) {
	wd := testRepo(t)
	ctx := context.Background()
	store := notes.New(wd)

	head, err := wd.HeadCommit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, head, "https://tfs.example/tfs", "$/Proj", 2); err != nil {
		t.Fatal(err)
	}

	idx := New(wd, store)
	if err := idx.Populate(ctx, ""); err != nil {
		t.Fatal(err)
	}

	commit, err := idx.FindCommitByChangeset(ctx, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if commit != head {
		t.Fatalf("expected changeset 2 bound to head via notes, got %q", commit)
	}

	commit, err = idx.FindCommitByChangeset(ctx, "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if commit == "" {
		t.Fatal("expected changeset 1 resolved via legacy trailer fallback")
	}

	pairs := idx.GetPairs()
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if pairs[0].ChangesetID != 1 || pairs[1].ChangesetID != 2 {
		t.Fatalf("expected pairs sorted by changeset id, got %+v", pairs)
	}
	if idx.MaxChangesetID() != 2 {
		t.Fatalf("expected max changeset id 2, got %d", idx.MaxChangesetID())
	}
}

func TestIndexMissingChangesetReturnsEmpty(t *testing.T) {
	wd := testRepo(t)
	ctx := context.Background()
	store := notes.New(wd)
	idx := New(wd, store)

	commit, err := idx.FindCommitByChangeset(ctx, "", 999)
	if err != nil {
		t.Fatal(err)
	}
	if commit != "" {
		t.Fatalf("expected no commit for unbound changeset, got %q", commit)
	}
}

func TestIndexRecordPairAvoidsRescan(t *testing.T) {
	wd := testRepo(t)
	ctx := context.Background()
	store := notes.New(wd)
	idx := New(wd, store)
	if err := idx.Populate(ctx, ""); err != nil {
		t.Fatal(err)
	}
	idx.RecordPair("deadbeef", 100)
	commit, err := idx.FindCommitByChangeset(ctx, "", 100)
	if err != nil {
		t.Fatal(err)
	}
	if commit != "deadbeef" {
		t.Fatalf("expected directly recorded pair to be visible, got %q", commit)
	}
}
