package remote

import (
	"context"
	"os"
	"testing"

	"github.com/msolo/git-tfs-sync/gitapi"
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
	if err := os.WriteFile(dir+"/a", []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", "a")
	run("commit", "-q", "-m", "initial")
	return wd
}

func TestCreateGetRoundTrip(t *testing.T) {
	wd := testRepo(t)
	ctx := context.Background()
	store := NewStore(wd)

	d := &Descriptor{
		ID:                "default",
		TfsURL:            "https://tfs.example/tfs",
		TfsRepositoryPath: "$/Proj/Main",
		LegacyURLs:        []string{"https://old.example/tfs"},
	}
	if err := store.Create(ctx, d); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "default")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected descriptor")
	}
	if got.TfsURL != d.TfsURL || got.TfsRepositoryPath != d.TfsRepositoryPath {
		t.Fatalf("unexpected descriptor: %+v", got)
	}
	if len(got.LegacyURLs) != 1 || got.LegacyURLs[0] != "https://old.example/tfs" {
		t.Fatalf("expected legacy url to round-trip, got %+v", got.LegacyURLs)
	}
	if got.RemoteRef != "refs/remotes/tfs/default" {
		t.Fatalf("expected default remote ref, got %q", got.RemoteRef)
	}
}

func TestGetUnconfiguredReturnsNil(t *testing.T) {
	wd := testRepo(t)
	ctx := context.Background()
	store := NewStore(wd)

	got, err := store.Get(ctx, "nope")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil for unconfigured remote, got %+v", got)
	}
}

func TestAdvanceWatermarkAndRemove(t *testing.T) {
	wd := testRepo(t)
	ctx := context.Background()
	store := NewStore(wd)

	d := &Descriptor{ID: "default", TfsURL: "https://tfs.example/tfs", TfsRepositoryPath: "$/Proj/Main"}
	if err := store.Create(ctx, d); err != nil {
		t.Fatal(err)
	}
	if err := store.AdvanceWatermark(ctx, "default", "deadbeef", 42); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "default")
	if err != nil {
		t.Fatal(err)
	}
	if got.MaxChangesetID != 42 || got.MaxCommitHash != "deadbeef" {
		t.Fatalf("expected watermark to advance, got %+v", got)
	}

	if err := store.Remove(ctx, "default"); err != nil {
		t.Fatal(err)
	}
	got, err = store.Get(ctx, "default")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected removal to clear the descriptor, got %+v", got)
	}
}

func TestGetAllAndListIDs(t *testing.T) {
	wd := testRepo(t)
	ctx := context.Background()
	store := NewStore(wd)

	for _, id := range []string{"default", "secondary"} {
		if err := store.Create(ctx, &Descriptor{ID: id, TfsURL: "https://tfs.example/" + id, TfsRepositoryPath: "$/Proj"}); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := store.ListIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "default" || ids[1] != "secondary" {
		t.Fatalf("expected sorted [default secondary], got %v", ids)
	}

	all, err := store.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(all))
	}
}
