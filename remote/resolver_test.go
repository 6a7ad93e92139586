package remote

import "testing"

func TestResolveExactMatch(t *testing.T) {
	r := NewResolver([]*Descriptor{
		{ID: "default", TfsURL: "https://tfs.example/tfs", TfsRepositoryPath: "$/Proj/Main"},
		{ID: "other", TfsURL: "https://tfs.example/other", TfsRepositoryPath: "$/Proj/Other"},
	})
	d, note := r.Resolve("https://tfs.example/tfs", "$/Proj/Main")
	if d.ID != "default" {
		t.Fatalf("expected exact match on default, got %+v", d)
	}
	if note != "" {
		t.Fatalf("expected no diagnostic note for a clean match, got %q", note)
	}
}

func TestResolveExactMatchViaLegacyURL(t *testing.T) {
	r := NewResolver([]*Descriptor{
		{ID: "default", TfsURL: "https://tfs.example/new", TfsRepositoryPath: "$/Proj/Main", LegacyURLs: []string{"https://tfs.example/OLD"}},
	})
	d, _ := r.Resolve("https://tfs.example/old", "$/Proj/Main")
	if d.ID != "default" {
		t.Fatalf("expected legacy url match, got %+v", d)
	}
}

func TestResolveTieBreaksByID(t *testing.T) {
	r := NewResolver([]*Descriptor{
		{ID: "zzz", TfsURL: "https://tfs.example/tfs", TfsRepositoryPath: "$/Proj/Main"},
		{ID: "aaa", TfsURL: "https://tfs.example/tfs", TfsRepositoryPath: "$/Proj/Main"},
	})
	d, _ := r.Resolve("https://tfs.example/tfs", "$/Proj/Main")
	if d.ID != "aaa" {
		t.Fatalf("expected tie to break toward lowest id, got %q", d.ID)
	}
}

// TestResolvePathOnlyFallback covers the remote-resolution-fallback scenario:
// a configured remote whose URL has moved but whose repository path is
// unchanged resolves via the path-only tier, with a warning.
func TestResolvePathOnlyFallback(t *testing.T) {
	r := NewResolver([]*Descriptor{
		{ID: "default", TfsURL: "https://tfs.example/renamed", TfsRepositoryPath: "$/Proj/Main"},
	})
	d, note := r.Resolve("https://tfs.example/tfs", "$/Proj/Main")
	if d.ID != "default" {
		t.Fatalf("expected path-only match, got %+v", d)
	}
	if note == "" {
		t.Fatal("expected a diagnostic note for a path-only match")
	}
}

func TestResolveSoleRemoteFallback(t *testing.T) {
	r := NewResolver([]*Descriptor{
		{ID: "default", TfsURL: "https://tfs.example/tfs", TfsRepositoryPath: "$/Proj/Main"},
	})
	d, note := r.Resolve("https://tfs.example/unrelated", "$/Other/Path")
	if d.ID != "default" {
		t.Fatalf("expected sole-remote fallback, got %+v", d)
	}
	if note == "" {
		t.Fatal("expected a diagnostic note for the sole-remote fallback")
	}
}

func TestResolveDerivedPlaceholder(t *testing.T) {
	r := NewResolver([]*Descriptor{
		{ID: "default", TfsURL: "https://tfs.example/tfs", TfsRepositoryPath: "$/Proj/Main"},
		{ID: "other", TfsURL: "https://tfs.example/other", TfsRepositoryPath: "$/Proj/Other"},
	})
	d, note := r.Resolve("https://tfs.example/unknown", "$/Unknown/Path")
	if !d.Derived {
		t.Fatalf("expected a derived placeholder, got %+v", d)
	}
	if d.TfsURL != "https://tfs.example/unknown" || d.TfsRepositoryPath != "$/Unknown/Path" {
		t.Fatalf("expected placeholder to carry the unresolved pair, got %+v", d)
	}
	if note == "" {
		t.Fatal("expected a diagnostic note for an unresolved pair")
	}
}

func TestResolveNoRemotesConfigured(t *testing.T) {
	r := NewResolver(nil)
	d, _ := r.Resolve("https://tfs.example/tfs", "$/Proj/Main")
	if !d.Derived {
		t.Fatalf("expected derived placeholder with no remotes configured, got %+v", d)
	}
}
