package sync

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAuthorMapMissingFileIsNotAnError(t *testing.T) {
	m, err := LoadAuthorMap(filepath.Join(t.TempDir(), "missing.jsonc"))
	if err != nil {
		t.Fatal(err)
	}
	if got := m.ResolveAuthor("", "Jane Doe", "jane@example.com", "svc-account"); got != "jane" {
		t.Fatalf("expected inferred local-part 'jane', got %q", got)
	}
}

func TestLoadAuthorMapFromFile(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "authors.jsonc")
	content := `{
		// maps git identities to TFVC identities
		"authors": [
			{"GitIdentity": "jane@example.com", "TfvcIdentity": "CORP\\jdoe"}
		]
	}`
	if err := os.WriteFile(fname, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadAuthorMap(fname)
	if err != nil {
		t.Fatal(err)
	}
	got := m.ResolveAuthor("", "Jane Doe", "jane@example.com", "svc-account")
	if got != `CORP\jdoe` {
		t.Fatalf("expected mapped identity, got %q", got)
	}
}

func TestResolveAuthorPrecedence(t *testing.T) {
	m := &AuthorMap{byGitIdentity: map[string]string{"jane@example.com": `CORP\jdoe`}}

	if got := m.ResolveAuthor("explicit-author", "Jane Doe", "jane@example.com", "svc"); got != "explicit-author" {
		t.Fatalf("explicit author should win outright, got %q", got)
	}
	if got := m.ResolveAuthor("", "Jane Doe", "jane@example.com", "svc"); got != `CORP\jdoe` {
		t.Fatalf("authors-file mapping should win over inference, got %q", got)
	}
	if got := m.ResolveAuthor("", `CORP\bob`, "", "svc"); got != `CORP\bob` {
		t.Fatalf("DOMAIN\\user identity should be preserved as-is, got %q", got)
	}
	if got := m.ResolveAuthor("", "", "", "svc"); got != "svc" {
		t.Fatalf("expected fallback to authenticated caller, got %q", got)
	}
}
