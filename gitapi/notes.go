package gitapi

import (
	"context"
	"strings"
)

// NotesRef is the out-of-band namespace the sync engine uses to bind
// TFVC changeset metadata to commits without touching commit identity.
const NotesRef = "refs/notes/tfvc-sync"

// ShowNote returns the raw note body attached to commit in the given
// notes ref, or ("", false, nil) if no note exists.
func (wd *WorkDir) ShowNote(ctx context.Context, notesRef, commit string) (string, bool, error) {
	out, err := wd.git(ctx, "notes", "--ref", notesRef, "show", commit).Output()
	if err != nil {
		if status, ok := ExitStatus(err); ok && status == 1 {
			return "", false, nil
		}
		return "", false, err
	}
	return string(out), true, nil
}

// AddNote creates or overwrites the note attached to commit.
func (wd *WorkDir) AddNote(ctx context.Context, notesRef, commit, body string) error {
	return wd.git(ctx, "notes", "--ref", notesRef, "add", "-f", "-m", body, commit).Run()
}

// ListNotes returns the commit hashes that carry a note in notesRef. Git
// emits `<note-blob> <commit>` pairs; only the commit half is of interest
// here.
func (wd *WorkDir) ListNotes(ctx context.Context, notesRef string) ([]string, error) {
	out, err := wd.git(ctx, "notes", "--ref", notesRef, "list").Output()
	if err != nil {
		if status, ok := ExitStatus(err); ok && status == 1 {
			return nil, nil
		}
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	commits := make([]string, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		commits = append(commits, fields[1])
	}
	return commits, nil
}

// ConfigureFetchPushRefspec idempotently adds a notes-namespace refspec to
// a remote's fetch and push refspec lists, so `git fetch`/`git push`
// against that remote move the metadata namespace alongside commits.
func (wd *WorkDir) ConfigureFetchPushRefspec(ctx context.Context, remoteName, notesRef string) error {
	refspec := notesRef + ":" + notesRef
	for _, kind := range []string{"fetch", "push"} {
		key := "remote." + remoteName + "." + kind
		existing, err := wd.GetConfigAll(ctx, key)
		if err != nil {
			return err
		}
		present := false
		for _, e := range existing {
			if e == refspec {
				present = true
				break
			}
		}
		if !present {
			if err := wd.AddConfig(ctx, key, refspec); err != nil {
				return err
			}
		}
	}
	return nil
}

// FetchRef fetches a single ref from a remote without touching any other
// refs, used to pull the notes namespace independently of commits.
func (wd *WorkDir) FetchRef(ctx context.Context, remoteName, refspec string) error {
	return wd.git(ctx, "fetch", remoteName, refspec).Run()
}

// PushRef pushes a single refspec to a remote (used for the notes
// namespace push, separately from the commit push).
func (wd *WorkDir) PushRef(ctx context.Context, remoteName, refspec string) error {
	return wd.git(ctx, "push", remoteName, refspec).Run()
}

// PushRefForce force-pushes a single refspec, the last-writer-wins
// resolution strategy for notes-namespace conflicts: last writer wins.
func (wd *WorkDir) PushRefForce(ctx context.Context, remoteName, refspec string) error {
	return wd.git(ctx, "push", "--force", remoteName, refspec).Run()
}
