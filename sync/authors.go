package sync

import (
	"os"
	"strings"

	"github.com/msolo/jsonc"
)

// AuthorEntry maps one git identity to its TFVC identity, loaded once per
// run from an authors-file.
type AuthorEntry struct {
	GitIdentity  string
	TfvcIdentity string
}

// AuthorsConfig is the on-disk shape of an authors-file: a JSONC document
// (comments allowed, following this codebase's established config
// convention) mapping git identities to TFVC identities.
type AuthorsConfig struct {
	Authors []AuthorEntry
}

// AuthorMap is the immutable, run-scoped lookup built from an
// AuthorsConfig.
type AuthorMap struct {
	byGitIdentity map[string]string
}

// LoadAuthorMap reads and parses an authors-file at fname. A missing file
// is not an error -- callers resolve authors purely from git identity and
// the authenticated caller in that case.
func LoadAuthorMap(fname string) (*AuthorMap, error) {
	m := &AuthorMap{byGitIdentity: make(map[string]string)}
	if fname == "" {
		return m, nil
	}
	f, err := os.Open(fname)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, err
	}
	defer f.Close()

	cfg := &AuthorsConfig{}
	dec := jsonc.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	for _, e := range cfg.Authors {
		m.byGitIdentity[e.GitIdentity] = e.TfvcIdentity
	}
	return m, nil
}

// inferFromGitIdentity derives an identity straight from the git commit
// author: the local-part of an email address, or a DOMAIN\user identity
// preserved as-is.
func inferFromGitIdentity(gitName, gitEmail string) string {
	if strings.Contains(gitName, `\`) {
		return gitName
	}
	if at := strings.IndexByte(gitEmail, '@'); at > 0 {
		return gitEmail[:at]
	}
	return gitName
}

// ResolveAuthor implements the check-in author precedence chain:
// explicit --author flag, then the authors-file mapping applied to the
// git identity, then an identity inferred from the git author, then the
// authenticated caller as a last resort.
func (m *AuthorMap) ResolveAuthor(explicitAuthor, gitName, gitEmail, authenticatedCaller string) string {
	if explicitAuthor != "" {
		return explicitAuthor
	}
	if mapped, ok := m.byGitIdentity[gitEmail]; ok && mapped != "" {
		return mapped
	}
	if mapped, ok := m.byGitIdentity[gitName]; ok && mapped != "" {
		return mapped
	}
	if inferred := inferFromGitIdentity(gitName, gitEmail); inferred != "" {
		return inferred
	}
	return authenticatedCaller
}
