// Package remote implements the RemoteResolver and the RemoteDescriptor
// persistence layer it resolves against.
package remote

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/msolo/git-tfs-sync/gitapi"
)

// DefaultID is the remote id used when the caller does not name one
// explicitly.
const DefaultID = "default"

// Descriptor describes one configured TFVC remote binding.
type Descriptor struct {
	ID                string
	TfsURL            string
	TfsRepositoryPath string
	LegacyURLs        []string
	RemoteRef         string
	MaxChangesetID    int
	MaxCommitHash     string

	// Derived marks a synthetic, read-only descriptor produced by the
	// resolver's tier-4 fallback -- it was never configured and cannot be
	// persisted.
	Derived bool
}

func configSection(id string) string {
	return "tfs-remote." + id
}

// Store reads and writes Descriptors as `tfs-remote.<id>.*` git config
// keys.
type Store struct {
	wd *gitapi.WorkDir
}

// NewStore returns a Store backed by wd's git config.
func NewStore(wd *gitapi.WorkDir) *Store {
	return &Store{wd: wd}
}

var remoteSectionRE = regexp.MustCompile(`^tfs-remote\.([^.]+)\.`)

// ListIDs enumerates every configured remote id.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	cfg, err := s.wd.ReadConfig(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for key := range cfg {
		if m := remoteSectionRE.FindStringSubmatch(key); m != nil {
			seen[m[1]] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Get reads a single Descriptor by id, or (nil, nil) if unconfigured.
func (s *Store) Get(ctx context.Context, id string) (*Descriptor, error) {
	section := configSection(id)
	cfg, err := s.wd.ReadConfig(ctx)
	if err != nil {
		return nil, err
	}
	url := cfg[section+".url"]
	if url == "" {
		return nil, nil
	}
	legacyURLs, err := s.wd.GetConfigAll(ctx, section+".legacy-urls")
	if err != nil {
		return nil, err
	}
	d := &Descriptor{
		ID:                id,
		TfsURL:            url,
		TfsRepositoryPath: cfg[section+".repository"],
		LegacyURLs:        legacyURLs,
		RemoteRef:         cfg[section+".ref"],
	}
	if d.RemoteRef == "" {
		d.RemoteRef = "refs/remotes/tfs/" + id
	}
	if v := cfg[section+".max-changeset-id"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Errorf("remote: invalid max-changeset-id for %s: %q", id, v)
		}
		d.MaxChangesetID = n
	}
	d.MaxCommitHash = cfg[section+".max-commit-hash"]
	return d, nil
}

// GetAll returns every configured Descriptor.
func (s *Store) GetAll(ctx context.Context) ([]*Descriptor, error) {
	ids, err := s.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Descriptor, 0, len(ids))
	for _, id := range ids {
		d, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// Create persists a new Descriptor, typically during init.
func (s *Store) Create(ctx context.Context, d *Descriptor) error {
	section := configSection(d.ID)
	if err := s.wd.SetConfig(ctx, section+".url", d.TfsURL); err != nil {
		return err
	}
	if err := s.wd.SetConfig(ctx, section+".repository", d.TfsRepositoryPath); err != nil {
		return err
	}
	if d.RemoteRef == "" {
		d.RemoteRef = "refs/remotes/tfs/" + d.ID
	}
	if err := s.wd.SetConfig(ctx, section+".ref", d.RemoteRef); err != nil {
		return err
	}
	for _, u := range d.LegacyURLs {
		if err := s.wd.AddConfig(ctx, section+".legacy-urls", u); err != nil {
			return err
		}
	}
	if err := s.wd.SetConfig(ctx, section+".max-changeset-id", strconv.Itoa(d.MaxChangesetID)); err != nil {
		return err
	}
	if d.MaxCommitHash != "" {
		if err := s.wd.SetConfig(ctx, section+".max-commit-hash", d.MaxCommitHash); err != nil {
			return err
		}
	}
	return nil
}

// AdvanceWatermark mutates a Descriptor's cached high-watermark after a
// successful fetch or checkin.
func (s *Store) AdvanceWatermark(ctx context.Context, id, commitHash string, changesetID int) error {
	section := configSection(id)
	if err := s.wd.SetConfig(ctx, section+".max-changeset-id", strconv.Itoa(changesetID)); err != nil {
		return err
	}
	return s.wd.SetConfig(ctx, section+".max-commit-hash", commitHash)
}

// Remove destroys a Descriptor entirely.
func (s *Store) Remove(ctx context.Context, id string) error {
	return s.wd.UnsetConfigSection(ctx, configSection(id))
}

// String renders a Descriptor for diagnostics.
func (d *Descriptor) String() string {
	return fmt.Sprintf("%s (url=%s path=%s)", d.ID, d.TfsURL, d.TfsRepositoryPath)
}

func eqFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
