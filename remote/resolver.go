package remote

import (
	"sort"

	log "github.com/msolo/go-bis/glug"
)

// Resolver maps a (tfs_url, tfs_path) pair recovered from a binding to one
// configured Descriptor, using a three-tier fallback plus a synthetic
// tier-4 placeholder for pairs that match nothing configured.
type Resolver struct {
	Descriptors []*Descriptor
}

// NewResolver builds a Resolver over a fixed snapshot of configured
// descriptors (callers typically pass Store.GetAll's result).
func NewResolver(descriptors []*Descriptor) *Resolver {
	return &Resolver{Descriptors: descriptors}
}

func sortedByID(ds []*Descriptor) []*Descriptor {
	out := make([]*Descriptor, len(ds))
	copy(out, ds)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func urlMatches(d *Descriptor, tfsURL string) bool {
	if eqFold(d.TfsURL, tfsURL) {
		return true
	}
	for _, legacy := range d.LegacyURLs {
		if eqFold(legacy, tfsURL) {
			return true
		}
	}
	return false
}

// Resolve implements the three-tier strategy, returning the matched (or
// derived) Descriptor and a human-readable diagnostic note describing
// which tier fired (empty for a clean tier-1 match).
//
// When tier 1 yields more than one exact match, candidates are sorted by
// id ascending and the first is used, so the outcome is reproducible
// instead of depending on config iteration order.
func (r *Resolver) Resolve(tfsURL, tfsPath string) (*Descriptor, string) {
	candidates := sortedByID(r.Descriptors)

	// Tier 1: exact match on both url and path (case-insensitive, legacy
	// URLs included).
	var exact []*Descriptor
	for _, d := range candidates {
		if urlMatches(d, tfsURL) && eqFold(d.TfsRepositoryPath, tfsPath) {
			exact = append(exact, d)
		}
	}
	if len(exact) > 0 {
		if len(exact) > 1 {
			log.Warningf("remote: %d remotes exactly match (%s, %s); using %s", len(exact), tfsURL, tfsPath, exact[0].ID)
		}
		return exact[0], ""
	}

	// Tier 2: path-only match.
	if tfsPath != "" {
		for _, d := range candidates {
			if eqFold(d.TfsRepositoryPath, tfsPath) {
				note := "remote: url mismatch for path " + tfsPath + ": binding has " + tfsURL + ", remote " + d.ID + " has " + d.TfsURL
				log.Warningf("%s", note)
				return d, note
			}
		}
	}

	// Tier 3: sole-remote fallback.
	if len(candidates) == 1 {
		d := candidates[0]
		note := "remote: binding (" + tfsURL + ", " + tfsPath + ") does not match sole configured remote " +
			d.ID + " (" + d.TfsURL + ", " + d.TfsRepositoryPath + "); using it anyway"
		log.Warningf("%s", note)
		return d, note
	}

	// Tier 4: derived placeholder, read-only, carries the unresolved pair
	// so the caller can report a meaningful error.
	return &Descriptor{
		ID:                "<unresolved>",
		TfsURL:            tfsURL,
		TfsRepositoryPath: tfsPath,
		Derived:           true,
	}, "remote: no configured remote matches (" + tfsURL + ", " + tfsPath + ")"
}
