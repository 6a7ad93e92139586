package changeset

import (
	"regexp"
	"strconv"
)

// legacyTrailerRE matches the git-tfs-style trailer line appended to commit
// messages by older tooling: `git-tfs-id: [http://tfs/...]$/Proj/Main;C123`.
// A message may carry more than one such trailer (e.g. after a squash); the
// last one in the message is authoritative.
var legacyTrailerRE = regexp.MustCompile(`git-tfs-id:\s*.*;C(\d+)`)

// ParseLegacyChangesetID extracts the changeset id from a git-tfs-id
// trailer, taking the last match in the message when more than one is
// present. Returns (0, false) if no trailer is found.
func ParseLegacyChangesetID(message string) (int, bool) {
	matches := legacyTrailerRE.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return 0, false
	}
	last := matches[len(matches)-1]
	n, err := strconv.Atoi(last[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
