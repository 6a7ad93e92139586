// Package lock implements the cross-process, cross-host mutual exclusion
// protocol: a named workspace may be held by at
// most one LockRecord at a time, recorded as a human-inspectable text file
// rather than an opaque binary blob.
package lock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Direction mirrors the three SyncOrchestrator entry points; it is stored
// in the LockRecord purely for diagnostic purposes.
type Direction string

const (
	DirectionFromTfvc      Direction = "tfvc-to-git"
	DirectionToTfvc        Direction = "git-to-tfvc"
	DirectionBidirectional Direction = "bidirectional"
)

// Record is the serialized content of a workspace's lock file.
type Record struct {
	WorkspaceName string
	ProcessID     int
	Hostname      string
	AcquiredAt    time.Time
	AcquiredBy    string
	PipelineID    string
	BuildNumber   string
	Direction     Direction
}

// IsStale reports whether this record is older than maxAge as of now.
func (r *Record) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(r.AcquiredAt) > maxAge
}

// Serialize renders the record as a line-oriented key=value document that
// a human can read directly from the lock file.
func (r *Record) Serialize() string {
	var b strings.Builder
	writeKV := func(k, v string) {
		fmt.Fprintf(&b, "%s=%s\n", k, v)
	}
	writeKV("workspace_name", r.WorkspaceName)
	writeKV("process_id", strconv.Itoa(r.ProcessID))
	writeKV("hostname", r.Hostname)
	writeKV("acquired_at", r.AcquiredAt.UTC().Format(time.RFC3339Nano))
	writeKV("acquired_by", r.AcquiredBy)
	writeKV("pipeline_id", r.PipelineID)
	writeKV("build_number", r.BuildNumber)
	writeKV("direction", string(r.Direction))
	return b.String()
}

// ParseRecord parses a Serialize()-produced document. An unreadable or
// malformed record returns an error; callers treat that the same as
// "absent" for GetInfo but must still treat the file as present (and thus
// blocking) for acquisition.
func ParseRecord(data string) (*Record, error) {
	r := &Record{}
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("lock: malformed record line %q", line)
		}
		key, val := kv[0], kv[1]
		switch key {
		case "workspace_name":
			r.WorkspaceName = val
		case "process_id":
			pid, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("lock: invalid process_id %q: %w", val, err)
			}
			r.ProcessID = pid
		case "hostname":
			r.Hostname = val
		case "acquired_at":
			t, err := time.Parse(time.RFC3339Nano, val)
			if err != nil {
				return nil, fmt.Errorf("lock: invalid acquired_at %q: %w", val, err)
			}
			r.AcquiredAt = t
		case "acquired_by":
			r.AcquiredBy = val
		case "pipeline_id":
			r.PipelineID = val
		case "build_number":
			r.BuildNumber = val
		case "direction":
			r.Direction = Direction(val)
		}
	}
	if r.WorkspaceName == "" {
		return nil, fmt.Errorf("lock: record missing workspace_name")
	}
	return r, nil
}
