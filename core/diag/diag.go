// Package diag accumulates the human-readable diagnostics returned with every pipeline result.
//
// The log is advisory: nothing in the pipeline branches on its contents.
package diag

import (
	"fmt"
	"time"
)

// Stage names used as line prefixes.
const (
	StageDecode    = "decode"
	StageNormalize = "normalize"
	StageKey       = "key"
	StageFingering = "fingering"
	StageOverlay   = "overlay"
	StageImage     = "image"
	StagePipeline  = "pipeline"
)

// Log is an append-only list of timestamped diagnostic lines.
// The zero value is ready to use. A Log is not safe for concurrent use;
// each pipeline run owns its own.
type Log struct {
	// Now returns the timestamp for new lines. Defaults to time.Now.
	Now   func() time.Time
	lines []string
}

// New returns an empty log using the wall clock.
func New() *Log {
	return &Log{}
}

// Addf appends one formatted line tagged with stage.
// A nil Log discards the line so callers never need a nil check.
func (l *Log) Addf(stage, format string, args ...any) {
	if l == nil {
		return
	}
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	l.lines = append(l.lines, fmt.Sprintf("%s [%s] %s", ts, stage, fmt.Sprintf(format, args...)))
}

// Lines returns a copy of the accumulated lines.
func (l *Log) Lines() []string {
	if l == nil {
		return nil
	}
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Len returns the number of lines.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	return len(l.lines)
}
