// Package notation turns recognition-engine output into an ordered list of notes
// with resolved page coordinates.
//
// The input is untrusted: it may be MusicXML, a compressed MusicXML container,
// or a JSON rendering of the same tree, and any level of the part/measure/note
// structure may be a single object or a collection. Nothing in this package
// panics on malformed input; problems are returned as errors from
// core/errors and described in the diagnostics log.
package notation

import (
	"github.com/jinjin-jara/violin-fingering/core/key"
	"github.com/jinjin-jara/violin-fingering/core/pitch"
)

// Page layout constants for the coordinate fallback chain. Coordinates are in
// page pixels; source positions are MusicXML tenths.
const (
	// PixelsPerTenth converts default-x/default-y tenths to pixels.
	PixelsPerTenth = 1.25
	// StaffTop is the pixel y of the top staff line.
	StaffTop = 100.0
	// LineSpacing is the pixel distance between adjacent staff lines.
	LineSpacing = 10 * PixelsPerTenth
	// ReferenceOctave is the octave whose C is staff step zero.
	ReferenceOctave = 4
	// TopLineSteps is the staff step of the top line (F5 on a treble staff).
	TopLineSteps = 10
	// SemitoneNudge separates a sharpened or flattened note from its natural.
	SemitoneNudge = LineSpacing / 8
	// UnsetY is the source's sentinel for "no vertical position".
	UnsetY = 0.0

	// CursorStart is the x of the first note without an explicit position.
	CursorStart = 60.0
	// StepBase is the minimum cursor advance per note.
	StepBase = 20.0
	// StepPerBeat is the additional cursor advance per beat of duration.
	StepPerBeat = 30.0
	// DefaultBeats is assumed for notes without a usable duration.
	DefaultBeats = 1.0
	// Lookahead is added to an explicit x when re-anchoring the cursor.
	Lookahead = 40.0
)

// Note is one pitched note in document order.
type Note struct {
	Index      int              `json:"index"`
	Measure    int              `json:"measure"`
	Letter     pitch.Letter     `json:"letter"`
	Accidental pitch.Accidental `json:"accidental,omitempty"`
	Octave     int              `json:"octave"`
	X          float64          `json:"x"`
	Y          float64          `json:"y"`
	// Duration in beats (quarter notes); zero when the source gave none.
	Duration  float64 `json:"duration,omitempty"`
	ExplicitX bool    `json:"explicitX"`
	ExplicitY bool    `json:"explicitY"`
	Chord     bool    `json:"chord,omitempty"`
	Grace     bool    `json:"grace,omitempty"`
}

// Pitch returns the note's spelled pitch.
func (n Note) Pitch() pitch.Pitch {
	return pitch.Pitch{Letter: n.Letter, Accidental: n.Accidental, Octave: n.Octave}
}

// Height returns the absolute pitch height in semitones.
func (n Note) Height() (int, bool) {
	return pitch.Height(n.Letter, n.Accidental, n.Octave)
}

// TimeSignature is the score's meter.
type TimeSignature struct {
	Beats    int `json:"beats"`
	BeatType int `json:"beatType"`
}

// Stats counts what the traversal saw besides the kept notes.
type Stats struct {
	Parts    int `json:"parts"`
	Measures int `json:"measures"`
	Rests    int `json:"rests"`
	Skipped  int `json:"skipped"`
}

// Score is the normalizer's output.
type Score struct {
	Notes     []Note         `json:"notes"`
	Key       key.Key        `json:"key"`
	Time      *TimeSignature `json:"time,omitempty"`
	Divisions float64        `json:"divisions"`
	Stats     Stats          `json:"stats"`
}

// ResolveAccidentals returns a copy of notes with every literal accidental
// replaced by the sounding one under k. The input slice is not modified.
func ResolveAccidentals(notes []Note, k key.Key) []Note {
	out := make([]Note, len(notes))
	for i, n := range notes {
		n.Accidental = k.Apply(n.Letter, n.Accidental)
		out[i] = n
	}
	return out
}
