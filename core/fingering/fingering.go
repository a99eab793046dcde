// Package fingering assigns notes to a violin string, finger and hand position.
//
// Each note is scored on its own. A string is a candidate when the note lies
// between its open pitch and seven semitones above it; the reach within that
// span is fixed by a lookup table. Ranking is deterministic: an open string
// first, then the strings from lowest to highest.
package fingering

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinjin-jara/violin-fingering/core/diag"
	"github.com/jinjin-jara/violin-fingering/core/notation"
	"github.com/jinjin-jara/violin-fingering/core/pitch"
)

// String is one of the four violin strings.
type String string

const (
	StringG String = "G"
	StringD String = "D"
	StringA String = "A"
	StringE String = "E"
)

// Strings lists the strings in preference order, lowest first.
var Strings = []String{StringG, StringD, StringA, StringE}

// openHeights are the open-string pitch heights (G3, D4, A4, E5).
var openHeights = map[String]int{
	StringG: 43,
	StringD: 50,
	StringA: 57,
	StringE: 64,
}

// MaxOffset is the highest reachable semitone above an open string.
const MaxOffset = 7

// Playable range of the instrument.
const (
	LowestHeight  = 43
	HighestHeight = 64 + MaxOffset
)

// Open returns the open-string height.
func (s String) Open() int {
	return openHeights[s]
}

// ParseString parses a string name, case-insensitively.
func ParseString(s string) (String, bool) {
	v := String(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := openHeights[v]
	return v, ok
}

// Position is a left-hand position.
type Position int

const (
	HalfPosition Position = iota
	FirstPosition
	SecondPosition
	ThirdPosition
	FourthPosition
)

var positionNames = []string{"half", "1st", "2nd", "3rd", "4th"}

func (p Position) String() string {
	if p < HalfPosition || p > FourthPosition {
		return fmt.Sprintf("Position(%d)", int(p))
	}
	return positionNames[p]
}

// MarshalText encodes the position by name.
func (p Position) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a name produced by MarshalText.
func (p *Position) UnmarshalText(b []byte) error {
	for i, name := range positionNames {
		if name == string(b) {
			*p = Position(i)
			return nil
		}
	}
	return fmt.Errorf("unknown position %q", b)
}

type reach struct {
	position Position
	finger   int
}

// standard covers G, D and A: offsets 6 and 7 shift to 2nd position.
var standard = [MaxOffset + 1]reach{
	{FirstPosition, 0},
	{HalfPosition, 1},
	{FirstPosition, 1},
	{FirstPosition, 2},
	{FirstPosition, 2},
	{FirstPosition, 3},
	{SecondPosition, 3},
	{SecondPosition, 3},
}

// extended covers E: offsets 6 and 7 stay in 1st position with the fourth finger.
var extended = [MaxOffset + 1]reach{
	{FirstPosition, 0},
	{HalfPosition, 1},
	{FirstPosition, 1},
	{FirstPosition, 2},
	{FirstPosition, 2},
	{FirstPosition, 3},
	{FirstPosition, 4},
	{FirstPosition, 4},
}

func table(s String) *[MaxOffset + 1]reach {
	if s == StringE {
		return &extended
	}
	return &standard
}

// Fingering is a playable assignment for one note. Finger 0 is the open
// string and only occurs in 1st position.
type Fingering struct {
	String   String        `json:"string"`
	Finger   int           `json:"finger"`
	Position Position      `json:"position"`
	Offset   int           `json:"offset"`
	Note     notation.Note `json:"note"`
}

// Open reports whether the fingering plays the open string.
func (f Fingering) Open() bool {
	return f.Finger == 0
}

// Describe renders the fingering for humans.
func (f Fingering) Describe() string {
	return fmt.Sprintf("%s string, finger %d, %s position", f.String, f.Finger, f.Position)
}

// Candidates returns every playable fingering for note, best first.
// An unplayable note yields an empty slice.
func Candidates(note notation.Note) []Fingering {
	h, ok := note.Height()
	if !ok {
		return nil
	}
	var open, fingered []Fingering
	for _, s := range Strings {
		offset := h - s.Open()
		if offset < 0 || offset > MaxOffset {
			continue
		}
		r := table(s)[offset]
		f := Fingering{String: s, Finger: r.finger, Position: r.position, Offset: offset, Note: note}
		if offset == 0 {
			open = append(open, f)
		} else {
			fingered = append(fingered, f)
		}
	}
	return append(open, fingered...)
}

// CandidatesForPitch ranks fingerings for a bare pitch.
func CandidatesForPitch(p pitch.Pitch) []Fingering {
	return Candidates(notation.Note{Letter: p.Letter, Accidental: p.Accidental, Octave: p.Octave})
}

// Assign returns the best fingering for note, or nil when no string can
// reach it.
func Assign(note notation.Note) *Fingering {
	c := Candidates(note)
	if len(c) == 0 {
		slog.Debug("note unplayable", "pitch", note.Pitch().String(), "index", note.Index)
		return nil
	}
	slog.Debug("note assigned", "pitch", note.Pitch().String(), "string", c[0].String, "finger", c[0].Finger)
	return &c[0]
}

// Assignment is the result of fingering a whole sequence.
type Assignment struct {
	Fingerings []Fingering     `json:"fingerings"`
	Unplayable []notation.Note `json:"unplayable,omitempty"`
}

// AssignAll fingers notes in order. Unplayable notes are dropped from
// Fingerings, listed in Unplayable, and reported in log.
func AssignAll(notes []notation.Note, log *diag.Log) Assignment {
	out := Assignment{Fingerings: make([]Fingering, 0, len(notes))}
	for _, n := range notes {
		f := Assign(n)
		if f == nil {
			out.Unplayable = append(out.Unplayable, n)
			h, _ := n.Height()
			log.Addf(diag.StageFingering, "note %d (%s, height %d) outside [%d,%d]; no fingering",
				n.Index, n.Pitch(), h, LowestHeight, HighestHeight)
			continue
		}
		out.Fingerings = append(out.Fingerings, *f)
	}
	if len(out.Unplayable) > 0 {
		slog.Warn("unplayable notes dropped", "count", len(out.Unplayable), "total", len(notes))
	}
	return out
}
