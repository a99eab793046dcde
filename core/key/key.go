// Package key resolves key signatures into the letters they alter.
//
// A signature is a signed position on the circle of fifths: positive counts are
// sharps, negative counts are flats. Counts outside [-7, 7] have no entry and
// fall back to the identity key (C major, no accidentals). The fallback is
// reported, never raised.
package key

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinjin-jara/violin-fingering/core/diag"
	"github.com/jinjin-jara/violin-fingering/core/pitch"
)

// Mode is the key's mode.
type Mode string

const (
	Major Mode = "major"
	Minor Mode = "minor"
)

// MaxAccidentals is the largest supported absolute signature count.
const MaxAccidentals = 7

// Application order of signature accidentals.
var (
	sharpOrder = []pitch.Letter{pitch.F, pitch.C, pitch.G, pitch.D, pitch.A, pitch.E, pitch.B}
	flatOrder  = []pitch.Letter{pitch.B, pitch.E, pitch.A, pitch.D, pitch.G, pitch.C, pitch.F}
)

type keyNames struct {
	major, minor string
}

// circle maps a signed count to its major and minor key names.
var circle = map[int]keyNames{
	-7: {"Cb", "Ab"},
	-6: {"Gb", "Eb"},
	-5: {"Db", "Bb"},
	-4: {"Ab", "F"},
	-3: {"Eb", "C"},
	-2: {"Bb", "G"},
	-1: {"F", "D"},
	0:  {"C", "A"},
	1:  {"G", "E"},
	2:  {"D", "B"},
	3:  {"A", "F#"},
	4:  {"E", "C#"},
	5:  {"B", "G#"},
	6:  {"F#", "D#"},
	7:  {"C#", "A#"},
}

// Signature is a resolved key signature.
type Signature struct {
	Count int    `json:"fifths"`
	Mode  Mode   `json:"mode"`
	Name  string `json:"name"`
}

// Identity is the zero-count default key.
var Identity = Signature{Count: 0, Mode: Major, Name: "C"}

func (s Signature) String() string {
	return fmt.Sprintf("%s %s", s.Name, s.Mode)
}

// AccidentalMap lists the letters altered by a signature and the accidental they take.
type AccidentalMap struct {
	Letters    []pitch.Letter   `json:"letters"`
	Accidental pitch.Accidental `json:"accidental,omitempty"`
}

// Contains reports whether the letter is altered by the signature.
func (m AccidentalMap) Contains(l pitch.Letter) bool {
	for _, x := range m.Letters {
		if x == l {
			return true
		}
	}
	return false
}

// Len returns the number of altered letters.
func (m AccidentalMap) Len() int {
	return len(m.Letters)
}

// Key is a signature together with its accidental map.
type Key struct {
	Signature Signature     `json:"signature"`
	Map       AccidentalMap `json:"accidentals"`
}

// Resolve resolves a signed count and mode into a Key. Unknown counts resolve
// to Identity, with a diagnostic appended to log and a warning on slog.
// An empty mode means major.
func Resolve(count int, mode Mode, log *diag.Log) Key {
	names, ok := circle[count]
	if !ok {
		log.Addf(diag.StageKey, "signature count %d outside [-%d,%d]; using %s", count, MaxAccidentals, MaxAccidentals, Identity)
		slog.Warn("unrecognized key signature, using default", "count", count, "default", Identity.String())
		return Key{Signature: Identity, Map: AccidentalMap{Letters: []pitch.Letter{}}}
	}
	if mode == "" {
		mode = Major
	}

	sig := Signature{Count: count, Mode: mode, Name: names.major}
	if mode == Minor {
		sig.Name = names.minor
	}
	return Key{Signature: sig, Map: accidentalMap(count)}
}

func accidentalMap(count int) AccidentalMap {
	m := AccidentalMap{Letters: []pitch.Letter{}}
	switch {
	case count > 0:
		m.Letters = append(m.Letters, sharpOrder[:count]...)
		m.Accidental = pitch.Sharp
	case count < 0:
		m.Letters = append(m.Letters, flatOrder[:-count]...)
		m.Accidental = pitch.Flat
	}
	return m
}

// SignedCount combines separate sharp and flat counts into a signed count.
// Flats take the negative sign. When both are given the signature is
// contradictory and the result is zero, with a diagnostic.
func SignedCount(sharps, flats int, log *diag.Log) int {
	switch {
	case sharps > 0 && flats > 0:
		log.Addf(diag.StageKey, "both %d sharps and %d flats given; using 0", sharps, flats)
		return 0
	case flats > 0:
		return -flats
	case sharps > 0:
		return sharps
	default:
		return 0
	}
}

// ParseMode folds a mode name. Unknown names resolve to major with a diagnostic.
func ParseMode(s string, log *diag.Log) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "major", "maj", "ionian":
		return Major
	case "minor", "min", "m", "aeolian":
		return Minor
	}
	log.Addf(diag.StageKey, "unsupported mode %q; using major", s)
	return Major
}

// Apply returns the sounding accidental for a literal letter. An explicit
// accidental, including a natural, always wins over the signature.
func (k Key) Apply(l pitch.Letter, explicit pitch.Accidental) pitch.Accidental {
	if explicit.Explicit() {
		return explicit
	}
	if k.Map.Contains(l) {
		return k.Map.Accidental
	}
	return pitch.None
}

// ParseName resolves a key name such as "A", "F#m" or "Bb minor".
func ParseName(s string) (Key, error) {
	kn, err := pitch.ParseKeyName(s)
	if err != nil {
		return Key{}, err
	}
	mode := Major
	if kn.Minor {
		mode = Minor
	}
	spelling := kn.Spelling()
	for count, names := range circle {
		name := names.major
		if mode == Minor {
			name = names.minor
		}
		if name == spelling {
			return Resolve(count, mode, nil), nil
		}
	}
	return Key{}, fmt.Errorf("no key signature for %s %s", spelling, mode)
}
