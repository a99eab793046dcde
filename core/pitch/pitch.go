// Package pitch models spelled pitches (letter, accidental, octave) and their absolute height.
//
// Heights are semitone counts from C of octave 0: height = octave*12 + semitone + shift.
package pitch

import (
	"fmt"
	"math"
	"strings"
)

// Letter is a note letter name, always upper case.
type Letter string

// Letter names.
const (
	C Letter = "C"
	D Letter = "D"
	E Letter = "E"
	F Letter = "F"
	G Letter = "G"
	A Letter = "A"
	B Letter = "B"
)

// Letters lists the letter names in diatonic order starting at C.
var Letters = []Letter{C, D, E, F, G, A, B}

// semitones is the fixed letter -> semitone table within one octave.
var semitones = map[Letter]int{
	C: 0,
	D: 2,
	E: 4,
	F: 5,
	G: 7,
	A: 9,
	B: 11,
}

// ParseLetter accepts a single letter name in either case.
func ParseLetter(s string) (Letter, bool) {
	l := Letter(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := semitones[l]
	return l, ok
}

// Semitone returns the letter's offset above C and whether the letter is valid.
func (l Letter) Semitone() (int, bool) {
	s, ok := semitones[l]
	return s, ok
}

// DiatonicIndex returns the letter's staff-step index above C (C=0 ... B=6), or -1.
func (l Letter) DiatonicIndex() int {
	for i, x := range Letters {
		if x == l {
			return i
		}
	}
	return -1
}

// Accidental is an explicit or resolved alteration of a letter.
type Accidental int

const (
	// None means no accidental was written; the key signature decides.
	None Accidental = iota
	Natural
	Sharp
	Flat
	DoubleSharp
	DoubleFlat
)

var accidentalNames = map[Accidental]string{
	None:        "",
	Natural:     "natural",
	Sharp:       "sharp",
	Flat:        "flat",
	DoubleSharp: "double-sharp",
	DoubleFlat:  "double-flat",
}

var accidentalSymbols = map[Accidental]string{
	None:        "",
	Natural:     "n",
	Sharp:       "#",
	Flat:        "b",
	DoubleSharp: "##",
	DoubleFlat:  "bb",
}

// Shift returns the semitone alteration.
func (a Accidental) Shift() int {
	switch a {
	case Sharp:
		return 1
	case Flat:
		return -1
	case DoubleSharp:
		return 2
	case DoubleFlat:
		return -2
	default:
		return 0
	}
}

// Explicit reports whether an accidental was written (a natural counts).
func (a Accidental) Explicit() bool {
	return a != None
}

func (a Accidental) String() string {
	return accidentalNames[a]
}

// Symbol returns the compact spelling used in literals ("#", "b", "n", ...).
func (a Accidental) Symbol() string {
	return accidentalSymbols[a]
}

// MarshalText encodes the accidental by name.
func (a Accidental) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a name produced by MarshalText.
func (a *Accidental) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*a = None
		return nil
	}
	acc, ok := AccidentalFromName(string(b))
	if !ok {
		return fmt.Errorf("unknown accidental %q", string(b))
	}
	*a = acc
	return nil
}

// AccidentalFromName maps MusicXML <accidental> values and the short symbols.
func AccidentalFromName(s string) (Accidental, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "natural", "n":
		return Natural, true
	case "sharp", "#":
		return Sharp, true
	case "flat", "b":
		return Flat, true
	case "double-sharp", "sharp-sharp", "##", "x":
		return DoubleSharp, true
	case "double-flat", "flat-flat", "bb":
		return DoubleFlat, true
	}
	return None, false
}

// AccidentalFromAlter maps a MusicXML <alter> value. Only whole semitones in
// [-2, 2] are representable; microtonal values are rejected.
func AccidentalFromAlter(alter float64) (Accidental, bool) {
	if alter != math.Trunc(alter) {
		return None, false
	}
	switch int(alter) {
	case 0:
		return Natural, true
	case 1:
		return Sharp, true
	case -1:
		return Flat, true
	case 2:
		return DoubleSharp, true
	case -2:
		return DoubleFlat, true
	}
	return None, false
}

// Height computes the absolute pitch height in semitones.
// An unknown letter yields ok=false.
func Height(l Letter, a Accidental, octave int) (int, bool) {
	s, ok := l.Semitone()
	if !ok {
		return 0, false
	}
	return octave*12 + s + a.Shift(), true
}

// Pitch is a spelled pitch.
type Pitch struct {
	Letter     Letter     `json:"letter"`
	Accidental Accidental `json:"accidental,omitempty"`
	Octave     int        `json:"octave"`
}

// Height returns the absolute height; invalid letters report ok=false.
func (p Pitch) Height() (int, bool) {
	return Height(p.Letter, p.Accidental, p.Octave)
}

func (p Pitch) String() string {
	return fmt.Sprintf("%s%s%d", p.Letter, p.Accidental.Symbol(), p.Octave)
}
