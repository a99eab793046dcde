package pitch

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// pitchGrammar is the participle grammar for pitch literals.
// Examples: "G4", "F#4", "Bb3", "C##5", "En4", "Ebb2"
type pitchGrammar struct {
	Letter     string `parser:"@Letter"`
	Accidental string `parser:"@Accidental?"`
	Octave     int    `parser:"@Int"`
}

// keyGrammar is the participle grammar for key names.
// Examples: "A", "A major", "F#m", "Bb minor", "Eb maj"
type keyGrammar struct {
	Letter     string `parser:"@Letter"`
	Accidental string `parser:"@Accidental?"`
	Mode       string `parser:"@Mode?"`
}

// literalLexer tokenizes both grammars. Letters are upper case only so that a
// lower-case "b" always lexes as a flat; Parse upper-cases the leading letter.
var literalLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Accidental", Pattern: `##|bb|#|b|n|x`},
	{Name: "Mode", Pattern: `(?i)major|minor|maj|min|m`},
	{Name: "Letter", Pattern: `[A-G]`},
	{Name: "Int", Pattern: `-?[0-9]+`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var pitchParser = participle.MustBuild[pitchGrammar](
	participle.Lexer(literalLexer),
	participle.Elide("Whitespace"),
)

var keyParser = participle.MustBuild[keyGrammar](
	participle.Lexer(literalLexer),
	participle.Elide("Whitespace"),
)

// normalizeLiteral trims and upper-cases the leading letter name.
func normalizeLiteral(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Parse parses a pitch literal such as "F#4".
func Parse(s string) (Pitch, error) {
	s = normalizeLiteral(s)
	if s == "" {
		return Pitch{}, fmt.Errorf("empty pitch literal")
	}
	parsed, err := pitchParser.ParseString("", s)
	if err != nil {
		return Pitch{}, fmt.Errorf("invalid pitch literal %q: %w", s, err)
	}
	acc := None
	if parsed.Accidental != "" {
		acc, _ = AccidentalFromName(parsed.Accidental)
	}
	return Pitch{
		Letter:     Letter(parsed.Letter),
		Accidental: acc,
		Octave:     parsed.Octave,
	}, nil
}

// KeyName is a parsed tonic and mode, e.g. "F#m".
type KeyName struct {
	Tonic      Letter
	Accidental Accidental
	Minor      bool
}

// Spelling renders the tonic with flats as "b" and sharps as "#", e.g. "Bb" or "F#".
func (k KeyName) Spelling() string {
	if k.Accidental == Natural {
		return string(k.Tonic)
	}
	return string(k.Tonic) + k.Accidental.Symbol()
}

// ParseKeyName parses a key name such as "Bb minor" or "A".
func ParseKeyName(s string) (KeyName, error) {
	s = normalizeLiteral(s)
	if s == "" {
		return KeyName{}, fmt.Errorf("empty key name")
	}
	parsed, err := keyParser.ParseString("", s)
	if err != nil {
		return KeyName{}, fmt.Errorf("invalid key name %q: %w", s, err)
	}
	acc := None
	if parsed.Accidental != "" {
		acc, _ = AccidentalFromName(parsed.Accidental)
	}
	mode := strings.ToLower(parsed.Mode)
	return KeyName{
		Tonic:      Letter(parsed.Letter),
		Accidental: acc,
		Minor:      mode == "m" || mode == "min" || mode == "minor",
	}, nil
}
