package notation

import (
	"fmt"
	"math"
	"strconv"

	ferrors "github.com/jinjin-jara/violin-fingering/core/errors"
	"github.com/jinjin-jara/violin-fingering/core/diag"
	"github.com/jinjin-jara/violin-fingering/core/key"
	"github.com/jinjin-jara/violin-fingering/core/pitch"
)

const formatName = "score"

// Normalize walks a loose score tree and returns its notes in document order.
//
// Attributes (divisions, key, time) are read once from the first measure of the
// first part and applied to the whole score. A missing structural level yields
// an error wrapping ErrStructure; a score without a single usable note yields
// one wrapping ErrEmpty. Both come with the partial structure in log.
func Normalize(tree any, log *diag.Log) (*Score, error) {
	score, err := scoreRoot(tree, log)
	if err != nil {
		return nil, err
	}

	parts := children(score, "part")
	if len(parts) == 0 {
		log.Addf(diag.StageNormalize, "partial structure at score: %s", shape(score))
		return nil, ferrors.NewStructure(formatName, "score", "no part found")
	}

	n := &normalizer{
		log:       log,
		divisions: 1,
		cursor:    cursor{x: CursorStart},
		out:       &Score{Notes: []Note{}},
	}
	n.out.Stats.Parts = len(parts)

	for pi, part := range parts {
		measures := children(part, "measure")
		if len(measures) == 0 {
			path := partPath(part, pi)
			log.Addf(diag.StageNormalize, "partial structure at %s: %s", path, shape(part))
			return nil, ferrors.NewStructure(formatName, path, "no measure found")
		}
		for mi, measure := range measures {
			n.out.Stats.Measures++
			number := measureNumber(measure, mi)
			if pi == 0 && mi == 0 {
				n.readAttributes(measure)
			} else {
				n.checkLateAttributes(measure, number)
			}
			for _, entry := range children(measure, "note") {
				n.note(entry, number)
			}
		}
	}

	if !n.sawKey {
		n.out.Key = key.Resolve(0, key.Major, log)
		log.Addf(diag.StageNormalize, "no key signature in first measure; assuming %s", n.out.Key.Signature)
	}
	n.out.Divisions = n.divisions

	log.Addf(diag.StageNormalize, "%d notes kept, %d rests, %d entries skipped across %d measures",
		len(n.out.Notes), n.out.Stats.Rests, n.out.Stats.Skipped, n.out.Stats.Measures)

	if len(n.out.Notes) == 0 {
		log.Addf(diag.StageNormalize, "partial structure at score: %d parts, %d measures, no pitched notes",
			n.out.Stats.Parts, n.out.Stats.Measures)
		return nil, ferrors.Wrapf(ferrors.ErrEmpty, "%d measures contained no pitched notes", n.out.Stats.Measures)
	}
	return n.out, nil
}

// scoreRoot finds the partwise score element.
func scoreRoot(tree any, log *diag.Log) (any, error) {
	m, ok := tree.(map[string]any)
	if !ok {
		log.Addf(diag.StageNormalize, "partial structure at root: %s", shape(tree))
		return nil, ferrors.NewStructure(formatName, "root", "document root is not an object")
	}
	if s, ok := child(m, "score-partwise"); ok {
		return s, nil
	}
	if has(m, "score-timewise") {
		log.Addf(diag.StageNormalize, "score-timewise layout is not supported")
		return nil, ferrors.NewUnsupported("score layout", "score-timewise")
	}
	if has(m, "part") {
		return m, nil
	}
	log.Addf(diag.StageNormalize, "partial structure at root: %s", shape(m))
	return nil, ferrors.NewStructure(formatName, "root", "no score-partwise element")
}

type normalizer struct {
	log       *diag.Log
	divisions float64
	sawKey    bool
	cursor    cursor
	out       *Score
}

// readAttributes resolves divisions, key and time from the first measure.
func (n *normalizer) readAttributes(measure any) {
	for _, attrs := range children(measure, "attributes") {
		if d, ok, err := number(attrs, "divisions"); err != nil {
			n.log.Addf(diag.StageNormalize, "ignoring divisions: %v", err)
		} else if ok {
			if d > 0 {
				n.divisions = d
			} else {
				n.log.Addf(diag.StageNormalize, "ignoring non-positive divisions %v", d)
			}
		}

		if k, ok := child(attrs, "key"); ok && !n.sawKey {
			n.out.Key = n.resolveKey(k)
			n.sawKey = true
		}

		if t, ok := child(attrs, "time"); ok && n.out.Time == nil {
			n.out.Time = n.resolveTime(t)
		}
	}
}

func (n *normalizer) resolveKey(k any) key.Key {
	mode := key.Major
	if s, ok := field(k, "mode"); ok {
		mode = key.ParseMode(s, n.log)
	}

	count := 0
	if s, ok := field(k, "fifths"); ok {
		c, err := strconv.Atoi(s)
		if err != nil {
			n.log.Addf(diag.StageKey, "fifths=%q is not an integer; using 0", s)
		} else {
			count = c
		}
	} else {
		sharps, _ := intField(k, "sharps")
		flats, _ := intField(k, "flats")
		count = key.SignedCount(sharps, flats, n.log)
	}

	resolved := key.Resolve(count, mode, n.log)
	n.log.Addf(diag.StageKey, "key signature %d resolved to %s", count, resolved.Signature)
	return resolved
}

func (n *normalizer) resolveTime(t any) *TimeSignature {
	beats, okB := intField(t, "beats")
	beatType, okT := intField(t, "beat-type")
	if !okB || !okT || beats <= 0 || beatType <= 0 {
		n.log.Addf(diag.StageNormalize, "incomplete time signature (%s); ignoring", shape(t))
		return nil
	}
	return &TimeSignature{Beats: beats, BeatType: beatType}
}

// checkLateAttributes reports key and time changes after the first measure;
// they are not applied.
func (n *normalizer) checkLateAttributes(measure any, number int) {
	for _, attrs := range children(measure, "attributes") {
		if has(attrs, "key") {
			n.log.Addf(diag.StageNormalize, "measure %d: key change ignored", number)
		}
		if has(attrs, "time") {
			n.log.Addf(diag.StageNormalize, "measure %d: time change ignored", number)
		}
	}
}

// note converts one note entry, skipping rests and pitch-less entries.
func (n *normalizer) note(entry any, measure int) {
	if _, ok := entry.(map[string]any); !ok {
		n.out.Stats.Skipped++
		n.log.Addf(diag.StageNormalize, "measure %d: note entry is %s; skipped", measure, shape(entry))
		return
	}
	if has(entry, "rest") {
		n.out.Stats.Rests++
		return
	}

	p, ok := child(entry, "pitch")
	if !ok {
		n.out.Stats.Skipped++
		n.log.Addf(diag.StageNormalize, "measure %d: note without pitch skipped", measure)
		return
	}
	stepText, _ := field(p, "step")
	letter, ok := pitch.ParseLetter(stepText)
	if !ok {
		n.out.Stats.Skipped++
		n.log.Addf(diag.StageNormalize, "measure %d: note step %q not recognized; skipped", measure, stepText)
		return
	}
	octave, ok := intField(p, "octave")
	if !ok {
		n.out.Stats.Skipped++
		n.log.Addf(diag.StageNormalize, "measure %d: note %s without octave skipped", measure, letter)
		return
	}

	note := Note{
		Index:      len(n.out.Notes),
		Measure:    measure,
		Letter:     letter,
		Accidental: n.explicitAccidental(entry, p, measure),
		Octave:     octave,
		Chord:      has(entry, "chord"),
		Grace:      has(entry, "grace"),
	}

	if d, ok, err := number(entry, "duration"); err != nil {
		n.log.Addf(diag.StageNormalize, "measure %d: %v", measure, err)
	} else if ok && d > 0 {
		note.Duration = d / n.divisions
	}

	n.place(&note, entry)
	n.out.Notes = append(n.out.Notes, note)
}

// explicitAccidental reads <alter>, then <accidental>.
func (n *normalizer) explicitAccidental(entry, p any, measure int) pitch.Accidental {
	if a, ok, err := number(p, "alter"); err != nil {
		n.log.Addf(diag.StageNormalize, "measure %d: %v", measure, err)
	} else if ok {
		if acc, ok := pitch.AccidentalFromAlter(a); ok {
			return acc
		}
		n.log.Addf(diag.StageNormalize, "measure %d: alter %v not representable; ignored", measure, a)
	}
	if s, ok := field(entry, "accidental"); ok {
		if acc, ok := pitch.AccidentalFromName(s); ok {
			return acc
		}
		n.log.Addf(diag.StageNormalize, "measure %d: accidental %q not recognized; ignored", measure, s)
	}
	return pitch.None
}

// place runs the coordinate fallback chain for one note.
func (n *normalizer) place(note *Note, entry any) {
	if dx, ok, err := number(entry, "default-x"); err == nil && ok {
		note.X = dx * PixelsPerTenth
		note.ExplicitX = true
	}
	if dy, ok, err := number(entry, "default-y"); err == nil && ok && dy != UnsetY {
		note.Y = StaffTop - dy*PixelsPerTenth
		note.ExplicitY = true
	}

	if !note.ExplicitY {
		note.Y = pitchY(note.Letter, note.Accidental, note.Octave)
	}
	note.X = n.cursor.advance(note)
}

// pitchY derives a vertical position from pitch height.
func pitchY(l pitch.Letter, a pitch.Accidental, octave int) float64 {
	steps := (octave-ReferenceOctave)*7 + l.DiatonicIndex()
	return StaffTop + float64(TopLineSteps-steps)*LineSpacing/2 - float64(a.Shift())*SemitoneNudge
}

// cursor supplies x for notes without an explicit horizontal position.
type cursor struct {
	x       float64
	last    float64
	started bool
}

// advance returns the note's x and moves the cursor. Explicit positions
// re-anchor the cursor a fixed lookahead to their right; chord members without
// a position share the previous note's x.
func (c *cursor) advance(note *Note) float64 {
	switch {
	case note.ExplicitX:
		c.x = note.X + Lookahead
		c.last = note.X
	case note.Chord && c.started:
		return c.last
	default:
		beats := note.Duration
		if beats <= 0 {
			beats = DefaultBeats
		}
		c.last = c.x
		c.x += StepBase + StepPerBeat*beats
	}
	c.started = true
	return c.last
}

func intField(v any, name string) (int, bool) {
	f, ok, err := number(v, name)
	if err != nil || !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func measureNumber(measure any, index int) int {
	if s, ok := attr(measure, "number"); ok {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return index + 1
}

func partPath(part any, index int) string {
	if id, ok := attr(part, "id"); ok && id != "" {
		return fmt.Sprintf("part %s", id)
	}
	return fmt.Sprintf("part[%d]", index)
}
