package notation

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ulikunitz/xz"

	ferrors "github.com/jinjin-jara/violin-fingering/core/errors"
	"github.com/jinjin-jara/violin-fingering/core/diag"
	"github.com/jinjin-jara/violin-fingering/core/pitch"
)

const threeExplicitThenImplicit = `<?xml version="1.0" encoding="UTF-8"?>
<score-partwise version="3.1">
  <part id="P1">
    <measure number="1">
      <attributes>
        <divisions>1</divisions>
        <key><fifths>3</fifths><mode>major</mode></key>
        <time><beats>4</beats><beat-type>4</beat-type></time>
      </attributes>
      <note default-x="80" default-y="-10"><pitch><step>E</step><octave>4</octave></pitch><duration>1</duration></note>
      <note default-x="120" default-y="-20"><pitch><step>F</step><octave>4</octave></pitch><duration>1</duration></note>
      <note default-x="160" default-y="-30"><pitch><step>G</step><octave>4</octave></pitch><duration>1</duration></note>
      <note><pitch><step>A</step><octave>4</octave></pitch><duration>1</duration></note>
      <note><rest/><duration>1</duration></note>
    </measure>
  </part>
</score-partwise>`

func mustNormalize(t *testing.T, name string, data []byte) *Score {
	t.Helper()
	log := diag.New()
	tree, err := Decode(name, data, log)
	if err != nil {
		t.Fatalf("Decode(%s) failed: %v\n%s", name, err, strings.Join(log.Lines(), "\n"))
	}
	score, err := Normalize(tree, log)
	if err != nil {
		t.Fatalf("Normalize(%s) failed: %v\n%s", name, err, strings.Join(log.Lines(), "\n"))
	}
	return score
}

// TestImplicitNoteAfterExplicitNotes verifies the coordinate fallback chain.
func TestImplicitNoteAfterExplicitNotes(t *testing.T) {
	score := mustNormalize(t, "score.xml", []byte(threeExplicitThenImplicit))

	if len(score.Notes) != 4 {
		t.Fatalf("got %d notes, want 4", len(score.Notes))
	}
	if score.Stats.Rests != 1 {
		t.Errorf("Rests = %d, want 1", score.Stats.Rests)
	}

	for i, wantX := range []float64{100, 150, 200} {
		n := score.Notes[i]
		if !n.ExplicitX || !n.ExplicitY {
			t.Errorf("note %d should carry explicit coordinates", i)
		}
		if n.X != wantX {
			t.Errorf("note %d X = %v, want %v", i, n.X, wantX)
		}
	}
	if got := score.Notes[0].Y; got != 112.5 {
		t.Errorf("note 0 Y = %v, want 112.5", got)
	}

	implicit := score.Notes[3]
	if implicit.ExplicitX || implicit.ExplicitY {
		t.Error("fourth note should use derived coordinates")
	}
	if implicit.X <= score.Notes[2].X {
		t.Errorf("implicit X = %v, want > %v", implicit.X, score.Notes[2].X)
	}
	if implicit.X != 200+Lookahead {
		t.Errorf("implicit X = %v, want %v", implicit.X, 200+Lookahead)
	}
	for i := 0; i < 3; i++ {
		if implicit.Y == score.Notes[i].Y {
			t.Errorf("implicit Y %v collides with note %d", implicit.Y, i)
		}
	}
	if want := pitchY(pitch.A, pitch.None, 4); implicit.Y != want {
		t.Errorf("implicit Y = %v, want %v", implicit.Y, want)
	}
}

// TestNormalizeAttributes verifies first-measure key and time resolution.
func TestNormalizeAttributes(t *testing.T) {
	score := mustNormalize(t, "score.xml", []byte(threeExplicitThenImplicit))

	if score.Key.Signature.Name != "A" || score.Key.Signature.Count != 3 {
		t.Errorf("key = %v, want A major", score.Key.Signature)
	}
	if score.Time == nil || score.Time.Beats != 4 || score.Time.BeatType != 4 {
		t.Errorf("time = %+v, want 4/4", score.Time)
	}

	resolved := ResolveAccidentals(score.Notes, score.Key)
	if got := resolved[1].Pitch().String(); got != "F#4" {
		t.Errorf("F4 in A major resolved to %s, want F#4", got)
	}
	if score.Notes[1].Accidental != pitch.None {
		t.Error("ResolveAccidentals must not modify its input")
	}
}

// TestNormalizeIdempotent verifies repeated runs produce identical notes.
func TestNormalizeIdempotent(t *testing.T) {
	first := mustNormalize(t, "score.xml", []byte(threeExplicitThenImplicit))
	second := mustNormalize(t, "score.xml", []byte(threeExplicitThenImplicit))
	if diff := cmp.Diff(first.Notes, second.Notes); diff != "" {
		t.Errorf("notes differ between runs (-first +second):\n%s", diff)
	}
}

// TestSingleVersusCollection verifies object and list forms normalize alike.
func TestSingleVersusCollection(t *testing.T) {
	single := `{"score-partwise": {"part": {"measure": {"note":
		{"$": {"default-x": 40, "default-y": -5}, "pitch": {"step": "D", "octave": 5}}}}}}`
	listed := `{"score-partwise": {"part": [{"measure": [{"note": [
		{"$": {"default-x": 40, "default-y": -5}, "pitch": {"step": "D", "octave": 5}}]}]}]}}`

	a := mustNormalize(t, "single.json", []byte(single))
	b := mustNormalize(t, "listed.json", []byte(listed))
	if diff := cmp.Diff(a.Notes, b.Notes); diff != "" {
		t.Errorf("notes differ (-single +listed):\n%s", diff)
	}
	if len(a.Notes) != 1 || a.Notes[0].X != 50 {
		t.Errorf("notes = %+v, want one note at x=50", a.Notes)
	}
}

// TestNameVariants verifies namespaces, casing and attribute spellings.
func TestNameVariants(t *testing.T) {
	data := `<mx:score-partwise xmlns:mx="urn:mx">
	  <mx:Part><mx:Measure>
	    <mx:Note default-x="8"><mx:Pitch><mx:Step>C</mx:Step><mx:Alter>1</mx:Alter><mx:Octave>5</mx:Octave></mx:Pitch></mx:Note>
	  </mx:Measure></mx:Part>
	</mx:score-partwise>`
	score := mustNormalize(t, "ns.xml", []byte(data))
	if got := score.Notes[0].Pitch().String(); got != "C#5" {
		t.Errorf("pitch = %s, want C#5", got)
	}

	jsonData := `{"Score-Partwise": {"PART": {"measure": {"note": {"@_defaultX": "8", "Pitch": {"STEP": {"#text": "B"}, "octave": "3"}, "accidental": "flat"}}}}}`
	score = mustNormalize(t, "variants.json", []byte(jsonData))
	n := score.Notes[0]
	if n.Pitch().String() != "Bb3" || !n.ExplicitX || n.X != 10 {
		t.Errorf("note = %+v, want Bb3 at x=10", n)
	}
}

// TestChordSharesX verifies chord members without a position reuse the previous x.
func TestChordSharesX(t *testing.T) {
	data := `<score-partwise><part><measure>
	  <note default-x="40"><pitch><step>G</step><octave>3</octave></pitch><duration>2</duration></note>
	  <note><chord/><pitch><step>D</step><octave>4</octave></pitch><duration>2</duration></note>
	  <note><pitch><step>A</step><octave>4</octave></pitch><duration>2</duration></note>
	</measure></part></score-partwise>`
	score := mustNormalize(t, "chord.xml", []byte(data))
	if score.Notes[1].X != score.Notes[0].X {
		t.Errorf("chord X = %v, want %v", score.Notes[1].X, score.Notes[0].X)
	}
	if !score.Notes[1].Chord {
		t.Error("second note should be marked as a chord member")
	}
	if score.Notes[2].X != 50+Lookahead {
		t.Errorf("next X = %v, want %v", score.Notes[2].X, 50+Lookahead)
	}
}

// TestCursorAdvancesByDuration verifies implicit spacing from beats.
func TestCursorAdvancesByDuration(t *testing.T) {
	data := `<score-partwise><part><measure>
	  <attributes><divisions>2</divisions></attributes>
	  <note><pitch><step>A</step><octave>4</octave></pitch><duration>4</duration></note>
	  <note><pitch><step>B</step><octave>4</octave></pitch></note>
	</measure></part></score-partwise>`
	score := mustNormalize(t, "cursor.xml", []byte(data))
	if score.Notes[0].X != CursorStart {
		t.Errorf("first X = %v, want %v", score.Notes[0].X, CursorStart)
	}
	if score.Notes[0].Duration != 2 {
		t.Errorf("duration = %v beats, want 2", score.Notes[0].Duration)
	}
	want := CursorStart + StepBase + StepPerBeat*2
	if score.Notes[1].X != want {
		t.Errorf("second X = %v, want %v", score.Notes[1].X, want)
	}
}

// TestZeroYUsesPitch verifies the default-y sentinel.
func TestZeroYUsesPitch(t *testing.T) {
	data := `<score-partwise><part><measure>
	  <note default-x="10" default-y="0"><pitch><step>E</step><octave>5</octave></pitch></note>
	</measure></part></score-partwise>`
	score := mustNormalize(t, "zero.xml", []byte(data))
	n := score.Notes[0]
	if n.ExplicitY {
		t.Error("default-y=0 should not count as explicit")
	}
	if want := pitchY(pitch.E, pitch.None, 5); n.Y != want {
		t.Errorf("Y = %v, want %v", n.Y, want)
	}
}

// TestLateAttributesIgnored verifies key changes after the first measure are reported.
func TestLateAttributesIgnored(t *testing.T) {
	data := `<score-partwise><part>
	  <measure number="1"><attributes><key><fifths>-1</fifths></key></attributes>
	    <note><pitch><step>B</step><octave>4</octave></pitch></note></measure>
	  <measure number="2"><attributes><key><fifths>2</fifths></key></attributes>
	    <note><pitch><step>F</step><octave>4</octave></pitch></note></measure>
	</part></score-partwise>`
	log := diag.New()
	tree, err := Decode("late.xml", []byte(data), log)
	if err != nil {
		t.Fatal(err)
	}
	score, err := Normalize(tree, log)
	if err != nil {
		t.Fatal(err)
	}
	if score.Key.Signature.Name != "F" {
		t.Errorf("key = %s, want F", score.Key.Signature.Name)
	}
	if !containsLine(log.Lines(), "measure 2: key change ignored") {
		t.Errorf("missing ignored-change diagnostic in %v", log.Lines())
	}
}

// TestSkippedEntries verifies pitch-less and octave-less entries are dropped.
func TestSkippedEntries(t *testing.T) {
	data := `<score-partwise><part><measure>
	  <note><duration>1</duration></note>
	  <note><pitch><step>C</step></pitch></note>
	  <note><pitch><step>D</step><octave>4</octave></pitch></note>
	</measure></part></score-partwise>`
	score := mustNormalize(t, "skip.xml", []byte(data))
	if len(score.Notes) != 1 || score.Stats.Skipped != 2 {
		t.Errorf("notes=%d skipped=%d, want 1 and 2", len(score.Notes), score.Stats.Skipped)
	}
	if score.Notes[0].Index != 0 {
		t.Errorf("Index = %d, want 0", score.Notes[0].Index)
	}
}

// TestNormalizeFailures verifies structure and empty failures.
func TestNormalizeFailures(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		category string
		logPart  string
	}{
		{"no part", `<score-partwise><work/></score-partwise>`, ferrors.CategoryStructure, "partial structure at score"},
		{"no measure", `<score-partwise><part id="P1"><foo/></part></score-partwise>`, ferrors.CategoryStructure, "partial structure at part P1"},
		{"unknown root", `{"html": {"body": "x"}}`, ferrors.CategoryStructure, "partial structure at root"},
		{"timewise", `<score-timewise><measure/></score-timewise>`, ferrors.CategoryStructure, "score-timewise"},
		{"only rests", `<score-partwise><part><measure><note><rest/></note></measure></part></score-partwise>`, ferrors.CategoryEmpty, "no pitched notes"},
		{"scalar root", `[1, 2]`, ferrors.CategoryStructure, "partial structure at root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := diag.New()
			tree, err := Decode(tt.name, []byte(tt.doc), log)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			score, err := Normalize(tree, log)
			if err == nil {
				t.Fatalf("Normalize succeeded with %d notes", len(score.Notes))
			}
			if got := ferrors.Category(err); got != tt.category {
				t.Errorf("category = %s, want %s (%v)", got, tt.category, err)
			}
			if !containsLine(log.Lines(), tt.logPart) {
				t.Errorf("log missing %q: %v", tt.logPart, log.Lines())
			}
		})
	}
}

// TestDecodeFailures verifies the no-output and malformed categories.
func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		category string
	}{
		{"empty", nil, ferrors.CategoryNoOutput},
		{"whitespace", []byte("  \n\t"), ferrors.CategoryNoOutput},
		{"garbage", []byte("%PDF-1.4 not a score"), ferrors.CategoryMalformed},
		{"broken xml", []byte("<score-partwise><part>"), ferrors.CategoryMalformed},
		{"broken json", []byte(`{"score-partwise": `), ferrors.CategoryMalformed},
		{"broken xz", append(append([]byte{}, xzMagic...), 1, 2, 3), ferrors.CategoryMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := diag.New()
			_, err := Decode(tt.name, tt.data, log)
			if got := ferrors.Category(err); got != tt.category {
				t.Errorf("category = %q, want %q (%v)", got, tt.category, err)
			}
			if log.Len() == 0 {
				t.Error("failure should leave a diagnostic")
			}
		})
	}
}

// TestDecodeContainers verifies xz and .mxl documents decode like plain XML.
func TestDecodeContainers(t *testing.T) {
	plain := mustNormalize(t, "score.xml", []byte(threeExplicitThenImplicit))

	var xzBuf bytes.Buffer
	w, err := xz.NewWriter(&xzBuf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(threeExplicitThenImplicit)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	withContainer := buildZip(t, map[string]string{
		"META-INF/container.xml": `<container><rootfiles><rootfile full-path="music/score.musicxml"/></rootfiles></container>`,
		"decoy.xml":              `<score-partwise><part><measure/></part></score-partwise>`,
		"music/score.musicxml":   threeExplicitThenImplicit,
	})
	withoutContainer := buildZip(t, map[string]string{
		"score.xml": threeExplicitThenImplicit,
	})

	for name, data := range map[string][]byte{
		"score.xml.xz":  xzBuf.Bytes(),
		"container.mxl": withContainer,
		"bare.mxl":      withoutContainer,
	} {
		t.Run(name, func(t *testing.T) {
			got := mustNormalize(t, name, data)
			if diff := cmp.Diff(plain.Notes, got.Notes); diff != "" {
				t.Errorf("notes differ from plain XML (-plain +%s):\n%s", name, diff)
			}
		})
	}
}

// TestDecodeZipWithoutScore verifies archives lacking a score entry are malformed.
func TestDecodeZipWithoutScore(t *testing.T) {
	data := buildZip(t, map[string]string{"readme.txt": "hello"})
	_, err := Decode("empty.mxl", data, diag.New())
	if !ferrors.Is(err, ferrors.ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

// TestListAdapter verifies the object/collection canonicalization.
func TestListAdapter(t *testing.T) {
	if got := list(nil); len(got) != 0 {
		t.Errorf("list(nil) = %v", got)
	}
	if got := list("x"); len(got) != 1 {
		t.Errorf("list(scalar) = %v", got)
	}
	in := []any{1.0, 2.0}
	if got := list(in); len(got) != 2 {
		t.Errorf("list(slice) = %v", got)
	}
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	// Deterministic order keeps "first XML entry" meaningful.
	for _, name := range sortedKeys(toAnyMap(files)) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func containsLine(lines []string, part string) bool {
	for _, l := range lines {
		if strings.Contains(l, part) {
			return true
		}
	}
	return false
}
