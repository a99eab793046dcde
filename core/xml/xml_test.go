package xml

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleScore = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE score-partwise PUBLIC "-//Recordare//DTD MusicXML 3.1 Partwise//EN" "http://www.musicxml.org/dtds/partwise.dtd">
<score-partwise version="3.1">
  <part id="P1">
    <measure number="1">
      <note default-x="80" default-y="-15">
        <pitch><step>G</step><octave>4</octave></pitch>
        <duration>1</duration>
      </note>
      <note>
        <rest/>
        <duration>1</duration>
      </note>
    </measure>
  </part>
</score-partwise>`

// TestParseValidXML verifies parsing of well-formed XML.
func TestParseValidXML(t *testing.T) {
	doc, err := Parse([]byte(sampleScore))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if root := doc.Root(); root == nil || root.Name() != "score-partwise" {
		t.Fatalf("Root() = %v, want score-partwise", root)
	}
}

// TestParseInvalidXML verifies error handling for malformed XML.
func TestParseInvalidXML(t *testing.T) {
	tests := []struct {
		name string
		xml  string
	}{
		{"unclosed tag", "<root><element></root>"},
		{"mismatched tags", "<root></other>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.xml)); err == nil {
				t.Error("Parse should fail for invalid XML")
			}
			if Validate([]byte(tt.xml)).Valid {
				t.Error("Validate should report invalid XML")
			}
		})
	}
}

// TestValidateWellFormed verifies well-formedness validation.
func TestValidateWellFormed(t *testing.T) {
	result := Validate([]byte(sampleScore))
	if !result.Valid {
		t.Errorf("valid XML should pass: %v", result.Errors)
	}
}

// TestTreeShape verifies the loose-tree conversion rules.
func TestTreeShape(t *testing.T) {
	doc, err := Parse([]byte(sampleScore))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"score-partwise": map[string]any{
			AttrKey: map[string]any{"version": "3.1"},
			"part": map[string]any{
				AttrKey: map[string]any{"id": "P1"},
				"measure": map[string]any{
					AttrKey: map[string]any{"number": "1"},
					"note": []any{
						map[string]any{
							AttrKey:    map[string]any{"default-x": "80", "default-y": "-15"},
							"pitch":    map[string]any{"step": "G", "octave": "4"},
							"duration": "1",
						},
						map[string]any{
							"rest":     "",
							"duration": "1",
						},
					},
				},
			},
		},
	}
	if diff := cmp.Diff(want, doc.Tree()); diff != "" {
		t.Errorf("Tree() mismatch (-want +got):\n%s", diff)
	}
}

// TestTreeKeepsPrefixes verifies namespaced element names survive conversion.
func TestTreeKeepsPrefixes(t *testing.T) {
	data := `<mx:score-partwise xmlns:mx="urn:x"><mx:part>text</mx:part></mx:score-partwise>`
	doc, err := Parse([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	tree := doc.Tree()
	root, ok := tree["mx:score-partwise"].(map[string]any)
	if !ok {
		t.Fatalf("tree = %#v, want mx:score-partwise root", tree)
	}
	if root["mx:part"] != "text" {
		t.Errorf("mx:part = %#v, want text", root["mx:part"])
	}
	if _, ok := root[AttrKey]; ok {
		t.Error("xmlns declarations should not appear as attributes")
	}
}

// TestCountLocal verifies case- and prefix-insensitive element counting.
func TestCountLocal(t *testing.T) {
	doc, err := Parse([]byte(`<a:Score xmlns:a="urn:a"><a:NOTE/><note/><b/></a:Score>`))
	if err != nil {
		t.Fatal(err)
	}
	n, err := doc.CountLocal("note")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("CountLocal(note) = %d, want 2", n)
	}
}
