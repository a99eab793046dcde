package overlay

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jinjin-jara/violin-fingering/core/diag"
	"github.com/jinjin-jara/violin-fingering/core/fingering"
	"github.com/jinjin-jara/violin-fingering/core/notation"
)

func fingerAt(x, y float64, finger int) fingering.Fingering {
	return fingering.Fingering{
		String:   fingering.StringA,
		Finger:   finger,
		Position: fingering.FirstPosition,
		Note:     notation.Note{Index: 3, X: x, Y: y},
	}
}

// TestMapDefaults verifies the anchor arithmetic with default settings.
func TestMapDefaults(t *testing.T) {
	cfg := DefaultConfig()
	p := Map(fingerAt(100, 50, 2), cfg)

	want := Placement{
		AnchorX:     200,
		AnchorY:     (50 - 12) * 2,
		RenderScale: 2,
		Label:       "2",
		String:      fingering.StringA,
		Position:    fingering.FirstPosition,
		NoteIndex:   3,
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("Map mismatch (-want +got):\n%s", diff)
	}
}

// TestMapOffsets verifies axis offsets are applied before scaling.
func TestMapOffsets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scale = 1.5
	cfg.AxisOffsets = Offsets{X: 10, Y: -4}
	cfg.AnchorOffset = 0
	p := Map(fingerAt(20, 40, 1), cfg)
	if p.AnchorX != 45 || p.AnchorY != 54 {
		t.Errorf("anchor = (%v,%v), want (45,54)", p.AnchorX, p.AnchorY)
	}
}

// TestClipping verifies anchors within the margin are flagged, never dropped.
func TestClipping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DisplayBounds = Bounds{Width: 200, Height: 300}

	tests := []struct {
		name    string
		x, y    float64
		clipped bool
	}{
		{"inside", 100, 100, false},
		{"left edge", 5, 100, true},
		{"top edge", 100, 12 + 5, true},
		{"right edge", 195, 100, true},
		{"bottom edge", 100, 310, true},
		{"exactly on margin", 10, 22, false},
	}
	fs := make([]fingering.Fingering, len(tests))
	for i, tt := range tests {
		fs[i] = fingerAt(tt.x, tt.y, 1)
	}
	ps := MapAll(fs, cfg)
	if len(ps) != len(tests) {
		t.Fatalf("MapAll returned %d placements, want %d", len(ps), len(tests))
	}
	for i, tt := range tests {
		if ps[i].Clipped != tt.clipped {
			t.Errorf("%s: clipped = %v, want %v", tt.name, ps[i].Clipped, tt.clipped)
		}
	}
}

// TestUnknownBoundsNeverClip verifies 0x0 bounds disable clipping.
func TestUnknownBoundsNeverClip(t *testing.T) {
	p := Map(fingerAt(-50, -50, 0), DefaultConfig())
	if p.Clipped {
		t.Error("nothing should clip with unknown bounds")
	}
}

// TestLabels verifies both label styles.
func TestLabels(t *testing.T) {
	tests := []struct {
		finger    int
		canonical string
		slot      string
	}{
		{0, "0", "0"},
		{1, "1", "0"},
		{3, "3", "2"},
		{4, "4", "3"},
	}
	for _, tt := range tests {
		if got := Label(tt.finger, LabelCanonical); got != tt.canonical {
			t.Errorf("canonical(%d) = %s, want %s", tt.finger, got, tt.canonical)
		}
		if got := Label(tt.finger, LabelSlot); got != tt.slot {
			t.Errorf("slot(%d) = %s, want %s", tt.finger, got, tt.slot)
		}
	}
}

// TestNormalize verifies invalid values are reset with a diagnostic.
func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		check  func(Config) bool
	}{
		{"zero scale", func(c *Config) { c.Scale = 0 }, func(c Config) bool { return c.Scale == DefaultScale }},
		{"negative scale", func(c *Config) { c.Scale = -1 }, func(c Config) bool { return c.Scale == DefaultScale }},
		{"nan scale", func(c *Config) { c.Scale = math.NaN() }, func(c Config) bool { return c.Scale == DefaultScale }},
		{"negative margin", func(c *Config) { c.Margin = -3 }, func(c Config) bool { return c.Margin == DefaultMargin }},
		{"inf anchor", func(c *Config) { c.AnchorOffset = math.Inf(1) }, func(c Config) bool { return c.AnchorOffset == DefaultAnchorOffset }},
		{"negative bounds", func(c *Config) { c.DisplayBounds = Bounds{Width: -1, Height: 10} }, func(c Config) bool { return !c.DisplayBounds.Known() }},
		{"bad label", func(c *Config) { c.LabelStyle = "roman" }, func(c Config) bool { return c.LabelStyle == LabelCanonical }},
		{"nan offset", func(c *Config) { c.AxisOffsets.Y = math.NaN() }, func(c Config) bool { return c.AxisOffsets == Offsets{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			log := diag.New()
			got := cfg.Normalize(log)
			if !tt.check(got) {
				t.Errorf("Normalize did not reset value: %+v", got)
			}
			if log.Len() != 1 {
				t.Errorf("log has %d lines, want 1: %v", log.Len(), log.Lines())
			}
		})
	}

	log := diag.New()
	if got := DefaultConfig().Normalize(log); got != DefaultConfig() || log.Len() != 0 {
		t.Errorf("defaults changed by Normalize: %+v %v", got, log.Lines())
	}
}

// TestLoadConfig verifies YAML loading over defaults and unknown-key reporting.
func TestLoadConfig(t *testing.T) {
	src := `
scale: 3
axisOffsets:
  x: 4
  z: 9
margin: 5
labelStyle: slot
colour: red
`
	log := diag.New()
	cfg, err := LoadConfig(strings.NewReader(src), log)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	want := Config{
		Scale:        3,
		AxisOffsets:  Offsets{X: 4},
		AnchorOffset: DefaultAnchorOffset,
		Margin:       5,
		LabelStyle:   LabelSlot,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	lines := strings.Join(log.Lines(), "\n")
	for _, key := range []string{`"colour"`, `"axisOffsets.z"`} {
		if !strings.Contains(lines, key) {
			t.Errorf("unknown key %s not reported in %q", key, lines)
		}
	}
}

// TestLoadConfigInvalid verifies malformed YAML and invalid values.
func TestLoadConfigInvalid(t *testing.T) {
	if _, err := LoadConfig(strings.NewReader("scale: [1, 2"), diag.New()); err == nil {
		t.Error("broken YAML should fail")
	}
	if _, err := LoadConfig(strings.NewReader("- 1\n- 2\n"), diag.New()); err == nil {
		t.Error("a sequence should fail")
	}

	log := diag.New()
	cfg, err := LoadConfig(strings.NewReader("scale: -2\n"), log)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scale != DefaultScale || log.Len() != 1 {
		t.Errorf("scale = %v with %d diagnostics, want default with 1", cfg.Scale, log.Len())
	}

	cfg, err = LoadConfig(strings.NewReader(""), diag.New())
	if err != nil || cfg != DefaultConfig() {
		t.Errorf("empty config = %+v, %v; want defaults", cfg, err)
	}
}

// TestLoadConfigFile verifies reading from disk.
func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	if err := os.WriteFile(path, []byte("displayBounds: {width: 800, height: 1000}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path, diag.New())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DisplayBounds != (Bounds{Width: 800, Height: 1000}) {
		t.Errorf("bounds = %+v", cfg.DisplayBounds)
	}
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"), diag.New()); err == nil {
		t.Error("missing file should fail")
	}
}

// TestWithBounds verifies image dimensions only fill unset bounds.
func TestWithBounds(t *testing.T) {
	cfg := DefaultConfig().WithBounds(640, 480)
	if cfg.DisplayBounds != (Bounds{Width: 640, Height: 480}) {
		t.Errorf("bounds = %+v", cfg.DisplayBounds)
	}
	cfg = cfg.WithBounds(10, 10)
	if cfg.DisplayBounds.Width != 640 {
		t.Error("configured bounds should not be overridden")
	}
}
