package overlay

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jinjin-jara/violin-fingering/core/diag"
)

// Defaults for the overlay configuration.
const (
	DefaultScale        = 2.0
	DefaultAnchorOffset = 12.0
	DefaultMargin       = 10.0
)

// maxConfigBytes bounds a configuration file.
const maxConfigBytes = 1 << 20

// LabelStyle selects how a finger index is shown.
type LabelStyle string

const (
	// LabelCanonical shows the finger index 0-4 as is.
	LabelCanonical LabelStyle = "canonical"
	// LabelSlot shows finger-1 for stopped notes, matching the legacy display.
	LabelSlot LabelStyle = "slot"
)

// Offsets shifts page coordinates before scaling.
type Offsets struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Bounds are the unscaled page dimensions. Zero bounds disable clipping.
type Bounds struct {
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
}

// Known reports whether both dimensions are set.
func (b Bounds) Known() bool {
	return b.Width > 0 && b.Height > 0
}

// Config controls how fingerings are positioned on the rendered page.
type Config struct {
	Scale         float64    `yaml:"scale" json:"scale"`
	AxisOffsets   Offsets    `yaml:"axisOffsets" json:"axisOffsets"`
	AnchorOffset  float64    `yaml:"anchorOffset" json:"anchorOffset"`
	DisplayBounds Bounds     `yaml:"displayBounds" json:"displayBounds"`
	Margin        float64    `yaml:"margin" json:"margin"`
	LabelStyle    LabelStyle `yaml:"labelStyle" json:"labelStyle"`
}

// DefaultConfig returns the default overlay configuration.
func DefaultConfig() Config {
	return Config{
		Scale:        DefaultScale,
		AnchorOffset: DefaultAnchorOffset,
		Margin:       DefaultMargin,
		LabelStyle:   LabelCanonical,
	}
}

// Normalize returns a copy of c with every invalid value replaced by its
// default. Each replacement is recorded in log.
func (c Config) Normalize(log *diag.Log) Config {
	d := DefaultConfig()

	if !finite(c.Scale) || c.Scale <= 0 {
		log.Addf(diag.StageOverlay, "scale %v must be positive; using %v", c.Scale, d.Scale)
		c.Scale = d.Scale
	}
	if !finite(c.AnchorOffset) {
		log.Addf(diag.StageOverlay, "anchorOffset %v is not finite; using %v", c.AnchorOffset, d.AnchorOffset)
		c.AnchorOffset = d.AnchorOffset
	}
	if !finite(c.AxisOffsets.X) || !finite(c.AxisOffsets.Y) {
		log.Addf(diag.StageOverlay, "axisOffsets (%v,%v) not finite; using (0,0)", c.AxisOffsets.X, c.AxisOffsets.Y)
		c.AxisOffsets = Offsets{}
	}
	if !finite(c.Margin) || c.Margin < 0 {
		log.Addf(diag.StageOverlay, "margin %v must be non-negative; using %v", c.Margin, d.Margin)
		c.Margin = d.Margin
	}
	b := c.DisplayBounds
	if !finite(b.Width) || !finite(b.Height) || b.Width < 0 || b.Height < 0 {
		log.Addf(diag.StageOverlay, "displayBounds %vx%v invalid; clipping disabled", b.Width, b.Height)
		c.DisplayBounds = Bounds{}
	}
	switch c.LabelStyle {
	case LabelCanonical, LabelSlot:
	case "":
		c.LabelStyle = d.LabelStyle
	default:
		log.Addf(diag.StageOverlay, "labelStyle %q unknown; using %s", c.LabelStyle, d.LabelStyle)
		c.LabelStyle = d.LabelStyle
	}
	return c
}

// WithBounds fills in display bounds when none are configured.
func (c Config) WithBounds(width, height int) Config {
	if !c.DisplayBounds.Known() && width > 0 && height > 0 {
		c.DisplayBounds = Bounds{Width: float64(width), Height: float64(height)}
	}
	return c
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// knownKeys lists the accepted YAML keys per mapping level.
var knownKeys = map[string][]string{
	"":              {"scale", "axisOffsets", "anchorOffset", "displayBounds", "margin", "labelStyle"},
	"axisOffsets":   {"x", "y"},
	"displayBounds": {"width", "height"},
}

// LoadConfig reads a YAML configuration on top of the defaults. Unknown keys
// are reported in log and ignored. The result is normalized.
func LoadConfig(r io.Reader, log *diag.Log) (Config, error) {
	cfg := DefaultConfig()
	data, err := io.ReadAll(io.LimitReader(r, maxConfigBytes+1))
	if err != nil {
		return cfg, fmt.Errorf("reading overlay config: %w", err)
	}
	if len(data) > maxConfigBytes {
		return cfg, fmt.Errorf("overlay config exceeds %d bytes", maxConfigBytes)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg.Normalize(log), nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return cfg, fmt.Errorf("parsing overlay config: %w", err)
	}
	if len(doc.Content) == 0 {
		return cfg.Normalize(log), nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return cfg, fmt.Errorf("overlay config must be a mapping, got %s", kindName(root.Kind))
	}
	reportUnknown(root, "", log)

	if err := root.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding overlay config: %w", err)
	}
	return cfg.Normalize(log), nil
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string, log *diag.Log) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("opening overlay config: %w", err)
	}
	defer f.Close()
	return LoadConfig(f, log)
}

func reportUnknown(n *yaml.Node, level string, log *diag.Log) {
	allowed := knownKeys[level]
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if !contains(allowed, k.Value) {
			path := k.Value
			if level != "" {
				path = level + "." + k.Value
			}
			log.Addf(diag.StageOverlay, "unknown config key %q at line %d ignored", path, k.Line)
			continue
		}
		if _, nested := knownKeys[k.Value]; nested && level == "" && v.Kind == yaml.MappingNode {
			reportUnknown(v, k.Value, log)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.ScalarNode:
		return "a scalar"
	case yaml.AliasNode:
		return "an alias"
	default:
		return "an unknown node"
	}
}
