// Package overlay maps fingerings onto the screen-space anchors a renderer
// uses to draw them over the source page.
//
// The mapper never drops a fingering: anchors near the page edge are flagged
// as clipped and left to the renderer.
package overlay

import (
	"strconv"

	"github.com/jinjin-jara/violin-fingering/core/fingering"
)

// Placement tells the renderer where and what to draw for one fingering.
type Placement struct {
	AnchorX     float64            `json:"anchorX"`
	AnchorY     float64            `json:"anchorY"`
	RenderScale float64            `json:"renderScale"`
	Clipped     bool               `json:"clipped"`
	Label       string             `json:"label"`
	String      fingering.String   `json:"string"`
	Position    fingering.Position `json:"position"`
	NoteIndex   int                `json:"noteIndex"`
}

// Map computes the placement of f under cfg. cfg is expected to be
// normalized.
func Map(f fingering.Fingering, cfg Config) Placement {
	rawX := f.Note.X + cfg.AxisOffsets.X
	rawY := f.Note.Y + cfg.AxisOffsets.Y - cfg.AnchorOffset

	return Placement{
		AnchorX:     rawX * cfg.Scale,
		AnchorY:     rawY * cfg.Scale,
		RenderScale: cfg.Scale,
		Clipped:     clipped(rawX, rawY, cfg),
		Label:       Label(f.Finger, cfg.LabelStyle),
		String:      f.String,
		Position:    f.Position,
		NoteIndex:   f.Note.Index,
	}
}

// MapAll maps fingerings in order.
func MapAll(fs []fingering.Fingering, cfg Config) []Placement {
	out := make([]Placement, len(fs))
	for i, f := range fs {
		out[i] = Map(f, cfg)
	}
	return out
}

// clipped tests the unscaled anchor against the page bounds less the margin.
func clipped(x, y float64, cfg Config) bool {
	b := cfg.DisplayBounds
	if !b.Known() {
		return false
	}
	m := cfg.Margin
	return x < m || y < m || x > b.Width-m || y > b.Height-m
}

// Label renders a finger index in the given style.
func Label(finger int, style LabelStyle) string {
	if style == LabelSlot && finger > 0 {
		return strconv.Itoa(finger - 1)
	}
	return strconv.Itoa(finger)
}
