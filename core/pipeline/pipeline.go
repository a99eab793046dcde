// Package pipeline runs one document through decoding, normalization, key
// resolution, fingering and overlay mapping.
//
// A run never panics and never returns an error: every failure becomes a
// Result with Success=false, a one-line Error, a Category and the
// diagnostics gathered up to that point.
package pipeline

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jinjin-jara/violin-fingering/core/cas"
	"github.com/jinjin-jara/violin-fingering/core/diag"
	ferrors "github.com/jinjin-jara/violin-fingering/core/errors"
	"github.com/jinjin-jara/violin-fingering/core/fingering"
	"github.com/jinjin-jara/violin-fingering/core/key"
	"github.com/jinjin-jara/violin-fingering/core/notation"
	"github.com/jinjin-jara/violin-fingering/core/overlay"
	"github.com/jinjin-jara/violin-fingering/core/pageimage"
)

// Input is everything one run needs.
type Input struct {
	Document     []byte
	DocumentName string
	// Image is the rendered page; optional. Its size becomes the display
	// bounds when Overlay does not set them.
	Image []byte
	// Overlay defaults to overlay.DefaultConfig when nil.
	Overlay *overlay.Config
	// OverlayDocument is a YAML or JSON overlay configuration. When set it
	// replaces Overlay and its unknown keys are reported in the run's logs.
	// An unreadable document falls back to the defaults with a diagnostic.
	OverlayDocument []byte
	// Key overrides the document's key signature, e.g. "Bb major" or "F#m".
	Key string
}

// Stats summarizes a run.
type Stats struct {
	Notes      int `json:"notes"`
	Fingered   int `json:"fingered"`
	Unplayable int `json:"unplayable"`
	Rests      int `json:"rests"`
	Skipped    int `json:"skipped"`
	Clipped    int `json:"clipped"`
}

// Result is the outcome of one run.
type Result struct {
	RunID      string                  `json:"runId"`
	Success    bool                    `json:"success"`
	Error      string                  `json:"error,omitempty"`
	Category   string                  `json:"category,omitempty"`
	Logs       []string                `json:"logs"`
	Key        *key.Key                `json:"key,omitempty"`
	Time       *notation.TimeSignature `json:"time,omitempty"`
	Notes      []notation.Note         `json:"notes"`
	Fingerings []fingering.Fingering   `json:"fingerings"`
	Placements []overlay.Placement     `json:"placements"`
	Page       pageimage.Dimensions    `json:"page"`
	Stats      Stats                   `json:"stats"`
	Digest     cas.Digest              `json:"digest"`
	StartedAt  time.Time               `json:"startedAt"`
	Elapsed    time.Duration           `json:"elapsedNs"`
}

// Runner carries the clock and ID source. The zero value uses the wall clock
// and random UUIDs.
type Runner struct {
	Now   func() time.Time
	NewID func() string
}

// Run executes a run with the default Runner.
func Run(in Input) Result {
	return Runner{}.Run(in)
}

// Run executes one run.
func (r Runner) Run(in Input) (res Result) {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	newID := r.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}

	log := &diag.Log{Now: now}
	name := in.DocumentName
	if name == "" {
		name = "document"
	}

	res = Result{
		RunID:      newID(),
		Notes:      []notation.Note{},
		Fingerings: []fingering.Fingering{},
		Placements: []overlay.Placement{},
		StartedAt:  now().UTC(),
	}
	logger := slog.Default().With("run_id", res.RunID)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("run panicked", "panic", p)
			log.Addf(diag.StagePipeline, "internal failure: %v", p)
			res = failed(res, fmt.Errorf("internal failure: %v", p), log)
		}
		res.Elapsed = now().Sub(res.StartedAt)
	}()

	if len(in.Document) > 0 {
		res.Digest = cas.Hash(in.Document)
	}
	logger.Info("run started", "document", name, "digest", res.Digest.Short())

	tree, err := notation.Decode(name, in.Document, log)
	if err != nil {
		return failed(res, err, log)
	}
	score, err := notation.Normalize(tree, log)
	if err != nil {
		return failed(res, err, log)
	}

	k := score.Key
	if in.Key != "" {
		if override, err := key.ParseName(in.Key); err != nil {
			log.Addf(diag.StageKey, "key override %q ignored: %v", in.Key, err)
		} else {
			log.Addf(diag.StageKey, "key override %s replaces %s", override.Signature, k.Signature)
			k = override
		}
	}

	notes := notation.ResolveAccidentals(score.Notes, k)
	assignment := fingering.AssignAll(notes, log)

	cfg := overlay.DefaultConfig()
	if in.Overlay != nil {
		cfg = *in.Overlay
	}
	if len(in.OverlayDocument) > 0 {
		loaded, err := overlay.LoadConfig(bytes.NewReader(in.OverlayDocument), log)
		if err != nil {
			log.Addf(diag.StageOverlay, "overlay config unreadable: %v; defaults used", err)
			loaded = overlay.DefaultConfig()
		}
		cfg = loaded
	}
	cfg = cfg.Normalize(log)
	if len(in.Image) > 0 {
		dims, err := pageimage.Probe(in.Image)
		if err != nil {
			log.Addf(diag.StageImage, "page image unreadable: %v; clipping uses configured bounds", err)
		} else {
			res.Page = dims
			cfg = cfg.WithBounds(dims.Width, dims.Height)
		}
	}
	if !res.Page.Known() && cfg.DisplayBounds.Known() {
		res.Page = pageimage.Dimensions{Width: int(cfg.DisplayBounds.Width), Height: int(cfg.DisplayBounds.Height)}
	}
	placements := overlay.MapAll(assignment.Fingerings, cfg)

	res.Success = true
	res.Key = &k
	res.Time = score.Time
	res.Notes = notes
	res.Fingerings = assignment.Fingerings
	res.Placements = placements
	res.Stats = Stats{
		Notes:      len(notes),
		Fingered:   len(assignment.Fingerings),
		Unplayable: len(assignment.Unplayable),
		Rests:      score.Stats.Rests,
		Skipped:    score.Stats.Skipped,
		Clipped:    countClipped(placements),
	}
	log.Addf(diag.StagePipeline, "%d of %d notes fingered, %d clipped",
		res.Stats.Fingered, res.Stats.Notes, res.Stats.Clipped)
	res.Logs = log.Lines()

	logger.Info("run finished", "notes", res.Stats.Notes, "fingered", res.Stats.Fingered,
		"unplayable", res.Stats.Unplayable, "key", k.Signature.String())
	return res
}

func failed(res Result, err error, log *diag.Log) Result {
	res.Success = false
	res.Error = err.Error()
	res.Category = ferrors.Category(err)
	res.Key = nil
	res.Time = nil
	res.Notes = []notation.Note{}
	res.Fingerings = []fingering.Fingering{}
	res.Placements = []overlay.Placement{}
	res.Logs = log.Lines()
	slog.Warn("run failed", "run_id", res.RunID, "category", res.Category, "error", res.Error)
	return res
}

func countClipped(ps []overlay.Placement) int {
	n := 0
	for _, p := range ps {
		if p.Clipped {
			n++
		}
	}
	return n
}
