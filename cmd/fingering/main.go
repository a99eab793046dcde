// Command fingering assigns violin fingerings to recognized sheet music.
// It runs the pipeline on a single document, answers lookups for single
// pitches and key signatures, serves the REST API and browses run history.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"

	"github.com/jinjin-jara/violin-fingering/core/diag"
	"github.com/jinjin-jara/violin-fingering/core/fingering"
	"github.com/jinjin-jara/violin-fingering/core/key"
	"github.com/jinjin-jara/violin-fingering/core/notation"
	"github.com/jinjin-jara/violin-fingering/core/overlay"
	"github.com/jinjin-jara/violin-fingering/core/pipeline"
	"github.com/jinjin-jara/violin-fingering/core/pitch"
	"github.com/jinjin-jara/violin-fingering/internal/api"
	"github.com/jinjin-jara/violin-fingering/internal/history"
	"github.com/jinjin-jara/violin-fingering/internal/logging"
)

// CLI defines the command-line interface for fingering.
type CLI struct {
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)" default:"warn" enum:"debug,info,warn,error"`
	LogFormat string `name:"log-format" help:"Log format (json, text)" default:"text" enum:"json,text"`

	Run     RunCmd       `cmd:"" help:"Finger a recognized document and print the result as JSON"`
	Lookup  LookupCmd    `cmd:"" help:"List fingering candidates for a pitch such as F#4"`
	Key     KeyCmd       `cmd:"" help:"Resolve a key signature"`
	Serve   ServeCmd     `cmd:"" help:"Start the REST API server"`
	History HistoryGroup `cmd:"" help:"Browse recorded runs"`
	Version VersionCmd   `cmd:"" help:"Print version information"`
}

// AfterApply installs the logger before any command runs.
func (c *CLI) AfterApply() error {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(c.LogFormat)
	if err != nil {
		return err
	}
	logging.InitLogger(level, format)
	return nil
}

// RunCmd runs the pipeline on one document.
type RunCmd struct {
	Document string `arg:"" help:"MusicXML or JSON document (plain, .xz or .mxl)" type:"existingfile"`
	Image    string `help:"Rendered page image, used for clipping bounds" type:"existingfile"`
	Config   string `help:"Overlay configuration (YAML)" type:"existingfile"`
	Key      string `help:"Key override, e.g. 'Bb major' or F#m"`
	Out      string `short:"o" help:"Write the result to this file instead of stdout" type:"path"`
	History  string `help:"Record the run in this history database" type:"path"`
	Archive  string `help:"Document archive directory (default: 'archive' next to the database)" type:"path"`
}

func (c *RunCmd) Run(ctx *kong.Context) error {
	doc, err := os.ReadFile(c.Document)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}
	in := pipeline.Input{
		Document:     doc,
		DocumentName: filepath.Base(c.Document),
		Key:          c.Key,
	}
	if c.Image != "" {
		if in.Image, err = os.ReadFile(c.Image); err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
	}
	if c.Config != "" {
		if in.OverlayDocument, err = os.ReadFile(c.Config); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	res := pipeline.Run(in)

	if c.History != "" {
		store, err := openHistory(context.Background(), c.History, c.Archive)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Record(context.Background(), in.DocumentName, doc, res); err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
	}

	out := ctx.Stdout
	if c.Out != "" {
		f, err := os.Create(c.Out)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := writeJSON(out, res); err != nil {
		return err
	}

	if !res.Success {
		return fmt.Errorf("run failed (%s): %s", res.Category, res.Error)
	}
	return nil
}

// LookupCmd lists the fingering candidates for one pitch.
type LookupCmd struct {
	Pitch string `arg:"" help:"Pitch literal, e.g. G4, F#4, Bb3"`
	Key   string `help:"Apply this key signature to an unmarked pitch"`
	JSON  bool   `name:"json" help:"Print candidates as JSON"`
}

func (c *LookupCmd) Run(ctx *kong.Context) error {
	p, err := pitch.Parse(c.Pitch)
	if err != nil {
		return err
	}
	note := notation.Note{Letter: p.Letter, Accidental: p.Accidental, Octave: p.Octave}
	if c.Key != "" {
		k, err := key.ParseName(c.Key)
		if err != nil {
			return err
		}
		note = notation.ResolveAccidentals([]notation.Note{note}, k)[0]
	}
	h, ok := note.Height()
	if !ok {
		return fmt.Errorf("pitch %s has no height", c.Pitch)
	}

	candidates := fingering.Candidates(note)
	if c.JSON {
		if candidates == nil {
			candidates = []fingering.Fingering{}
		}
		return writeJSON(ctx.Stdout, candidates)
	}

	fmt.Fprintf(ctx.Stdout, "%s (height %d)\n", note.Pitch(), h)
	if len(candidates) == 0 {
		fmt.Fprintf(ctx.Stdout, "  unplayable: outside %d-%d\n", fingering.LowestHeight, fingering.HighestHeight)
		return nil
	}
	for i, f := range candidates {
		fmt.Fprintf(ctx.Stdout, "  %d. %s\n", i+1, f.Describe())
	}
	return nil
}

// KeyCmd resolves a signature count, or separate sharp and flat counts,
// into a key name and the letters it alters.
type KeyCmd struct {
	Count  string `arg:"" optional:"" help:"Signed count, or a count with a suffix: 3, 3#, 2b"`
	Mode   string `help:"Mode (major, minor)" default:"major"`
	Sharps int    `help:"Number of sharps"`
	Flats  int    `help:"Number of flats"`
}

func (c *KeyCmd) Run(ctx *kong.Context) error {
	log := &diag.Log{}
	count := key.SignedCount(c.Sharps, c.Flats, log)
	if c.Count != "" {
		if c.Sharps > 0 || c.Flats > 0 {
			return fmt.Errorf("give either a count or --sharps/--flats, not both")
		}
		n, err := parseCount(c.Count)
		if err != nil {
			return err
		}
		count = n
	}

	k := key.Resolve(count, key.ParseMode(c.Mode, log), log)
	fmt.Fprintf(ctx.Stdout, "%s (fifths %d)\n", k.Signature, k.Signature.Count)
	if k.Map.Len() == 0 {
		fmt.Fprintln(ctx.Stdout, "  no accidentals")
	} else {
		letters := make([]string, k.Map.Len())
		for i, l := range k.Map.Letters {
			letters[i] = string(l) + k.Map.Accidental.Symbol()
		}
		fmt.Fprintf(ctx.Stdout, "  %s\n", strings.Join(letters, " "))
	}
	for _, line := range log.Lines() {
		fmt.Fprintln(ctx.Stderr, line)
	}
	return nil
}

// parseCount reads "3", "-2", "3#" or "2b".
func parseCount(s string) (int, error) {
	s = strings.TrimSpace(s)
	sign := 1
	switch {
	case strings.HasSuffix(s, "#"):
		s = strings.TrimSuffix(s, "#")
	case strings.HasSuffix(s, "b"):
		s, sign = strings.TrimSuffix(s, "b"), -1
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid signature count %q", s)
	}
	if sign < 0 && n < 0 {
		return 0, fmt.Errorf("invalid signature count %q", s)
	}
	return sign * n, nil
}

// ServeCmd starts the REST API server.
type ServeCmd struct {
	Port           int           `help:"HTTP server port" default:"8080"`
	History        string        `help:"History database (empty disables run history)" type:"path"`
	Archive        string        `help:"Document archive directory (default: 'archive' next to the database)" type:"path"`
	CacheTTL       time.Duration `name:"cache-ttl" help:"Result cache lifetime (0 disables caching)" default:"5m"`
	MaxUpload      string        `name:"max-upload" help:"Largest accepted request body" default:"96MiB"`
	Config         string        `help:"Default overlay configuration (YAML)" type:"existingfile"`
	Workers        int           `help:"Concurrent asynchronous jobs" default:"4"`
	RateLimit      int           `name:"rate-limit" help:"Requests per minute per client (0 disables)"`
	Burst          int           `help:"Rate limit burst size" default:"10"`
	AllowedOrigins []string      `name:"allowed-origin" help:"Allowed CORS and WebSocket origin (repeatable)"`
	TLSCert        string        `name:"tls-cert" help:"TLS certificate file" type:"path"`
	TLSKey         string        `name:"tls-key" help:"TLS private key file" type:"path"`
}

func (c *ServeCmd) Run() error {
	cfg, err := c.config()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *history.Store
	if c.History != "" {
		if store, err = openHistory(ctx, c.History, c.Archive); err != nil {
			return err
		}
		defer store.Close()
	}
	return api.NewServer(cfg, store).Start(ctx)
}

// config builds the server configuration from flags and the environment.
func (c *ServeCmd) config() (api.Config, error) {
	cfg := api.DefaultConfig()
	cfg.Port = c.Port
	cfg.CacheTTL = c.CacheTTL
	cfg.JobWorkers = c.Workers
	cfg.RateLimitRequests = c.RateLimit
	cfg.RateLimitBurst = c.Burst
	cfg.AllowedOrigins = c.AllowedOrigins

	size, err := humanize.ParseBytes(c.MaxUpload)
	if err != nil {
		return cfg, fmt.Errorf("invalid --max-upload: %w", err)
	}
	cfg.MaxUploadBytes = int64(size)

	if c.Config != "" {
		log := &diag.Log{}
		if cfg.Overlay, err = overlay.LoadConfigFile(c.Config, log); err != nil {
			return cfg, err
		}
		for _, line := range log.Lines() {
			logging.Warn("overlay config", "diagnostic", line)
		}
	}

	if apiKey := os.Getenv(api.APIKeyEnv); apiKey != "" {
		cfg.Auth = api.AuthConfig{Enabled: true, APIKey: apiKey}
	}
	if c.TLSCert != "" || c.TLSKey != "" {
		cfg.TLS = api.TLSConfig{Enabled: true, CertFile: c.TLSCert, KeyFile: c.TLSKey}
	}
	return cfg, cfg.Validate()
}

// HistoryGroup lists recorded runs; `history show` prints one.
type HistoryGroup struct {
	List HistoryListCmd `cmd:"" default:"withargs" help:"List recent runs"`
	Show HistoryShowCmd `cmd:"" help:"Print one stored run as JSON"`
}

// HistoryListCmd lists recent runs.
type HistoryListCmd struct {
	DB    string `name:"db" help:"History database" default:"fingering-history.db" type:"path"`
	Limit int    `help:"Number of runs to list" default:"20"`
}

func (c *HistoryListCmd) Run(ctx *kong.Context) error {
	store, err := openHistory(context.Background(), c.DB, "")
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(context.Background(), c.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(ctx.Stdout, "No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(ctx.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDOCUMENT\tSTATUS\tKEY\tFINGERED")
	for _, r := range runs {
		status := "ok"
		if !r.Success {
			status = r.Category
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\n",
			r.ID, humanize.Time(r.StartedAt), r.DocumentName, status, r.Key, r.Fingered, r.Notes)
	}
	return w.Flush()
}

// HistoryShowCmd prints one stored run including its result.
type HistoryShowCmd struct {
	ID string `arg:"" help:"Run ID"`
	DB string `name:"db" help:"History database" default:"fingering-history.db" type:"path"`
}

func (c *HistoryShowCmd) Run(ctx *kong.Context) error {
	store, err := openHistory(context.Background(), c.DB, "")
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.Get(context.Background(), c.ID)
	if err != nil {
		return err
	}
	return writeJSON(ctx.Stdout, run)
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(ctx *kong.Context) error {
	fmt.Fprintf(ctx.Stdout, "fingering version %s\n", api.Version)
	return nil
}

// openHistory opens a history database with its document archive; the
// archive defaults to a directory named "archive" beside the database.
func openHistory(ctx context.Context, path, archive string) (*history.Store, error) {
	if archive == "" {
		archive = filepath.Join(filepath.Dir(path), "archive")
	}
	return history.Open(ctx, history.Config{Path: path, ArchiveDir: archive})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func newParser(cli *CLI, stdout, stderr io.Writer) (*kong.Kong, error) {
	return kong.New(cli,
		kong.Name("fingering"),
		kong.Description("Violin fingering assignment for recognized sheet music"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Writers(stdout, stderr),
	)
}

func main() {
	var cli CLI
	parser, err := newParser(&cli, os.Stdout, os.Stderr)
	if err != nil {
		panic(err)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	err = ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
