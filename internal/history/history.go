// Package history records pipeline runs in SQLite and archives their source
// documents by digest.
//
// Build modes:
//   - Default (CGO_ENABLED=0): pure Go modernc.org/sqlite
//   - CGO mode (CGO_ENABLED=1 -tags cgo_sqlite): mattn/go-sqlite3
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jinjin-jara/violin-fingering/core/cas"
	ferrors "github.com/jinjin-jara/violin-fingering/core/errors"
	"github.com/jinjin-jara/violin-fingering/core/pipeline"
	"github.com/jinjin-jara/violin-fingering/internal/logging"
)

// DefaultLimit is the number of runs List returns when limit is not positive.
const DefaultLimit = 20

// MaxLimit caps List.
const MaxLimit = 500

// timeLayout is fixed-width so started_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	started_at    TEXT NOT NULL,
	document_name TEXT NOT NULL,
	digest        TEXT NOT NULL,
	success       INTEGER NOT NULL,
	category      TEXT NOT NULL,
	error         TEXT NOT NULL,
	notes         INTEGER NOT NULL,
	fingered      INTEGER NOT NULL,
	unplayable    INTEGER NOT NULL,
	key_name      TEXT NOT NULL,
	result_json   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS runs_digest ON runs(digest);
`

// Info describes the SQLite driver compiled in.
type Info struct {
	DriverName string `json:"driver_name"`
	DriverType string `json:"driver_type"`
	Package    string `json:"package"`
}

// DriverName returns the database/sql driver name in use.
func DriverName() string { return driverName }

// DriverType returns "purego" or "cgo".
func DriverType() string { return driverType }

// GetInfo returns the active driver configuration.
func GetInfo() Info {
	return Info{DriverName: driverName, DriverType: driverType, Package: driverPackage}
}

// Config locates the store on disk.
type Config struct {
	// Path is the SQLite database file. ":memory:" keeps everything in memory.
	Path string
	// ArchiveDir holds source documents. Empty disables archiving.
	ArchiveDir string
}

// Run is one recorded pipeline run.
type Run struct {
	ID           string           `json:"id"`
	StartedAt    time.Time        `json:"startedAt"`
	DocumentName string           `json:"documentName"`
	Digest       string           `json:"digest"`
	Success      bool             `json:"success"`
	Category     string           `json:"category,omitempty"`
	Error        string           `json:"error,omitempty"`
	Notes        int              `json:"notes"`
	Fingered     int              `json:"fingered"`
	Unplayable   int              `json:"unplayable"`
	Key          string           `json:"key,omitempty"`
	Result       *pipeline.Result `json:"result,omitempty"`
}

// Store is the run history.
type Store struct {
	db      *sql.DB
	archive *cas.Store
}

// Open opens (and creates if needed) the history store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, ferrors.NewValidation("path", "history database path is empty")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, ferrors.NewIO("create directory for", cfg.Path, err)
		}
	}

	db, err := sql.Open(driverName, cfg.Path)
	if err != nil {
		return nil, ferrors.NewIO("open", cfg.Path, err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing history schema: %w", err)
		}
	}

	s := &Store{db: db}
	if cfg.ArchiveDir != "" {
		archive, err := cas.NewStore(cfg.ArchiveDir)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.archive = archive
	}
	logging.Debug("history store opened", "path", cfg.Path, "driver", driverType, "archive", cfg.ArchiveDir != "")
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a run and, when archiving is enabled, its source document.
func (s *Store) Record(ctx context.Context, name string, document []byte, res pipeline.Result) error {
	if s.archive != nil && len(document) > 0 {
		if _, err := s.archive.Put(document); err != nil {
			return fmt.Errorf("archiving document: %w", err)
		}
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	keyName := ""
	if res.Key != nil {
		keyName = res.Key.Signature.String()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, document_name, digest, success, category, error,
			notes, fingered, unplayable, key_name, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.StartedAt.UTC().Format(timeLayout), name, res.Digest.BLAKE3,
		boolInt(res.Success), res.Category, res.Error,
		res.Stats.Notes, res.Stats.Fingered, res.Stats.Unplayable, keyName, string(payload))
	if err != nil {
		return fmt.Errorf("recording run %s: %w", res.RunID, err)
	}
	logging.InfoContext(ctx, "run recorded", "run_id", res.RunID, "digest", res.Digest.Short())
	return nil
}

// List returns the most recent runs, newest first, without their results.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, document_name, digest, success, category, error,
			notes, fingered, unplayable, key_name
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows, false)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get returns one run with its full result.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, document_name, digest, success, category, error,
			notes, fingered, unplayable, key_name, result_json
		FROM runs WHERE id = ?`, id)
	r, err := scanRun(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ferrors.NewNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Document returns the archived source document of a run.
func (s *Store) Document(ctx context.Context, id string) ([]byte, error) {
	if s.archive == nil {
		return nil, ferrors.NewUnsupported("document archive", "archiving is disabled")
	}
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.archive.Get(r.Digest)
	if errors.Is(err, cas.ErrDocumentNotFound) || errors.Is(err, cas.ErrInvalidDigest) {
		return nil, ferrors.NewNotFound("document", id)
	}
	return data, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner, withResult bool) (Run, error) {
	var (
		r         Run
		startedAt string
		success   int
		payload   string
	)
	dest := []any{&r.ID, &startedAt, &r.DocumentName, &r.Digest, &success, &r.Category, &r.Error,
		&r.Notes, &r.Fingered, &r.Unplayable, &r.Key}
	if withResult {
		dest = append(dest, &payload)
	}
	if err := sc.Scan(dest...); err != nil {
		return Run{}, err
	}
	r.Success = success != 0
	t, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: bad timestamp %q: %w", r.ID, startedAt, err)
	}
	r.StartedAt = t
	if withResult {
		var res pipeline.Result
		if err := json.Unmarshal([]byte(payload), &res); err != nil {
			return Run{}, fmt.Errorf("run %s: decoding result: %w", r.ID, err)
		}
		r.Result = &res
	}
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
