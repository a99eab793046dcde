package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jinjin-jara/violin-fingering/core/cas"
	ferrors "github.com/jinjin-jara/violin-fingering/core/errors"
	"github.com/jinjin-jara/violin-fingering/core/notation"
	"github.com/jinjin-jara/violin-fingering/core/overlay"
	"github.com/jinjin-jara/violin-fingering/core/pageimage"
	"github.com/jinjin-jara/violin-fingering/core/pipeline"
	"github.com/jinjin-jara/violin-fingering/internal/cache"
	"github.com/jinjin-jara/violin-fingering/internal/history"
	"github.com/jinjin-jara/violin-fingering/internal/logging"
)

const (
	// multipartMemory is how much of a multipart form is held in memory
	// before spilling to temporary files.
	multipartMemory = 8 << 20
	maxConfigUpload = 1 << 20
)

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	Total     int    `json:"total,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HealthInfo is the health check response.
type HealthInfo struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Uptime  string        `json:"uptime"`
	History *history.Info `json:"history,omitempty"`
	Cache   cache.Stats   `json:"cache"`
	Clients int           `json:"clients"`
	Jobs    int           `json:"jobs"`
}

// requestError is a client error detected before a run starts.
type requestError struct {
	status  int
	code    string
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(code, format string, args ...any) *requestError {
	return &requestError{status: http.StatusBadRequest, code: code, message: fmt.Sprintf(format, args...)}
}

func tooLarge(what string, limit int64) *requestError {
	return &requestError{
		status:  http.StatusRequestEntityTooLarge,
		code:    "TOO_LARGE",
		message: fmt.Sprintf("%s exceeds %s", what, humanize.IBytes(uint64(limit))),
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
		return
	}

	respond(w, http.StatusOK, map[string]interface{}{
		"name":    "Violin Fingering API",
		"version": Version,
		"endpoints": []string{
			"GET /health",
			"POST /fingerings",
			"GET /jobs",
			"POST /jobs",
			"GET /jobs/:id",
			"DELETE /jobs/:id",
			"GET /runs",
			"GET /runs/:id",
			"GET /runs/:id/document",
			"WS /ws",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	info := HealthInfo{
		Status:  "healthy",
		Version: Version,
		Uptime:  s.now().Sub(s.started).Round(time.Second).String(),
		Cache:   s.cache.Stats(),
		Clients: s.hub.ClientCount(),
		Jobs:    len(s.jobs.List()),
	}
	if s.history != nil {
		h := history.GetInfo()
		info.History = &h
	}
	respond(w, http.StatusOK, info)
}

// handleFingerings handles POST /fingerings: one synchronous pipeline run.
func (s *Server) handleFingerings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	in, err := s.readRunInput(w, r)
	if err != nil {
		respondRequestError(w, err)
		return
	}
	res, cached := s.process(r.Context(), in)
	respondResult(w, res, cached)
}

// readRunInput builds pipeline input from a multipart form (fields document,
// image, config, key) or from a raw body holding the document. Query
// parameters name and key apply to both forms.
func (s *Server) readRunInput(w http.ResponseWriter, r *http.Request) (pipeline.Input, error) {
	contentType := r.Header.Get("Content-Type")
	if !ValidateContentType(contentType, AllowedUploadContentTypes) {
		return pipeline.Input{}, &requestError{
			status:  http.StatusUnsupportedMediaType,
			code:    "UNSUPPORTED_MEDIA_TYPE",
			message: fmt.Sprintf("content type %q is not accepted", contentType),
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	q := r.URL.Query()
	in := pipeline.Input{DocumentName: q.Get("name"), Key: q.Get("key")}
	var config string

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return in, tooLarge("request", s.cfg.MaxUploadBytes)
			}
			return in, badRequest("INVALID_REQUEST", "Failed to parse multipart form")
		}
		defer r.MultipartForm.RemoveAll()

		doc, filename, err := formFile(r, "document", notation.MaxDocumentBytes)
		if err != nil {
			return in, err
		}
		if filename == "" {
			// A document sent as a plain form field.
			if v := r.FormValue("document"); v != "" {
				doc, filename = []byte(v), "document"
			} else {
				return in, badRequest("MISSING_DOCUMENT", "No document uploaded")
			}
		}
		in.Document = doc
		if in.DocumentName == "" {
			in.DocumentName = filename
		}

		if in.Image, _, err = formFile(r, "image", pageimage.MaxImageBytes); err != nil {
			return in, err
		}

		config = r.FormValue("config")
		if config == "" {
			data, _, err := formFile(r, "config", maxConfigUpload)
			if err != nil {
				return in, err
			}
			config = string(data)
		}
		if k := r.FormValue("key"); k != "" {
			in.Key = k
		}
	} else {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return in, tooLarge("request", s.cfg.MaxUploadBytes)
			}
			return in, badRequest("INVALID_REQUEST", "Failed to read request body")
		}
		if int64(len(data)) > notation.MaxDocumentBytes {
			return in, tooLarge("document", notation.MaxDocumentBytes)
		}
		in.Document = data
	}

	if strings.TrimSpace(config) != "" {
		if _, err := overlay.LoadConfig(strings.NewReader(config), nil); err != nil {
			return in, badRequest("INVALID_CONFIG", "%v", err)
		}
		in.OverlayDocument = []byte(config)
	} else {
		cfg := s.cfg.Overlay
		in.Overlay = &cfg
	}
	return in, nil
}

// formFile reads an optional multipart file field up to limit bytes. A
// missing field yields an empty filename and no error.
func formFile(r *http.Request, field string, limit int64) ([]byte, string, error) {
	f, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", badRequest("INVALID_REQUEST", "Failed to read %s", field)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, "", badRequest("INVALID_REQUEST", "Failed to read %s", field)
	}
	if int64(len(data)) > limit {
		return nil, "", tooLarge(field, limit)
	}
	return data, header.Filename, nil
}

// process runs the pipeline behind the result cache, records the run and
// broadcasts its outcome. It reports whether the result came from the cache.
func (s *Server) process(ctx context.Context, in pipeline.Input) (pipeline.Result, bool) {
	key := cacheKey(in)
	if res, ok := s.cache.Get(key); ok {
		logging.CacheEvent(ctx, "hit", key, "run_id", res.RunID)
		s.hub.Broadcast(resultEvent(res, in.DocumentName, true))
		return res, true
	}
	logging.CacheEvent(ctx, "miss", key)

	s.hub.Broadcast(RunEvent{
		Type:     EventRunStarted,
		Document: in.DocumentName,
		Message:  humanize.Bytes(uint64(len(in.Document))),
	})
	res := s.runner.Run(in)

	ctx = logging.WithRunID(ctx, res.RunID)
	logging.RunCompleted(ctx, res.RunID, res.Success, res.Category, res.Stats.Notes, res.Stats.Fingered,
		"elapsed", res.Elapsed.String())
	if res.Success {
		s.cache.Set(key, res)
	}
	if s.history != nil {
		if err := s.history.Record(ctx, in.DocumentName, in.Document, res); err != nil {
			logging.ErrorContext(ctx, "recording run failed", "error", err)
		}
	}
	s.hub.Broadcast(resultEvent(res, in.DocumentName, false))
	return res, false
}

// cacheKey identifies a run by the digests of its inputs and its options.
func cacheKey(in pipeline.Input) string {
	var image string
	if len(in.Image) > 0 {
		image = cas.Hash(in.Image).BLAKE3
	}
	payload, _ := json.Marshal(struct {
		Document        string          `json:"document"`
		Image           string          `json:"image"`
		Key             string          `json:"key"`
		Overlay         *overlay.Config `json:"overlay"`
		OverlayDocument string          `json:"overlayDocument"`
	}{cas.Hash(in.Document).BLAKE3, image, in.Key, in.Overlay, string(in.OverlayDocument)})
	return cas.Hash(payload).BLAKE3
}

// handleRuns handles GET /runs.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}
	if !s.requireHistory(w) {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.history.List(r.Context(), limit)
	if err != nil {
		logging.ErrorContext(r.Context(), "listing runs failed", "error", err)
		respondError(w, http.StatusInternalServerError, "HISTORY_ERROR", "Failed to list runs")
		return
	}
	respondList(w, runs, len(runs))
}

// handleRunByID handles GET /runs/{id}.
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	run, err := s.history.Get(r.Context(), id)
	if err != nil {
		respondHistoryError(w, r, err)
		return
	}
	respond(w, http.StatusOK, run)
}

// handleRunDocument handles GET /runs/{id}/document: the archived source bytes.
func (s *Server) handleRunDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	run, err := s.history.Get(r.Context(), id)
	if err != nil {
		respondHistoryError(w, r, err)
		return
	}
	data, err := s.history.Document(r.Context(), id)
	if err != nil {
		respondHistoryError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": run.DocumentName}))
	w.Header().Set("X-Content-Digest", run.Digest)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// runID validates the method, the history store and the {id} path value.
func (s *Server) runID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return "", false
	}
	if !s.requireHistory(w) {
		return "", false
	}
	id := r.PathValue("id")
	if err := ValidateID(id); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", err.Error())
		return "", false
	}
	return id, true
}

func (s *Server) requireHistory(w http.ResponseWriter) bool {
	if s.history == nil {
		respondError(w, http.StatusNotImplemented, "HISTORY_DISABLED", "Run history is not enabled on this server")
		return false
	}
	return true
}

func respondHistoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case ferrors.Is(err, ferrors.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case ferrors.Is(err, ferrors.ErrUnsupported):
		respondError(w, http.StatusNotImplemented, "ARCHIVE_DISABLED", err.Error())
	default:
		logging.ErrorContext(r.Context(), "history lookup failed", "error", err)
		respondError(w, http.StatusInternalServerError, "HISTORY_ERROR", "Failed to read run history")
	}
}

func respondRequestError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		respondError(w, reqErr.status, reqErr.code, reqErr.message)
		return
	}
	respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
}

// respondResult writes a run result. Failed runs keep the result (and its
// logs) in Data next to an error whose code is the failure category.
func respondResult(w http.ResponseWriter, res pipeline.Result, cached bool) {
	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("X-Run-ID", res.RunID)

	if res.Success {
		respond(w, http.StatusOK, res)
		return
	}

	status := http.StatusUnprocessableEntity
	if res.Category == ferrors.CategoryInternal {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, APIResponse{
		Success: false,
		Data:    res,
		Error: &APIError{
			Code:    strings.ToUpper(strings.ReplaceAll(res.Category, "-", "_")),
			Message: res.Error,
		},
		Meta: &APIMeta{Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func respondList(w http.ResponseWriter, data interface{}, total int) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Total:     total,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}
