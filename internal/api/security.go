package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// apiCSP forbids every resource load; responses are JSON or raw documents.
const apiCSP = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'"

// AllowedUploadContentTypes lists request content types POST /fingerings accepts.
// Raw bodies are sniffed again by the decoder, so octet-stream is allowed.
var AllowedUploadContentTypes = []string{
	"multipart/form-data",
	"application/xml",
	"text/xml",
	"application/vnd.recordare.musicxml+xml",
	"application/vnd.recordare.musicxml",
	"application/json",
	"application/zip",
	"application/x-xz",
	"application/octet-stream",
	"text/plain",
}

// SecurityHeaders adds the standard hardening headers to every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", apiCSP)
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware adds CORS headers. With no allowed origins every origin is
// accepted ("*"); otherwise only listed origins get headers and foreign
// preflights are refused.
func CORSMiddleware(allowedOrigins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigin := "*"
		if len(allowedOrigins) > 0 {
			origin := r.Header.Get("Origin")
			if !isOriginAllowed(origin, allowedOrigins) {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			allowedOrigin = origin
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Request-ID")
		if allowedOrigin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed matches origins exactly, case-insensitively. An empty
// allow-list accepts everything; an empty origin never matches a non-empty list.
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	if len(allowedOrigins) == 0 {
		return true
	}
	if origin == "" {
		return false
	}
	for _, allowed := range allowedOrigins {
		if allowed == "*" || strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// ValidateContentType checks the media type of a Content-Type header against allowed.
func ValidateContentType(contentType string, allowed []string) bool {
	mediaType := strings.TrimSpace(strings.Split(contentType, ";")[0])
	if mediaType == "" {
		return true
	}
	for _, allowedType := range allowed {
		if strings.EqualFold(mediaType, allowedType) {
			return true
		}
	}
	return false
}

// ValidateID checks that a path identifier is a UUID, the form of every run
// and job ID.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("ID %q is not a UUID", id)
	}
	return nil
}
