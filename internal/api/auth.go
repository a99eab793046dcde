package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/jinjin-jara/violin-fingering/internal/logging"
)

// APIKeyEnv is the environment variable `fingering serve` reads the API key from.
const APIKeyEnv = "FINGERING_API_KEY"

// MinAPIKeyLength is the shortest accepted API key.
const MinAPIKeyLength = 16

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled bool
	APIKey  string
}

// AuthMiddleware requires a matching X-API-Key header when auth is enabled.
// "/" and "/health" are always public.
func AuthMiddleware(authCfg AuthConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authCfg.Enabled || isPublicEndpoint(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			logging.SecurityEvent("unauthorized_request", "auth",
				"path", r.URL.Path,
				"reason", "missing API key")
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing X-API-Key header")
			return
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(authCfg.APIKey)) != 1 {
			logging.SecurityEvent("unauthorized_request", "auth",
				"path", r.URL.Path,
				"reason", "invalid API key")
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isPublicEndpoint(path string) bool {
	return path == "/" || path == "/health"
}

// ValidateAuthConfig validates the authentication configuration.
func ValidateAuthConfig(cfg AuthConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("API key is required when authentication is enabled (set %s)", APIKeyEnv)
	}
	if len(cfg.APIKey) < MinAPIKeyLength {
		return fmt.Errorf("API key must be at least %d characters (got %d)", MinAPIKeyLength, len(cfg.APIKey))
	}
	return nil
}
