package api

import (
	"fmt"
	"os"
	"time"

	"github.com/jinjin-jara/violin-fingering/core/overlay"
)

// Config holds server configuration.
type Config struct {
	Port              int
	MaxUploadBytes    int64          // Limit on a whole request body
	CacheTTL          time.Duration  // Result cache lifetime (0 = disabled)
	CacheEntries      int            // Result cache size bound
	JobWorkers        int            // Concurrent asynchronous runs
	Overlay           overlay.Config // Overlay used when a request carries none
	RateLimitRequests int            // Requests per minute (0 = disabled)
	RateLimitBurst    int            // Burst size
	Auth              AuthConfig     // Authentication configuration
	TLS               TLSConfig      // TLS configuration
	AllowedOrigins    []string       // CORS and WebSocket allowed origins (empty = allow all)
}

// TLSConfig holds TLS/HTTPS configuration.
type TLSConfig struct {
	Enabled  bool   // Enable HTTPS
	CertFile string // Path to TLS certificate file
	KeyFile  string // Path to TLS private key file
}

// DefaultConfig returns the configuration used by `fingering serve`.
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		MaxUploadBytes: 96 << 20,
		CacheTTL:       5 * time.Minute,
		CacheEntries:   256,
		JobWorkers:     4,
		Overlay:        overlay.DefaultConfig(),
		RateLimitBurst: 10,
	}
}

// Validate checks the configuration before the server starts.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}
	if err := ValidateAuthConfig(c.Auth); err != nil {
		return fmt.Errorf("invalid auth config: %w", err)
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert or key file not specified")
		}
		if _, err := os.Stat(c.TLS.CertFile); err != nil {
			return fmt.Errorf("TLS cert file not found: %w", err)
		}
		if _, err := os.Stat(c.TLS.KeyFile); err != nil {
			return fmt.Errorf("TLS key file not found: %w", err)
		}
	}
	return nil
}
