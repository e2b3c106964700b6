// Package api serves the autoload HTTP API.
package api

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/greenbuild/autoload/pkg/tenancy"
)

// BasePath is the prefix of every API route.
const BasePath = "/api/autoload/v1"

// Config controls the HTTP API.
type Config struct {
	TenancyMode    tenancy.TenancyMode // single, header or jwt. Default header.
	MaxUploadBytes int64               // Largest accepted import file. Default 64MiB.
	AllowedOrigins []string            // CORS origins. Default none.
	JWT            tenancy.JWTConfig   // Used in jwt mode.

	// Resolver overrides the resolver TenancyMode selects. NewResolver sets it
	// in jwt mode.
	Resolver tenancy.ActorResolver
}

// DefaultConfig returns the default API configuration.
func DefaultConfig() *Config {
	return &Config{
		TenancyMode:    tenancy.ModeHeader,
		MaxUploadBytes: 64 << 20,
	}
}

// ConfigFromEnv loads config from environment variables.
// AUTOLOAD_TENANCY_MODE, AUTOLOAD_API_MAX_UPLOAD_MB, AUTOLOAD_API_ALLOWED_ORIGINS (comma separated)
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("AUTOLOAD_TENANCY_MODE"); v != "" {
		switch mode := tenancy.TenancyMode(strings.ToLower(v)); mode {
		case tenancy.ModeSingle, tenancy.ModeHeader, tenancy.ModeJWT:
			cfg.TenancyMode = mode
		}
	}
	if v := os.Getenv("AUTOLOAD_API_MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxUploadBytes = int64(n) << 20
		}
	}
	if v := os.Getenv("AUTOLOAD_API_ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	cfg.JWT = tenancy.JWTConfigFromEnv()

	return cfg
}

// NewResolver builds the JWT resolver when TenancyMode is jwt. Other modes
// need no setup.
func (c *Config) NewResolver(logger *slog.Logger) error {
	if c.TenancyMode != tenancy.ModeJWT {
		return nil
	}
	resolver, err := tenancy.NewJWTResolver(c.JWT, logger)
	if err != nil {
		return err
	}
	c.Resolver = resolver
	return nil
}
