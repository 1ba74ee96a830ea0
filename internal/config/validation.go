package config

import (
	"fmt"
	"os"
)

// validSSLModes are the sslmode values accepted by libpq-compatible drivers.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration for correctness. Fail-fast: called
// from Load() before any component is constructed.
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("%w: set GOOGLE_CLOUD_PROJECT or project in config", ErrMissingProject)
	}

	switch c.Backend {
	case BackendGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY required for the gemini backend", ErrMissingAPIKey)
		}
	case BackendVertex:
		// Vertex uses ADC; nothing to check here.
	default:
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidBackend, c.Backend, BackendGemini, BackendVertex)
	}

	if c.Model == "" {
		return fmt.Errorf("%w: model is empty", ErrInvalidModelName)
	}
	if c.FlashModel == "" {
		return fmt.Errorf("%w: flash_model is empty", ErrInvalidModelName)
	}

	if c.MaxRounds < 1 || c.MaxRounds > 32 {
		return fmt.Errorf("%w: %d (want 1-32)", ErrInvalidMaxRounds, c.MaxRounds)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	return nil
}
