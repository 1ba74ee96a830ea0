// Package config provides application configuration with multi-source priority.
//
// Sources, highest priority first:
//  1. Environment variables
//  2. Config file (~/.nimbus/config.yaml or ./config.yaml)
//  3. Defaults
//
// Sensitive fields are masked in MarshalJSON; validation is fail-fast with
// sentinel errors usable via errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrMissingProject indicates the GCP project id is not configured.
	ErrMissingProject = errors.New("missing GCP project")

	// ErrMissingAPIKey indicates GEMINI_API_KEY is required but absent.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidBackend indicates an unsupported model backend.
	ErrInvalidBackend = errors.New("invalid backend")

	// ErrInvalidModelName indicates an empty or malformed model name.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidMaxRounds indicates the tool-loop round cap is out of range.
	ErrInvalidMaxRounds = errors.New("invalid max rounds")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// Model backend identifiers used in Config.Backend.
const (
	BackendGemini = "gemini" // Gemini API with GEMINI_API_KEY
	BackendVertex = "vertex" // Vertex AI with ADC credentials
)

// DefaultMaxRounds caps the tool-calling loop; every real exchange
// converges well below this.
const DefaultMaxRounds = 8

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// GCP project the assistant answers questions about (and, for the
	// vertex backend, the project used for model calls).
	Project  string `mapstructure:"project" json:"project"`
	Location string `mapstructure:"location" json:"location"`

	// Model configuration
	Backend    string `mapstructure:"backend" json:"backend"`         // "gemini" (default) or "vertex"
	Model      string `mapstructure:"model" json:"model"`             // conversation model
	FlashModel string `mapstructure:"flash_model" json:"flash_model"` // extraction/quiz model
	MaxRounds  int    `mapstructure:"max_rounds" json:"max_rounds"`

	// HTTP server
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Storage (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Tracing
	TraceEnabled  bool   `mapstructure:"trace_enabled" json:"trace_enabled"`
	TraceEndpoint string `mapstructure:"trace_endpoint" json:"trace_endpoint"`
	Environment   string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: environment variables > config file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".nimbus")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, if set, overrides the individual postgres fields.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("location", "us-east1")
	viper.SetDefault("backend", BackendGemini)
	viper.SetDefault("model", "gemini-2.5-flash")
	viper.SetDefault("flash_model", "gemini-2.5-flash-lite")
	viper.SetDefault("max_rounds", DefaultMaxRounds)

	viper.SetDefault("addr", ":8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "nimbus")
	viper.SetDefault("postgres_password", "nimbus_dev_password")
	viper.SetDefault("postgres_db_name", "nimbus")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("trace_enabled", false)
	viper.SetDefault("trace_endpoint", "localhost:4318")
	viper.SetDefault("environment", "dev")
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY is read directly by the genai SDK, not via viper;
// Validate() only checks its presence for the gemini backend.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("project", "GOOGLE_CLOUD_PROJECT")
	mustBind("location", "GOOGLE_CLOUD_LOCATION")
	mustBind("backend", "NIMBUS_BACKEND")
	mustBind("model", "NIMBUS_MODEL")
	mustBind("flash_model", "NIMBUS_FLASH_MODEL")
	mustBind("addr", "NIMBUS_ADDR")
	mustBind("cors_origins", "NIMBUS_CORS_ORIGINS")
	mustBind("trust_proxy", "NIMBUS_TRUST_PROXY")
	mustBind("trace_enabled", "NIMBUS_TRACE_ENABLED")
	mustBind("trace_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 bytes or fewer
// are fully masked; longer ones keep the first and last two characters.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
// When adding new secrets, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
