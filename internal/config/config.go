// Package config loads specgate's YAML configuration.
//
// Resolution order: DefaultConfig, then the YAML file (missing file means
// defaults), then SPECGATE_* environment overrides, then validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/specgate/internal/workflow"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "SPECGATE_CONFIG"

// Config is the root configuration.
type Config struct {
	DataDir    string           `yaml:"data_dir" validate:"required"`
	LogLevel   string           `yaml:"log_level" validate:"oneof=debug info warn error"`
	Registry   RegistryConfig   `yaml:"registry"`
	Compiler   CompilerConfig   `yaml:"compiler"`
	Gate       GateConfig       `yaml:"gate"`
	Acceptance AcceptanceConfig `yaml:"acceptance"`
	Generation GenerationConfig `yaml:"generation"`
	Session    SessionConfig    `yaml:"session"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// RegistryConfig bounds registered content.
type RegistryConfig struct {
	MaxSpecBytes int `yaml:"max_spec_bytes" validate:"gt=0"`
}

// CompilerConfig selects the compiler tag and the double-compile policy.
type CompilerConfig struct {
	Version string `yaml:"version" validate:"required,semver"`
	Policy  string `yaml:"policy" validate:"oneof=strict idempotent"`
}

// GateConfig holds the validator tag stamped on evidence.
type GateConfig struct {
	ValidatorVersion string `yaml:"validator_version" validate:"required,semver"`
}

// AcceptanceConfig holds the acceptance policy.
type AcceptanceConfig struct {
	AutoAcceptOnCompile bool `yaml:"auto_accept_on_compile"`
}

// GenerationConfig configures the generation provider and its client.
type GenerationConfig struct {
	// Provider is "openai" or "none". With "none" every generation
	// fails with GenerationError.
	Provider          string        `yaml:"provider" validate:"oneof=openai none"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	MaxAttempts       int           `yaml:"max_attempts" validate:"gte=1,lte=10"`
	BackoffBase       time.Duration `yaml:"backoff_base" validate:"gt=0"`
	BackoffMax        time.Duration `yaml:"backoff_max" validate:"gtefield=BackoffBase"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
}

// SessionConfig configures the ephemeral session store. An empty
// RedisAddr keeps sessions in memory.
type SessionConfig struct {
	RedisAddr string        `yaml:"redis_addr" validate:"omitempty,hostname_port"`
	RedisDB   int           `yaml:"redis_db" validate:"gte=0"`
	KeyPrefix string        `yaml:"key_prefix" validate:"required"`
	TTL       time.Duration `yaml:"ttl" validate:"gte=0"`
}

// WorkflowConfig configures the controller. Nil Triggers selects the
// built-in triggers.
type WorkflowConfig struct {
	TriggerIterationCap int                   `yaml:"trigger_iteration_cap" validate:"gte=1,lte=100"`
	SprintMinStories    int                   `yaml:"sprint_min_stories" validate:"gte=1"`
	Triggers            []workflow.TriggerDef `yaml:"triggers,omitempty" validate:"omitempty,dive"`
}

// MetricsConfig configures the Prometheus listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:  filepath.Join(home, ".specgate"),
		LogLevel: "info",
		Registry: RegistryConfig{MaxSpecBytes: 1 << 20},
		Compiler: CompilerConfig{Version: "1.0.0", Policy: "strict"},
		Gate:     GateConfig{ValidatorVersion: "1.0.0"},
		Generation: GenerationConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			APIKeyEnv:         "OPENAI_API_KEY",
			MaxAttempts:       3,
			BackoffBase:       500 * time.Millisecond,
			BackoffMax:        10 * time.Second,
			Timeout:           60 * time.Second,
			RequestsPerSecond: 2,
		},
		Session: SessionConfig{
			KeyPrefix: "specgate:session:",
			TTL:       24 * time.Hour,
		},
		Workflow: WorkflowConfig{TriggerIterationCap: 8, SprintMinStories: 1},
	}
}

// Path returns the config file path: $SPECGATE_CONFIG, or
// ~/.specgate/config.yaml.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".specgate", "config.yaml")
}

// Exists reports whether a config file exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Load reads the config at path over the defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SPECGATE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SPECGATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("SPECGATE_COMPILE_POLICY"); v != "" {
		cfg.Compiler.Policy = v
	}
	if v := os.Getenv("SPECGATE_AUTO_ACCEPT_ON_COMPILE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Acceptance.AutoAcceptOnCompile = b
		}
	}
	if v := os.Getenv("SPECGATE_GENERATION_PROVIDER"); v != "" {
		cfg.Generation.Provider = v
	}
	if v := os.Getenv("SPECGATE_GENERATION_MODEL"); v != "" {
		cfg.Generation.Model = v
	}
	if v := os.Getenv("SPECGATE_REDIS_ADDR"); v != "" {
		cfg.Session.RedisAddr = v
	}
	if v := os.Getenv("SPECGATE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}

var validate = func() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
		_, err := semver.StrictNewVersion(fl.Field().String())
		return err == nil
	})
	return v
}()

// Validate checks every field constraint.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// APIKey returns the generation API key from the configured variable.
func (c *Config) APIKey() string {
	if c.Generation.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Generation.APIKeyEnv)
}

// ControllerConfig converts the workflow section for the controller.
func (c *Config) ControllerConfig() workflow.Config {
	return workflow.Config{
		TriggerIterationCap: c.Workflow.TriggerIterationCap,
		SprintMinStories:    c.Workflow.SprintMinStories,
		Triggers:            c.Workflow.Triggers,
	}
}
