// Package config is the configuration surface consumed by cmd/gatherd. A
// gather.yaml file is optional; environment variables override it so the
// same binary runs in containers without a file at all.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "gather.yaml"

// PlannerConfig carries the planner tunables. Zero values fall back to the
// planner's own defaults.
type PlannerConfig struct {
	PresentLimit       int `yaml:"present_limit"`
	OverFetch          int `yaml:"over_fetch"`
	MaxClarifyAttempts int `yaml:"max_clarify_attempts"`
	MaxEmptyRetries    int `yaml:"max_empty_retries"`
}

// OnnxConfig locates the ONNX embedding model, used only when the binary is
// built with the onnx tag and embedder is set to "onnx".
type OnnxConfig struct {
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	LibraryPath   string `yaml:"library_path"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SessionConfig controls session lifecycle policy.
type SessionConfig struct {
	InactivityWindow Duration `yaml:"inactivity_window"`
	CleanupInterval  Duration `yaml:"cleanup_interval"`
}

// Config is the full runtime configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`

	// Model is the Claude model used by the intent interpreter. The
	// interpreter is only enabled when ANTHROPIC_API_KEY is set.
	Model string `yaml:"model"`

	// Embedder selects the embedding backend: "mock" or "onnx".
	Embedder string `yaml:"embedder"`

	// EmbedCacheEntries sizes the embedding cache.
	EmbedCacheEntries int `yaml:"embed_cache_entries"`

	Planner PlannerConfig `yaml:"planner"`
	Onnx    OnnxConfig    `yaml:"onnx"`
	Session SessionConfig `yaml:"session"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() Config {
	return Config{
		ListenAddr:        ":8090",
		DBPath:            "data/gather.db",
		Embedder:          "mock",
		EmbedCacheEntries: 4096,
		Session: SessionConfig{
			InactivityWindow: Duration(24 * time.Hour),
			CleanupInterval:  Duration(time.Hour),
		},
	}
}

// Load reads the YAML file at path (missing file is fine) and applies
// environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Defaults plus env is a complete configuration.
	case err != nil:
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "GATHER_LISTEN_ADDR")
	setString(&c.DBPath, "GATHER_DB_PATH")
	setString(&c.Model, "GATHER_MODEL")
	setString(&c.Embedder, "GATHER_EMBEDDER")
	setInt(&c.EmbedCacheEntries, "GATHER_EMBED_CACHE_ENTRIES")

	setInt(&c.Planner.PresentLimit, "GATHER_PRESENT_LIMIT")
	setInt(&c.Planner.OverFetch, "GATHER_OVER_FETCH")
	setInt(&c.Planner.MaxClarifyAttempts, "GATHER_MAX_CLARIFY_ATTEMPTS")
	setInt(&c.Planner.MaxEmptyRetries, "GATHER_MAX_EMPTY_RETRIES")

	setString(&c.Onnx.ModelPath, "GATHER_ONNX_MODEL")
	setString(&c.Onnx.TokenizerPath, "GATHER_ONNX_TOKENIZER")
	setString(&c.Onnx.LibraryPath, "ONNXRUNTIME_LIB")

	setDuration(&c.Session.InactivityWindow, "GATHER_SESSION_INACTIVITY")
	setDuration(&c.Session.CleanupInterval, "GATHER_SESSION_CLEANUP_INTERVAL")
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	switch c.Embedder {
	case "mock", "onnx":
	default:
		return fmt.Errorf("embedder must be \"mock\" or \"onnx\", got %q", c.Embedder)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
