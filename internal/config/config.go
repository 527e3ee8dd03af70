// Package config holds timelined configuration: directories, provider
// selection, category taxonomy, prompt overrides, and credentials.
// Precedence is defaults, then the TOML config file, then TIMELINED_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Category is one entry of the card taxonomy the model must label with.
type Category struct {
	Name        string `toml:"name"`
	Description string `toml:"description,omitempty"`
	Idle        bool   `toml:"idle,omitempty"`
}

// Providers selects the active backends. Secondary may be empty.
type Providers struct {
	Primary   string `toml:"primary"`
	Secondary string `toml:"secondary,omitempty"`
}

// Models pins the model identifiers per backend.
type Models struct {
	Claude            string `toml:"claude,omitempty"`
	Codex             string `toml:"codex,omitempty"`
	Anthropic         string `toml:"anthropic,omitempty"`
	AnthropicFallback string `toml:"anthropic_fallback,omitempty"`
	Ollama            string `toml:"ollama,omitempty"`
}

// Prompts overrides the built-in prompt templates when non-empty.
type Prompts struct {
	Transcribe string `toml:"transcribe,omitempty"`
	Cards      string `toml:"cards,omitempty"`
	Merge      string `toml:"merge,omitempty"`
}

// Config holds timelined daemon configuration.
type Config struct {
	SpoolDir string `toml:"spool_dir"`
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`

	Providers Providers `toml:"providers"`
	Models    Models    `toml:"models"`
	Prompts   Prompts   `toml:"prompts"`

	Categories []Category `toml:"categories"`

	AnthropicAPIKey string `toml:"anthropic_api_key,omitempty"`
	OllamaURL       string `toml:"ollama_url,omitempty"`

	StreamTimeout time.Duration `toml:"stream_timeout,omitempty"`
	BatchTimeout  time.Duration `toml:"batch_timeout,omitempty"`

	// MergeConfidence rejects merge decisions below this confidence for
	// backends that emit a score. Zero disables the threshold.
	MergeConfidence float64 `toml:"merge_confidence,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".local", "share", "timelined")
	return &Config{
		SpoolDir: filepath.Join(base, "spool"),
		LogDir:   filepath.Join(base, "log"),
		StateDir: filepath.Join(base, "state"),
		Providers: Providers{
			Primary: "claude",
		},
		Models: Models{
			Claude:            "claude-sonnet-4-20250514",
			Codex:             "gpt-5",
			Anthropic:         "claude-sonnet-4-20250514",
			AnthropicFallback: "claude-3-5-haiku-20241022",
			Ollama:            "qwen2.5vl:3b",
		},
		Categories: []Category{
			{Name: "Work", Description: "Professional tasks, coding, writing, meetings"},
			{Name: "Personal", Description: "Errands, browsing, entertainment, chats"},
			{Name: "Distraction", Description: "Short unfocused context switches"},
			{Name: "Idle", Description: "No meaningful activity on screen", Idle: true},
		},
		OllamaURL:       "http://localhost:11434",
		StreamTimeout:   150 * time.Second,
		BatchTimeout:    300 * time.Second,
		MergeConfidence: 0.85,
	}
}

// Load returns configuration from the given TOML file (optional) with
// environment overrides applied on top of defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(configDir(), "config.toml")
	}
	if raw, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	overrideString(&cfg.SpoolDir, "TIMELINED_SPOOL_DIR")
	overrideString(&cfg.LogDir, "TIMELINED_LOG_DIR")
	overrideString(&cfg.StateDir, "TIMELINED_STATE_DIR")
	overrideString(&cfg.Providers.Primary, "TIMELINED_PRIMARY_PROVIDER")
	overrideString(&cfg.Providers.Secondary, "TIMELINED_SECONDARY_PROVIDER")
	overrideString(&cfg.AnthropicAPIKey, "TIMELINED_ANTHROPIC_API_KEY")
	overrideString(&cfg.OllamaURL, "TIMELINED_OLLAMA_URL")
	overrideDuration(&cfg.StreamTimeout, "TIMELINED_STREAM_TIMEOUT")
	overrideDuration(&cfg.BatchTimeout, "TIMELINED_BATCH_TIMEOUT")
	overrideFloat(&cfg.MergeConfidence, "TIMELINED_MERGE_CONFIDENCE")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Providers.Primary == "" {
		return fmt.Errorf("config: primary provider must be set")
	}
	if c.Providers.Secondary != "" && c.Providers.Secondary == c.Providers.Primary {
		return fmt.Errorf("config: secondary provider must differ from primary")
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("config: at least one category required")
	}
	return nil
}

// CategoryNames returns the taxonomy labels in configured order.
func (c *Config) CategoryNames() []string {
	names := make([]string, len(c.Categories))
	for i, cat := range c.Categories {
		names[i] = cat.Name
	}
	return names
}

// IdleCategory returns the designated idle label, or empty when none is
// configured.
func (c *Config) IdleCategory() string {
	for _, cat := range c.Categories {
		if cat.Idle {
			return cat.Name
		}
	}
	return ""
}

func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "timelined")
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func overrideFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}
