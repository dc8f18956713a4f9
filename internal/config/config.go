// Package config loads daemon configuration: defaults, then a TOML file, then
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/Manjussha/ctxmon/internal/platform"
)

// FileName is the config file name inside the data directory.
const FileName = "config.toml"

type StorageConfig struct {
	Driver        string `toml:"driver"`
	Path          string `toml:"path"`
	DSN           string `toml:"dsn"`
	RetentionDays int    `toml:"retention_days"`
	Async         bool   `toml:"async"`
	Model         string `toml:"model"`
}

type ContextConfig struct {
	MaxTokens        int     `toml:"max_tokens"`
	Warning          float64 `toml:"warning"`
	Critical         float64 `toml:"critical"`
	CompactThreshold float64 `toml:"compact_threshold"`
	MinReduction     int     `toml:"min_reduction"`
}

type TokenizerConfig struct {
	Strategy        string  `toml:"strategy"`
	Model           string  `toml:"model"`
	Adjustment      float64 `toml:"adjustment"` // 0 picks the strategy default
	CacheSize       int     `toml:"cache_size"`
	AnthropicAPIKey string  `toml:"anthropic_api_key"`
	AnthropicModel  string  `toml:"anthropic_model"`
}

type TelegramConfig struct {
	Token  string `toml:"token"`
	ChatID int64  `toml:"chat_id"`
}

// Config holds all runtime configuration for ctxmon.
type Config struct {
	Port     string `toml:"port"`
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`
	APIKey   string `toml:"api_key"`

	Storage   StorageConfig   `toml:"storage"`
	Context   ContextConfig   `toml:"context"`
	Tokenizer TokenizerConfig `toml:"tokenizer"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Webhooks  []string        `toml:"webhooks,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	dataDir := platform.DefaultDataDir()
	return Config{
		Port:     "8080",
		DataDir:  dataDir,
		LogLevel: "info",
		Storage: StorageConfig{
			Driver:        "sqlite",
			Path:          filepath.Join(dataDir, "ctxmon.db"),
			RetentionDays: 7,
			Async:         true,
			Model:         "claude",
		},
		Context: ContextConfig{
			MaxTokens:        200_000,
			Warning:          0.8,
			Critical:         0.9,
			CompactThreshold: 0.3,
			MinReduction:     10_000,
		},
		Tokenizer: TokenizerConfig{
			Strategy:  "tiktoken",
			Model:     "gpt-4",
			CacheSize: 1000,
		},
	}
}

// DefaultPath returns the config file path inside the default data directory.
func DefaultPath() string {
	return filepath.Join(platform.DefaultDataDir(), FileName)
}

// LoadOrCreate reads the TOML file at path. A missing file is created with the
// defaults. Environment overrides are not applied; see Load.
func LoadOrCreate(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config.LoadOrCreate: stat: %w", err)
		}
		if err := Write(path, cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config.LoadOrCreate: read: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config.LoadOrCreate: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Write encodes cfg as TOML at path, creating parent directories.
func Write(path string, cfg Config) error {
	if err := platform.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config.Write: mkdir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config.Write: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config.Write: %w", err)
	}
	return nil
}

// Load runs LoadOrCreate, applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg, err := LoadOrCreate(path)
	if err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Port = getEnv("CTXMON_PORT", c.Port)
	c.LogLevel = getEnv("CTXMON_LOG_LEVEL", c.LogLevel)
	c.APIKey = getEnv("CTXMON_API_KEY", c.APIKey)

	c.Storage.Driver = getEnv("CTXMON_DB_DRIVER", c.Storage.Driver)
	c.Storage.Path = getEnv("CTXMON_DB_PATH", c.Storage.Path)
	c.Storage.DSN = getEnv("CTXMON_DATABASE_URL", c.Storage.DSN)

	c.Context.MaxTokens = getEnvInt("CTXMON_MAX_CONTEXT", c.Context.MaxTokens)

	c.Tokenizer.Strategy = getEnv("CTXMON_TOKENIZER", c.Tokenizer.Strategy)
	c.Tokenizer.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.Tokenizer.AnthropicAPIKey)

	c.Telegram.Token = getEnv("TELEGRAM_TOKEN", c.Telegram.Token)
	if id, err := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64); err == nil {
		c.Telegram.ChatID = id
	}

	if v := os.Getenv("CTXMON_WEBHOOKS"); v != "" {
		c.Webhooks = nil
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				c.Webhooks = append(c.Webhooks, u)
			}
		}
	}
}

func (c *Config) normalize() {
	c.DataDir = platform.ExpandHome(strings.TrimSpace(c.DataDir))
	c.Storage.Path = platform.ExpandHome(strings.TrimSpace(c.Storage.Path))
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Tokenizer.Strategy = strings.ToLower(strings.TrimSpace(c.Tokenizer.Strategy))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.Port == "" {
		c.Port = "8080"
	}
}

// Validate reports configuration that cannot start the daemon. Out-of-range
// context thresholds are not errors; the monitor keeps its defaults for them.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return errors.New("config: storage.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("config: storage.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Tokenizer.Strategy {
	case "tiktoken", "anthropic", "fallback":
	default:
		return fmt.Errorf("config: unknown tokenizer strategy %q", c.Tokenizer.Strategy)
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("config: invalid port %q", c.Port)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
