package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreate_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)

	cfg, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadOrCreate_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	data := `
port = "9090"
log_level = "debug"
webhooks = ["http://example.test/hook"]

[context]
max_tokens = 100000
warning = 0.7

[storage]
driver = "postgres"
dsn = "postgres://localhost/ctxmon"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 100_000, cfg.Context.MaxTokens)
	assert.Equal(t, 0.7, cfg.Context.Warning)
	assert.Equal(t, 0.9, cfg.Context.Critical)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 7, cfg.Storage.RetentionDays)
	assert.Equal(t, []string{"http://example.test/hook"}, cfg.Webhooks)
}

func TestLoadOrCreate_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("port = ["), 0o600))
	_, err := LoadOrCreate(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	t.Setenv("CTXMON_PORT", "7070")
	t.Setenv("CTXMON_DB_DRIVER", "Memory")
	t.Setenv("CTXMON_MAX_CONTEXT", "50000")
	t.Setenv("CTXMON_TOKENIZER", "fallback")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("CTXMON_WEBHOOKS", "http://a.test, ,http://b.test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 50_000, cfg.Context.MaxTokens)
	assert.Equal(t, "fallback", cfg.Tokenizer.Strategy)
	assert.Equal(t, int64(42), cfg.Telegram.ChatID)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Webhooks)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"memory", func(c *Config) { c.Storage.Driver = "memory" }, true},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, false},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }, false},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, false},
		{"unknown tokenizer", func(c *Config) { c.Tokenizer.Strategy = "bpe" }, false},
		{"bad port", func(c *Config) { c.Port = "http" }, false},
		{"inverted thresholds", func(c *Config) { c.Context.Warning, c.Context.Critical = 0.9, 0.8 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}
