package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://mail.google.com/", cfg.Browser.PageURL)
	assert.Equal(t, "10s", cfg.Browser.DefaultAttachTimeout)
	assert.False(t, cfg.Browser.IsHeadless())

	assert.Equal(t, "http://localhost:8080", cfg.Service.Endpoint)
	assert.Equal(t, "professional", cfg.Service.Tone)
	assert.Equal(t, 60*time.Second, cfg.Service.RequestTimeout())

	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.GetSettleDelay())
	assert.Equal(t, uint(3), cfg.Watcher.GetMaxRetries())
	assert.Equal(t, 3*time.Second, cfg.Watcher.GetMaxRetryElapsed())

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.True(t, cfg.Recorder.Enabled)
	assert.Empty(t, cfg.Metrics.Listen)

	require.NoError(t, cfg.Validate())
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	require.EqualError(t, err, "config path is required")
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}

func TestLoadValidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
browser:
  debugger_url: "ws://localhost:9222"
  headless: true
  default_attach_timeout: "5s"

service:
  endpoint: "http://replies.internal:9000"
  tone: "friendly"
  timeout: "15s"

watcher:
  settle_delay: "250ms"
  max_retries: 0
  max_retry_elapsed: "1s"

selectors:
  toolbar: [".custom-toolbar"]
  compose_signature: ".custom-compose"

log:
  level: debug
  format: json

metrics:
  listen: "127.0.0.1:9464"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:9222", cfg.Browser.DebuggerURL)
	assert.True(t, cfg.Browser.IsHeadless())
	assert.Equal(t, 5*time.Second, cfg.Browser.AttachTimeout())
	// Unset fields keep their defaults.
	assert.Equal(t, "https://mail.google.com/", cfg.Browser.PageURL)

	assert.Equal(t, "http://replies.internal:9000", cfg.Service.Endpoint)
	assert.Equal(t, "friendly", cfg.Service.Tone)
	assert.Equal(t, 15*time.Second, cfg.Service.RequestTimeout())

	assert.Equal(t, 250*time.Millisecond, cfg.Watcher.GetSettleDelay())
	assert.Equal(t, uint(0), cfg.Watcher.GetMaxRetries())
	assert.Equal(t, time.Second, cfg.Watcher.GetMaxRetryElapsed())

	assert.Equal(t, []string{".custom-toolbar"}, cfg.Selectors.Toolbar)
	assert.Empty(t, cfg.Selectors.BodyText)
	assert.Equal(t, ".custom-compose", cfg.Selectors.ComposeSignature)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Listen)
}

func TestLoadInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("browser: [unclosed"), 0644))

	_, err := Load(configPath)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"debugger url", func(c *Config) { c.Browser.DebuggerURL = "ws://localhost:9222" }, ""},
		{"user mode", func(c *Config) { c.Browser.UserMode = true }, ""},
		{"debugger url with user mode", func(c *Config) {
			c.Browser.DebuggerURL = "ws://localhost:9222"
			c.Browser.UserMode = true
		}, "mutually exclusive"},
		{"missing page url", func(c *Config) { c.Browser.PageURL = "" }, "page_url"},
		{"relative endpoint", func(c *Config) { c.Service.Endpoint = "/api" }, "absolute URL"},
		{"empty endpoint", func(c *Config) { c.Service.Endpoint = "" }, "absolute URL"},
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"upper case format", func(c *Config) { c.Log.Format = "JSON" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAttachTimeout(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", 10 * time.Second},
		{"3s", 3 * time.Second},
		{"bogus", 10 * time.Second},
		{"-1s", 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BrowserConfig{DefaultAttachTimeout: tt.raw}.AttachTimeout(), "raw=%q", tt.raw)
	}
}

func TestRequestTimeout(t *testing.T) {
	assert.Equal(t, 60*time.Second, ServiceConfig{}.RequestTimeout())
	assert.Equal(t, time.Duration(0), ServiceConfig{Timeout: "0"}.RequestTimeout())
	assert.Equal(t, 2*time.Minute, ServiceConfig{Timeout: "2m"}.RequestTimeout())
}

func TestSettleDelay(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, WatcherConfig{}.GetSettleDelay())
	assert.Equal(t, 500*time.Millisecond, WatcherConfig{SettleDelay: "0s"}.GetSettleDelay())
	assert.Equal(t, 2*time.Second, WatcherConfig{SettleDelay: "2s"}.GetSettleDelay())
}

func TestMaxRetries(t *testing.T) {
	assert.Equal(t, uint(3), WatcherConfig{}.GetMaxRetries())
	n := uint(7)
	assert.Equal(t, uint(7), WatcherConfig{MaxRetries: &n}.GetMaxRetries())
}

func TestIsHeadless(t *testing.T) {
	assert.False(t, BrowserConfig{}.IsHeadless())
	yes, no := true, false
	assert.True(t, BrowserConfig{Headless: &yes}.IsHeadless())
	assert.False(t, BrowserConfig{Headless: &no}.IsHeadless())
}
