package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level mailreply config.
	WorkspaceDirName = ".mailreply"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the reply agent.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Service   ServiceConfig   `yaml:"service"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Selectors SelectorsConfig `yaml:"selectors"`
	Log       LogConfig       `yaml:"log"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222).
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome (e.g., ["chrome", "--remote-debugging-port=9222"]).
	// With neither this nor DebuggerURL set, a managed Chrome is launched.
	Launch []string `yaml:"launch"`
	// UserMode launches the user's own Chrome profile so existing webmail logins apply.
	UserMode bool `yaml:"user_mode"`
	// Headless controls whether a launched Chrome runs headless (default: false).
	Headless *bool `yaml:"headless"`
	// PageURL is the webmail URL; the first tab whose URL starts with it is used.
	PageURL string `yaml:"page_url"`
	// Timeout when attaching to the browser or opening the webmail tab (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
}

// ServiceConfig points at the reply generation service.
type ServiceConfig struct {
	// Endpoint is the service base URL; /api/email/generate is appended.
	Endpoint string `yaml:"endpoint"`
	Tone     string `yaml:"tone"`
	// Timeout bounds a single generation request (e.g., "60s"). "0" disables it.
	Timeout string `yaml:"timeout"`
}

// WatcherConfig tunes compose detection.
type WatcherConfig struct {
	// SettleDelay is the wait after a compose window appears before looking for its toolbar.
	SettleDelay string `yaml:"settle_delay"`
	// MaxRetries bounds extra toolbar lookups when the toolbar is still rendering.
	MaxRetries *uint `yaml:"max_retries"`
	// MaxRetryElapsed bounds the total retry time for one detection.
	MaxRetryElapsed string `yaml:"max_retry_elapsed"`
}

// SelectorsConfig overrides the host page selectors. Empty lists keep the built-in defaults.
type SelectorsConfig struct {
	BodyText         []string `yaml:"body_text"`
	Toolbar          []string `yaml:"toolbar"`
	ComposeField     []string `yaml:"compose_field"`
	ComposeSignature string   `yaml:"compose_signature"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
	// File redirects logs; empty logs to stderr.
	File string `yaml:"file"`
}

// RecorderConfig controls the JSONL diagnostic trace.
type RecorderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address for /metrics and /healthz (e.g., "127.0.0.1:9464"). Empty disables it.
	Listen string `yaml:"listen"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Browser: BrowserConfig{
			DebuggerURL:          "",
			PageURL:              "https://mail.google.com/",
			DefaultAttachTimeout: "10s",
		},
		Service: ServiceConfig{
			Endpoint: "http://localhost:8080",
			Tone:     "professional",
			Timeout:  "60s",
		},
		Watcher: WatcherConfig{
			SettleDelay:     "500ms",
			MaxRetryElapsed: "3s",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Recorder: RecorderConfig{
			Enabled: true,
			Dir:     "data/traces",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .mailreply/config.yaml file.
// Returns the workspace root directory (parent of .mailreply/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .mailreply/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .mailreply/ directory with a template config at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	for _, d := range []string{wsDir, filepath.Join(wsDir, "data")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# mailreply project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# browser:
#   debugger_url: "ws://127.0.0.1:9222/devtools/browser/<id>"
#   page_url: "https://mail.google.com/"

# service:
#   endpoint: "http://localhost:8080"
#   timeout: "60s"

# watcher:
#   settle_delay: "500ms"
#   max_retries: 3

# recorder:
#   dir: "data/traces"

# metrics:
#   listen: "127.0.0.1:9464"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (traces, logs) - do not version control\ndata/\n"
	if err := os.WriteFile(filepath.Join(wsDir, ".gitignore"), []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Log.File = resolve(cfg.Log.File)
	cfg.Recorder.Dir = resolve(cfg.Recorder.Dir)
	return cfg
}

// Validate ensures required fields exist so the agent can start deterministically.
func (c *Config) Validate() error {
	if c.Browser.DebuggerURL != "" && c.Browser.UserMode {
		return errors.New("browser.debugger_url and browser.user_mode are mutually exclusive")
	}
	if c.Browser.PageURL == "" {
		return errors.New("browser.page_url is required")
	}
	u, err := url.Parse(c.Service.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("service.endpoint must be an absolute URL, got %q", c.Service.Endpoint)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	return parseDuration(b.DefaultAttachTimeout, 10*time.Second)
}

// IsHeadless returns whether a launched Chrome runs headless (default: false,
// since the user has to interact with the webmail page).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return false
	}
	return *b.Headless
}

// RequestTimeout returns the generation timeout; zero means unbounded.
func (s ServiceConfig) RequestTimeout() time.Duration {
	return parseDuration(s.Timeout, 60*time.Second)
}

// GetSettleDelay returns the settle delay with a sane default.
func (w WatcherConfig) GetSettleDelay() time.Duration {
	d := parseDuration(w.SettleDelay, 500*time.Millisecond)
	if d == 0 {
		return 500 * time.Millisecond
	}
	return d
}

// GetMaxRetries returns the toolbar retry bound (default: 3).
func (w WatcherConfig) GetMaxRetries() uint {
	if w.MaxRetries == nil {
		return 3
	}
	return *w.MaxRetries
}

// GetMaxRetryElapsed returns the retry time bound with a sane default.
func (w WatcherConfig) GetMaxRetryElapsed() time.Duration {
	d := parseDuration(w.MaxRetryElapsed, 3*time.Second)
	if d == 0 {
		return 3 * time.Second
	}
	return d
}
