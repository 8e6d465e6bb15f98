package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Crawl modes.
const (
	ModeThorough = "thorough"
	ModeFast     = "fast"
)

// Fetch modes.
const (
	FetchAuto    = "auto"
	FetchHTTP    = "http"
	FetchBrowser = "browser"
)

// Config holds all application configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Render    RenderConfig    `yaml:"render"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Evidence  EvidenceConfig  `yaml:"evidence"`
	Harvest   HarvestConfig   `yaml:"harvest"`
	Store     StoreConfig     `yaml:"store"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool `yaml:"headless"` // default: true

	// MaxPages is the page pool capacity. Raised to Crawl.Workers if lower.
	MaxPages int `yaml:"max_pages"` // default: 4

	// DefaultProxy is the proxy URL for all requests.
	DefaultProxy string `yaml:"proxy"`

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool `yaml:"no_sandbox"` // default: false

	// BrowserBin overrides the Chromium binary path. Empty lets rod find or
	// download a browser.
	BrowserBin string `yaml:"bin"`
}

// RenderConfig controls how a single page is fetched.
type RenderConfig struct {
	// Timeout bounds one probe end to end.
	Timeout time.Duration `yaml:"timeout"` // default: 60s thorough, 30s fast

	// Settle is the extra wait after the DOM is stable, for late scripts.
	Settle time.Duration `yaml:"settle"` // default: 5s thorough, 2s fast

	// FetchMode is "auto" (HTTP first, browser fallback), "http" or "browser".
	FetchMode string `yaml:"fetch_mode"` // default: "browser"

	// Stealth enables anti-bot-detection evasions in the browser.
	Stealth bool `yaml:"stealth"` // default: false

	// RespectRobots skips URLs disallowed by the host's robots.txt.
	RespectRobots bool `yaml:"respect_robots"` // default: false

	// UserAgent overrides the browser-like user agent of the HTTP engine.
	UserAgent string `yaml:"user_agent"`

	// BlockedResourceTypes lists browser resource types to block.
	BlockedResourceTypes []string `yaml:"blocked_resources"`
}

// CrawlConfig controls the batch orchestrator.
type CrawlConfig struct {
	// Mode selects the default profile: "thorough" or "fast".
	Mode string `yaml:"mode"` // default: "thorough"

	// Workers is the number of concurrent probes (each owns one renderer tab).
	Workers int `yaml:"workers"` // default: 1

	// Delay is the global politeness interval between probe starts. Zero
	// means unset and takes the profile value; a negative value disables the
	// delay.
	Delay time.Duration `yaml:"delay"` // default: 1s thorough, 500ms fast

	// CheckpointInterval is the number of completed probes between snapshots.
	CheckpointInterval int `yaml:"checkpoint_interval"` // default: 50 thorough, 25 fast

	// BatchSize caps the records processed by one run. 0 means all.
	BatchSize int `yaml:"batch_size"`

	// OutDir receives checkpoints and batch files.
	OutDir string `yaml:"out_dir"` // default: "."
}

// EvidenceConfig controls the evidence extractor.
type EvidenceConfig struct {
	Keywords     []string `yaml:"keywords"`
	NoiseTerms   []string `yaml:"noise_terms"`
	ContextWidth int      `yaml:"context_width"` // default: 100

	// MaxEvidence caps the evidence kept per result. Zero means unset; a
	// negative value keeps every match.
	MaxEvidence int `yaml:"max_evidence"` // default: 2

	// Source is "html" (rendered markup) or "text" (visible text only).
	Source string `yaml:"source"` // default: "html"

	// The following three are filled from the mode profile when unset.
	CaptureContext *bool `yaml:"capture_context"`
	FilterNoise    *bool `yaml:"filter_noise"`
	ShortCircuit   *bool `yaml:"short_circuit"`
}

// HarvestConfig controls document link harvesting.
type HarvestConfig struct {
	// Enabled is filled from the mode profile when unset.
	Enabled *bool    `yaml:"enabled"`
	Terms   []string `yaml:"terms"`

	// ScopeSelector restricts harvesting to anchors inside matching elements.
	ScopeSelector string `yaml:"scope_selector"`
}

// StoreConfig controls the optional SQLite result store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// WebhookConfig controls lifecycle event delivery.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Listen string `yaml:"listen"` // empty disables the server
	Mode   string `yaml:"mode"`   // "debug", "release", "test"; default: "release"
}

// AuthConfig controls API key authentication of the status server.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// RateLimitConfig controls per-key rate limiting of the status server.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"rps"`   // default: 5
	Burst             int     `yaml:"burst"` // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "text"
}

// Load builds the configuration from, in increasing priority: built-in
// defaults, the mode profile, the YAML file at path (optional),
// PADCRAWL_* environment variables (a .env file is loaded first if present)
// and overrides, which typically carry command-line flags.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := &Config{Browser: BrowserConfig{Headless: true}}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	for _, o := range overrides {
		o(cfg)
	}
	cfg.ApplyProfile()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields with PADCRAWL_* environment variables.
func applyEnv(cfg *Config) {
	cfg.Browser.Headless = envBoolOr("PADCRAWL_HEADLESS", cfg.Browser.Headless)
	cfg.Browser.MaxPages = envIntOr("PADCRAWL_MAX_PAGES", cfg.Browser.MaxPages)
	cfg.Browser.DefaultProxy = envOr("PADCRAWL_PROXY", cfg.Browser.DefaultProxy)
	cfg.Browser.NoSandbox = envBoolOr("PADCRAWL_NO_SANDBOX", cfg.Browser.NoSandbox)
	cfg.Browser.BrowserBin = envOr("PADCRAWL_BROWSER_BIN", cfg.Browser.BrowserBin)

	cfg.Render.Timeout = envDurationOr("PADCRAWL_TIMEOUT", cfg.Render.Timeout)
	cfg.Render.Settle = envDurationOr("PADCRAWL_SETTLE", cfg.Render.Settle)
	cfg.Render.FetchMode = envOr("PADCRAWL_FETCH_MODE", cfg.Render.FetchMode)
	cfg.Render.Stealth = envBoolOr("PADCRAWL_STEALTH", cfg.Render.Stealth)
	cfg.Render.RespectRobots = envBoolOr("PADCRAWL_RESPECT_ROBOTS", cfg.Render.RespectRobots)
	cfg.Render.UserAgent = envOr("PADCRAWL_USER_AGENT", cfg.Render.UserAgent)
	cfg.Render.BlockedResourceTypes = envSliceOr("PADCRAWL_BLOCKED_RESOURCES", cfg.Render.BlockedResourceTypes)

	cfg.Crawl.Mode = envOr("PADCRAWL_MODE", cfg.Crawl.Mode)
	cfg.Crawl.Workers = envIntOr("PADCRAWL_WORKERS", cfg.Crawl.Workers)
	cfg.Crawl.Delay = envDurationOr("PADCRAWL_DELAY", cfg.Crawl.Delay)
	cfg.Crawl.CheckpointInterval = envIntOr("PADCRAWL_CHECKPOINT_INTERVAL", cfg.Crawl.CheckpointInterval)
	cfg.Crawl.BatchSize = envIntOr("PADCRAWL_BATCH_SIZE", cfg.Crawl.BatchSize)
	cfg.Crawl.OutDir = envOr("PADCRAWL_OUT_DIR", cfg.Crawl.OutDir)

	cfg.Evidence.Keywords = envSliceOr("PADCRAWL_KEYWORDS", cfg.Evidence.Keywords)
	cfg.Evidence.NoiseTerms = envSliceOr("PADCRAWL_NOISE_TERMS", cfg.Evidence.NoiseTerms)
	cfg.Evidence.ContextWidth = envIntOr("PADCRAWL_CONTEXT_WIDTH", cfg.Evidence.ContextWidth)
	cfg.Evidence.MaxEvidence = envIntOr("PADCRAWL_MAX_EVIDENCE", cfg.Evidence.MaxEvidence)
	cfg.Evidence.Source = envOr("PADCRAWL_EVIDENCE_SOURCE", cfg.Evidence.Source)

	cfg.Harvest.Terms = envSliceOr("PADCRAWL_HARVEST_TERMS", cfg.Harvest.Terms)
	cfg.Harvest.ScopeSelector = envOr("PADCRAWL_HARVEST_SCOPE", cfg.Harvest.ScopeSelector)

	cfg.Store.Path = envOr("PADCRAWL_DB", cfg.Store.Path)
	cfg.Webhook.URL = envOr("PADCRAWL_WEBHOOK_URL", cfg.Webhook.URL)
	cfg.Webhook.Secret = envOr("PADCRAWL_WEBHOOK_SECRET", cfg.Webhook.Secret)

	cfg.Server.Listen = envOr("PADCRAWL_LISTEN", cfg.Server.Listen)
	cfg.Server.Mode = envOr("PADCRAWL_SERVER_MODE", cfg.Server.Mode)
	cfg.Auth.APIKeys = envSliceOr("PADCRAWL_API_KEYS", cfg.Auth.APIKeys)
	cfg.RateLimit.RequestsPerSecond = envFloatOr("PADCRAWL_RATE_RPS", cfg.RateLimit.RequestsPerSecond)
	cfg.RateLimit.Burst = envIntOr("PADCRAWL_RATE_BURST", cfg.RateLimit.Burst)

	cfg.Log.Level = envOr("PADCRAWL_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("PADCRAWL_LOG_FORMAT", cfg.Log.Format)
}

// ApplyProfile fills every unset field from the mode profile and the
// built-in defaults. It is idempotent.
func (c *Config) ApplyProfile() {
	if c.Crawl.Mode == "" {
		c.Crawl.Mode = ModeThorough
	}
	p := Profile(c.Crawl.Mode)

	if c.Browser.MaxPages <= 0 {
		c.Browser.MaxPages = 4
	}
	if c.Render.Timeout <= 0 {
		c.Render.Timeout = p.Timeout
	}
	if c.Render.Settle <= 0 {
		c.Render.Settle = p.Settle
	}
	if c.Render.FetchMode == "" {
		c.Render.FetchMode = FetchBrowser
	}
	if c.Render.BlockedResourceTypes == nil {
		c.Render.BlockedResourceTypes = p.BlockedResources
	}

	if c.Crawl.Workers <= 0 {
		c.Crawl.Workers = 1
	}
	if c.Browser.MaxPages < c.Crawl.Workers {
		c.Browser.MaxPages = c.Crawl.Workers
	}
	if c.Crawl.Delay == 0 {
		c.Crawl.Delay = p.Delay
	}
	if c.Crawl.CheckpointInterval <= 0 {
		c.Crawl.CheckpointInterval = p.CheckpointInterval
	}
	if c.Crawl.OutDir == "" {
		c.Crawl.OutDir = "."
	}

	if len(c.Evidence.Keywords) == 0 {
		c.Evidence.Keywords = p.Keywords
	}
	if len(c.Evidence.NoiseTerms) == 0 {
		c.Evidence.NoiseTerms = DefaultNoiseTerms()
	}
	if c.Evidence.ContextWidth <= 0 {
		c.Evidence.ContextWidth = 100
	}
	if c.Evidence.MaxEvidence == 0 {
		c.Evidence.MaxEvidence = 2
	}
	if c.Evidence.Source == "" {
		c.Evidence.Source = "html"
	}
	if c.Evidence.CaptureContext == nil {
		c.Evidence.CaptureContext = boolPtr(p.CaptureContext)
	}
	if c.Evidence.FilterNoise == nil {
		c.Evidence.FilterNoise = boolPtr(p.FilterNoise)
	}
	if c.Evidence.ShortCircuit == nil {
		c.Evidence.ShortCircuit = boolPtr(p.ShortCircuit)
	}

	if c.Harvest.Enabled == nil {
		c.Harvest.Enabled = boolPtr(p.HarvestLinks)
	}
	if len(c.Harvest.Terms) == 0 {
		c.Harvest.Terms = DefaultHarvestTerms()
	}

	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Crawl.Mode {
	case ModeThorough, ModeFast:
	default:
		return fmt.Errorf("config: unknown mode %q (want %q or %q)", c.Crawl.Mode, ModeThorough, ModeFast)
	}
	switch c.Render.FetchMode {
	case FetchAuto, FetchHTTP, FetchBrowser:
	default:
		return fmt.Errorf("config: unknown fetch mode %q", c.Render.FetchMode)
	}
	switch c.Evidence.Source {
	case "html", "text":
	default:
		return fmt.Errorf("config: unknown evidence source %q", c.Evidence.Source)
	}
	if c.Crawl.BatchSize < 0 {
		return fmt.Errorf("config: batch size must be non-negative, got %d", c.Crawl.BatchSize)
	}
	if c.Harvest.ScopeSelector != "" {
		if _, err := cascadia.Compile(c.Harvest.ScopeSelector); err != nil {
			return fmt.Errorf("config: harvest scope selector: %w", err)
		}
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
