package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix for environment overrides (PERCH_OLLAMA_URL, ...).
const EnvPrefix = "perch"

// Config holds application configuration.
type Config struct {
	// PreviewChars is the character budget of the UI preview snippet.
	PreviewChars int `json:"preview_chars" envconfig:"PREVIEW_CHARS"`

	// IngestMaxTextBytes caps the ingestion text buffer. Files that would overflow it
	// are still counted in total_bytes and file_count.
	IngestMaxTextBytes int `json:"ingest_max_text_bytes" envconfig:"INGEST_MAX_TEXT_BYTES"`

	// IngestMaxImages caps how many images an ingestion preview lists.
	IngestMaxImages int `json:"ingest_max_images" envconfig:"INGEST_MAX_IMAGES"`

	// AnalysisMaxTextBytes caps the text sent to the generation service.
	AnalysisMaxTextBytes int `json:"analysis_max_text_bytes" envconfig:"ANALYSIS_MAX_TEXT_BYTES"`

	// AnalysisMaxImages caps how many images are encoded for one analysis.
	AnalysisMaxImages int `json:"analysis_max_images" envconfig:"ANALYSIS_MAX_IMAGES"`

	// OllamaURL is the base URL of the local text-generation service.
	OllamaURL string `json:"ollama_url" envconfig:"OLLAMA_URL"`

	// Model is the model name sent with every generate request.
	Model string `json:"model" envconfig:"MODEL"`

	// RequestTimeoutSeconds bounds a generate request end to end.
	RequestTimeoutSeconds int `json:"request_timeout_seconds,omitempty" envconfig:"REQUEST_TIMEOUT_SECONDS"`

	// HealthTimeoutMillis bounds the availability check.
	HealthTimeoutMillis int `json:"health_timeout_millis,omitempty" envconfig:"HEALTH_TIMEOUT_MILLIS"`

	// ReadyFallbackMillis is how long a UI surface has to signal ready before the
	// stored payload is pushed anyway.
	ReadyFallbackMillis int `json:"ready_fallback_millis,omitempty" envconfig:"READY_FALLBACK_MILLIS"`

	// LogCapacity is the size of the diagnostic log ring.
	LogCapacity int `json:"log_capacity,omitempty" envconfig:"LOG_CAPACITY"`

	// WebBind and WebPort locate the localhost UI/debug server.
	WebBind string `json:"web_bind,omitempty" envconfig:"WEB_BIND"`
	WebPort int    `json:"web_port,omitempty" envconfig:"WEB_PORT"`

	// Debug enables debug-level logging.
	Debug bool `json:"debug,omitempty" envconfig:"DEBUG"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" envconfig:"DB_MAX_OPEN_CONNS"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" envconfig:"DB_MAX_IDLE_CONNS"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty" envconfig:"DISABLED_TOOLS"`

	// DisabledTypes is a list of tool groups to disable entirely
	// ("launch", "content", "action", "service", "handoff", "history").
	DisabledTypes []string `json:"disabled_types,omitempty" envconfig:"DISABLED_TYPES"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		PreviewChars:          800,
		IngestMaxTextBytes:    1_000_000,
		IngestMaxImages:       6,
		AnalysisMaxTextBytes:  200_000,
		AnalysisMaxImages:     3,
		OllamaURL:             "http://127.0.0.1:11434",
		Model:                 "gemma3:4b",
		RequestTimeoutSeconds: 180,
		HealthTimeoutMillis:   2000,
		ReadyFallbackMillis:   1500,
		LogCapacity:           200,
		WebBind:               "127.0.0.1",
		WebPort:               7878,
	}
}

// RequestTimeout returns RequestTimeoutSeconds as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// HealthTimeout returns HealthTimeoutMillis as a duration.
func (c *Config) HealthTimeout() time.Duration {
	return time.Duration(c.HealthTimeoutMillis) * time.Millisecond
}

// ReadyFallback returns ReadyFallbackMillis as a duration.
func (c *Config) ReadyFallback() time.Duration {
	return time.Duration(c.ReadyFallbackMillis) * time.Millisecond
}

// Load loads configuration from baseDir/config.json, then applies PERCH_* overrides.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.perch.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return finalize(cfg)
}

// LoadWithRepo loads configuration from both global (~/.perch) and repo (.perch) directories.
// Repo config is found by walking upward from startDir to find the nearest .perch/config.json.
// Precedence: defaults < global < repo < environment.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return finalize(Merge(Merge(DefaultConfig(), global), repo))
}

// finalize applies environment overrides and validates the result.
func finalize(cfg *Config) (*Config, error) {
	cfg, err := applyEnv(cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects caps and timeouts that are not positive, and negative
// port or pool settings. Zero means "unset" only before merging with defaults.
func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"preview_chars", c.PreviewChars},
		{"ingest_max_text_bytes", c.IngestMaxTextBytes},
		{"ingest_max_images", c.IngestMaxImages},
		{"analysis_max_text_bytes", c.AnalysisMaxTextBytes},
		{"analysis_max_images", c.AnalysisMaxImages},
		{"request_timeout_seconds", c.RequestTimeoutSeconds},
		{"health_timeout_millis", c.HealthTimeoutMillis},
		{"ready_fallback_millis", c.ReadyFallbackMillis},
		{"log_capacity", c.LogCapacity},
	}
	for _, f := range positive {
		if f.value <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", f.name, f.value)
		}
	}

	if c.WebPort < 0 || c.WebPort > 65535 {
		return fmt.Errorf("config: web_port must be between 0 and 65535, got %d", c.WebPort)
	}
	if c.DBMaxOpenConns < 0 || c.DBMaxIdleConns < 0 {
		return fmt.Errorf("config: db connection limits must not be negative")
	}
	return nil
}

// FindRepoConfig walks upward from startDir to find the nearest .perch/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".perch", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// applyEnv overlays PERCH_* environment variables. Unset variables leave cfg untouched.
func applyEnv(cfg *Config) (*Config, error) {
	env := &Config{}
	if err := envconfig.Process(EnvPrefix, env); err != nil {
		return nil, err
	}
	return Merge(cfg, env), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	return &Config{
		PreviewChars:          pickInt(overlay.PreviewChars, base.PreviewChars),
		IngestMaxTextBytes:    pickInt(overlay.IngestMaxTextBytes, base.IngestMaxTextBytes),
		IngestMaxImages:       pickInt(overlay.IngestMaxImages, base.IngestMaxImages),
		AnalysisMaxTextBytes:  pickInt(overlay.AnalysisMaxTextBytes, base.AnalysisMaxTextBytes),
		AnalysisMaxImages:     pickInt(overlay.AnalysisMaxImages, base.AnalysisMaxImages),
		OllamaURL:             pickString(overlay.OllamaURL, base.OllamaURL),
		Model:                 pickString(overlay.Model, base.Model),
		RequestTimeoutSeconds: pickInt(overlay.RequestTimeoutSeconds, base.RequestTimeoutSeconds),
		HealthTimeoutMillis:   pickInt(overlay.HealthTimeoutMillis, base.HealthTimeoutMillis),
		ReadyFallbackMillis:   pickInt(overlay.ReadyFallbackMillis, base.ReadyFallbackMillis),
		LogCapacity:           pickInt(overlay.LogCapacity, base.LogCapacity),
		WebBind:               pickString(overlay.WebBind, base.WebBind),
		WebPort:               pickInt(overlay.WebPort, base.WebPort),
		DBMaxOpenConns:        pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:        pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns),

		// Booleans: overlay wins if true, else base
		Debug: base.Debug || overlay.Debug,

		DisabledTools: mergeStringSlice(base.DisabledTools, overlay.DisabledTools),
		DisabledTypes: mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes),
	}
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
