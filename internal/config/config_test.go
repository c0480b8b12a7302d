package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := DefaultConfig()
	if cfg.PreviewChars != def.PreviewChars {
		t.Fatalf("PreviewChars = %d, want %d", cfg.PreviewChars, def.PreviewChars)
	}
	if cfg.IngestMaxTextBytes != 1_000_000 {
		t.Errorf("IngestMaxTextBytes = %d, want 1000000", cfg.IngestMaxTextBytes)
	}
	if cfg.AnalysisMaxTextBytes != 200_000 {
		t.Errorf("AnalysisMaxTextBytes = %d, want 200000", cfg.AnalysisMaxTextBytes)
	}
	if cfg.IngestMaxImages != 6 || cfg.AnalysisMaxImages != 3 {
		t.Errorf("image caps = %d/%d, want 6/3", cfg.IngestMaxImages, cfg.AnalysisMaxImages)
	}
	if cfg.LogCapacity != 200 {
		t.Errorf("LogCapacity = %d, want 200", cfg.LogCapacity)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"preview_chars": 120, "model": "llama3.2"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PreviewChars != 120 {
		t.Fatalf("PreviewChars = %d, want %d", cfg.PreviewChars, 120)
	}
	if cfg.Model != "llama3.2" {
		t.Errorf("Model = %q, want %q", cfg.Model, "llama3.2")
	}
	if cfg.OllamaURL != DefaultConfig().OllamaURL {
		t.Errorf("OllamaURL = %q, want default", cfg.OllamaURL)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"model": "from-file", "web_port": 9000}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("PERCH_MODEL", "from-env")
	t.Setenv("PERCH_OLLAMA_URL", "http://10.0.0.2:11434")
	t.Setenv("PERCH_DEBUG", "true")

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model != "from-env" {
		t.Errorf("Model = %q, want %q", cfg.Model, "from-env")
	}
	if cfg.OllamaURL != "http://10.0.0.2:11434" {
		t.Errorf("OllamaURL = %q", cfg.OllamaURL)
	}
	if cfg.WebPort != 9000 {
		t.Errorf("WebPort = %d, want 9000 (file value, env unset)", cfg.WebPort)
	}
	if !cfg.Debug {
		t.Error("Debug should be enabled by PERCH_DEBUG")
	}
}

func TestLoad_EnvInvalidValue(t *testing.T) {
	t.Setenv("PERCH_WEB_PORT", "not-a-number")

	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("Load() expected error for non-numeric PERCH_WEB_PORT")
	}
}

func TestLoad_RejectsNonPositiveCaps(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
		want string
	}{
		{name: "negative preview from file", file: `{"preview_chars": -1}`, want: "preview_chars"},
		{name: "negative image cap from file", file: `{"ingest_max_images": -3}`, want: "ingest_max_images"},
		{name: "negative analysis cap from env", env: map[string]string{"PERCH_ANALYSIS_MAX_IMAGES": "-2"}, want: "analysis_max_images"},
		{name: "negative text cap from env", env: map[string]string{"PERCH_ANALYSIS_MAX_TEXT_BYTES": "-100"}, want: "analysis_max_text_bytes"},
		{name: "negative log capacity", file: `{"log_capacity": -5}`, want: "log_capacity"},
		{name: "port out of range", file: `{"web_port": 70000}`, want: "web_port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			if tt.file != "" {
				if err := os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte(tt.file), 0600); err != nil {
					t.Fatalf("WriteFile() error = %v", err)
				}
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(tmpDir)
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoadWithRepo_RejectsNegativeRepoCap(t *testing.T) {
	globalDir := t.TempDir()
	repoDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repoDir, ".perch"), 0700); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(repoDir, ".perch", "config.json"), []byte(`{"preview_chars": -10}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := LoadWithRepo(globalDir, repoDir); err == nil {
		t.Fatal("LoadWithRepo() expected error for negative preview_chars")
	}
}

func TestValidate_Defaults(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}

	cfg := DefaultConfig()
	cfg.WebPort = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("port 0 (pick a free port) should be accepted: %v", err)
	}
	cfg.DBMaxOpenConns = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative DBMaxOpenConns should be rejected")
	}
}

func TestLoad_DisabledTools(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"disabled_tools": ["content_analyze", "action_run"]}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.DisabledTools) != 2 {
		t.Fatalf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
	if cfg.DisabledTools[0] != "content_analyze" {
		t.Errorf("DisabledTools[0] = %q, want %q", cfg.DisabledTools[0], "content_analyze")
	}
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestTimeout() != 180*time.Second {
		t.Errorf("RequestTimeout() = %v", cfg.RequestTimeout())
	}
	if cfg.HealthTimeout() != 2*time.Second {
		t.Errorf("HealthTimeout() = %v", cfg.HealthTimeout())
	}
	if cfg.ReadyFallback() != 1500*time.Millisecond {
		t.Errorf("ReadyFallback() = %v", cfg.ReadyFallback())
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	globalConfig := `{"preview_chars": 400, "disabled_tools": ["action_run"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	perchDir := filepath.Join(repoRoot, ".perch")
	if err := os.MkdirAll(perchDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	repoConfig := `{"preview_chars": 300, "disabled_tools": ["content_analyze"]}`
	if err := os.WriteFile(filepath.Join(perchDir, "config.json"), []byte(repoConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, repoRoot)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.PreviewChars != 300 {
		t.Errorf("PreviewChars = %d, want 300 (repo override)", cfg.PreviewChars)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.PreviewChars != 800 {
		t.Errorf("PreviewChars = %d, want 800", cfg.PreviewChars)
	}
	if len(cfg.DisabledTools) != 0 {
		t.Errorf("DisabledTools = %v, want empty", cfg.DisabledTools)
	}
}

func TestLoadWithRepo_WalksUpward(t *testing.T) {
	tmpDir := t.TempDir()
	globalDir := t.TempDir()

	perchDir := filepath.Join(tmpDir, ".perch")
	if err := os.MkdirAll(perchDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(perchDir, "config.json"), []byte(`{"model": "repo-model"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	subdir := filepath.Join(tmpDir, "subdir", "deeper")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, subdir)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.Model != "repo-model" {
		t.Errorf("Model = %q, want %q", cfg.Model, "repo-model")
	}
}

func TestMerge_ScalarOverride(t *testing.T) {
	base := &Config{PreviewChars: 800, DBMaxOpenConns: 5, Model: "a"}
	overlay := &Config{PreviewChars: 500}

	result := Merge(base, overlay)

	if result.PreviewChars != 500 {
		t.Errorf("PreviewChars = %d, want 500 (overlay)", result.PreviewChars)
	}
	if result.DBMaxOpenConns != 5 {
		t.Errorf("DBMaxOpenConns = %d, want 5 (base, overlay is zero)", result.DBMaxOpenConns)
	}
	if result.Model != "a" {
		t.Errorf("Model = %q, want %q (base, overlay is empty)", result.Model, "a")
	}
}

func TestMerge_BooleanOr(t *testing.T) {
	result := Merge(&Config{Debug: true}, &Config{Debug: false})

	if !result.Debug {
		t.Error("Debug should be true (base OR overlay)")
	}
}

func TestMerge_ArrayMergeDedup(t *testing.T) {
	base := &Config{DisabledTypes: []string{"history", "action"}}
	overlay := &Config{DisabledTypes: []string{"action", " service "}}

	result := Merge(base, overlay)

	want := []string{"history", "action", "service"}
	if len(result.DisabledTypes) != len(want) {
		t.Fatalf("DisabledTypes = %v, want %v", result.DisabledTypes, want)
	}
	for i := range want {
		if result.DisabledTypes[i] != want[i] {
			t.Errorf("DisabledTypes[%d] = %q, want %q", i, result.DisabledTypes[i], want[i])
		}
	}
}

func TestFindRepoConfig_NotFound(t *testing.T) {
	if found := FindRepoConfig(t.TempDir()); found != "" {
		t.Errorf("FindRepoConfig() = %q, want empty string", found)
	}
}
