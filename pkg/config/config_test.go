package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "overwrite.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfigFile(t, `
input: ./in
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if cfg.Input != "./in" {
		t.Fatalf("input=%q", cfg.Input)
	}
	if cfg.Output != defaultOutput || cfg.RepoURL != defaultRepoURL {
		t.Fatalf("expected default output/repo_url, got %q %q", cfg.Output, cfg.RepoURL)
	}
	if cfg.SourceType != "external" {
		t.Fatalf("source_type default=%q", cfg.SourceType)
	}
	if cfg.Templates != "" || cfg.ConfigTypes != "" || cfg.ProcessedOutput != "" {
		t.Fatalf("templates/config_types/processed_output should default to empty")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("logging defaults=%q/%q", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.Logging.Rotate.Enabled {
		t.Fatalf("logging.rotate.enabled default should be false")
	}
	if cfg.Logging.Rotate.MaxSizeMB != 100 || cfg.Logging.Rotate.MaxBackups != 14 || cfg.Logging.Rotate.MaxAgeDays != 14 {
		t.Fatalf("logging.rotate defaults=%+v", cfg.Logging.Rotate)
	}
	if cfg.Watch.DebounceMs != 500 {
		t.Fatalf("watch.debounce_ms default=%d", cfg.Watch.DebounceMs)
	}
	if cfg.Serve.Listen != "127.0.0.1:8080" || cfg.Serve.Schedule != "" || cfg.Serve.Token != "" {
		t.Fatalf("serve defaults=%+v", cfg.Serve)
	}
	if cfg.Sync.Branch != "main" || cfg.Sync.Depth != 1 || cfg.Sync.LocalPath == "" {
		t.Fatalf("sync defaults=%+v", cfg.Sync)
	}
	if cfg.Index.Purposes == nil {
		t.Fatalf("index.purposes should be initialized")
	}
}

func TestLoad_RotateZeroAgeIsKept(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  path: ./run.log
  rotate:
    enabled: true
    max_age_days: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if cfg.Logging.Rotate.MaxAgeDays != 0 {
		t.Fatalf("explicit max_age_days=0 should be kept, got %d", cfg.Logging.Rotate.MaxAgeDays)
	}
	if cfg.Logging.Rotate.MaxBackups != 14 {
		t.Fatalf("max_backups default=%d", cfg.Logging.Rotate.MaxBackups)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
index:
  purposes:
    General_Config: "general"
    Drop_Me: "x"
`)
	t.Setenv("OCW_INPUT", "/data/in")
	t.Setenv("OCW_OUTPUT", "/data/out")
	t.Setenv("OCW_SOURCE_TYPE", "local")
	t.Setenv("OCW_REPO_URL", "https://example.com/r/main")
	t.Setenv("OCW_LOG_LEVEL", "debug")
	t.Setenv("OCW_LOG_FORMAT", "json")
	t.Setenv("OCW_WATCH_DEBOUNCE_MS", "50")
	t.Setenv("OCW_LISTEN", ":9999")
	t.Setenv("OCW_SCHEDULE", "@every 1h")
	t.Setenv("OCW_SYNC_DEPTH", "0x")
	t.Setenv("OCW_SYNC_TOKEN", "tok")
	t.Setenv("OCW_SERVE_TOKEN", "servetok")
	t.Setenv("OCW_INDEX_PURPOSE_Smart_Mode", "smart")
	t.Setenv("OCW_INDEX_PURPOSE_Drop_Me", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if cfg.Input != "/data/in" || cfg.Output != "/data/out" {
		t.Fatalf("paths=%q %q", cfg.Input, cfg.Output)
	}
	if cfg.SourceType != "local" || cfg.RepoURL != "https://example.com/r/main" {
		t.Fatalf("source_type=%q repo_url=%q", cfg.SourceType, cfg.RepoURL)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging=%+v", cfg.Logging)
	}
	if cfg.Watch.DebounceMs != 50 {
		t.Fatalf("debounce=%d", cfg.Watch.DebounceMs)
	}
	if cfg.Serve.Listen != ":9999" || cfg.Serve.Schedule != "@every 1h" {
		t.Fatalf("serve=%+v", cfg.Serve)
	}
	if cfg.Sync.Depth != 1 {
		t.Fatalf("invalid int env should be ignored, depth=%d", cfg.Sync.Depth)
	}
	if cfg.Serve.Token != "servetok" {
		t.Fatalf("serve.token=%q", cfg.Serve.Token)
	}
	if cfg.Sync.Token != "tok" {
		t.Fatalf("sync.token=%q", cfg.Sync.Token)
	}
	if cfg.Index.Purposes["General_Config"] != "general" || cfg.Index.Purposes["Smart_Mode"] != "smart" {
		t.Fatalf("purposes=%v", cfg.Index.Purposes)
	}
	if _, ok := cfg.Index.Purposes["Drop_Me"]; ok {
		t.Fatalf("empty env should unset purpose")
	}
}

func TestLoad_Validate(t *testing.T) {
	cases := map[string]string{
		"source_type":             "source_type: remote\n",
		"repo_url":                "repo_url: not-a-url\n",
		"logging.level":           "logging:\n  level: loud\n",
		"logging.format":          "logging:\n  format: xml\n",
		"logging.path":            "logging:\n  rotate:\n    enabled: true\n",
		"logging.rotate.max_size": "logging:\n  rotate:\n    max_size_mb: 0\n",
		"sync.depth":              "sync:\n  depth: -1\n",
		"sync.repository":         "serve:\n  sync_before_run: true\n",
	}
	for key, body := range cases {
		_, err := Load(writeConfigFile(t, body))
		if err == nil {
			t.Fatalf("%s: expected error", key)
		}
		var ce *ConfigurationError
		if !errors.As(err, &ce) {
			t.Fatalf("%s: expected *ConfigurationError, got %T", key, err)
		}
		if !strings.Contains(err.Error(), strings.SplitN(key, ".max", 2)[0]) {
			t.Fatalf("%s: error should name the key, got %v", key, err)
		}
	}
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfigFile(t, "input: [unterminated\n"))
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
}

func TestLoadIfExists(t *testing.T) {
	cfg, err := LoadIfExists(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadIfExists err=%v", err)
	}
	if cfg.Output != defaultOutput {
		t.Fatalf("expected defaults, output=%q", cfg.Output)
	}

	cfg, err = LoadIfExists("")
	if err != nil || cfg == nil {
		t.Fatalf("empty path should return defaults, err=%v", err)
	}

	cfg, err = LoadIfExists(writeConfigFile(t, "output: ./x\n"))
	if err != nil {
		t.Fatalf("LoadIfExists err=%v", err)
	}
	if cfg.Output != "./x" {
		t.Fatalf("output=%q", cfg.Output)
	}
}

func TestInvalid(t *testing.T) {
	if Invalid("x", nil) != nil {
		t.Fatalf("nil error should stay nil")
	}
	base := errors.New("bad")
	err := Invalid("types.json", base)
	if !errors.Is(err, base) {
		t.Fatalf("Invalid should wrap")
	}
	if again := Invalid("other", err); again != err {
		t.Fatalf("Invalid should not double wrap")
	}
	if !strings.Contains(err.Error(), "types.json") {
		t.Fatalf("error should name the source: %v", err)
	}
}
