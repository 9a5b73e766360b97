package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "overwrite.yaml"

	defaultInput      = "./processed_configs/external"
	defaultOutput     = "./overwrite"
	defaultRepoURL    = "https://raw.githubusercontent.com/USER/REPO/main"
	defaultSourceType = "external"
	defaultListen     = "127.0.0.1:8080"
	defaultDebounceMs = 500
	defaultSyncBranch = "main"
	defaultSyncDepth  = 1
	defaultSyncPath   = "./upstream"

	defaultLogRotateMaxSizeMB  = 100
	defaultLogRotateMaxBackups = 14
	defaultLogRotateMaxAgeDays = 14
)

// ConfigurationError reports an invalid tool config, config-type descriptor
// or template root. It is fatal before any document is processed.
type ConfigurationError struct {
	Source string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.Source == "" {
		return "configuration: " + e.Err.Error()
	}
	return fmt.Sprintf("configuration %s: %v", e.Source, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Invalid wraps err as a ConfigurationError unless it already is one.
func Invalid(source string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return err
	}
	return &ConfigurationError{Source: source, Err: err}
}

type LogRotateConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`

	maxSizeMBSet  bool `yaml:"-"`
	maxBackupsSet bool `yaml:"-"`
	maxAgeDaysSet bool `yaml:"-"`
}

func (c *LogRotateConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawRotate struct {
		Enabled    bool `yaml:"enabled"`
		MaxSizeMB  int  `yaml:"max_size_mb"`
		MaxBackups int  `yaml:"max_backups"`
		MaxAgeDays int  `yaml:"max_age_days"`
		Compress   bool `yaml:"compress"`
	}
	var raw rawRotate
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Enabled = raw.Enabled
	c.MaxSizeMB = raw.MaxSizeMB
	c.MaxBackups = raw.MaxBackups
	c.MaxAgeDays = raw.MaxAgeDays
	c.Compress = raw.Compress
	c.maxSizeMBSet = false
	c.maxBackupsSet = false
	c.maxAgeDaysSet = false

	if value.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		switch strings.TrimSpace(value.Content[i].Value) {
		case "max_size_mb":
			c.maxSizeMBSet = true
		case "max_backups":
			c.maxBackupsSet = true
		case "max_age_days":
			c.maxAgeDaysSet = true
		}
	}
	return nil
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
	// Path is an optional log file; stderr when empty.
	Path   string          `yaml:"path"`
	Rotate LogRotateConfig `yaml:"rotate"`
}

type IndexConfig struct {
	// Upstream labels external sources in the category README.
	Upstream string `yaml:"upstream"`
	// Purposes maps a category name (or a substring of it) to a purpose line.
	Purposes map[string]string `yaml:"purposes"`
}

type Config struct {
	Input string `yaml:"input"`
	// Output is the overwrite artifact root.
	Output string `yaml:"output"`
	// ProcessedOutput, when set, receives the reduced YAML of every source.
	ProcessedOutput string `yaml:"processed_output"`
	// Templates is a template directory; the builtin set when empty.
	Templates string `yaml:"templates"`
	// ConfigTypes is a JSON or YAML variant descriptor; the builtin matrix when empty.
	ConfigTypes string `yaml:"config_types"`
	RepoURL     string `yaml:"repo_url"`
	SourceType  string `yaml:"source_type"`

	Index IndexConfig `yaml:"index"`

	Logging LoggingConfig `yaml:"logging"`

	Watch struct {
		DebounceMs int `yaml:"debounce_ms"`
	} `yaml:"watch"`

	Serve struct {
		Listen string `yaml:"listen"`
		// Schedule is a cron expression for periodic regeneration; disabled when empty.
		Schedule      string `yaml:"schedule"`
		SyncBeforeRun bool   `yaml:"sync_before_run"`
		// Token guards POST /api/regenerate when set.
		Token string `yaml:"token"`
	} `yaml:"serve"`

	Sync struct {
		Repository string `yaml:"repository"`
		Branch     string `yaml:"branch"`
		Depth      int    `yaml:"depth"`
		LocalPath  string `yaml:"local_path"`
		// Subdir inside the clone that holds the category directories.
		Subdir string `yaml:"subdir"`
		Token  string `yaml:"token"`
	} `yaml:"sync"`
}

// Default returns a config with every default applied and env overrides read.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg
}

func Load(path string) (*Config, error) {
	// #nosec G304 -- path is provided by trusted config/flag.
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, Invalid(path, err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, Invalid(path, err)
	}
	return &cfg, nil
}

// LoadIfExists loads path, falling back to Default when the file is missing.
func LoadIfExists(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Input) == "" {
		cfg.Input = defaultInput
	}
	if strings.TrimSpace(cfg.Output) == "" {
		cfg.Output = defaultOutput
	}
	if strings.TrimSpace(cfg.RepoURL) == "" {
		cfg.RepoURL = defaultRepoURL
	}
	if strings.TrimSpace(cfg.SourceType) == "" {
		cfg.SourceType = defaultSourceType
	}
	cfg.Index.Purposes = normalizeStringMap(cfg.Index.Purposes)

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if !cfg.Logging.Rotate.maxSizeMBSet {
		cfg.Logging.Rotate.MaxSizeMB = defaultLogRotateMaxSizeMB
	}
	if !cfg.Logging.Rotate.maxBackupsSet {
		cfg.Logging.Rotate.MaxBackups = defaultLogRotateMaxBackups
	}
	if !cfg.Logging.Rotate.maxAgeDaysSet {
		cfg.Logging.Rotate.MaxAgeDays = defaultLogRotateMaxAgeDays
	}

	if cfg.Watch.DebounceMs <= 0 {
		cfg.Watch.DebounceMs = defaultDebounceMs
	}
	if strings.TrimSpace(cfg.Serve.Listen) == "" {
		cfg.Serve.Listen = defaultListen
	}
	if strings.TrimSpace(cfg.Sync.Branch) == "" {
		cfg.Sync.Branch = defaultSyncBranch
	}
	if cfg.Sync.Depth == 0 {
		cfg.Sync.Depth = defaultSyncDepth
	}
	if strings.TrimSpace(cfg.Sync.LocalPath) == "" {
		cfg.Sync.LocalPath = defaultSyncPath
	}
}

func applyEnvOverrides(cfg *Config) {
	applyEnvPathOverrides(cfg)
	applyEnvIndexPurposeOverrides(cfg)
	applyEnvLoggingOverrides(cfg)
	applyEnvServeSyncOverrides(cfg)
}

func applyEnvPathOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("OCW_INPUT")); v != "" {
		cfg.Input = v
	}
	if v := strings.TrimSpace(os.Getenv("OCW_OUTPUT")); v != "" {
		cfg.Output = v
	}
	if v := strings.TrimSpace(os.Getenv("OCW_PROCESSED_OUTPUT")); v != "" {
		cfg.ProcessedOutput = v
	}
	if v := strings.TrimSpace(os.Getenv("OCW_TEMPLATES")); v != "" {
		cfg.Templates = v
	}
	if v := strings.TrimSpace(os.Getenv("OCW_CONFIG_TYPES")); v != "" {
		cfg.ConfigTypes = v
	}
	if v := strings.TrimSpace(os.Getenv("OCW_REPO_URL")); v != "" {
		cfg.RepoURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OCW_SOURCE_TYPE")); v != "" {
		cfg.SourceType = v
	}
	if v := strings.TrimSpace(os.Getenv("OCW_INDEX_UPSTREAM")); v != "" {
		cfg.Index.Upstream = v
	}
}

func applyEnvLoggingOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("OCW_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("OCW_LOG_FORMAT")); v != "" {
		cfg.Logging.Format = v
	}
	if v := strings.TrimSpace(os.Getenv("OCW_LOG_PATH")); v != "" {
		cfg.Logging.Path = v
	}
	cfg.Logging.Rotate.Enabled = envBool("OCW_LOG_ROTATE_ENABLED", cfg.Logging.Rotate.Enabled)
	if n, ok := envInt("OCW_LOG_ROTATE_MAX_SIZE_MB"); ok {
		cfg.Logging.Rotate.MaxSizeMB = n
		cfg.Logging.Rotate.maxSizeMBSet = true
	}
	if n, ok := envInt("OCW_LOG_ROTATE_MAX_BACKUPS"); ok {
		cfg.Logging.Rotate.MaxBackups = n
		cfg.Logging.Rotate.maxBackupsSet = true
	}
	if n, ok := envInt("OCW_LOG_ROTATE_MAX_AGE_DAYS"); ok {
		cfg.Logging.Rotate.MaxAgeDays = n
		cfg.Logging.Rotate.maxAgeDaysSet = true
	}
	cfg.Logging.Rotate.Compress = envBool("OCW_LOG_ROTATE_COMPRESS", cfg.Logging.Rotate.Compress)
}

func applyEnvServeSyncOverrides(cfg *Config) {
	if n, ok := envInt("OCW_WATCH_DEBOUNCE_MS"); ok {
		cfg.Watch.DebounceMs = n
	}
	if v := strings.TrimSpace(os.Getenv("OCW_LISTEN")); v != "" {
		cfg.Serve.Listen = v
	}
	if v, ok := os.LookupEnv("OCW_SCHEDULE"); ok {
		cfg.Serve.Schedule = strings.TrimSpace(v)
	}
	cfg.Serve.SyncBeforeRun = envBool("OCW_SYNC_BEFORE_RUN", cfg.Serve.SyncBeforeRun)
	if v := strings.TrimSpace(os.Getenv("OCW_SERVE_TOKEN")); v != "" {
		cfg.Serve.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("OCW_SYNC_REPOSITORY")); v != "" {
		cfg.Sync.Repository = v
	}
	if v := strings.TrimSpace(os.Getenv("OCW_SYNC_BRANCH")); v != "" {
		cfg.Sync.Branch = v
	}
	if n, ok := envInt("OCW_SYNC_DEPTH"); ok {
		cfg.Sync.Depth = n
	}
	if v := strings.TrimSpace(os.Getenv("OCW_SYNC_LOCAL_PATH")); v != "" {
		cfg.Sync.LocalPath = v
	}
	if v := strings.TrimSpace(os.Getenv("OCW_SYNC_SUBDIR")); v != "" {
		cfg.Sync.Subdir = v
	}
	if v := strings.TrimSpace(os.Getenv("OCW_SYNC_TOKEN")); v != "" {
		cfg.Sync.Token = v
	}
}

// Validate checks a loaded config. Keys in messages use the YAML spelling.
func Validate(cfg *Config) error {
	switch cfg.SourceType {
	case "external", "local":
	default:
		return fmt.Errorf("source_type must be external or local (got %q)", cfg.SourceType)
	}
	if !strings.Contains(cfg.RepoURL, "://") {
		return errors.New("repo_url must be an absolute URL (e.g. https://raw.githubusercontent.com/USER/REPO/main)")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error (got %q)", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", cfg.Logging.Format)
	}
	if cfg.Logging.Rotate.Enabled && strings.TrimSpace(cfg.Logging.Path) == "" {
		return errors.New("logging.path is required when logging.rotate.enabled=true")
	}
	if cfg.Logging.Rotate.MaxSizeMB <= 0 {
		return errors.New("logging.rotate.max_size_mb must be > 0")
	}
	if cfg.Logging.Rotate.MaxBackups <= 0 {
		return errors.New("logging.rotate.max_backups must be > 0")
	}
	if cfg.Logging.Rotate.MaxAgeDays < 0 {
		return errors.New("logging.rotate.max_age_days must be >= 0")
	}
	if cfg.Watch.DebounceMs <= 0 {
		return errors.New("watch.debounce_ms must be > 0")
	}
	if cfg.Sync.Depth < 0 {
		return errors.New("sync.depth must be >= 0")
	}
	if cfg.Serve.SyncBeforeRun && strings.TrimSpace(cfg.Sync.Repository) == "" {
		return errors.New("sync.repository is required when serve.sync_before_run=true")
	}
	return nil
}

func envInt(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

var envIndexPurposePattern = regexp.MustCompile(`^OCW_INDEX_PURPOSE_([A-Za-z0-9_]+)$`)

// applyEnvIndexPurposeOverrides reads OCW_INDEX_PURPOSE_<Category>=<text>.
// Category names keep their case.
func applyEnvIndexPurposeOverrides(cfg *Config) {
	if cfg.Index.Purposes == nil {
		cfg.Index.Purposes = map[string]string{}
	}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		m := envIndexPurposePattern.FindStringSubmatch(strings.TrimSpace(parts[0]))
		if m == nil {
			continue
		}
		v := strings.TrimSpace(parts[1])
		// Allow unsetting by providing empty string.
		if v == "" {
			delete(cfg.Index.Purposes, m[1])
			continue
		}
		cfg.Index.Purposes[m[1]] = v
	}
}

func normalizeStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	return out
}
