package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"tagsync/internal/fileutil"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains data and log directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Store contains canonical store connection settings.
type Store struct {
	// Path defaults to <data_dir>/tagsync.db.
	Path          string `toml:"path"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
	MaxOpenConns  int    `toml:"max_open_conns"`
}

// Ingest contains configuration for document ingestion and batch runs.
type Ingest struct {
	// Workers bounds concurrent documents. Zero uses store.max_open_conns.
	Workers               int      `toml:"workers"`
	ConfirmThresholdBytes int64    `toml:"confirm_threshold_bytes"`
	StrictMarkers         bool     `toml:"strict_markers"`
	IngestedBy            string   `toml:"ingested_by"`
	Extensions            []string `toml:"extensions"`
	Exclude               []string `toml:"exclude"`
	// DuplicateSimilarity merges fresh same-kind siblings whose labels are at
	// least this similar. Zero limits merging to identical labels.
	DuplicateSimilarity float64 `toml:"duplicate_similarity"`
}

// Identity contains identity registry settings.
type Identity struct {
	Partitions int    `toml:"partitions"`
	TieBreak   string `toml:"tie_break"`
}

// Drift contains drift classification settings.
type Drift struct {
	Policy               string  `toml:"policy"`
	RefinementSimilarity float64 `toml:"refinement_similarity"`
}

// Reconcile contains commit retry settings.
type Reconcile struct {
	MaxAttempts      int `toml:"max_attempts"`
	InitialBackoffMS int `toml:"initial_backoff_ms"`
	MaxBackoffMS     int `toml:"max_backoff_ms"`
}

// Watch contains configuration for the file-change sync service.
type Watch struct {
	Roots                 []string `toml:"roots"`
	DebounceMS            int      `toml:"debounce_ms"`
	RescanIntervalSeconds int      `toml:"rescan_interval_seconds"`
	HashCacheTTLSeconds   int      `toml:"hash_cache_ttl_seconds"`
	LockPath              string   `toml:"lock_path"`
}

// Classifier contains settings for the AI proposal producer.
type Classifier struct {
	Enabled           bool    `toml:"enabled"`
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	MaxProposals      int     `toml:"max_proposals"`
}

// Metrics contains Prometheus exposition settings.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// File, when set, receives a JSON copy of every log line.
	File string `toml:"file"`
	// RetentionDays prunes old log files in log_dir. Zero disables pruning.
	RetentionDays int `toml:"retention_days"`
}

// Config encapsulates all configuration values for tagsync.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Store: SQLite location and connection budget
//   - Ingest: worker pool, cost confirmation, discovery filters
//   - Identity: registry partitions and duplicate tie-break
//   - Drift: resolution policy
//   - Reconcile: commit retry backoff
//   - Watch: file-change and scheduled sync
//   - Classifier: OpenAI-compatible proposal producer
//   - Metrics: Prometheus endpoint for the watch service
//   - Logging: log format, level, and file
type Config struct {
	Paths      Paths      `toml:"paths"`
	Store      Store      `toml:"store"`
	Ingest     Ingest     `toml:"ingest"`
	Identity   Identity   `toml:"identity"`
	Drift      Drift      `toml:"drift"`
	Reconcile  Reconcile  `toml:"reconcile"`
	Watch      Watch      `toml:"watch"`
	Classifier Classifier `toml:"classifier"`
	Metrics    Metrics    `toml:"metrics"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tagsync/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tagsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data, log, and store directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir, filepath.Dir(c.Store.Path)}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WorkerCount returns the effective ingest worker pool size.
func (c *Config) WorkerCount() int {
	if c.Ingest.Workers > 0 {
		return c.Ingest.Workers
	}
	if c.Store.MaxOpenConns > 0 {
		return c.Store.MaxOpenConns
	}
	return 1
}

// BusyTimeout returns the SQLite busy timeout.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Store.BusyTimeoutMS) * time.Millisecond
}

// ReconcileBackoff returns the initial and maximum commit retry delays.
func (c *Config) ReconcileBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Reconcile.InitialBackoffMS) * time.Millisecond,
		time.Duration(c.Reconcile.MaxBackoffMS) * time.Millisecond
}

// WatchDebounce returns the quiet period after a file event before syncing.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// WatchRescanInterval returns the scheduled full-rescan interval. Zero
// disables scheduled rescans.
func (c *Config) WatchRescanInterval() time.Duration {
	return time.Duration(c.Watch.RescanIntervalSeconds) * time.Second
}

// WatchHashTTL returns how long a synced file's content hash is remembered.
func (c *Config) WatchHashTTL() time.Duration {
	return time.Duration(c.Watch.HashCacheTTLSeconds) * time.Second
}

// ClassifierTimeout returns the per-request classifier timeout.
func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := fileutil.WriteFileAtomic(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}
