package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizeIngest()
	c.normalizeIdentity()
	c.normalizeDrift()
	c.normalizeReconcile()
	if err := c.normalizeWatch(); err != nil {
		return err
	}
	c.normalizeClassifier()
	c.normalizeMetrics()
	return c.normalizeLogging()
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("TAGSYNC_DATA_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.DataDir = strings.TrimSpace(value)
	}
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() error {
	var err error
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = filepath.Join(c.Paths.DataDir, defaultStoreFile)
	}
	if c.Store.Path, err = expandPath(c.Store.Path); err != nil {
		return fmt.Errorf("store.path: %w", err)
	}
	if c.Store.BusyTimeoutMS <= 0 {
		c.Store.BusyTimeoutMS = defaultStoreBusyTimeoutMS
	}
	if c.Store.MaxOpenConns <= 0 {
		c.Store.MaxOpenConns = defaultStoreMaxOpenConns
	}
	return nil
}

func (c *Config) normalizeIngest() {
	if c.Ingest.Workers < 0 {
		c.Ingest.Workers = 0
	}
	c.Ingest.IngestedBy = strings.TrimSpace(c.Ingest.IngestedBy)
	if c.Ingest.IngestedBy == "" {
		c.Ingest.IngestedBy = defaultIngestedBy
	}
	if len(c.Ingest.Extensions) == 0 {
		c.Ingest.Extensions = append([]string(nil), defaultExtensions...)
	}
	exts := make([]string, 0, len(c.Ingest.Extensions))
	for _, ext := range c.Ingest.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !slices.Contains(exts, ext) {
			exts = append(exts, ext)
		}
	}
	c.Ingest.Extensions = exts

	excludes := make([]string, 0, len(c.Ingest.Exclude))
	for _, pattern := range c.Ingest.Exclude {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			excludes = append(excludes, filepath.ToSlash(pattern))
		}
	}
	c.Ingest.Exclude = excludes
}

func (c *Config) normalizeIdentity() {
	if c.Identity.Partitions <= 0 {
		c.Identity.Partitions = defaultIdentityPartitions
	}
	c.Identity.TieBreak = strings.ToLower(strings.TrimSpace(c.Identity.TieBreak))
	if c.Identity.TieBreak == "" {
		c.Identity.TieBreak = defaultIdentityTieBreak
	}
}

func (c *Config) normalizeDrift() {
	c.Drift.Policy = strings.ToLower(strings.TrimSpace(c.Drift.Policy))
	if c.Drift.Policy == "" {
		c.Drift.Policy = defaultDriftPolicy
	}
}

func (c *Config) normalizeReconcile() {
	if c.Reconcile.MaxAttempts <= 0 {
		c.Reconcile.MaxAttempts = defaultReconcileMaxAttempts
	}
	if c.Reconcile.InitialBackoffMS <= 0 {
		c.Reconcile.InitialBackoffMS = defaultReconcileInitialMS
	}
	if c.Reconcile.MaxBackoffMS <= 0 {
		c.Reconcile.MaxBackoffMS = defaultReconcileMaxMS
	}
}

func (c *Config) normalizeWatch() error {
	roots := make([]string, 0, len(c.Watch.Roots))
	for _, root := range c.Watch.Roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		expanded, err := expandPath(strings.TrimSpace(root))
		if err != nil {
			return fmt.Errorf("watch.roots: %w", err)
		}
		if !slices.Contains(roots, expanded) {
			roots = append(roots, expanded)
		}
	}
	c.Watch.Roots = roots
	if c.Watch.DebounceMS <= 0 {
		c.Watch.DebounceMS = defaultWatchDebounceMS
	}
	if c.Watch.RescanIntervalSeconds < 0 {
		c.Watch.RescanIntervalSeconds = 0
	}
	if c.Watch.HashCacheTTLSeconds <= 0 {
		c.Watch.HashCacheTTLSeconds = defaultWatchHashCacheSeconds
	}
	var err error
	if strings.TrimSpace(c.Watch.LockPath) == "" {
		c.Watch.LockPath = filepath.Join(c.Paths.DataDir, "watch.lock")
	}
	if c.Watch.LockPath, err = expandPath(c.Watch.LockPath); err != nil {
		return fmt.Errorf("watch.lock_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeClassifier() {
	c.Classifier.APIKey = strings.TrimSpace(c.Classifier.APIKey)
	if c.Classifier.APIKey == "" {
		if value, ok := os.LookupEnv("TAGSYNC_CLASSIFIER_API_KEY"); ok {
			c.Classifier.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.Classifier.APIKey = strings.TrimSpace(value)
		}
	}
	c.Classifier.BaseURL = strings.TrimRight(strings.TrimSpace(c.Classifier.BaseURL), "/")
	if c.Classifier.BaseURL == "" {
		c.Classifier.BaseURL = defaultClassifierBaseURL
	}
	c.Classifier.Model = strings.TrimSpace(c.Classifier.Model)
	if c.Classifier.Model == "" {
		c.Classifier.Model = defaultClassifierModel
	}
	if c.Classifier.TimeoutSeconds <= 0 {
		c.Classifier.TimeoutSeconds = defaultClassifierTimeout
	}
	if c.Classifier.RequestsPerSecond <= 0 {
		c.Classifier.RequestsPerSecond = defaultClassifierRPS
	}
	if c.Classifier.Burst <= 0 {
		c.Classifier.Burst = defaultClassifierBurst
	}
	if c.Classifier.MaxProposals <= 0 {
		c.Classifier.MaxProposals = defaultClassifierMaxProposals
	}
}

func (c *Config) normalizeMetrics() {
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	if c.Metrics.Bind == "" {
		c.Metrics.Bind = defaultMetricsBind
	}
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if strings.TrimSpace(c.Logging.File) != "" {
		var err error
		if c.Logging.File, err = expandPath(strings.TrimSpace(c.Logging.File)); err != nil {
			return fmt.Errorf("logging.file: %w", err)
		}
	}
	return nil
}
