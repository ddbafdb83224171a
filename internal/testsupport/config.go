package testsupport

import (
	"path/filepath"
	"testing"

	"tagsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Store.Path = filepath.Join(base, "data", "tagsync.db")
	cfgVal.Watch.LockPath = filepath.Join(base, "data", "watch.lock")
	cfgVal.Ingest.IngestedBy = "test"
	cfgVal.Metrics.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithWorkers sets the ingest worker pool size, raising the connection budget
// to match.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ingest.Workers = n
		if b.cfg.Store.MaxOpenConns < n {
			b.cfg.Store.MaxOpenConns = n
		}
	}
}

// WithConfirmThreshold sets the batch cost above which confirmation is needed.
func WithConfirmThreshold(bytes int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ingest.ConfirmThresholdBytes = bytes
	}
}

// WithDriftPolicy selects the drift resolution policy.
func WithDriftPolicy(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Drift.Policy = name
	}
}

// WithWatchRoots points the sync service at the given directories.
func WithWatchRoots(roots ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watch.Roots = append([]string(nil), roots...)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
