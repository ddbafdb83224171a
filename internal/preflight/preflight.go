package preflight

import (
	"context"

	"tagsync/internal/config"
	"tagsync/internal/engine"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
// health may be nil when the store could not be opened.
func RunAll(ctx context.Context, cfg *config.Config, health HealthChecker) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Data and log directories (always checked)
	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	results = append(results, CheckStore(ctx, health))

	for _, root := range cfg.Watch.Roots {
		results = append(results, CheckWatchRoot(root))
	}

	if cfg.Classifier.Enabled {
		results = append(results, CheckClassifier(ctx, engine.ProducerConfig(cfg)))
	}

	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}
