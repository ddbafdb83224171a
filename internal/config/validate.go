package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateIdentity(); err != nil {
		return err
	}
	if err := c.validateDrift(); err != nil {
		return err
	}
	if err := c.validateReconcile(); err != nil {
		return err
	}
	if err := c.validateClassifier(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store.path must be set")
	}
	return ensurePositiveMap(map[string]int{
		"store.busy_timeout_ms": c.Store.BusyTimeoutMS,
		"store.max_open_conns":  c.Store.MaxOpenConns,
	})
}

func (c *Config) validateIngest() error {
	if c.Ingest.ConfirmThresholdBytes < 0 {
		return errors.New("ingest.confirm_threshold_bytes must be >= 0")
	}
	if c.Ingest.Workers > c.Store.MaxOpenConns {
		return fmt.Errorf("ingest.workers (%d) must not exceed store.max_open_conns (%d)", c.Ingest.Workers, c.Store.MaxOpenConns)
	}
	if len(c.Ingest.Extensions) == 0 {
		return errors.New("ingest.extensions must include at least one extension")
	}
	for _, pattern := range c.Ingest.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("ingest.exclude: invalid glob %q", pattern)
		}
	}
	if c.Ingest.DuplicateSimilarity < 0 || c.Ingest.DuplicateSimilarity > 1 {
		return errors.New("ingest.duplicate_similarity must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateIdentity() error {
	switch c.Identity.TieBreak {
	case "lexicographic", "earliest_ingest":
	default:
		return fmt.Errorf("identity.tie_break must be lexicographic or earliest_ingest, got %q", c.Identity.TieBreak)
	}
	if c.Identity.Partitions > 4096 {
		return errors.New("identity.partitions must be <= 4096")
	}
	return nil
}

func (c *Config) validateDrift() error {
	switch c.Drift.Policy {
	case "refinement", "strict":
	default:
		return fmt.Errorf("drift.policy must be refinement or strict, got %q", c.Drift.Policy)
	}
	if c.Drift.RefinementSimilarity < 0 || c.Drift.RefinementSimilarity > 1 {
		return errors.New("drift.refinement_similarity must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateReconcile() error {
	if c.Reconcile.MaxBackoffMS < c.Reconcile.InitialBackoffMS {
		return errors.New("reconcile.max_backoff_ms must be >= reconcile.initial_backoff_ms")
	}
	return nil
}

func (c *Config) validateClassifier() error {
	if c.Classifier.Enabled && c.Classifier.APIKey == "" {
		return errors.New("classifier.api_key must be set when classifier.enabled is true (or set OPENAI_API_KEY)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
