// Package engine assembles the synchronization core from configuration.
//
// Open connects the canonical store, seeds the identity registry from it and
// wires drift detection, the reconciler, and the ingest pipeline so commands
// and the watch service share one construction path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tagsync/internal/batch"
	"tagsync/internal/classifier"
	"tagsync/internal/config"
	"tagsync/internal/drift"
	"tagsync/internal/identity"
	"tagsync/internal/ingest"
	"tagsync/internal/logging"
	"tagsync/internal/reconcile"
	"tagsync/internal/services"
	"tagsync/internal/store"
)

// Engine holds the wired components. Fields are safe for concurrent use.
type Engine struct {
	Config     *config.Config
	Store      *store.Store
	Registry   *identity.Registry
	Detector   *drift.Detector
	Reconciler *reconcile.Reconciler
	Pipeline   *ingest.Pipeline
	logger     *slog.Logger
}

// Open builds an engine for cfg. The caller must Close it.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	tieBreak, err := identity.ParseTieBreak(cfg.Identity.TieBreak)
	if err != nil {
		return nil, err
	}
	policy, err := drift.PolicyByName(cfg.Drift.Policy, cfg.Drift.RefinementSimilarity)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := identity.New(identity.Options{
		Partitions: cfg.Identity.Partitions,
		TieBreak:   tieBreak,
		Logger:     logger,
	})
	seeds, tombstones, err := st.LoadRegistry(ctx)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load identity registry: %w", err)
	}
	registry.Seed(seeds, tombstones)

	initial, maxBackoff := cfg.ReconcileBackoff()
	detector := drift.NewDetector(st, policy, time.Now, logger)
	reconciler := reconcile.New(registry, st, reconcile.Options{
		MaxAttempts:    cfg.Reconcile.MaxAttempts,
		InitialBackoff: initial,
		MaxBackoff:     maxBackoff,
		Logger:         logger,
	})
	pipeline := ingest.NewPipeline(registry, detector, reconciler, ingest.Options{
		IngestedBy:          cfg.Ingest.IngestedBy,
		StrictMarkers:       cfg.Ingest.StrictMarkers,
		DuplicateSimilarity: cfg.Ingest.DuplicateSimilarity,
		Logger:              logger,
	})

	units, tombs := registry.Stats()
	logger.Debug("engine ready",
		logging.String(logging.FieldComponent, "engine"),
		logging.String("store_path", st.Path()),
		logging.Int("registered_units", units),
		logging.Int("tombstones", tombs),
		logging.String("drift_policy", cfg.Drift.Policy),
	)

	return &Engine{
		Config:     cfg,
		Store:      st,
		Registry:   registry,
		Detector:   detector,
		Reconciler: reconciler,
		Pipeline:   pipeline,
		logger:     logger,
	}, nil
}

// Orchestrator returns a batch orchestrator over the engine's pipeline and
// session store.
func (e *Engine) Orchestrator() *batch.Orchestrator {
	return batch.New(e.Pipeline, e.Store, batch.Config{
		Workers:          e.Config.WorkerCount(),
		ConfirmThreshold: e.Config.Ingest.ConfirmThresholdBytes,
		Logger:           e.logger,
	})
}

// Filter returns the discovery filter from the ingest configuration.
func (e *Engine) Filter() ingest.Filter {
	return ingest.Filter{Extensions: e.Config.Ingest.Extensions, Exclude: e.Config.Ingest.Exclude}
}

// ProducerConfig maps the classifier section onto the OpenAI producer
// settings.
func ProducerConfig(cfg *config.Config) classifier.OpenAIConfig {
	return classifier.OpenAIConfig{
		APIKey:            cfg.Classifier.APIKey,
		BaseURL:           cfg.Classifier.BaseURL,
		Model:             cfg.Classifier.Model,
		Timeout:           cfg.ClassifierTimeout(),
		RequestsPerSecond: cfg.Classifier.RequestsPerSecond,
		Burst:             cfg.Classifier.Burst,
		MaxProposals:      cfg.Classifier.MaxProposals,
	}
}

// Classifier returns a proposal classifier backed by the configured OpenAI
// endpoint and the engine's registry. It fails when the classifier is
// disabled or has no API key.
func (e *Engine) Classifier() (*classifier.Classifier, error) {
	if !e.Config.Classifier.Enabled {
		return nil, services.Wrap(services.ErrConfiguration, "classifier", "init",
			"classifier disabled; set classifier.enabled = true", nil)
	}
	producer, err := classifier.NewOpenAIProducer(ProducerConfig(e.Config))
	if err != nil {
		return nil, err
	}
	return classifier.New(producer, e.Registry, classifier.Options{
		MaxProposals: e.Config.Classifier.MaxProposals,
		Logger:       e.logger,
	}), nil
}

// Close releases the store.
func (e *Engine) Close() error {
	if e == nil || e.Store == nil {
		return nil
	}
	return e.Store.Close()
}
