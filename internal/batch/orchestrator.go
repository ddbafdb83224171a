package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"tagsync/internal/ingest"
	"tagsync/internal/logging"
	"tagsync/internal/semantic"
	"tagsync/internal/sources"
)

// ErrConfirmationRequired is returned by RunBatch when the estimated cost
// exceeds the threshold and the caller has not confirmed.
var ErrConfirmationRequired = errors.New("batch requires confirmation")

// ConfirmationError carries the estimate that triggered ErrConfirmationRequired.
type ConfirmationError struct {
	CostBytes int64
	Threshold int64
	Documents int
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("batch of %d documents costs %d bytes, above the %d byte threshold; confirm to proceed",
		e.Documents, e.CostBytes, e.Threshold)
}

func (e *ConfirmationError) Unwrap() error { return ErrConfirmationRequired }

// Ingester processes one document.
type Ingester interface {
	Ingest(ctx context.Context, doc *sources.Document) (ingest.Result, error)
}

// SessionStore persists sessions and their per-document records.
type SessionStore interface {
	CreateSession(ctx context.Context, session semantic.IngestSession) error
	AppendRecord(ctx context.Context, rec semantic.IngestRecord) (int64, error)
	FinishSession(ctx context.Context, session semantic.IngestSession) error
}

// Document is one batch input. Load is called by a worker when the document
// is scheduled.
type Document struct {
	Ref  string
	Size int64
	Load func(ctx context.Context) (*sources.Document, error)
}

// FromPaths builds inputs for files on disk. A file that cannot be stated
// still becomes an input; its load error is reported in its record.
func FromPaths(paths []string) []Document {
	docs := make([]Document, 0, len(paths))
	for _, p := range paths {
		ref := p
		if abs, err := filepath.Abs(p); err == nil {
			ref = filepath.ToSlash(abs)
		}
		var size int64
		if info, err := os.Stat(p); err == nil {
			size = info.Size()
		}
		path := p
		docs = append(docs, Document{
			Ref:  ref,
			Size: size,
			Load: func(context.Context) (*sources.Document, error) { return sources.Load(path) },
		})
	}
	return docs
}

// FromSource wraps an already parsed document.
func FromSource(doc *sources.Document) Document {
	return Document{
		Ref:  doc.Ref,
		Size: doc.Size,
		Load: func(context.Context) (*sources.Document, error) { return doc, nil },
	}
}

// EstimateCost returns the total byte size of docs.
func EstimateCost(docs []Document) int64 {
	var total int64
	for _, d := range docs {
		total += d.Size
	}
	return total
}

// Config configures an Orchestrator.
type Config struct {
	Workers int
	// ConfirmThreshold is the cost in bytes above which runs need
	// confirmation. Zero or negative disables the check.
	ConfirmThreshold int64
	Logger           *slog.Logger
	Now              func() time.Time
}

// Options configure one run.
type Options struct {
	Confirmed bool
	// Trigger records what started the run, e.g. "cli" or "watch".
	Trigger string
}

// Orchestrator runs batches of documents through an Ingester.
type Orchestrator struct {
	ingester Ingester
	sessions SessionStore
	cfg      Config
	logger   *slog.Logger
}

// New constructs an orchestrator.
func New(ingester Ingester, sessions SessionStore, cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		ingester: ingester,
		sessions: sessions,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(cfg.Logger, "batch"),
	}
}

// RunBatch starts a session over docs and returns immediately. Cancelling
// ctx stops scheduling; documents already being processed finish and the
// rest are recorded as skipped.
func (o *Orchestrator) RunBatch(ctx context.Context, docs []Document, opts Options) (*Run, error) {
	cost := EstimateCost(docs)
	if o.cfg.ConfirmThreshold > 0 && cost > o.cfg.ConfirmThreshold && !opts.Confirmed {
		return nil, &ConfirmationError{CostBytes: cost, Threshold: o.cfg.ConfirmThreshold, Documents: len(docs)}
	}
	trigger := opts.Trigger
	if trigger == "" {
		trigger = "manual"
	}

	session := semantic.IngestSession{
		ID:            uuid.NewString(),
		StartedAt:     o.cfg.Now().UTC(),
		DocumentCount: len(docs),
		CostBytes:     cost,
		Status:        semantic.SessionRunning,
		Trigger:       trigger,
	}
	if err := o.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create ingest session: %w", err)
	}

	run := &Run{
		session:  session,
		progress: make(chan Progress, len(docs)),
		done:     make(chan struct{}),
	}
	logger := logging.WithSessionID(o.logger, session.ID)
	logger.Info("batch started",
		logging.String(logging.FieldEventType, "batch_started"),
		logging.Int("documents", len(docs)),
		logging.Int64("cost_bytes", cost),
		logging.Int("workers", min(o.cfg.Workers, max(len(docs), 1))),
		logging.String("trigger", trigger),
	)
	go o.execute(ctx, run, docs, logger)
	return run, nil
}
