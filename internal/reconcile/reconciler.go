// Package reconcile commits validated document state to the canonical store.
//
// A commit either lands completely or not at all. Pending drift blocks the
// commit and is recorded for later resolution; store outages are retried with
// exponential backoff; every other failure is returned unchanged.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"tagsync/internal/drift"
	"tagsync/internal/identity"
	"tagsync/internal/logging"
	"tagsync/internal/metrics"
	"tagsync/internal/semantic"
	"tagsync/internal/services"
	"tagsync/internal/store"
)

// Committer is the slice of the canonical store the reconciler writes to.
type Committer interface {
	CommitDocument(ctx context.Context, req store.DocumentCommit) (semantic.CommitResult, store.CommitOutcome, error)
	RecordPendingDrift(ctx context.Context, entries []semantic.DriftLogEntry) (int, error)
}

// Request is everything gathered for one document.
type Request struct {
	DocumentRef string
	SourceType  semantic.SourceType
	Units       []semantic.Unit
	Provenance  []semantic.ProvenanceRecord
	Report      drift.Report
	Merges      []identity.MergePlan
	Metadata    semantic.SourceMetadata
}

// Options configure a Reconciler.
type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// Reconciler validates and commits document state.
type Reconciler struct {
	registry  *identity.Registry
	committer Committer
	opts      Options
	logger    *slog.Logger
}

// New constructs a reconciler.
func New(registry *identity.Registry, committer Committer, opts Options) *Reconciler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 100 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		registry:  registry,
		committer: committer,
		opts:      opts,
		logger:    logging.NewComponentLogger(opts.Logger, "reconcile"),
	}
}

// Commit validates req and writes it to the canonical store.
func (r *Reconciler) Commit(ctx context.Context, req Request) (semantic.CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return semantic.CommitResult{}, err
	}
	if err := r.registry.ValidateRevision(req.Units, req.Report.Tracked()); err != nil {
		return semantic.CommitResult{}, err
	}
	if err := checkAttribution(req); err != nil {
		return semantic.CommitResult{}, err
	}

	if pending := req.Report.Pending(); len(pending) > 0 {
		recorded, err := r.committer.RecordPendingDrift(ctx, pending)
		if err != nil {
			return semantic.CommitResult{}, fmt.Errorf("record pending drift: %w", err)
		}
		metrics.RecordDrift(semantic.ResolutionPending.String(), recorded)
		logging.WarnWithContext(r.logger, "commit blocked by pending drift", "drift_pending",
			logging.String(logging.FieldDocument, req.DocumentRef),
			logging.Int("pending", len(pending)),
			logging.Int("newly_recorded", recorded),
			logging.String(logging.FieldErrorHint, "review with `tagsync drift list` and accept with `tagsync drift resolve`"),
			logging.String(logging.FieldImpact, "document left at its previous snapshot"),
		)
		return semantic.CommitResult{}, &semantic.PendingDriftError{DocumentRef: req.DocumentRef, Entries: pending}
	}

	commit, err := r.buildCommit(req)
	if err != nil {
		return semantic.CommitResult{}, err
	}

	start := time.Now()
	result, outcome, err := r.commitWithRetry(ctx, commit)
	if err != nil {
		metrics.RecordCommit("failed", time.Since(start))
		return semantic.CommitResult{}, err
	}
	metrics.RecordCommit(outcomeLabel(outcome), time.Since(start))

	for _, plan := range req.Merges {
		r.registry.ApplyMerge(plan)
	}
	r.registry.Register(req.Units, commit.CommittedAt)

	for _, entry := range commit.Drift {
		metrics.RecordDrift(entry.Resolution.String(), 1)
	}
	if outcome.Superseded {
		logging.WarnWithContext(r.logger, "concurrent commit overwritten", "commit_superseded",
			logging.String(logging.FieldDocument, req.DocumentRef),
			logging.Int64("base_version", req.Report.BaseVersion),
			logging.Int64("overwritten_version", outcome.PreviousVersion),
			logging.Int64("snapshot_version", result.SnapshotVersion),
			logging.String(logging.FieldErrorHint, "avoid syncing the same document from two processes"),
			logging.String(logging.FieldImpact, "the other writer's snapshot was replaced; its ingest record remains"),
		)
	}
	r.logger.Debug("document committed",
		logging.String(logging.FieldDocument, req.DocumentRef),
		logging.String("commit_hash", result.CommitHash),
		logging.Int64("snapshot_version", result.SnapshotVersion),
		logging.Bool("applied", outcome.Applied),
	)
	return result, nil
}

func (r *Reconciler) buildCommit(req Request) (store.DocumentCommit, error) {
	hash, err := CommitHash(req)
	if err != nil {
		return store.DocumentCommit{}, err
	}
	now := r.opts.Now().UTC()
	commit := store.DocumentCommit{
		DocumentRef: req.DocumentRef,
		SourceType:  req.SourceType,
		CommitHash:  hash,
		BaseVersion: req.Report.BaseVersion,
		Units:       req.Units,
		Provenance:  req.Provenance,
		Metadata:    req.Metadata,
		CommittedAt: now,
	}
	for _, entry := range req.Report.Entries {
		if entry.Resolution.Resolved() {
			commit.Drift = append(commit.Drift, entry)
		}
	}
	for _, plan := range req.Merges {
		commit.Merges = append(commit.Merges, store.Tombstone{
			Retired:     plan.Retired,
			Canonical:   plan.Canonical,
			DocumentRef: req.DocumentRef,
			CreatedAt:   now,
		})
	}
	return commit, nil
}

func (r *Reconciler) commitWithRetry(ctx context.Context, commit store.DocumentCommit) (semantic.CommitResult, store.CommitOutcome, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.opts.InitialBackoff
	policy.MaxInterval = r.opts.MaxBackoff
	policy.MaxElapsedTime = 0
	bounded := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.opts.MaxAttempts-1)), ctx)

	var (
		result  semantic.CommitResult
		outcome store.CommitOutcome
		attempt int
	)
	op := func() error {
		attempt++
		var err error
		result, outcome, err = r.committer.CommitDocument(ctx, commit)
		if err == nil {
			return nil
		}
		var unavailable *semantic.StoreUnavailableError
		if !errors.As(err, &unavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.RecordRetry()
		logging.WarnWithContext(r.logger, "canonical store unavailable; retrying commit", "commit_retry",
			logging.String(logging.FieldDocument, commit.DocumentRef),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", r.opts.MaxAttempts),
			logging.Duration("retry_in", wait),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check store.path is reachable and not locked by another tool"),
			logging.String(logging.FieldImpact, "commit delayed"),
		)
	}
	if err := backoff.RetryNotify(op, bounded, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return semantic.CommitResult{}, store.CommitOutcome{}, fmt.Errorf("%w (last error: %v)", ctxErr, err)
		}
		var unavailable *semantic.StoreUnavailableError
		if errors.As(err, &unavailable) {
			err = services.Wrap(services.ErrTransient, "reconcile", "commit",
				fmt.Sprintf("store unavailable after %d attempts", attempt), err)
		}
		return semantic.CommitResult{}, store.CommitOutcome{}, err
	}
	return result, outcome, nil
}

// checkAttribution requires at least one complete provenance record per unit.
func checkAttribution(req Request) error {
	covered := make(map[uuid.UUID]struct{}, len(req.Units))
	for _, rec := range req.Provenance {
		if rec.SourceType.Valid() && rec.DocumentRef != "" && rec.IngestedBy != "" {
			covered[rec.UnitID] = struct{}{}
		}
	}
	var errs []error
	for _, u := range req.Units {
		if _, ok := covered[u.ID]; !ok {
			errs = append(errs, &semantic.SourceAttributionMissingError{UnitID: u.ID, Reason: "no provenance record"})
		}
	}
	return errors.Join(errs...)
}

func outcomeLabel(outcome store.CommitOutcome) string {
	switch {
	case !outcome.Applied:
		return "unchanged"
	case outcome.Superseded:
		return "superseded"
	default:
		return "applied"
	}
}
