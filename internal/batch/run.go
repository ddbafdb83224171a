package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tagsync/internal/logging"
	"tagsync/internal/metrics"
	"tagsync/internal/semantic"
	"tagsync/internal/services"
)

// Progress reports one finished document.
type Progress struct {
	SessionID string                `json:"session_id"`
	Record    semantic.IngestRecord `json:"record"`
	Done      int                   `json:"done"`
	Total     int                   `json:"total"`
}

// Run is a batch in flight.
type Run struct {
	session  semantic.IngestSession
	progress chan Progress
	done     chan struct{}
	final    semantic.IngestSession
	err      error
}

// Session returns the session as it was when the run started.
func (r *Run) Session() semantic.IngestSession { return r.session }

// Progress streams one event per document and closes when the run ends. The
// stream is buffered for every document, so a caller that never reads it
// does not stall the run. It cannot be restarted.
func (r *Run) Progress() <-chan Progress { return r.progress }

// Wait blocks until the run ends and returns the final session. The error is
// non-nil only when the session could not be finalized.
func (r *Run) Wait() (semantic.IngestSession, error) {
	<-r.done
	return r.final, r.err
}

type outcome struct {
	record semantic.IngestRecord
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, docs []Document, logger *slog.Logger) {
	session := run.session
	// In-flight work and bookkeeping outlive cancellation of ctx.
	workCtx := services.WithSession(context.WithoutCancel(ctx), session.ID)

	jobs := make(chan int)
	results := make(chan outcome)
	var wg sync.WaitGroup
	for range min(o.cfg.Workers, len(docs)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results <- outcome{record: o.process(workCtx, session.ID, docs[i], logger)}
			}
		}()
	}

	scheduled := make([]bool, len(docs))
	go func() {
		defer close(jobs)
		for i := range docs {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
				scheduled[i] = true
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		done    int
		errs    []error
		sampler = logging.NewProgressSampler(10)
	)
	emit := func(rec semantic.IngestRecord) {
		if _, err := o.sessions.AppendRecord(workCtx, rec); err != nil {
			errs = append(errs, fmt.Errorf("append record for %s: %w", rec.DocumentRef, err))
		}
		switch rec.Status {
		case semantic.RecordSucceeded:
			session.Succeeded++
		case semantic.RecordFailed:
			session.Failed++
		case semantic.RecordSkipped:
			session.Skipped++
		}
		done++
		run.progress <- Progress{SessionID: session.ID, Record: rec, Done: done, Total: len(docs)}
		percent := logging.Percent(done, len(docs))
		if sampler.ShouldLog(percent, "ingest") {
			logger.Info("batch progress",
				logging.String(logging.FieldEventType, "batch_progress"),
				logging.Int(logging.FieldProgressDone, done),
				logging.Int(logging.FieldProgressTotal, len(docs)),
				logging.Float64(logging.FieldProgressPercent, percent),
			)
		}
	}

	for res := range results {
		emit(res.record)
	}

	// Results is closed only after the scheduler finished, so scheduled is
	// stable here.
	unscheduled := 0
	for i, ok := range scheduled {
		if ok {
			continue
		}
		unscheduled++
		now := o.cfg.Now().UTC()
		emit(semantic.IngestRecord{
			SessionID:   session.ID,
			DocumentRef: docs[i].Ref,
			Status:      semantic.RecordSkipped,
			ErrorKind:   "cancelled",
			Error:       "batch cancelled before the document was scheduled",
			StartedAt:   now,
			CompletedAt: now,
		})
	}

	switch {
	case unscheduled > 0:
		session.Status = semantic.SessionCancelled
	case session.Failed > 0 || session.Skipped > 0:
		session.Status = semantic.SessionPartial
	default:
		session.Status = semantic.SessionCompleted
	}
	session.CompletedAt = o.cfg.Now().UTC()
	if err := o.sessions.FinishSession(workCtx, session); err != nil {
		errs = append(errs, fmt.Errorf("finish session: %w", err))
	}
	metrics.RecordSession(string(session.Status))

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "batch_finished"),
		logging.String("status", string(session.Status)),
		logging.Int("succeeded", session.Succeeded),
		logging.Int("failed", session.Failed),
		logging.Int("skipped", session.Skipped),
		logging.Duration("elapsed", session.CompletedAt.Sub(session.StartedAt)),
	}
	if session.Status == semantic.SessionCompleted {
		logger.Info("batch finished", logging.Args(attrs...)...)
	} else {
		attrs = append(attrs,
			logging.String(logging.FieldErrorHint, "inspect failures with `tagsync sessions show "+session.ID+"`"),
			logging.String(logging.FieldImpact, "failed and skipped documents keep their previous snapshot"),
		)
		logging.WarnWithContext(logger, "batch finished with failures", "batch_finished", attrs...)
	}

	run.final = session
	run.err = errors.Join(errs...)
	close(run.progress)
	close(run.done)
}

// process ingests one document and never returns an error: every failure
// becomes part of the record.
func (o *Orchestrator) process(ctx context.Context, sessionID string, doc Document, logger *slog.Logger) (rec semantic.IngestRecord) {
	rec = semantic.IngestRecord{
		SessionID:   sessionID,
		DocumentRef: doc.Ref,
		StartedAt:   o.cfg.Now().UTC(),
	}
	ctx = services.WithDocument(ctx, doc.Ref)
	docLogger := logging.WithContext(ctx, logger)

	var err error
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while ingesting: %v", p)
		}
		rec.CompletedAt = o.cfg.Now().UTC()
		rec.Status = services.FailureStatus(err)
		if err == nil {
			docLogger.Info("document ingested",
				logging.String(logging.FieldEventType, "document_ingested"),
				logging.Int("units", len(rec.UnitIDs)),
				logging.String("commit_hash", rec.CommitHash),
			)
			return
		}
		rec.UnitIDs = nil
		rec.CommitHash = ""
		rec.ErrorKind = semantic.ErrorKindOf(err)
		rec.Error = err.Error()
		rec.Details = semantic.Details(err)
		logging.WarnWithContext(docLogger, "document failed", "document_failed",
			logging.String(logging.FieldErrorKind, rec.ErrorKind),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, hintFor(rec.ErrorKind)),
			logging.String(logging.FieldImpact, "document left at its previous snapshot"),
		)
	}()

	if doc.Load == nil {
		err = errors.New("document has no loader")
		return rec
	}
	loaded, loadErr := doc.Load(ctx)
	if loadErr != nil {
		err = loadErr
		return rec
	}
	res, ingestErr := o.ingester.Ingest(ctx, loaded)
	if ingestErr != nil {
		err = ingestErr
		return rec
	}
	rec.UnitIDs = res.UnitIDs()
	rec.CommitHash = res.Commit.CommitHash
	return rec
}

func hintFor(kind string) string {
	switch kind {
	case semantic.KindMalformedTag:
		return "fix the marker at the reported span"
	case semantic.KindPendingDrift:
		return "review with `tagsync drift list` and accept with `tagsync drift resolve`"
	case semantic.KindCollision, semantic.KindInvalidParent:
		return "check the unit ids and parents in the document"
	case semantic.KindStoreUnavailable:
		return "check store.path is reachable, then re-run the batch"
	default:
		return "check logs for details"
	}
}
