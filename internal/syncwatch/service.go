package syncwatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	gocache "github.com/patrickmn/go-cache"

	"tagsync/internal/batch"
	"tagsync/internal/fileutil"
	"tagsync/internal/ingest"
	"tagsync/internal/logging"
	"tagsync/internal/metrics"
	"tagsync/internal/reconcile"
	"tagsync/internal/semantic"
	"tagsync/internal/services"
	"tagsync/internal/sources"
)

// ErrAlreadyRunning is returned by Run when another service holds the lock.
var ErrAlreadyRunning = errors.New("another tagsync watch instance is already running")

// Outcome is what a sync trigger did.
type Outcome string

const (
	OutcomeSynced    Outcome = "synced"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
	OutcomeCoalesced Outcome = "coalesced"
	OutcomeRemoved   Outcome = "removed"
)

// Runner runs documents as an audited ingest session.
type Runner interface {
	RunBatch(ctx context.Context, docs []batch.Document, opts batch.Options) (*batch.Run, error)
}

// Trigger is the session trigger recorded for watch syncs.
const Trigger = "watch"

// Config configures a Service.
type Config struct {
	Roots          []string
	Filter         ingest.Filter
	Debounce       time.Duration
	RescanInterval time.Duration
	HashTTL        time.Duration
	LockPath       string
	Logger         *slog.Logger
}

// Stats counts trigger outcomes since the service started.
type Stats struct {
	Synced    int64 `json:"synced"`
	Unchanged int64 `json:"unchanged"`
	Failed    int64 `json:"failed"`
	Coalesced int64 `json:"coalesced"`
	Removed   int64 `json:"removed"`
}

// Service is the file-change and scheduled sync loop.
type Service struct {
	cfg       Config
	roots     []string
	runner    Runner
	lock      *flock.Flock
	coalescer *reconcile.Coalescer
	hashes    *gocache.Cache
	logger    *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]struct{}

	running atomic.Bool
	counts  [5]atomic.Int64
}

var outcomeIndex = map[Outcome]int{
	OutcomeSynced:    0,
	OutcomeUnchanged: 1,
	OutcomeFailed:    2,
	OutcomeCoalesced: 3,
	OutcomeRemoved:   4,
}

// New validates cfg and constructs a service.
func New(cfg Config, runner Runner) (*Service, error) {
	if runner == nil {
		return nil, errors.New("syncwatch: runner is required")
	}
	if len(cfg.Roots) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "watch", "init", "watch.roots is empty", nil)
	}
	if err := cfg.Filter.Validate(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "watch", "init", "exclude patterns", err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.HashTTL <= 0 {
		cfg.HashTTL = time.Hour
	}
	roots := make([]string, 0, len(cfg.Roots))
	for _, root := range cfg.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve watch root %s: %w", root, err)
		}
		roots = append(roots, abs)
	}
	logger := logging.NewComponentLogger(cfg.Logger, "watch")
	s := &Service{
		cfg:       cfg,
		roots:     roots,
		runner:    runner,
		coalescer: reconcile.NewCoalescer(logger),
		hashes:    gocache.New(cfg.HashTTL, 2*cfg.HashTTL),
		logger:    logger,
		pending:   make(map[string]struct{}),
	}
	if cfg.LockPath != "" {
		s.lock = flock.New(cfg.LockPath)
	}
	return s, nil
}

// Stats returns a snapshot of the trigger counters.
func (s *Service) Stats() Stats {
	return Stats{
		Synced:    s.counts[0].Load(),
		Unchanged: s.counts[1].Load(),
		Failed:    s.counts[2].Load(),
		Coalesced: s.counts[3].Load(),
		Removed:   s.counts[4].Load(),
	}
}

func (s *Service) record(outcome Outcome) {
	s.counts[outcomeIndex[outcome]].Add(1)
	metrics.RecordWatchEvent(string(outcome))
}

// Run watches until ctx is cancelled. It performs a full scan first, then
// syncs on file events and on every rescan interval.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("syncwatch: already running")
	}
	defer s.running.Store(false)

	if s.lock != nil {
		if err := os.MkdirAll(filepath.Dir(s.cfg.LockPath), 0o755); err != nil {
			return fmt.Errorf("create lock directory: %w", err)
		}
		ok, err := s.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire watch lock: %w", err)
		}
		if !ok {
			return ErrAlreadyRunning
		}
		defer func() {
			if err := s.lock.Unlock(); err != nil {
				s.logger.Warn("failed to release watch lock", logging.Error(err))
			}
		}()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()
	for _, root := range s.roots {
		if err := s.addWatches(watcher, root); err != nil {
			return err
		}
	}

	s.logger.Info("watch started",
		logging.String(logging.FieldEventType, "watch_started"),
		logging.String("roots", strings.Join(s.roots, ",")),
		logging.Duration("debounce", s.cfg.Debounce),
		logging.Duration("rescan_interval", s.cfg.RescanInterval),
	)
	if _, err := s.Rescan(ctx); err != nil {
		logging.WarnWithContext(s.logger, "initial scan failed", "watch_scan_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that watch.roots exist and are readable"),
		)
	}

	debounce := time.NewTicker(s.cfg.Debounce)
	defer debounce.Stop()
	var rescan <-chan time.Time
	if s.cfg.RescanInterval > 0 {
		ticker := time.NewTicker(s.cfg.RescanInterval)
		defer ticker.Stop()
		rescan = ticker.C
	}

	defer s.coalescer.Wait()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("watch stopping",
				logging.String(logging.FieldEventType, "watch_stopping"),
				logging.Any("stats", s.Stats()),
			)
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			s.handleEvent(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			s.logger.Warn("file watcher error", logging.Error(err))
		case <-debounce.C:
			s.flush(ctx)
		case <-rescan:
			if _, err := s.Rescan(ctx); err != nil {
				s.logger.Warn("scheduled rescan failed", logging.Error(err))
			}
		}
	}
}

// Rescan schedules a sync for every document under the roots and returns how
// many were scheduled.
func (s *Service) Rescan(ctx context.Context) (int, error) {
	paths, err := ingest.Discover(s.roots, s.cfg.Filter)
	if err != nil {
		return 0, err
	}
	for _, p := range paths {
		s.schedule(ctx, p)
	}
	s.logger.Debug("rescan scheduled", logging.Int("documents", len(paths)))
	return len(paths), nil
}

func (s *Service) schedule(ctx context.Context, path string) {
	started := s.coalescer.Trigger(ctx, path, func(ctx context.Context) error {
		_, err := s.SyncFile(ctx, path)
		return err
	})
	if !started {
		s.record(OutcomeCoalesced)
	}
}

// SyncFile ingests path unless its content matches the last synced hash.
func (s *Service) SyncFile(ctx context.Context, path string) (Outcome, error) {
	content, sum, err := fileutil.ReadHashed(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.hashes.Delete(path)
			s.record(OutcomeRemoved)
			return OutcomeRemoved, nil
		}
		s.record(OutcomeFailed)
		return OutcomeFailed, err
	}
	if prev, ok := s.hashes.Get(path); ok && prev.(string) == sum {
		s.record(OutcomeUnchanged)
		return OutcomeUnchanged, nil
	}

	ref := filepath.ToSlash(path)
	rec, err := s.ingest(ctx, ref, content)
	logger := logging.WithContext(services.WithDocument(ctx, ref), s.logger)
	if rec.SessionID != "" {
		logger = logging.WithSessionID(logger, rec.SessionID)
	}
	if err == nil && rec.Status != semantic.RecordSucceeded {
		err = fmt.Errorf("%s: %s", rec.ErrorKind, rec.Error)
	}
	if err != nil {
		s.record(OutcomeFailed)
		logging.WarnWithContext(logger, "document sync failed", "watch_sync_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the document or resolve its drift; it is retried on the next change"),
		)
		return OutcomeFailed, err
	}
	s.hashes.SetDefault(path, sum)
	s.record(OutcomeSynced)
	logger.Info("document synced",
		logging.String(logging.FieldEventType, "watch_synced"),
		logging.String("commit_hash", rec.CommitHash),
	)
	return OutcomeSynced, nil
}

// ingest runs one document as its own session so every watch sync leaves a
// session and a record behind. Parse failures are recorded like ingest
// failures.
func (s *Service) ingest(ctx context.Context, ref string, content []byte) (semantic.IngestRecord, error) {
	doc := batch.Document{
		Ref:  ref,
		Size: int64(len(content)),
		Load: func(context.Context) (*sources.Document, error) { return sources.Parse(ref, content) },
	}
	run, err := s.runner.RunBatch(ctx, []batch.Document{doc}, batch.Options{Confirmed: true, Trigger: Trigger})
	if err != nil {
		return semantic.IngestRecord{}, err
	}
	var rec semantic.IngestRecord
	for p := range run.Progress() {
		rec = p.Record
	}
	if _, err := run.Wait(); err != nil {
		return rec, err
	}
	return rec, nil
}

func (s *Service) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	path := event.Name
	root, rel, ok := s.relative(path)
	if !ok {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !s.cfg.Filter.Prunes(rel) {
				if err := s.addWatches(watcher, path); err != nil {
					s.logger.Warn("failed to watch new directory", logging.String("path", path), logging.Error(err))
				}
				// Files created before the watch was added.
				if paths, err := ingest.Discover([]string{path}, s.cfg.Filter); err == nil {
					s.enqueue(paths...)
				}
			}
			return
		}
	}
	if !s.cfg.Filter.Accepts(rel) {
		return
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		s.hashes.Delete(path)
		s.record(OutcomeRemoved)
		s.logger.Info("document removed; its snapshot is kept",
			logging.String(logging.FieldEventType, "watch_removed"),
			logging.String(logging.FieldDocument, filepath.ToSlash(path)),
			logging.String("root", root),
		)
		return
	}
	s.enqueue(path)
}

func (s *Service) enqueue(paths ...string) {
	s.pendingMu.Lock()
	for _, p := range paths {
		s.pending[p] = struct{}{}
	}
	s.pendingMu.Unlock()
}

func (s *Service) flush(ctx context.Context) {
	s.pendingMu.Lock()
	if len(s.pending) == 0 {
		s.pendingMu.Unlock()
		return
	}
	batch := s.pending
	s.pending = make(map[string]struct{})
	s.pendingMu.Unlock()

	for p := range batch {
		if ctx.Err() != nil {
			return
		}
		s.schedule(ctx, p)
	}
}

func (s *Service) relative(path string) (root, rel string, ok bool) {
	for _, r := range s.roots {
		candidate, err := filepath.Rel(r, path)
		if err != nil || candidate == "." || strings.HasPrefix(candidate, "..") {
			continue
		}
		return r, filepath.ToSlash(candidate), true
	}
	return "", "", false
}

func (s *Service) addWatches(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) && p != dir {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if _, rel, ok := s.relative(p); ok && s.cfg.Filter.Prunes(rel) {
			return filepath.SkipDir
		}
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}
