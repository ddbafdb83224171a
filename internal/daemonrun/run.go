// Package daemonrun hosts the long-running watch process: logging setup,
// pid file, metrics endpoint and the sync service.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"tagsync/internal/config"
	"tagsync/internal/engine"
	"tagsync/internal/logging"
	"tagsync/internal/metrics"
	"tagsync/internal/syncwatch"
)

// Options configures watch process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Roots overrides watch.roots when non-empty.
	Roots []string
}

// Run starts the watch runtime and blocks until ctx is cancelled or the
// process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	now := time.Now()
	runID := now.UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("tagsync-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stderr"},
		JSONFile:    logPath,
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update tagsync.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, now, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "tagsync-*.log", Exclude: []string{logPath}},
	)

	pidPath := filepath.Join(cfg.Paths.LogDir, "tagsync.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	eng, err := engine.Open(signalCtx, cfg, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "open engine", "engine_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run `tagsync doctor` to check the store"),
		)
		return err
	}
	defer eng.Close()

	roots := cfg.Watch.Roots
	if len(opts.Roots) > 0 {
		roots = opts.Roots
	}
	svc, err := syncwatch.New(syncwatch.Config{
		Roots:          roots,
		Filter:         eng.Filter(),
		Debounce:       cfg.WatchDebounce(),
		RescanInterval: cfg.WatchRescanInterval(),
		HashTTL:        cfg.WatchHashTTL(),
		LockPath:       cfg.Watch.LockPath,
		Logger:         logger,
	}, eng.Orchestrator())
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		_, stop, err := serveMetrics(cfg.Metrics.Bind, logger)
		if err != nil {
			logging.WarnWithContext(logger, "metrics endpoint unavailable", "metrics_unavailable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check metrics.bind is a free host:port"),
				logging.String(logging.FieldImpact, "sync continues without metrics"),
			)
		} else {
			defer stop()
		}
	}

	logger.Info("watch service starting",
		logging.String(logging.FieldEventType, "watch_starting"),
		logging.Int("roots", len(roots)),
		logging.String("store_path", eng.Store.Path()),
		logging.String("log_path", logPath),
	)
	if err := svc.Run(signalCtx); err != nil {
		if errors.Is(err, syncwatch.ErrAlreadyRunning) {
			logger.Error("watch service already running",
				logging.String(logging.FieldEventType, "watch_lock_held"),
				logging.String("lock_path", cfg.Watch.LockPath),
			)
			return err
		}
		logging.ErrorWithContext(logger, "watch service stopped", "watch_failed", logging.Error(err))
		return err
	}

	stats := svc.Stats()
	logger.Info("watch service stopped",
		logging.String(logging.FieldEventType, "watch_stopped"),
		logging.Int64("synced", stats.Synced),
		logging.Int64("unchanged", stats.Unchanged),
		logging.Int64("failed", stats.Failed),
		logging.Int64("coalesced", stats.Coalesced),
	)
	return nil
}

// serveMetrics exposes /metrics on bind and returns the bound address and a
// stop function.
func serveMetrics(bind string, logger *slog.Logger) (string, func(), error) {
	metrics.RegisterMetrics()
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return "", nil, fmt.Errorf("listen on %s: %w", bind, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", logging.Error(err))
		}
	}()
	logger.Info("metrics endpoint listening",
		logging.String(logging.FieldEventType, "metrics_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return listener.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "tagsync.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
