package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tagsync/internal/semantic"
)

var expectedTables = []string{
	"schema_version",
	"semantic_units",
	"provenance_records",
	"identity_tombstones",
	"ingest_sessions",
	"ingest_records",
	"drift_logs",
	"snapshot_meta",
	"snapshot_state",
	"markdown_notes",
	"html_tables",
	"spreadsheet_sheets",
}

// Stats returns row counts across the store.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{Units: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, "SELECT state, COUNT(1) FROM semantic_units GROUP BY state")
	if err != nil {
		return Stats{}, unavailable("stats", fmt.Errorf("unit stats: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return Stats{}, err
		}
		stats.Units[state] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	counts := []struct {
		query string
		args  []any
		dest  *int
	}{
		{"SELECT COUNT(1) FROM provenance_records", nil, &stats.Provenance},
		{"SELECT COUNT(1) FROM snapshot_meta", nil, &stats.Documents},
		{"SELECT COUNT(1) FROM identity_tombstones", nil, &stats.Tombstones},
		{"SELECT COUNT(1) FROM drift_logs WHERE resolution = ?", []any{semantic.ResolutionPending.String()}, &stats.PendingDrift},
		{"SELECT COUNT(1) FROM ingest_sessions", nil, &stats.Sessions},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			return Stats{}, unavailable("stats", fmt.Errorf("stats: %w", err))
		}
	}
	return stats, nil
}

// CheckHealth returns diagnostic information about the store database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("store database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat store database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("store database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("store database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, unavailable("health", fmt.Errorf("ping store database: %w", err))
	}
	health.DatabaseReadable = true

	rows, err := s.db.QueryContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("list tables: %w", err)
	}
	present := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			health.Error = err.Error()
			return health, fmt.Errorf("scan table name: %w", err)
		}
		present[name] = struct{}{}
	}
	rows.Close()
	for _, table := range expectedTables {
		if _, ok := present[table]; ok {
			health.TablesPresent = append(health.TablesPresent, table)
		} else {
			health.MissingTables = append(health.MissingTables, table)
		}
	}

	if _, ok := present["schema_version"]; ok {
		if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil && !errors.Is(err, sql.ErrNoRows) {
			health.Error = err.Error()
			return health, fmt.Errorf("read schema version: %w", err)
		}
	}
	if _, ok := present["semantic_units"]; ok {
		if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM semantic_units").Scan(&health.TotalUnits); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count units: %w", err)
		}
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
