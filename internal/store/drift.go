package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tagsync/internal/semantic"
)

const driftColumns = `id, document_ref, unit_id, observed_at, previous_label, new_label, removed, previous_hash,
	new_hash, resolution, reason, resolved_by, resolved_at`

func scanDrift(scanner interface{ Scan(dest ...any) error }) (semantic.DriftLogEntry, error) {
	var (
		entry         semantic.DriftLogEntry
		unitRaw       string
		observedRaw   string
		newLabel      sql.NullString
		removed       int
		resolutionRaw string
		reason        sql.NullString
		resolvedBy    sql.NullString
		resolvedAtRaw sql.NullString
	)
	if err := scanner.Scan(&entry.ID, &entry.DocumentRef, &unitRaw, &observedRaw, &entry.PreviousLabel,
		&newLabel, &removed, &entry.PreviousHash, &entry.NewHash, &resolutionRaw, &reason, &resolvedBy,
		&resolvedAtRaw); err != nil {
		return semantic.DriftLogEntry{}, err
	}
	id, err := parseID(unitRaw)
	if err != nil {
		return semantic.DriftLogEntry{}, err
	}
	entry.UnitID = id
	if entry.ObservedAt, err = parseTimeString(observedRaw); err != nil {
		return semantic.DriftLogEntry{}, fmt.Errorf("parse observed_at: %w", err)
	}
	if entry.ResolvedAt, err = parseNullTime(resolvedAtRaw); err != nil {
		return semantic.DriftLogEntry{}, fmt.Errorf("parse resolved_at: %w", err)
	}
	resolution, ok := semantic.ParseResolution(resolutionRaw)
	if !ok {
		return semantic.DriftLogEntry{}, fmt.Errorf("unknown drift resolution %q", resolutionRaw)
	}
	entry.Resolution = resolution
	entry.NewLabel = newLabel.String
	entry.Removed = removed != 0
	entry.Reason = reason.String
	entry.ResolvedBy = resolvedBy.String
	return entry, nil
}

// RecordPendingDrift stores entries that block a commit. Re-observing the same
// transition keeps the first entry, so repeated syncs never duplicate drift.
// It returns how many entries were new.
func (s *Store) RecordPendingDrift(ctx context.Context, entries []semantic.DriftLogEntry) (int, error) {
	ctx = ensureContext(ctx)
	if len(entries) == 0 {
		return 0, nil
	}
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		inserted = 0
		for _, entry := range entries {
			if entry.Resolution != semantic.ResolutionPending {
				continue
			}
			res, err := tx.ExecContext(ctx, `INSERT INTO drift_logs
				(document_ref, unit_id, observed_at, previous_label, new_label, removed, previous_hash, new_hash, resolution, reason)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(document_ref, unit_id, previous_hash, new_hash) DO NOTHING`,
				entry.DocumentRef,
				entry.UnitID.String(),
				formatTime(entry.ObservedAt),
				entry.PreviousLabel,
				nullableString(entry.NewLabel),
				boolToInt(entry.Removed),
				entry.PreviousHash,
				entry.NewHash,
				entry.Resolution.String(),
				nullableString(entry.Reason),
			)
			if err != nil {
				return fmt.Errorf("record drift for %s: %w", entry.UnitID, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("record drift", err)
	}
	return inserted, nil
}

// ListDrift returns drift entries matching filter, oldest first.
func (s *Store) ListDrift(ctx context.Context, filter DriftFilter) ([]semantic.DriftLogEntry, error) {
	ctx = ensureContext(ctx)
	var (
		clauses []string
		args    []any
	)
	if filter.DocumentRef != "" {
		clauses = append(clauses, "document_ref = ?")
		args = append(args, filter.DocumentRef)
	}
	if filter.Resolution != nil {
		clauses = append(clauses, "resolution = ?")
		args = append(args, filter.Resolution.String())
	}
	query := "SELECT " + driftColumns + " FROM drift_logs"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list drift", fmt.Errorf("list drift: %w", err))
	}
	defer rows.Close()
	var out []semantic.DriftLogEntry
	for rows.Next() {
		entry, err := scanDrift(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// GetDrift returns one drift entry by id.
func (s *Store) GetDrift(ctx context.Context, id int64) (semantic.DriftLogEntry, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+driftColumns+" FROM drift_logs WHERE id = ?", id)
	entry, err := scanDrift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return semantic.DriftLogEntry{}, fmt.Errorf("drift entry %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return semantic.DriftLogEntry{}, unavailable("get drift", err)
	}
	return entry, nil
}

// ResolveDrift marks a pending entry as accepted by a user. The next sync of
// the document treats that exact transition as settled.
func (s *Store) ResolveDrift(ctx context.Context, id int64, resolvedBy string, at time.Time) (semantic.DriftLogEntry, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(resolvedBy) == "" {
		return semantic.DriftLogEntry{}, errors.New("resolve drift: resolver identity required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.execWithRetry(ctx, `UPDATE drift_logs
		SET resolution = ?, resolved_by = ?, resolved_at = ?, reason = COALESCE(reason, 'accepted by user')
		WHERE id = ? AND resolution = ?`,
		semantic.ResolutionUserResolved.String(), resolvedBy, formatTime(at), id, semantic.ResolutionPending.String())
	if err != nil {
		return semantic.DriftLogEntry{}, unavailable("resolve drift", fmt.Errorf("resolve drift %d: %w", id, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		entry, err := s.GetDrift(ctx, id)
		if err != nil {
			return semantic.DriftLogEntry{}, err
		}
		return entry, fmt.Errorf("drift entry %d (%s): %w", id, entry.Resolution, ErrAlreadyResolved)
	}
	return s.GetDrift(ctx, id)
}
