package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tagsync/internal/semantic"
	"tagsync/internal/tagcodec"
)

// CommitDocument persists a document's units, provenance, resolved drift,
// merges, snapshot, and source metadata in one transaction. Either all of it
// lands or none of it does.
//
// A commit whose hash matches the stored snapshot changes nothing and returns
// the stored result. Concurrent commits of the same document resolve
// last-writer-wins; the outcome flags when this commit replaced a snapshot
// newer than the one it was detected against.
func (s *Store) CommitDocument(ctx context.Context, req DocumentCommit) (semantic.CommitResult, CommitOutcome, error) {
	ctx = ensureContext(ctx)
	if req.DocumentRef == "" {
		return semantic.CommitResult{}, CommitOutcome{}, errors.New("commit document: empty document ref")
	}
	if req.CommittedAt.IsZero() {
		req.CommittedAt = time.Now()
	}

	var (
		result  semantic.CommitResult
		outcome CommitOutcome
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, outcome = semantic.CommitResult{}, CommitOutcome{}

		prev, found, err := loadDocumentState(ctx, tx, req.DocumentRef)
		if err != nil {
			return err
		}
		if found {
			outcome.PreviousVersion = prev.Version
			if prev.CommitHash == req.CommitHash {
				result = prev.result()
				return nil
			}
		}
		outcome.Applied = true
		outcome.Superseded = found && prev.Version != req.BaseVersion
		if !found && req.BaseVersion > 0 {
			outcome.Superseded = true
		}

		if err := upsertUnits(ctx, tx, req.Units, req.CommittedAt); err != nil {
			return err
		}
		if err := insertProvenance(ctx, tx, req.Provenance); err != nil {
			return err
		}
		if err := writeResolvedDrift(ctx, tx, req.Drift); err != nil {
			return err
		}
		for _, tomb := range req.Merges {
			if tomb.DocumentRef == "" {
				tomb.DocumentRef = req.DocumentRef
			}
			if tomb.CreatedAt.IsZero() {
				tomb.CreatedAt = req.CommittedAt
			}
			if err := applyTombstone(ctx, tx, tomb); err != nil {
				return err
			}
		}

		next := DocumentState{
			DocumentRef:     req.DocumentRef,
			SourceType:      req.SourceType,
			Version:         prev.Version + 1,
			CommitHash:      req.CommitHash,
			UnitCount:       len(req.Units),
			ProvenanceCount: len(req.Provenance),
			CommittedAt:     req.CommittedAt,
		}
		if err := replaceSnapshot(ctx, tx, next, req.Units); err != nil {
			return err
		}
		if err := markRemoved(ctx, tx, req.Drift, req.CommittedAt); err != nil {
			return err
		}
		if err := replaceMetadata(ctx, tx, req.DocumentRef, req.Metadata, req.CommittedAt); err != nil {
			return err
		}
		result = next.result()
		return nil
	})
	if err != nil {
		return semantic.CommitResult{}, CommitOutcome{}, unavailable("commit", fmt.Errorf("commit %s: %w", req.DocumentRef, err))
	}
	return result, outcome, nil
}

func (d DocumentState) result() semantic.CommitResult {
	return semantic.CommitResult{
		DocumentRef:     d.DocumentRef,
		CommitHash:      d.CommitHash,
		SnapshotVersion: d.Version,
		UnitCount:       d.UnitCount,
		ProvenanceCount: d.ProvenanceCount,
	}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const documentColumns = "document_ref, source_type, version, commit_hash, unit_count, provenance_count, committed_at"

func scanDocumentState(scanner interface{ Scan(dest ...any) error }) (DocumentState, error) {
	var (
		state      DocumentState
		sourceRaw  string
		committedR string
	)
	if err := scanner.Scan(&state.DocumentRef, &sourceRaw, &state.Version, &state.CommitHash,
		&state.UnitCount, &state.ProvenanceCount, &committedR); err != nil {
		return DocumentState{}, err
	}
	state.SourceType, _ = semantic.ParseSourceType(sourceRaw)
	committed, err := parseTimeString(committedR)
	if err != nil {
		return DocumentState{}, fmt.Errorf("parse committed_at: %w", err)
	}
	state.CommittedAt = committed
	return state, nil
}

func loadDocumentState(ctx context.Context, q queryer, documentRef string) (DocumentState, bool, error) {
	row := q.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM snapshot_meta WHERE document_ref = ?", documentRef)
	state, err := scanDocumentState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentState{}, false, nil
	}
	if err != nil {
		return DocumentState{}, false, fmt.Errorf("load snapshot meta: %w", err)
	}
	return state, true, nil
}

// parentsFirst orders units so a parent declared in the same document is
// written before its children.
func parentsFirst(units []semantic.Unit) []semantic.Unit {
	byID := make(map[uuid.UUID]semantic.Unit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}
	ordered := make([]semantic.Unit, 0, len(units))
	visited := make(map[uuid.UUID]bool, len(units))
	var visit func(u semantic.Unit)
	visit = func(u semantic.Unit) {
		if visited[u.ID] {
			return
		}
		visited[u.ID] = true
		if parent, ok := byID[u.ParentID]; ok && u.HasParent() {
			visit(parent)
		}
		ordered = append(ordered, u)
	}
	for _, u := range units {
		visit(u)
	}
	return ordered
}

func upsertUnits(ctx context.Context, tx *sql.Tx, units []semantic.Unit, at time.Time) error {
	if len(units) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO semantic_units
		(id, kind, label, parent_id, content_hash, state, first_ingested_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			label = excluded.label,
			parent_id = excluded.parent_id,
			content_hash = excluded.content_hash,
			state = excluded.state,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare unit upsert: %w", err)
	}
	defer stmt.Close()

	stamp := formatTime(at)
	for _, u := range parentsFirst(units) {
		if _, err := stmt.ExecContext(ctx,
			u.ID.String(),
			u.Kind.String(),
			u.Label,
			nullableID(u.ParentID),
			tagcodec.Hash(u),
			UnitActive,
			stamp,
			stamp,
		); err != nil {
			return fmt.Errorf("persist unit %s: %w", u.ID, err)
		}
	}
	return nil
}

func insertProvenance(ctx context.Context, tx *sql.Tx, records []semantic.ProvenanceRecord) error {
	if len(records) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO provenance_records
		(unit_id, source_type, document_ref, locator, locator_json, ingested_by, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(unit_id, source_type, document_ref, locator) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare provenance insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		locatorJSON, err := marshalJSON(rec.Locator, false)
		if err != nil {
			return fmt.Errorf("encode locator: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.UnitID.String(),
			rec.SourceType.String(),
			rec.DocumentRef,
			rec.Locator.String(),
			locatorJSON,
			rec.IngestedBy,
			formatTime(rec.IngestedAt),
		); err != nil {
			return fmt.Errorf("persist provenance for %s: %w", rec.UnitID, err)
		}
	}
	return nil
}

// writeResolvedDrift records settled entries. An entry that was pending is
// updated in place; entries already settled keep their first resolution.
func writeResolvedDrift(ctx context.Context, tx *sql.Tx, entries []semantic.DriftLogEntry) error {
	for _, entry := range entries {
		if !entry.Resolution.Resolved() {
			return fmt.Errorf("drift for %s is still pending", entry.UnitID)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO drift_logs
			(document_ref, unit_id, observed_at, previous_label, new_label, removed, previous_hash, new_hash,
			 resolution, reason, resolved_by, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(document_ref, unit_id, previous_hash, new_hash) DO UPDATE SET
				resolution = excluded.resolution,
				reason = excluded.reason,
				resolved_by = excluded.resolved_by,
				resolved_at = excluded.resolved_at
			WHERE drift_logs.resolution = 'pending'`,
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
			nullableString(entry.ResolvedBy),
			nullableTime(entry.ResolvedAt),
		); err != nil {
			return fmt.Errorf("persist drift for %s: %w", entry.UnitID, err)
		}
	}
	return nil
}

func replaceSnapshot(ctx context.Context, tx *sql.Tx, state DocumentState, units []semantic.Unit) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_meta (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_ref) DO UPDATE SET
			source_type = excluded.source_type,
			version = excluded.version,
			commit_hash = excluded.commit_hash,
			unit_count = excluded.unit_count,
			provenance_count = excluded.provenance_count,
			committed_at = excluded.committed_at`,
		state.DocumentRef,
		state.SourceType.String(),
		state.Version,
		state.CommitHash,
		state.UnitCount,
		state.ProvenanceCount,
		formatTime(state.CommittedAt),
	); err != nil {
		return fmt.Errorf("write snapshot meta: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshot_state WHERE document_ref = ?", state.DocumentRef); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	if len(units) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshot_state
		(document_ref, unit_id, content_hash, kind, label, parent_id, source_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_ref, unit_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()
	for _, u := range units {
		if _, err := stmt.ExecContext(ctx,
			state.DocumentRef,
			u.ID.String(),
			tagcodec.Hash(u),
			u.Kind.String(),
			u.Label,
			nullableID(u.ParentID),
			state.SourceType.String(),
		); err != nil {
			return fmt.Errorf("write snapshot entry %s: %w", u.ID, err)
		}
	}
	return nil
}

// markRemoved flags units whose removal was accepted and which no document
// snapshot still contains.
func markRemoved(ctx context.Context, tx *sql.Tx, entries []semantic.DriftLogEntry, at time.Time) error {
	for _, entry := range entries {
		if !entry.Removed {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE semantic_units SET state = ?, updated_at = ?
			WHERE id = ? AND state = ?
			AND NOT EXISTS (SELECT 1 FROM snapshot_state WHERE unit_id = ?)`,
			UnitRemoved, formatTime(at), entry.UnitID.String(), UnitActive, entry.UnitID.String(),
		); err != nil {
			return fmt.Errorf("mark %s removed: %w", entry.UnitID, err)
		}
	}
	return nil
}

// applyTombstone retires tomb.Retired. Earlier tombstones pointing at the
// retired id are rewritten so every lookup stays one hop, children move to
// the canonical id, and snapshots that held the retired id are rewritten so
// the next sync does not report the merge as drift.
func applyTombstone(ctx context.Context, tx *sql.Tx, tomb Tombstone) error {
	retired, canonical := tomb.Retired.String(), tomb.Canonical.String()
	stamp := formatTime(tomb.CreatedAt)
	statements := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO identity_tombstones (retired_id, canonical_id, document_ref, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(retired_id) DO UPDATE SET canonical_id = excluded.canonical_id`,
			[]any{retired, canonical, nullableString(tomb.DocumentRef), stamp}},
		{"UPDATE identity_tombstones SET canonical_id = ? WHERE canonical_id = ?", []any{canonical, retired}},
		{"UPDATE semantic_units SET parent_id = ?, updated_at = ? WHERE parent_id = ?", []any{canonical, stamp, retired}},
		{"UPDATE semantic_units SET state = ?, updated_at = ? WHERE id = ?", []any{UnitMerged, stamp, retired}},
		{"UPDATE snapshot_state SET parent_id = ? WHERE parent_id = ?", []any{canonical, retired}},
		{`DELETE FROM snapshot_state WHERE unit_id = ?
			AND document_ref IN (SELECT document_ref FROM snapshot_state WHERE unit_id = ?)`,
			[]any{retired, canonical}},
	}
	for _, st := range statements {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return fmt.Errorf("retire %s: %w", tomb.Retired, err)
		}
	}
	return rehashSnapshotRows(ctx, tx, tomb.Retired, tomb.Canonical)
}

// rehashSnapshotRows moves remaining snapshot rows of retired onto canonical
// and recomputes their hashes, along with the hashes of reparented children.
func rehashSnapshotRows(ctx context.Context, tx *sql.Tx, retired, canonical uuid.UUID) error {
	rows, err := tx.QueryContext(ctx, `SELECT document_ref, unit_id, kind, label, parent_id FROM snapshot_state
		WHERE unit_id = ? OR parent_id = ?`, retired.String(), canonical.String())
	if err != nil {
		return fmt.Errorf("load snapshot rows for merge: %w", err)
	}
	type pending struct {
		documentRef string
		oldID       string
		unit        semantic.Unit
	}
	var updates []pending
	for rows.Next() {
		var (
			docRef, idRaw, kindRaw, label string
			parentRaw                     sql.NullString
		)
		if err := rows.Scan(&docRef, &idRaw, &kindRaw, &label, &parentRaw); err != nil {
			rows.Close()
			return err
		}
		id, err := parseID(idRaw)
		if err != nil {
			rows.Close()
			return err
		}
		parent, err := parseNullID(parentRaw)
		if err != nil {
			rows.Close()
			return err
		}
		kind, _ := semantic.ParseKind(kindRaw)
		if id == retired {
			id = canonical
		}
		updates = append(updates, pending{documentRef: docRef, oldID: idRaw, unit: semantic.Unit{ID: id, Kind: kind, Label: label, ParentID: parent}})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, upd := range updates {
		if _, err := tx.ExecContext(ctx, `UPDATE snapshot_state SET unit_id = ?, content_hash = ?
			WHERE document_ref = ? AND unit_id = ?`,
			upd.unit.ID.String(), tagcodec.Hash(upd.unit), upd.documentRef, upd.oldID,
		); err != nil {
			return fmt.Errorf("rewrite snapshot row %s: %w", upd.oldID, err)
		}
	}
	return nil
}
