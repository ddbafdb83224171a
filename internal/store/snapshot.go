package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"tagsync/internal/drift"
	"tagsync/internal/semantic"
)

var _ drift.Baseline = (*Store)(nil)

// Snapshot returns the last synchronized state of a document. A document that
// was never committed yields an empty snapshot at version zero.
func (s *Store) Snapshot(ctx context.Context, documentRef string) (drift.Snapshot, error) {
	ctx = ensureContext(ctx)
	snap := drift.Snapshot{Entries: make(map[uuid.UUID]drift.SnapshotEntry)}

	state, found, err := loadDocumentState(ctx, s.db, documentRef)
	if err != nil {
		return drift.Snapshot{}, unavailable("snapshot", err)
	}
	if !found {
		return snap, nil
	}
	snap.Version = state.Version

	rows, err := s.db.QueryContext(ctx, `SELECT unit_id, content_hash, kind, label, parent_id, source_type
		FROM snapshot_state WHERE document_ref = ?`, documentRef)
	if err != nil {
		return drift.Snapshot{}, unavailable("snapshot", fmt.Errorf("load snapshot: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var (
			idRaw, hash, kindRaw, label, sourceRaw string
			parentRaw                              sql.NullString
		)
		if err := rows.Scan(&idRaw, &hash, &kindRaw, &label, &parentRaw, &sourceRaw); err != nil {
			return drift.Snapshot{}, err
		}
		id, err := parseID(idRaw)
		if err != nil {
			return drift.Snapshot{}, err
		}
		parent, err := parseNullID(parentRaw)
		if err != nil {
			return drift.Snapshot{}, err
		}
		kind, _ := semantic.ParseKind(kindRaw)
		source, _ := semantic.ParseSourceType(sourceRaw)
		snap.Entries[id] = drift.SnapshotEntry{
			UnitID:   id,
			Hash:     hash,
			Kind:     kind,
			Label:    label,
			ParentID: parent,
			Source:   source,
		}
	}
	if err := rows.Err(); err != nil {
		return drift.Snapshot{}, unavailable("snapshot", err)
	}
	return snap, nil
}

// UserResolutions returns the transitions a user accepted for the document.
func (s *Store) UserResolutions(ctx context.Context, documentRef string) (map[drift.ChangeKey]semantic.DriftLogEntry, error) {
	resolution := semantic.ResolutionUserResolved
	entries, err := s.ListDrift(ctx, DriftFilter{DocumentRef: documentRef, Resolution: &resolution})
	if err != nil {
		return nil, err
	}
	out := make(map[drift.ChangeKey]semantic.DriftLogEntry, len(entries))
	for _, entry := range entries {
		out[drift.ChangeKey{UnitID: entry.UnitID, PreviousHash: entry.PreviousHash, NewHash: entry.NewHash}] = entry
	}
	return out, nil
}

// Document returns the snapshot summary of one document.
func (s *Store) Document(ctx context.Context, documentRef string) (DocumentState, error) {
	state, found, err := loadDocumentState(ensureContext(ctx), s.db, documentRef)
	if err != nil {
		return DocumentState{}, unavailable("document", err)
	}
	if !found {
		return DocumentState{}, fmt.Errorf("document %s: %w", documentRef, ErrNotFound)
	}
	return state, nil
}

// Documents lists every synchronized document ordered by reference.
func (s *Store) Documents(ctx context.Context) ([]DocumentState, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT "+documentColumns+" FROM snapshot_meta ORDER BY document_ref")
	if err != nil {
		return nil, unavailable("documents", fmt.Errorf("list documents: %w", err))
	}
	defer rows.Close()
	var out []DocumentState
	for rows.Next() {
		state, err := scanDocumentState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

// CommitHash returns the stored commit hash of a document, or "" when the
// document was never committed.
func (s *Store) CommitHash(ctx context.Context, documentRef string) (string, error) {
	state, found, err := loadDocumentState(ensureContext(ctx), s.db, documentRef)
	if err != nil || !found {
		return "", unavailable("commit hash", err)
	}
	return state.CommitHash, nil
}
