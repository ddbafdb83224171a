package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tagsync/internal/identity"
	"tagsync/internal/semantic"
)

const unitColumns = "id, kind, label, parent_id, content_hash, state, first_ingested_at, updated_at"

func scanUnit(scanner interface{ Scan(dest ...any) error }) (StoredUnit, error) {
	var (
		stored     StoredUnit
		idRaw      string
		kindRaw    string
		parentRaw  sql.NullString
		firstRaw   string
		updatedRaw string
	)
	if err := scanner.Scan(&idRaw, &kindRaw, &stored.Unit.Label, &parentRaw, &stored.ContentHash, &stored.State,
		&firstRaw, &updatedRaw); err != nil {
		return StoredUnit{}, err
	}
	var err error
	if stored.Unit.ID, err = parseID(idRaw); err != nil {
		return StoredUnit{}, err
	}
	if stored.Unit.ParentID, err = parseNullID(parentRaw); err != nil {
		return StoredUnit{}, err
	}
	kind, ok := semantic.ParseKind(kindRaw)
	if !ok {
		return StoredUnit{}, fmt.Errorf("unit %s: unknown kind %q", idRaw, kindRaw)
	}
	stored.Unit.Kind = kind
	if stored.FirstIngestedAt, err = parseTimeString(firstRaw); err != nil {
		return StoredUnit{}, fmt.Errorf("parse first_ingested_at: %w", err)
	}
	if stored.UpdatedAt, err = parseTimeString(updatedRaw); err != nil {
		return StoredUnit{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return stored, nil
}

func (s *Store) queryUnits(ctx context.Context, query string, args ...any) ([]StoredUnit, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, unavailable("query units", fmt.Errorf("query units: %w", err))
	}
	defer rows.Close()
	var out []StoredUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, unit)
	}
	return out, rows.Err()
}

// ResolveID follows a tombstone to the canonical id. Ids that were never
// retired resolve to themselves.
func (s *Store) ResolveID(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var canonicalRaw string
	err := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT canonical_id FROM identity_tombstones WHERE retired_id = ?", id.String()).Scan(&canonicalRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return id, nil
	}
	if err != nil {
		return uuid.Nil, unavailable("resolve id", err)
	}
	return parseID(canonicalRaw)
}

// GetUnit returns a unit by id, following tombstones.
func (s *Store) GetUnit(ctx context.Context, id uuid.UUID) (StoredUnit, error) {
	resolved, err := s.ResolveID(ctx, id)
	if err != nil {
		return StoredUnit{}, err
	}
	units, err := s.queryUnits(ctx, "SELECT "+unitColumns+" FROM semantic_units WHERE id = ?", resolved.String())
	if err != nil {
		return StoredUnit{}, err
	}
	if len(units) == 0 {
		return StoredUnit{}, fmt.Errorf("unit %s: %w", id, ErrNotFound)
	}
	return units[0], nil
}

// Provenance returns every origin recorded for a unit and for ids merged
// into it, oldest first.
func (s *Store) Provenance(ctx context.Context, id uuid.UUID) ([]semantic.ProvenanceRecord, error) {
	ctx = ensureContext(ctx)
	resolved, err := s.ResolveID(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT unit_id, source_type, document_ref, locator_json, ingested_by, ingested_at
		FROM provenance_records
		WHERE unit_id = ? OR unit_id IN (SELECT retired_id FROM identity_tombstones WHERE canonical_id = ?)
		ORDER BY ingested_at, id`, resolved.String(), resolved.String())
	if err != nil {
		return nil, unavailable("provenance", fmt.Errorf("query provenance: %w", err))
	}
	defer rows.Close()
	var out []semantic.ProvenanceRecord
	for rows.Next() {
		var (
			rec         semantic.ProvenanceRecord
			unitRaw     string
			sourceRaw   string
			locatorRaw  sql.NullString
			ingestedRaw string
		)
		if err := rows.Scan(&unitRaw, &sourceRaw, &rec.DocumentRef, &locatorRaw, &rec.IngestedBy, &ingestedRaw); err != nil {
			return nil, err
		}
		if rec.UnitID, err = parseID(unitRaw); err != nil {
			return nil, err
		}
		rec.SourceType, _ = semantic.ParseSourceType(sourceRaw)
		if err := unmarshalJSON(locatorRaw, &rec.Locator); err != nil {
			return nil, fmt.Errorf("decode locator: %w", err)
		}
		if rec.IngestedAt, err = parseTimeString(ingestedRaw); err != nil {
			return nil, fmt.Errorf("parse ingested_at: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Chain returns the unit and its ancestors, starting with the unit itself and
// ending at its root.
func (s *Store) Chain(ctx context.Context, id uuid.UUID) ([]StoredUnit, error) {
	resolved, err := s.ResolveID(ctx, id)
	if err != nil {
		return nil, err
	}
	units, err := s.queryUnits(ctx, `WITH RECURSIVE chain(id, depth) AS (
			SELECT id, 0 FROM semantic_units WHERE id = ?
			UNION ALL
			SELECT u.parent_id, chain.depth + 1 FROM semantic_units u
			JOIN chain ON u.id = chain.id
			WHERE u.parent_id IS NOT NULL AND chain.depth < 64
		)
		SELECT `+prefixed("u.", unitColumns)+` FROM chain JOIN semantic_units u ON u.id = chain.id ORDER BY chain.depth`,
		resolved.String())
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("unit %s: %w", id, ErrNotFound)
	}
	return units, nil
}

// Subtree returns the unit and every descendant, parents before children.
func (s *Store) Subtree(ctx context.Context, id uuid.UUID) ([]StoredUnit, error) {
	resolved, err := s.ResolveID(ctx, id)
	if err != nil {
		return nil, err
	}
	units, err := s.queryUnits(ctx, `WITH RECURSIVE tree(id, depth) AS (
			SELECT id, 0 FROM semantic_units WHERE id = ?
			UNION ALL
			SELECT u.id, tree.depth + 1 FROM semantic_units u
			JOIN tree ON u.parent_id = tree.id
			WHERE tree.depth < 64
		)
		SELECT `+prefixed("u.", unitColumns)+` FROM tree JOIN semantic_units u ON u.id = tree.id
		ORDER BY tree.depth, u.label, u.id`,
		resolved.String())
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("unit %s: %w", id, ErrNotFound)
	}
	return units, nil
}

// SearchUnits returns active units whose label contains query, case-insensitively.
func (s *Store) SearchUnits(ctx context.Context, query string, kind semantic.Kind, limit int) ([]StoredUnit, error) {
	sqlQuery := "SELECT " + unitColumns + " FROM semantic_units WHERE state = ? AND label LIKE ? ESCAPE '\\'"
	args := []any{UnitActive, "%" + escapeLike(query) + "%"}
	if kind.Valid() {
		sqlQuery += " AND kind = ?"
		args = append(args, kind.String())
	}
	sqlQuery += " ORDER BY label, id"
	if limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryUnits(ctx, sqlQuery, args...)
}

// LoadRegistry returns every persisted unit and tombstone for seeding the
// identity registry at startup. Removed units stay registered so their ids
// are never handed out again.
func (s *Store) LoadRegistry(ctx context.Context) ([]identity.SeedEntry, map[uuid.UUID]uuid.UUID, error) {
	units, err := s.queryUnits(ctx, "SELECT "+unitColumns+" FROM semantic_units WHERE state != ?", UnitMerged)
	if err != nil {
		return nil, nil, err
	}
	seeds := make([]identity.SeedEntry, 0, len(units))
	for _, stored := range units {
		seeds = append(seeds, identity.SeedEntry{Unit: stored.Unit, IngestedAt: stored.FirstIngestedAt})
	}
	tombs, err := s.Tombstones(ctx)
	if err != nil {
		return nil, nil, err
	}
	mapping := make(map[uuid.UUID]uuid.UUID, len(tombs))
	for _, tomb := range tombs {
		mapping[tomb.Retired] = tomb.Canonical
	}
	return seeds, mapping, nil
}

// Tombstones lists every retired id.
func (s *Store) Tombstones(ctx context.Context) ([]Tombstone, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT retired_id, canonical_id, document_ref, created_at FROM identity_tombstones ORDER BY created_at, retired_id")
	if err != nil {
		return nil, unavailable("tombstones", fmt.Errorf("query tombstones: %w", err))
	}
	defer rows.Close()
	var out []Tombstone
	for rows.Next() {
		var (
			tomb                 Tombstone
			retiredRaw, canonRaw string
			docRef               sql.NullString
			createdRaw           string
		)
		if err := rows.Scan(&retiredRaw, &canonRaw, &docRef, &createdRaw); err != nil {
			return nil, err
		}
		if tomb.Retired, err = parseID(retiredRaw); err != nil {
			return nil, err
		}
		if tomb.Canonical, err = parseID(canonRaw); err != nil {
			return nil, err
		}
		if tomb.CreatedAt, err = parseTimeString(createdRaw); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		tomb.DocumentRef = docRef.String
		out = append(out, tomb)
	}
	return out, rows.Err()
}

// MergeUnits persists a merge decided outside a document commit.
func (s *Store) MergeUnits(ctx context.Context, plan identity.MergePlan, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	tomb := Tombstone{Retired: plan.Retired, Canonical: plan.Canonical, CreatedAt: at}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM semantic_units WHERE id = ?", plan.Canonical.String()).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("canonical unit %s: %w", plan.Canonical, ErrNotFound)
		}
		return applyTombstone(ctx, tx, tomb)
	})
	return unavailable("merge", err)
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = prefix + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
