package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tagsync/internal/semantic"
)

const sessionColumns = "id, started_at, completed_at, document_count, succeeded, failed, skipped, cost_bytes, status, trigger"

func scanSession(scanner interface{ Scan(dest ...any) error }) (semantic.IngestSession, error) {
	var (
		session      semantic.IngestSession
		startedRaw   string
		completedRaw sql.NullString
		statusRaw    string
	)
	if err := scanner.Scan(&session.ID, &startedRaw, &completedRaw, &session.DocumentCount, &session.Succeeded,
		&session.Failed, &session.Skipped, &session.CostBytes, &statusRaw, &session.Trigger); err != nil {
		return semantic.IngestSession{}, err
	}
	var err error
	if session.StartedAt, err = parseTimeString(startedRaw); err != nil {
		return semantic.IngestSession{}, fmt.Errorf("parse started_at: %w", err)
	}
	if session.CompletedAt, err = parseNullTime(completedRaw); err != nil {
		return semantic.IngestSession{}, fmt.Errorf("parse completed_at: %w", err)
	}
	session.Status = semantic.SessionStatus(statusRaw)
	return session, nil
}

// CreateSession persists a new running session.
func (s *Store) CreateSession(ctx context.Context, session semantic.IngestSession) error {
	if session.ID == "" {
		return errors.New("create session: empty id")
	}
	if session.Status == "" {
		session.Status = semantic.SessionRunning
	}
	_, err := s.execWithRetry(ctx, `INSERT INTO ingest_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		formatTime(session.StartedAt),
		nullableTime(session.CompletedAt),
		session.DocumentCount,
		session.Succeeded,
		session.Failed,
		session.Skipped,
		session.CostBytes,
		string(session.Status),
		session.Trigger,
	)
	if err != nil {
		return unavailable("create session", fmt.Errorf("create session %s: %w", session.ID, err))
	}
	return nil
}

// FinishSession writes the final counters and status. A session that already
// reached a terminal status is immutable.
func (s *Store) FinishSession(ctx context.Context, session semantic.IngestSession) error {
	if !session.Status.Terminal() {
		return fmt.Errorf("finish session %s: status %q is not terminal", session.ID, session.Status)
	}
	res, err := s.execWithRetry(ctx, `UPDATE ingest_sessions
		SET completed_at = ?, document_count = ?, succeeded = ?, failed = ?, skipped = ?, cost_bytes = ?, status = ?
		WHERE id = ? AND status = ?`,
		nullableTime(session.CompletedAt),
		session.DocumentCount,
		session.Succeeded,
		session.Failed,
		session.Skipped,
		session.CostBytes,
		string(session.Status),
		session.ID,
		string(semantic.SessionRunning),
	)
	if err != nil {
		return unavailable("finish session", fmt.Errorf("finish session %s: %w", session.ID, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetSession(ctx, session.ID); err != nil {
			return err
		}
		return fmt.Errorf("session %s: %w", session.ID, ErrSessionClosed)
	}
	return nil
}

// GetSession returns one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (semantic.IngestSession, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM ingest_sessions WHERE id = ?", id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return semantic.IngestSession{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return semantic.IngestSession{}, unavailable("get session", err)
	}
	return session, nil
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]semantic.IngestSession, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + sessionColumns + " FROM ingest_sessions ORDER BY started_at DESC, id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list sessions", fmt.Errorf("list sessions: %w", err))
	}
	defer rows.Close()
	var out []semantic.IngestSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

const recordColumns = `id, session_id, document_ref, status, unit_ids_json, commit_hash, error_kind, error_message,
	details_json, started_at, completed_at`

func scanRecord(scanner interface{ Scan(dest ...any) error }) (semantic.IngestRecord, error) {
	var (
		rec          semantic.IngestRecord
		statusRaw    string
		unitIDs      sql.NullString
		commitHash   sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		details      sql.NullString
		startedRaw   string
		completedRaw string
	)
	if err := scanner.Scan(&rec.ID, &rec.SessionID, &rec.DocumentRef, &statusRaw, &unitIDs, &commitHash,
		&errorKind, &errorMessage, &details, &startedRaw, &completedRaw); err != nil {
		return semantic.IngestRecord{}, err
	}
	rec.Status = semantic.RecordStatus(statusRaw)
	rec.CommitHash = commitHash.String
	rec.ErrorKind = errorKind.String
	rec.Error = errorMessage.String
	if err := unmarshalJSON(unitIDs, &rec.UnitIDs); err != nil {
		return semantic.IngestRecord{}, fmt.Errorf("decode unit ids: %w", err)
	}
	if err := unmarshalJSON(details, &rec.Details); err != nil {
		return semantic.IngestRecord{}, fmt.Errorf("decode details: %w", err)
	}
	var err error
	if rec.StartedAt, err = parseTimeString(startedRaw); err != nil {
		return semantic.IngestRecord{}, fmt.Errorf("parse started_at: %w", err)
	}
	if rec.CompletedAt, err = parseTimeString(completedRaw); err != nil {
		return semantic.IngestRecord{}, fmt.Errorf("parse completed_at: %w", err)
	}
	return rec, nil
}

// AppendRecord stores one per-document outcome and returns its id. Records
// are never updated once written.
func (s *Store) AppendRecord(ctx context.Context, rec semantic.IngestRecord) (int64, error) {
	unitIDs, err := marshalJSON(rec.UnitIDs, len(rec.UnitIDs) == 0)
	if err != nil {
		return 0, fmt.Errorf("encode unit ids: %w", err)
	}
	details, err := marshalJSON(rec.Details, len(rec.Details) == 0)
	if err != nil {
		return 0, fmt.Errorf("encode details: %w", err)
	}
	res, err := s.execWithRetry(ctx, `INSERT INTO ingest_records
		(session_id, document_ref, status, unit_ids_json, commit_hash, error_kind, error_message, details_json, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		rec.DocumentRef,
		string(rec.Status),
		unitIDs,
		nullableString(rec.CommitHash),
		nullableString(rec.ErrorKind),
		nullableString(rec.Error),
		details,
		formatTime(rec.StartedAt),
		formatTime(rec.CompletedAt),
	)
	if err != nil {
		return 0, unavailable("append record", fmt.Errorf("append record for %s: %w", rec.DocumentRef, err))
	}
	return res.LastInsertId()
}

// ListRecords returns the records of a session in insertion order.
func (s *Store) ListRecords(ctx context.Context, sessionID string) ([]semantic.IngestRecord, error) {
	return s.queryRecords(ctx, "SELECT "+recordColumns+" FROM ingest_records WHERE session_id = ? ORDER BY id", sessionID)
}

// DocumentHistory returns every record written for a document, newest first.
func (s *Store) DocumentHistory(ctx context.Context, documentRef string, limit int) ([]semantic.IngestRecord, error) {
	query := "SELECT " + recordColumns + " FROM ingest_records WHERE document_ref = ? ORDER BY id DESC"
	args := []any{documentRef}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryRecords(ctx, query, args...)
}

// RecordsForUnit returns the records whose document produced the unit.
func (s *Store) RecordsForUnit(ctx context.Context, id uuid.UUID) ([]semantic.IngestRecord, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM ingest_records
		WHERE status = ? AND EXISTS (SELECT 1 FROM json_each(ingest_records.unit_ids_json) WHERE value = ?)
		ORDER BY id`, string(semantic.RecordSucceeded), id.String())
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]semantic.IngestRecord, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list records", fmt.Errorf("list records: %w", err))
	}
	defer rows.Close()
	var out []semantic.IngestRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
