package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tagsync/internal/semantic"
)

// replaceMetadata swaps a document's channel metadata for the committed one.
func replaceMetadata(ctx context.Context, tx *sql.Tx, documentRef string, meta semantic.SourceMetadata, at time.Time) error {
	stamp := formatTime(at)
	for _, table := range []string{"markdown_notes", "html_tables", "spreadsheet_sheets"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE document_ref = ?", documentRef); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if note := meta.Note; note != nil {
		frontmatter, err := marshalJSON(note.Frontmatter, len(note.Frontmatter) == 0)
		if err != nil {
			return fmt.Errorf("encode frontmatter: %w", err)
		}
		tags, err := marshalJSON(note.Tags, len(note.Tags) == 0)
		if err != nil {
			return fmt.Errorf("encode tags: %w", err)
		}
		links, err := marshalJSON(note.Links, len(note.Links) == 0)
		if err != nil {
			return fmt.Errorf("encode links: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO markdown_notes
			(document_ref, title, frontmatter_json, tags_json, links_json, word_count, content_hash, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			documentRef, note.Title, frontmatter, tags, links, note.WordCount, note.ContentHash, stamp,
		); err != nil {
			return fmt.Errorf("write note metadata: %w", err)
		}
	}

	for _, table := range meta.Tables {
		headers, err := marshalJSON(table.Headers, len(table.Headers) == 0)
		if err != nil {
			return fmt.Errorf("encode table headers: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO html_tables
			(document_ref, table_index, caption, headers_json, row_count, column_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			documentRef, table.Index, nullableString(table.Caption), headers, table.Rows, table.Columns, stamp,
		); err != nil {
			return fmt.Errorf("write table %d metadata: %w", table.Index, err)
		}
	}

	for _, sheet := range meta.Sheets {
		headers, err := marshalJSON(sheet.Headers, len(sheet.Headers) == 0)
		if err != nil {
			return fmt.Errorf("encode sheet headers: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO spreadsheet_sheets
			(document_ref, sheet_name, headers_json, row_count, column_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			documentRef, sheet.Name, headers, sheet.Rows, sheet.Columns, stamp,
		); err != nil {
			return fmt.Errorf("write sheet %q metadata: %w", sheet.Name, err)
		}
	}
	return nil
}

// Metadata returns the channel metadata stored for a document.
func (s *Store) Metadata(ctx context.Context, documentRef string) (semantic.SourceMetadata, error) {
	ctx = ensureContext(ctx)
	var meta semantic.SourceMetadata

	var (
		note                     semantic.NoteMetadata
		frontmatter, tags, links sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT title, frontmatter_json, tags_json, links_json, word_count, content_hash
		FROM markdown_notes WHERE document_ref = ?`, documentRef).
		Scan(&note.Title, &frontmatter, &tags, &links, &note.WordCount, &note.ContentHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return meta, unavailable("metadata", fmt.Errorf("load note metadata: %w", err))
	default:
		if err := unmarshalJSON(frontmatter, &note.Frontmatter); err != nil {
			return meta, fmt.Errorf("decode frontmatter: %w", err)
		}
		if err := unmarshalJSON(tags, &note.Tags); err != nil {
			return meta, fmt.Errorf("decode tags: %w", err)
		}
		if err := unmarshalJSON(links, &note.Links); err != nil {
			return meta, fmt.Errorf("decode links: %w", err)
		}
		meta.Note = &note
	}

	tableRows, err := s.db.QueryContext(ctx, `SELECT table_index, caption, headers_json, row_count, column_count
		FROM html_tables WHERE document_ref = ? ORDER BY table_index`, documentRef)
	if err != nil {
		return meta, unavailable("metadata", fmt.Errorf("load table metadata: %w", err))
	}
	defer tableRows.Close()
	for tableRows.Next() {
		var (
			table   semantic.TableMetadata
			caption sql.NullString
			headers sql.NullString
		)
		if err := tableRows.Scan(&table.Index, &caption, &headers, &table.Rows, &table.Columns); err != nil {
			return meta, err
		}
		table.Caption = caption.String
		if err := unmarshalJSON(headers, &table.Headers); err != nil {
			return meta, fmt.Errorf("decode table headers: %w", err)
		}
		meta.Tables = append(meta.Tables, table)
	}
	if err := tableRows.Err(); err != nil {
		return meta, err
	}

	sheetRows, err := s.db.QueryContext(ctx, `SELECT sheet_name, headers_json, row_count, column_count
		FROM spreadsheet_sheets WHERE document_ref = ? ORDER BY sheet_name`, documentRef)
	if err != nil {
		return meta, unavailable("metadata", fmt.Errorf("load sheet metadata: %w", err))
	}
	defer sheetRows.Close()
	for sheetRows.Next() {
		var (
			sheet   semantic.SheetMetadata
			headers sql.NullString
		)
		if err := sheetRows.Scan(&sheet.Name, &headers, &sheet.Rows, &sheet.Columns); err != nil {
			return meta, err
		}
		if err := unmarshalJSON(headers, &sheet.Headers); err != nil {
			return meta, fmt.Errorf("decode sheet headers: %w", err)
		}
		meta.Sheets = append(meta.Sheets, sheet)
	}
	return meta, sheetRows.Err()
}
