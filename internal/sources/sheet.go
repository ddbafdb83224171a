package sources

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/xuri/excelize/v2"

	"tagsync/internal/semantic"
)

// ParseDelimited reads a CSV or TSV file as a single sheet named after the
// file. The first row holds the headers.
func ParseDelimited(ref string, content []byte, comma rune) (*Document, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\ufeff"))))
	r.Comma = comma
	r.FieldsPerRecord = -1
	// Marker labels put bare quotes inside unquoted fields.
	r.LazyQuotes = true

	var rows [][]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: read delimited rows: %w", ref, err)
		}
		rows = append(rows, record)
	}

	doc := &Document{Ref: ref, SourceType: semantic.SourceSpreadsheet}
	name := strings.TrimSuffix(path.Base(ref), path.Ext(ref))
	addSheet(doc, name, rows)
	return doc, nil
}

// ParseWorkbook reads every worksheet of an xlsx/xlsm workbook.
func ParseWorkbook(ref string, content []byte) (*Document, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%s: open workbook: %w", ref, err)
	}
	defer f.Close()

	doc := &Document{Ref: ref, SourceType: semantic.SourceSpreadsheet}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("%s: read sheet %q: %w", ref, name, err)
		}
		addSheet(doc, name, rows)
	}
	return doc, nil
}

// addSheet appends one segment per non-blank cell. Rows and columns are
// 1-based sheet coordinates, so the header row is row 1.
func addSheet(doc *Document, name string, rows [][]string) {
	meta := semantic.SheetMetadata{Name: name}
	if len(rows) == 0 {
		doc.Metadata.Sheets = append(doc.Metadata.Sheets, meta)
		return
	}

	columns := 0
	for _, row := range rows {
		columns = max(columns, len(row))
	}
	for i, row := range rows {
		if i > 0 && allEmpty(row) {
			continue
		}
		if i > 0 {
			meta.Rows++
		}
		for col, cell := range row {
			if strings.TrimSpace(cell) == "" {
				continue
			}
			doc.Segments = append(doc.Segments, Segment{
				Text:    cell,
				Locator: semantic.Locator{Sheet: name, Row: i + 1, Column: col + 1},
			})
		}
	}
	meta.Headers = normalizeHeaders(rows[0], columns)
	meta.Columns = columns
	doc.Metadata.Sheets = append(doc.Metadata.Sheets, meta)
}
