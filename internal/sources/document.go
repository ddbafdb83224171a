// Package sources reads documents from disk into tag-bearing text segments.
//
// Each reader knows where markers can live in its format and attaches the
// structured locator every occurrence is attributed to: heading and line for
// markdown notes, table/row/column for HTML tables, sheet/row/column for
// spreadsheets. Readers also describe the document for the store's
// channel-specific metadata tables.
package sources

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tagsync/internal/semantic"
)

// ErrUnsupported is returned for files whose extension no reader handles.
var ErrUnsupported = errors.New("unsupported document type")

// Segment is one contiguous run of text that may carry markers.
type Segment struct {
	Text    string
	Locator semantic.Locator
	// FirstLine is the 1-based line of Text's first byte in the document, or
	// zero when line numbers are meaningless (table and sheet cells).
	FirstLine int
}

// Locate returns the locator for a marker found at the given 1-based line
// within the segment.
func (s Segment) Locate(line int) semantic.Locator {
	loc := s.Locator
	if s.FirstLine > 0 && line > 0 {
		loc.Line = s.FirstLine + line - 1
	}
	return loc
}

// Document is a parsed source file.
type Document struct {
	Ref        string
	SourceType semantic.SourceType
	Segments   []Segment
	Metadata   semantic.SourceMetadata
	Size       int64
}

// Text joins all segments, mainly for previews and classifier prompts.
func (d *Document) Text() string {
	var b strings.Builder
	for i, seg := range d.Segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(seg.Text)
	}
	return b.String()
}

type format int

const (
	formatUnknown format = iota
	formatMarkdown
	formatHTML
	formatCSV
	formatTSV
	formatXLSX
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return formatMarkdown
	case ".html", ".htm":
		return formatHTML
	case ".csv":
		return formatCSV
	case ".tsv":
		return formatTSV
	case ".xlsx", ".xlsm":
		return formatXLSX
	default:
		return formatUnknown
	}
}

// Detect maps a file name to the source type its reader produces.
func Detect(path string) (semantic.SourceType, bool) {
	switch formatOf(path) {
	case formatMarkdown:
		return semantic.SourceMarkdownNote, true
	case formatHTML:
		return semantic.SourceHTMLTable, true
	case formatCSV, formatTSV, formatXLSX:
		return semantic.SourceSpreadsheet, true
	default:
		return semantic.SourceUnknown, false
	}
}

// Supported reports whether a reader exists for path.
func Supported(path string) bool {
	_, ok := Detect(path)
	return ok
}

// Load reads and parses the file at path. The document ref is the cleaned,
// slash-separated absolute path.
func Load(path string) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if !Supported(abs) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(abs))
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return Parse(filepath.ToSlash(abs), content)
}

// Parse dispatches on ref's extension.
func Parse(ref string, content []byte) (*Document, error) {
	var (
		doc *Document
		err error
	)
	switch formatOf(ref) {
	case formatMarkdown:
		doc, err = ParseMarkdown(ref, content)
	case formatHTML:
		doc, err = ParseHTML(ref, content)
	case formatCSV:
		doc, err = ParseDelimited(ref, content, ',')
	case formatTSV:
		doc, err = ParseDelimited(ref, content, '\t')
	case formatXLSX:
		doc, err = ParseWorkbook(ref, content)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(ref))
	}
	if err != nil {
		return nil, err
	}
	doc.Size = int64(len(content))
	return doc, nil
}
