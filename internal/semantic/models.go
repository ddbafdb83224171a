package semantic

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Unit is one tagged fact. A nil ParentID marks a root unit.
type Unit struct {
	ID       uuid.UUID `json:"id"`
	Kind     Kind      `json:"kind"`
	Label    string    `json:"label"`
	ParentID uuid.UUID `json:"parent_id"`
}

// HasParent reports whether the unit references a parent.
func (u Unit) HasParent() bool {
	return u.ParentID != uuid.Nil
}

// Span locates a marker inside the text it was decoded from. Start and End
// are byte offsets; Line is 1-based.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Line  int    `json:"line"`
	Text  string `json:"text"`
}

// Locator is the structured position of an occurrence inside a source
// document. Zero fields are unset.
type Locator struct {
	Sheet   string `json:"sheet,omitempty"`
	Table   int    `json:"table,omitempty"`
	Row     int    `json:"row,omitempty"`
	Column  int    `json:"column,omitempty"`
	Heading string `json:"heading,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// String renders the locator as a stable key, e.g. "sheet=Claims/row=4/col=2".
func (l Locator) String() string {
	parts := make([]string, 0, 6)
	if l.Sheet != "" {
		parts = append(parts, "sheet="+l.Sheet)
	}
	if l.Table > 0 {
		parts = append(parts, "table="+strconv.Itoa(l.Table))
	}
	if l.Row > 0 {
		parts = append(parts, "row="+strconv.Itoa(l.Row))
	}
	if l.Column > 0 {
		parts = append(parts, "col="+strconv.Itoa(l.Column))
	}
	if l.Heading != "" {
		parts = append(parts, "heading="+l.Heading)
	}
	if l.Line > 0 {
		parts = append(parts, "line="+strconv.Itoa(l.Line))
	}
	if len(parts) == 0 {
		return "document"
	}
	return strings.Join(parts, "/")
}

// ProvenanceRecord is the immutable origin of one ingested occurrence.
type ProvenanceRecord struct {
	UnitID      uuid.UUID  `json:"unit_id"`
	SourceType  SourceType `json:"source_type"`
	DocumentRef string     `json:"document_ref"`
	Locator     Locator    `json:"locator"`
	IngestedBy  string     `json:"ingested_by"`
	IngestedAt  time.Time  `json:"ingested_at"`
}

// DriftLogEntry records a divergence between a document and its last
// synchronized snapshot.
type DriftLogEntry struct {
	ID            int64      `json:"id,omitempty"`
	DocumentRef   string     `json:"document_ref"`
	UnitID        uuid.UUID  `json:"unit_id"`
	ObservedAt    time.Time  `json:"observed_at"`
	PreviousLabel string     `json:"previous_label"`
	NewLabel      string     `json:"new_label,omitempty"`
	Removed       bool       `json:"removed"`
	PreviousHash  string     `json:"previous_hash"`
	NewHash       string     `json:"new_hash,omitempty"`
	Resolution    Resolution `json:"resolution"`
	Reason        string     `json:"reason,omitempty"`
	ResolvedBy    string     `json:"resolved_by,omitempty"`
	ResolvedAt    time.Time  `json:"resolved_at,omitzero"`
}

// SessionStatus is the lifecycle state of an ingest session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionPartial   SessionStatus = "partial_failure"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the session can no longer change.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionPartial, SessionCancelled:
		return true
	default:
		return false
	}
}

// IngestSession is one bounded batch run.
type IngestSession struct {
	ID            string        `json:"session_id"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   time.Time     `json:"completed_at,omitzero"`
	DocumentCount int           `json:"document_count"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
	CostBytes     int64         `json:"cost_bytes"`
	Status        SessionStatus `json:"status"`
	Trigger       string        `json:"trigger"`
}

// RecordStatus is the per-document outcome inside a session.
type RecordStatus string

const (
	RecordSucceeded RecordStatus = "succeeded"
	RecordFailed    RecordStatus = "failed"
	RecordSkipped   RecordStatus = "skipped"
)

// IngestRecord links a document to the units it produced and any error it hit.
type IngestRecord struct {
	ID          int64        `json:"id,omitempty"`
	SessionID   string       `json:"session_id"`
	DocumentRef string       `json:"document_ref"`
	Status      RecordStatus `json:"status"`
	UnitIDs     []uuid.UUID  `json:"unit_ids,omitempty"`
	CommitHash  string       `json:"commit_hash,omitempty"`
	ErrorKind   string       `json:"error_kind,omitempty"`
	Error       string       `json:"error,omitempty"`
	Details     []string     `json:"details,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
}

// CommitResult describes the canonical store state after a document commit.
// Repeating an identical commit yields an identical result.
type CommitResult struct {
	DocumentRef     string `json:"document_ref"`
	CommitHash      string `json:"commit_hash"`
	SnapshotVersion int64  `json:"snapshot_version"`
	UnitCount       int    `json:"unit_count"`
	ProvenanceCount int    `json:"provenance_count"`
}

// NoteMetadata describes a markdown note.
type NoteMetadata struct {
	Title       string         `json:"title"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Links       []string       `json:"links,omitempty"`
	WordCount   int            `json:"word_count"`
	ContentHash string         `json:"content_hash"`
}

// TableMetadata describes one table extracted from an HTML document.
type TableMetadata struct {
	Index   int      `json:"index"`
	Caption string   `json:"caption,omitempty"`
	Headers []string `json:"headers,omitempty"`
	Rows    int      `json:"rows"`
	Columns int      `json:"columns"`
}

// SheetMetadata describes one worksheet or delimited file.
type SheetMetadata struct {
	Name    string   `json:"name"`
	Headers []string `json:"headers,omitempty"`
	Rows    int      `json:"rows"`
	Columns int      `json:"columns"`
}

// SourceMetadata carries the channel-specific description of a document.
// At most one field group is populated, matching the document's source type.
type SourceMetadata struct {
	Note   *NoteMetadata   `json:"note,omitempty"`
	Tables []TableMetadata `json:"tables,omitempty"`
	Sheets []SheetMetadata `json:"sheets,omitempty"`
}
