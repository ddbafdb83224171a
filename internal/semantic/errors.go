package semantic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Error kinds reported through ErrorClassifier.
const (
	KindMalformedTag       = "malformed_tag"
	KindCollision          = "collision"
	KindInvalidParent      = "invalid_parent"
	KindPendingDrift       = "pending_drift"
	KindAttributionMissing = "attribution_missing"
	KindStoreUnavailable   = "store_unavailable"
	KindInvalidProposal    = "invalid_proposal"
	KindInternal           = "internal"
)

// ErrorClassifier allows errors to declare their classification so ingest
// records and exit codes can be derived without string matching.
type ErrorClassifier interface {
	ErrorKind() string
}

// ErrorKindOf returns the classification of the first classified error in
// err's tree, or KindInternal.
func ErrorKindOf(err error) string {
	if err == nil {
		return ""
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	return KindInternal
}

// MalformedTagError reports a marker whose internal structure is invalid.
type MalformedTagError struct {
	Span     Span
	Reason   string
	Location string
}

func (e *MalformedTagError) Error() string {
	where := fmt.Sprintf("bytes %d-%d line %d", e.Span.Start, e.Span.End, e.Span.Line)
	if e.Location != "" {
		where = e.Location + " " + where
	}
	return fmt.Sprintf("malformed tag at %s: %s: %q", where, e.Reason, clip(e.Span.Text, 96))
}

func (e *MalformedTagError) ErrorKind() string { return KindMalformedTag }

// CollisionError reports an identifier reused with conflicting identity.
type CollisionError struct {
	ID     uuid.UUID
	Reason string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("identity collision for %s: %s", e.ID, e.Reason)
}

func (e *CollisionError) ErrorKind() string { return KindCollision }

// InvalidParentError reports a parent assignment that breaks the forest rules.
type InvalidParentError struct {
	ID       uuid.UUID
	ParentID uuid.UUID
	Kind     Kind
	Reason   string
}

func (e *InvalidParentError) Error() string {
	return fmt.Sprintf("invalid parent %s for %s %s: %s", e.ParentID, e.Kind, e.ID, e.Reason)
}

func (e *InvalidParentError) ErrorKind() string { return KindInvalidParent }

// PendingDriftError blocks a document commit until its drift is resolved.
type PendingDriftError struct {
	DocumentRef string
	Entries     []DriftLogEntry
}

func (e *PendingDriftError) Error() string {
	ids := make([]string, 0, len(e.Entries))
	for _, entry := range e.Entries {
		ids = append(ids, entry.UnitID.String())
	}
	return fmt.Sprintf("document %s has %d pending drift entries (%s)", e.DocumentRef, len(e.Entries), strings.Join(ids, ", "))
}

func (e *PendingDriftError) ErrorKind() string { return KindPendingDrift }

// SourceAttributionMissingError reports a unit presented without a source.
type SourceAttributionMissingError struct {
	UnitID uuid.UUID
	Reason string
}

func (e *SourceAttributionMissingError) Error() string {
	return fmt.Sprintf("unit %s has no source attribution: %s", e.UnitID, e.Reason)
}

func (e *SourceAttributionMissingError) ErrorKind() string { return KindAttributionMissing }

// StoreUnavailableError wraps transport and connectivity failures of the
// canonical store. It is the only error the reconciler retries.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("canonical store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func (e *StoreUnavailableError) ErrorKind() string { return KindStoreUnavailable }

// InvalidProposalError reports an AI proposal that failed validation. It is
// never committed.
type InvalidProposalError struct {
	Index  int
	Reason string
}

func (e *InvalidProposalError) Error() string {
	if e.Index < 0 {
		return "invalid proposal payload: " + e.Reason
	}
	return fmt.Sprintf("invalid proposal %d: %s", e.Index, e.Reason)
}

func (e *InvalidProposalError) ErrorKind() string { return KindInvalidProposal }

// Details flattens err into one line per leaf error so every rejected unit
// or span can be reported individually.
func Details(err error) []string {
	if err == nil {
		return nil
	}
	var out []string
	var walk func(error)
	walk = func(e error) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, child := range joined.Unwrap() {
				walk(child)
			}
			return
		}
		out = append(out, e.Error())
	}
	walk(err)
	return out
}

func clip(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "…"
}
