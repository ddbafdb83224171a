package store

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"tagsync/internal/semantic"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyResolved is returned when resolving a drift entry that is no
	// longer pending.
	ErrAlreadyResolved = errors.New("drift entry already resolved")
	// ErrSessionClosed is returned when changing a session in a terminal state.
	ErrSessionClosed = errors.New("ingest session already finished")
)

// Unit lifecycle states persisted in semantic_units.state.
const (
	UnitActive  = "active"
	UnitRemoved = "removed"
	UnitMerged  = "merged"
)

// Tombstone retires one id in favour of a canonical id.
type Tombstone struct {
	Retired     uuid.UUID `json:"retired"`
	Canonical   uuid.UUID `json:"canonical"`
	DocumentRef string    `json:"document_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DocumentCommit is everything persisted for one document in one transaction.
type DocumentCommit struct {
	DocumentRef string
	SourceType  semantic.SourceType
	CommitHash  string
	// BaseVersion is the snapshot version drift detection compared against.
	BaseVersion int64
	Units       []semantic.Unit
	Provenance  []semantic.ProvenanceRecord
	// Drift holds resolved entries only; pending drift never reaches a commit.
	Drift       []semantic.DriftLogEntry
	Merges      []Tombstone
	Metadata    semantic.SourceMetadata
	CommittedAt time.Time
}

// CommitOutcome describes what a commit did beyond its result.
type CommitOutcome struct {
	// Applied is false when the stored snapshot already carried the commit hash.
	Applied bool
	// Superseded reports that another writer committed the document after
	// detection ran; this commit replaced that snapshot.
	Superseded      bool
	PreviousVersion int64
}

// StoredUnit is a canonical unit with its persistence metadata.
type StoredUnit struct {
	Unit            semantic.Unit `json:"unit"`
	ContentHash     string        `json:"content_hash"`
	State           string        `json:"state"`
	FirstIngestedAt time.Time     `json:"first_ingested_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// DocumentState summarizes a document's last synchronized snapshot.
type DocumentState struct {
	DocumentRef     string              `json:"document_ref"`
	SourceType      semantic.SourceType `json:"source_type"`
	Version         int64               `json:"version"`
	CommitHash      string              `json:"commit_hash"`
	UnitCount       int                 `json:"unit_count"`
	ProvenanceCount int                 `json:"provenance_count"`
	CommittedAt     time.Time           `json:"committed_at"`
}

// DriftFilter narrows ListDrift. Zero fields match everything.
type DriftFilter struct {
	DocumentRef string
	Resolution  *semantic.Resolution
	Limit       int
}

// Stats counts rows across the store.
type Stats struct {
	Units        map[string]int `json:"units"`
	Provenance   int            `json:"provenance"`
	Documents    int            `json:"documents"`
	Tombstones   int            `json:"tombstones"`
	PendingDrift int            `json:"pending_drift"`
	Sessions     int            `json:"sessions"`
}

// DatabaseHealth captures diagnostic information about the store database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TablesPresent    []string
	MissingTables    []string
	IntegrityCheck   bool
	TotalUnits       int
	Error            string
}
