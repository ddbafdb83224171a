// Package provenance stamps every ingested occurrence with its origin.
//
// Recorder.Attach is pure: it builds an immutable ProvenanceRecord and never
// touches storage. Persistence happens in the reconciler's commit.
package provenance

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"tagsync/internal/semantic"
)

// Source describes where an occurrence came from.
type Source struct {
	Type        semantic.SourceType
	DocumentRef string
	Locator     semantic.Locator
	IngestedBy  string
}

// Recorder builds provenance records. The zero value uses time.Now.
type Recorder struct {
	Now func() time.Time
}

// NewRecorder returns a recorder using the supplied clock, or time.Now when nil.
func NewRecorder(now func() time.Time) *Recorder {
	return &Recorder{Now: now}
}

// Attach builds the provenance record for one occurrence of unit. A missing or
// incomplete source is a contract violation and is returned as an error.
func (r *Recorder) Attach(unit semantic.Unit, src *Source) (semantic.ProvenanceRecord, error) {
	if unit.ID == uuid.Nil {
		return semantic.ProvenanceRecord{}, &semantic.SourceAttributionMissingError{UnitID: unit.ID, Reason: "unit has no id"}
	}
	if src == nil {
		return semantic.ProvenanceRecord{}, &semantic.SourceAttributionMissingError{UnitID: unit.ID, Reason: "no source descriptor"}
	}
	if !src.Type.Valid() {
		return semantic.ProvenanceRecord{}, &semantic.SourceAttributionMissingError{UnitID: unit.ID, Reason: "source type is not set"}
	}
	if strings.TrimSpace(src.DocumentRef) == "" {
		return semantic.ProvenanceRecord{}, &semantic.SourceAttributionMissingError{UnitID: unit.ID, Reason: "document reference is empty"}
	}
	if strings.TrimSpace(src.IngestedBy) == "" {
		return semantic.ProvenanceRecord{}, &semantic.SourceAttributionMissingError{UnitID: unit.ID, Reason: "ingesting agent is empty"}
	}
	now := time.Now
	if r != nil && r.Now != nil {
		now = r.Now
	}
	return semantic.ProvenanceRecord{
		UnitID:      unit.ID,
		SourceType:  src.Type,
		DocumentRef: src.DocumentRef,
		Locator:     src.Locator,
		IngestedBy:  src.IngestedBy,
		IngestedAt:  now().UTC(),
	}, nil
}

// Envelope pairs a unit with the origin fields consumers need.
type Envelope struct {
	Unit       semantic.Unit `json:"unit"`
	Provenance Origin        `json:"provenance"`
}

// Origin is the provenance block of an Envelope.
type Origin struct {
	Type       semantic.SourceType `json:"type"`
	File       string              `json:"file"`
	Locator    semantic.Locator    `json:"locator"`
	IngestedBy string              `json:"ingestedBy"`
	IngestedAt time.Time           `json:"ingestedAt"`
}

// NewEnvelope builds the envelope for unit and its record.
func NewEnvelope(unit semantic.Unit, record semantic.ProvenanceRecord) Envelope {
	return Envelope{
		Unit: unit,
		Provenance: Origin{
			Type:       record.SourceType,
			File:       record.DocumentRef,
			Locator:    record.Locator,
			IngestedBy: record.IngestedBy,
			IngestedAt: record.IngestedAt,
		},
	}
}

// MarshalEnvelopes renders envelopes as indented JSON.
func MarshalEnvelopes(envelopes []Envelope) ([]byte, error) {
	return json.MarshalIndent(envelopes, "", "  ")
}
