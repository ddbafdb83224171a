package provenance

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"tagsync/internal/semantic"
)

func TestAttachStampsInjectedClock(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	rec := NewRecorder(func() time.Time { return fixed })
	unit := semantic.Unit{ID: uuid.New(), Kind: semantic.KindClaim, Label: "c"}
	src := &Source{
		Type:        semantic.SourceSpreadsheet,
		DocumentRef: "claims.xlsx",
		Locator:     semantic.Locator{Sheet: "Claims", Row: 3},
		IngestedBy:  "tagsync",
	}
	got, err := rec.Attach(unit, src)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if got.UnitID != unit.ID || got.SourceType != semantic.SourceSpreadsheet || got.Locator.Row != 3 {
		t.Fatalf("unexpected record %+v", got)
	}
	if !got.IngestedAt.Equal(fixed) || got.IngestedAt.Location() != time.UTC {
		t.Fatalf("IngestedAt = %v, want %v in UTC", got.IngestedAt, fixed)
	}
}

func TestAttachRejectsMissingSource(t *testing.T) {
	unit := semantic.Unit{ID: uuid.New(), Kind: semantic.KindClaim}
	tests := []struct {
		name string
		src  *Source
	}{
		{"nil source", nil},
		{"no type", &Source{DocumentRef: "a.md", IngestedBy: "x"}},
		{"no document", &Source{Type: semantic.SourceUser, IngestedBy: "x"}},
		{"no agent", &Source{Type: semantic.SourceUser, DocumentRef: "a.md"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec Recorder
			_, err := rec.Attach(unit, tt.src)
			var missing *semantic.SourceAttributionMissingError
			if !errors.As(err, &missing) {
				t.Fatalf("expected SourceAttributionMissingError, got %v", err)
			}
			if missing.UnitID != unit.ID {
				t.Fatalf("error references %s, want %s", missing.UnitID, unit.ID)
			}
		})
	}
}

func TestEnvelopeJSONShape(t *testing.T) {
	unit := semantic.Unit{ID: uuid.New(), Kind: semantic.KindOntologyTerm, Label: "grace"}
	record := semantic.ProvenanceRecord{
		UnitID:      unit.ID,
		SourceType:  semantic.SourceMarkdownNote,
		DocumentRef: "notes/grace.md",
		Locator:     semantic.Locator{Heading: "Terms", Line: 7},
		IngestedBy:  "tagsync",
	}
	data, err := MarshalEnvelopes([]Envelope{NewEnvelope(unit, record)})
	if err != nil {
		t.Fatalf("MarshalEnvelopes: %v", err)
	}
	var decoded []map[string]map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	prov := decoded[0]["provenance"]
	if prov["type"] != "MARKDOWN_NOTE" || prov["file"] != "notes/grace.md" || prov["ingestedBy"] != "tagsync" {
		t.Fatalf("unexpected provenance block %v", prov)
	}
	if decoded[0]["unit"]["kind"] != "ONTOLOGY_TERM" {
		t.Fatalf("unexpected unit block %v", decoded[0]["unit"])
	}
	if !strings.Contains(string(data), `"heading": "Terms"`) {
		t.Fatalf("locator missing from envelope: %s", data)
	}
}
