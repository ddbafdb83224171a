package classifier

import (
	"errors"
	"strings"
	"testing"

	"tagsync/internal/semantic"
)

func TestValidateAcceptsWellFormedPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"envelope", `{"proposals":[{"kind":"PARAGRAPH","label":"Boiling"},{"kind":"SENTENCE","label":"Water  boils","parent":0,"confidence":0.9}]}`},
		{"bare array", `[{"kind":"PARAGRAPH","label":"Boiling"},{"kind":"sentence","label":"Water boils","parent":0}]`},
		{"code fence", "```json\n[{\"kind\":\"PARAGRAPH\",\"label\":\"Boiling\"},{\"kind\":\"SENTENCE\",\"label\":\"Water boils\",\"parent\":0}]\n```"},
		{"prose around", `Sure! {"proposals":[{"kind":"PARAGRAPH","label":"Boiling"},{"kind":"SENTENCE","label":"Water boils","parent":0,"confidence":null}]} Hope that helps.`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.payload, 0)
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 candidates, got %+v", got)
			}
			if got[0].Kind != semantic.KindParagraph || got[0].ParentRef != noParent {
				t.Fatalf("first candidate = %+v", got[0])
			}
			if got[1].Kind != semantic.KindSentence || got[1].ParentRef != 0 || got[1].Label != "Water boils" {
				t.Fatalf("second candidate = %+v", got[1])
			}
		})
	}
}

func TestValidateRejectsFieldByField(t *testing.T) {
	tests := []struct {
		name     string
		proposal string
		reason   string
	}{
		{"not an object", `"CLAIM"`, "JSON object"},
		{"unknown field", `{"kind":"CLAIM","label":"x","id":"abc"}`, `unknown field "id"`},
		{"missing kind", `{"label":"x"}`, "kind: required"},
		{"kind not string", `{"kind":6,"label":"x"}`, "kind: must be a string"},
		{"unknown kind", `{"kind":"THEOREM","label":"x"}`, `unknown kind "THEOREM"`},
		{"empty label", `{"kind":"CLAIM","label":"  \u0007 "}`, "label is empty"},
		{"label not string", `{"kind":"CLAIM","label":["x"]}`, "label: must be a string"},
		{"parent upper-case id", `{"kind":"CLAIM","label":"x","parent":"5F0C6D3E-8A4B-4C1D-9E2F-0A1B2C3D4E5F"}`, "canonical unit id"},
		{"parent forward index", `{"kind":"CLAIM","label":"x","parent":3}`, "earlier proposal"},
		{"parent bool", `{"kind":"CLAIM","label":"x","parent":true}`, "unit id or a proposal index"},
		{"confidence string", `{"kind":"CLAIM","label":"x","confidence":"high"}`, "must be a number"},
		{"confidence range", `{"kind":"CLAIM","label":"x","confidence":1.5}`, "outside [0,1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := `[{"kind":"PARAGRAPH","label":"ok"},` + tt.proposal + `]`
			got, err := Validate(payload, 0)
			if len(got) != 1 || got[0].Label != "ok" {
				t.Fatalf("the valid proposal should survive, got %+v", got)
			}
			var invalid *semantic.InvalidProposalError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidProposalError, got %v", err)
			}
			if invalid.Index != 1 || !strings.Contains(invalid.Reason, tt.reason) {
				t.Fatalf("rejection = %+v, want reason containing %q", invalid, tt.reason)
			}
			if semantic.ErrorKindOf(err) != semantic.KindInvalidProposal {
				t.Fatalf("error kind = %s", semantic.ErrorKindOf(err))
			}
		})
	}
}

func TestValidateRejectsChildOfRejected(t *testing.T) {
	payload := `[{"kind":"BOGUS","label":"x"},{"kind":"CLAIM","label":"child","parent":0}]`
	got, err := Validate(payload, 0)
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %+v", got)
	}
	if details := semantic.Details(err); len(details) != 2 || !strings.Contains(details[1], "was rejected") {
		t.Fatalf("details = %v", details)
	}
}

func TestValidateEnforcesLimit(t *testing.T) {
	payload := `[{"kind":"CLAIM","label":"a"},{"kind":"CLAIM","label":"b"},{"kind":"CLAIM","label":"c"}]`
	got, err := Validate(payload, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if err == nil || !strings.Contains(err.Error(), "limit of 2") {
		t.Fatalf("expected limit error, got %v", err)
	}
}

func TestValidateRejectsUndecodablePayload(t *testing.T) {
	for _, payload := range []string{"", "no json here", `{"items":[]}`, `{"proposals":{}}`, `42`} {
		got, err := Validate(payload, 0)
		var invalid *semantic.InvalidProposalError
		if len(got) != 0 || !errors.As(err, &invalid) || invalid.Index != -1 {
			t.Fatalf("payload %q: got %+v, %v", payload, got, err)
		}
	}
}
