package tagcodec

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"tagsync/internal/semantic"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	parent := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	units := []semantic.Unit{
		{ID: uuid.New(), Kind: semantic.KindNoteRoot, Label: "Note"},
		{ID: uuid.New(), Kind: semantic.KindClaim, Label: `He said "grace" \ mercy`, ParentID: parent},
		{ID: uuid.New(), Kind: semantic.KindLinkForward, Label: "a::b %% c", ParentID: parent},
		{ID: uuid.New(), Kind: semantic.KindProperName, Label: ""},
		{ID: uuid.New(), Kind: semantic.KindOntologyTerm, Label: "Λόγος", ParentID: parent},
	}
	for _, kind := range semantic.Kinds() {
		units = append(units, semantic.Unit{ID: uuid.New(), Kind: kind, Label: kind.String()})
	}
	for _, unit := range units {
		encoded := Encode(unit)
		decoded, errs := Decode("prefix " + encoded + " suffix")
		if len(errs) != 0 {
			t.Fatalf("Decode(%s) returned errors: %v", encoded, errs[0])
		}
		if len(decoded) != 1 {
			t.Fatalf("Decode(%s) returned %d units", encoded, len(decoded))
		}
		if decoded[0].Unit != unit {
			t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", decoded[0].Unit, unit)
		}
		if decoded[0].Span.Text != encoded {
			t.Fatalf("span text %q, want %q", decoded[0].Span.Text, encoded)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	unit := semantic.Unit{ID: uuid.New(), Kind: semantic.KindAxiom, Label: "x"}
	if Encode(unit) != Encode(unit) {
		t.Fatal("expected identical encodings")
	}
	if Hash(unit) != Hash(unit) {
		t.Fatal("expected identical hashes")
	}
	changed := unit
	changed.Label = "y"
	if Hash(changed) == Hash(unit) {
		t.Fatal("expected label change to alter hash")
	}
}

func TestDecodeMalformedContinues(t *testing.T) {
	good := semantic.Unit{ID: uuid.New(), Kind: semantic.KindClaim, Label: "ok"}
	id := uuid.NewString()
	tests := []struct {
		name   string
		marker string
		reason string
	}{
		{"unknown kind", `%%tag::THEOREM::` + id + `::"x"::%%`, "unknown kind"},
		{"short uuid", `%%tag::CLAIM::1234::"x"::%%`, "not a canonical uuid"},
		{"upper-case uuid", `%%tag::CLAIM::` + strings.ToUpper(id) + `::"x"::%%`, "not a canonical uuid"},
		{"nil uuid", `%%tag::CLAIM::00000000-0000-0000-0000-000000000000::"x"::%%`, "nil uuid"},
		{"missing field", `%%tag::CLAIM::` + id + `::"x"%%`, "expected 4 fields"},
		{"extra field", `%%tag::CLAIM::` + id + `::"x"::::extra%%`, "expected 4 fields"},
		{"unquoted label", `%%tag::CLAIM::` + id + `::x::%%`, "quoted string"},
		{"bad escape", `%%tag::CLAIM::` + id + `::"a\nb"::%%`, "invalid escape"},
		{"bad parent", `%%tag::CLAIM::` + id + `::"x"::nope%%`, "parent"},
		{"unterminated", `%%tag::CLAIM::` + id + `::"x"::`, "unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := "line one\n" + tt.marker + "\nthen " + Encode(good) + " end"
			decoded, errs := Decode(text)
			if len(errs) != 1 {
				t.Fatalf("expected 1 error, got %d (%v)", len(errs), errs)
			}
			if !strings.Contains(errs[0].Reason, tt.reason) {
				t.Fatalf("reason %q does not mention %q", errs[0].Reason, tt.reason)
			}
			if errs[0].Span.Line != 2 {
				t.Fatalf("span line = %d, want 2", errs[0].Span.Line)
			}
			if errs[0].Span.Start != len("line one\n") {
				t.Fatalf("span start = %d", errs[0].Span.Start)
			}
			if len(decoded) != 1 || decoded[0].Unit != good {
				t.Fatalf("expected the well-formed marker after the bad one, got %#v", decoded)
			}
			if decoded[0].Span.Line != 3 {
				t.Fatalf("good span line = %d, want 3", decoded[0].Span.Line)
			}
		})
	}
}

func TestDecodeUnterminatedMarkerBeforeValidOne(t *testing.T) {
	valid := semantic.Unit{ID: uuid.New(), Kind: semantic.KindClaim, Label: "Still here"}
	broken := "%%tag::CLAIM::oops "
	text := "see " + broken + Encode(valid) + " end"

	units, errs := Decode(text)
	if len(units) != 1 || units[0].Unit.ID != valid.ID {
		t.Fatalf("units = %+v, want the valid marker", units)
	}
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one", errs)
	}
	if errs[0].Reason != "unterminated marker" || errs[0].Span.Text != broken {
		t.Fatalf("unexpected error %+v", errs[0])
	}
	if units[0].Span.Start != len("see ")+len(broken) {
		t.Fatalf("valid marker span starts at %d", units[0].Span.Start)
	}
}

func TestDecodeOrderAndSpans(t *testing.T) {
	a := semantic.Unit{ID: uuid.New(), Kind: semantic.KindParagraph, Label: "a"}
	b := semantic.Unit{ID: uuid.New(), Kind: semantic.KindSentence, Label: "b", ParentID: a.ID}
	text := "x" + Encode(a) + "yy" + Encode(b)
	decoded, errs := Decode(text)
	if len(errs) != 0 || len(decoded) != 2 {
		t.Fatalf("unexpected decode result: %v %v", decoded, errs)
	}
	if decoded[0].Unit.ID != a.ID || decoded[1].Unit.ID != b.ID {
		t.Fatal("units not returned in document order")
	}
	if text[decoded[1].Span.Start:decoded[1].Span.End] != Encode(b) {
		t.Fatal("span offsets do not cover the marker")
	}
}

func TestRenderHiddenLeavesDecodeUntouched(t *testing.T) {
	unit := semantic.Unit{ID: uuid.New(), Kind: semantic.KindClaim, Label: "c"}
	text := "before " + Encode(unit) + " after"
	if got := Render(text, DisplayHidden); got != "before  after" {
		t.Fatalf("Render hidden = %q", got)
	}
	if got := Render(text, DisplayVisible); got != text {
		t.Fatalf("Render visible altered text: %q", got)
	}
	decoded, _ := Decode(text)
	if len(decoded) != 1 {
		t.Fatal("display state must not affect decoding")
	}
}

func TestCheckEncodable(t *testing.T) {
	id := uuid.New()
	if err := CheckEncodable(semantic.Unit{ID: id, Kind: semantic.KindClaim, Label: "a\nb"}); err == nil {
		t.Fatal("expected multi-line label to be rejected")
	}
	if err := CheckEncodable(semantic.Unit{ID: id, Kind: semantic.KindClaim, ParentID: id}); err == nil {
		t.Fatal("expected self parent to be rejected")
	}
	if err := CheckEncodable(semantic.Unit{ID: id, Kind: semantic.KindClaim, Label: "fine"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
