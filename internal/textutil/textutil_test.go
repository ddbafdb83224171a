package textutil

import (
	"math"
	"testing"
)

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"trims and collapses", "  The   quick\tfox \n", "The quick fox"},
		{"composes decomposed accents", "Cafe\u0301", "Caf\u00e9"},
		{"drops control characters", "zero\u200bwidth\u0007", "zerowidth"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeLabel(tt.input); got != tt.want {
				t.Fatalf("NormalizeLabel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLabelKeyFoldsCase(t *testing.T) {
	if LabelKey("Grace  Is Real") != LabelKey("grace is real") {
		t.Fatal("expected folded keys to match")
	}
}

func TestCleanCellDropsPlaceholders(t *testing.T) {
	for _, value := range []string{"NaN", "none", " N/A ", "-"} {
		if got := CleanCell(value); got != "" {
			t.Fatalf("CleanCell(%q) = %q, want empty", value, got)
		}
	}
	if got := CleanCell(" value "); got != "value" {
		t.Fatalf("CleanCell kept %q", got)
	}
}

func TestCosineSimilarityNil(t *testing.T) {
	tests := []struct {
		name string
		a    *Fingerprint
		b    *Fingerprint
	}{
		{"both nil", nil, nil},
		{"a nil", nil, NewFingerprint("hello world")},
		{"b nil", NewFingerprint("hello world"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); got != 0 {
				t.Errorf("CosineSimilarity() = %v, want 0", got)
			}
		})
	}
}

func TestCosineSimilarityIdentical(t *testing.T) {
	a := NewFingerprint("Entropy increases in closed systems")
	b := NewFingerprint("entropy INCREASES in closed systems")
	if got := CosineSimilarity(a, b); math.Abs(got-1) > 1e-9 {
		t.Errorf("CosineSimilarity(identical) = %v, want 1", got)
	}
}

func TestCosineSimilarityPartialOverlap(t *testing.T) {
	got := CosineSimilarity(NewFingerprint("the quick brown fox"), NewFingerprint("the slow brown cat"))
	if got <= 0 || got >= 1 {
		t.Errorf("CosineSimilarity(partial) = %v, want between 0 and 1", got)
	}
}

func TestTokenizeUnicode(t *testing.T) {
	got := Tokenize("Ψυχή and Λόγοι, ok?")
	want := []string{"ψυχή", "and", "λόγοι"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNewFingerprintNormCalculation(t *testing.T) {
	fp := NewFingerprint("hello hello world")
	if fp == nil {
		t.Fatal("expected fingerprint")
	}
	if math.Abs(fp.norm-math.Sqrt(5)) > 0.0001 {
		t.Errorf("norm = %v, want sqrt(5)", fp.norm)
	}
	if fp.TokenCount() != 2 {
		t.Errorf("TokenCount = %d, want 2", fp.TokenCount())
	}
}

func TestLabelSimilarityShortLabels(t *testing.T) {
	if got := LabelSimilarity("Go", "go"); got != 1 {
		t.Fatalf("LabelSimilarity(short equal) = %v, want 1", got)
	}
	if got := LabelSimilarity("Go", "Rust"); got != 0 {
		t.Fatalf("LabelSimilarity(short different) = %v, want 0", got)
	}
}
