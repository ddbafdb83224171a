package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeLabel returns the canonical form of a label: NFC composed, control
// characters removed, and runs of whitespace collapsed to a single space.
func NormalizeLabel(label string) string {
	label = norm.NFC.String(label)
	var b strings.Builder
	b.Grow(len(label))
	pendingSpace := false
	for _, r := range label {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsControl(r), r == '\ufeff', r == '\u200b':
			continue
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LabelKey returns a case-folded key for equality comparison of labels.
func LabelKey(label string) string {
	return cases.Fold().String(NormalizeLabel(label))
}

// CleanCell trims and normalizes a cell or heading value read from a source
// document, returning "" for placeholder values.
func CleanCell(value string) string {
	value = NormalizeLabel(value)
	switch strings.ToLower(value) {
	case "nan", "none", "null", "n/a", "-":
		return ""
	}
	return value
}
