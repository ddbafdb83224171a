// Package tagcodec parses and serializes inline semantic tag markers of the form
//
//	%%tag::<KIND>::<UUID>::"<LABEL>"::<PARENT_UUID_OR_EMPTY>%%
//
// Decoding tolerates arbitrary surrounding text but is strict about each
// marker's internals: a malformed marker yields a MalformedTagError carrying
// its span and decoding resumes after it. Encoding is deterministic so the
// SHA-256 of a unit's canonical marker can serve as its drift hash.
package tagcodec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tagsync/internal/semantic"
)

const (
	openMarker  = "%%tag::"
	closeMarker = "%%"
	fieldSep    = "::"
	fieldCount  = 4
)

// Decoded pairs a unit with the raw span it was parsed from.
type Decoded struct {
	Unit semantic.Unit
	Span semantic.Span
}

// Decode extracts every marker from text in document order. Malformed markers
// are reported individually and do not stop extraction of later markers.
func Decode(text string) ([]Decoded, []*semantic.MalformedTagError) {
	var (
		units []Decoded
		errs  []*semantic.MalformedTagError
	)
	line := 1
	lineFrom := 0
	pos := 0
	for {
		idx := strings.Index(text[pos:], openMarker)
		if idx < 0 {
			break
		}
		start := pos + idx
		line += strings.Count(text[lineFrom:start], "\n")
		lineFrom = start

		end, terminated := findClose(text, start+len(openMarker))
		span := semantic.Span{Start: start, End: end, Line: line, Text: text[start:end]}
		if !terminated {
			errs = append(errs, &semantic.MalformedTagError{Span: span, Reason: "unterminated marker"})
			pos = max(end, start+len(openMarker))
			continue
		}
		unit, reason := parseBody(text[start+len(openMarker) : end-len(closeMarker)])
		if reason != "" {
			errs = append(errs, &semantic.MalformedTagError{Span: span, Reason: reason})
		} else {
			units = append(units, Decoded{Unit: unit, Span: span})
		}
		pos = end
	}
	return units, errs
}

// findClose returns the offset just past the closing delimiter. Quoted label
// content may contain the delimiter. A line break or the start of another
// marker before the close leaves the marker unterminated, and the returned
// offset points at that break or marker so decoding resumes there.
func findClose(text string, from int) (int, bool) {
	inQuote := false
	for i := from; i < len(text); i++ {
		switch c := text[i]; {
		case c == '\n' || c == '\r':
			return i, false
		case inQuote && c == '\\':
			i++
		case c == '"':
			inQuote = !inQuote
		case !inQuote && strings.HasPrefix(text[i:], openMarker):
			return i, false
		case !inQuote && strings.HasPrefix(text[i:], closeMarker):
			return i + len(closeMarker), true
		}
	}
	return len(text), false
}

func parseBody(body string) (semantic.Unit, string) {
	fields, ok := splitFields(body)
	if !ok {
		return semantic.Unit{}, "unbalanced quotes"
	}
	if len(fields) != fieldCount {
		return semantic.Unit{}, fmt.Sprintf("expected %d fields, found %d", fieldCount, len(fields))
	}

	kind, ok := semantic.ParseKind(fields[0])
	if !ok {
		return semantic.Unit{}, fmt.Sprintf("unknown kind token %q", fields[0])
	}
	id, reason := parseID(fields[1])
	if reason != "" {
		return semantic.Unit{}, "id " + reason
	}
	label, reason := unquote(fields[2])
	if reason != "" {
		return semantic.Unit{}, "label " + reason
	}
	var parent uuid.UUID
	if fields[3] != "" {
		parent, reason = parseID(fields[3])
		if reason != "" {
			return semantic.Unit{}, "parent " + reason
		}
	}
	return semantic.Unit{ID: id, Kind: kind, Label: label, ParentID: parent}, ""
}

// splitFields splits on the field separator outside quoted regions.
func splitFields(body string) ([]string, bool) {
	var fields []string
	inQuote := false
	last := 0
	for i := 0; i < len(body); i++ {
		switch c := body[i]; {
		case inQuote && c == '\\':
			i++
		case c == '"':
			inQuote = !inQuote
		case !inQuote && strings.HasPrefix(body[i:], fieldSep):
			fields = append(fields, body[last:i])
			i += len(fieldSep) - 1
			last = i + 1
		}
	}
	if inQuote {
		return nil, false
	}
	return append(fields, body[last:]), true
}

// parseID accepts only the canonical lower-case 8-4-4-4-12 form.
func parseID(value string) (uuid.UUID, string) {
	if len(value) != 36 {
		return uuid.Nil, fmt.Sprintf("%q is not a canonical uuid", value)
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return uuid.Nil, fmt.Sprintf("%q is not a canonical uuid", value)
			}
		default:
			if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
				return uuid.Nil, fmt.Sprintf("%q is not a canonical uuid", value)
			}
		}
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Sprintf("%q: %v", value, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, "must not be the nil uuid"
	}
	return id, ""
}

func unquote(field string) (string, string) {
	if len(field) < 2 || field[0] != '"' || field[len(field)-1] != '"' {
		return "", "must be a quoted string"
	}
	inner := field[1 : len(field)-1]
	var b strings.Builder
	b.Grow(len(inner))
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		switch c {
		case '\\':
			if i+1 >= len(inner) {
				return "", "ends with a dangling escape"
			}
			next := inner[i+1]
			if next != '"' && next != '\\' {
				return "", fmt.Sprintf("has invalid escape \\%c", next)
			}
			b.WriteByte(next)
			i++
		case '"':
			return "", "contains an unescaped quote"
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), ""
}

// Encode serializes a unit to its canonical marker. The same unit always
// produces the same bytes.
func Encode(u semantic.Unit) string {
	var b strings.Builder
	b.Grow(len(openMarker) + 96 + len(u.Label))
	b.WriteString(openMarker)
	b.WriteString(u.Kind.String())
	b.WriteString(fieldSep)
	b.WriteString(u.ID.String())
	b.WriteString(fieldSep)
	b.WriteByte('"')
	for i := 0; i < len(u.Label); i++ {
		c := u.Label[i]
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	b.WriteString(fieldSep)
	if u.HasParent() {
		b.WriteString(u.ParentID.String())
	}
	b.WriteString(closeMarker)
	return b.String()
}

// CheckEncodable reports whether Encode would produce a marker that decodes
// back to the same unit.
func CheckEncodable(u semantic.Unit) error {
	switch {
	case !u.Kind.Valid():
		return fmt.Errorf("unit %s: invalid kind", u.ID)
	case u.ID == uuid.Nil:
		return fmt.Errorf("unit id must not be nil")
	case u.ParentID == u.ID:
		return fmt.Errorf("unit %s: parent must differ from id", u.ID)
	case strings.ContainsAny(u.Label, "\r\n"):
		return fmt.Errorf("unit %s: label must be a single line", u.ID)
	}
	return nil
}

// Hash returns the hex SHA-256 of the unit's canonical marker.
func Hash(u semantic.Unit) string {
	sum := sha256.Sum256([]byte(Encode(u)))
	return hex.EncodeToString(sum[:])
}
