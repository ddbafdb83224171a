package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// consoleTimeLayout keeps milliseconds so records from one ingest session
// stay ordered when read side by side.
const consoleTimeLayout = "2006-01-02 15:04:05.000"

// shortHashLen is how much of a content or commit hash the console shows.
const shortHashLen = 12

// maxListedIDs caps the unit ids printed for one attribute.
const maxListedIDs = 3

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.In(time.Local).Format(consoleTimeLayout)
}

// attrString renders a header value without quoting.
func attrString(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindAny:
		return anyString(v.Any())
	default:
		return formatValue(v)
	}
}

// formatValue renders a body value, quoting it when it would not read as a
// single token.
func formatValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return formatTimestamp(v.Time())
	case slog.KindAny:
		return quoteIfNeeded(anyString(v.Any()))
	default:
		return quoteIfNeeded(v.String())
	}
}

func anyString(value any) string {
	switch x := value.(type) {
	case error:
		return x.Error()
	case uuid.UUID:
		if x == uuid.Nil {
			return "-"
		}
		return x.String()
	case []uuid.UUID:
		return listIDs(x)
	default:
		return fmt.Sprint(value)
	}
}

// listIDs prints the first few ids and counts the rest.
func listIDs(ids []uuid.UUID) string {
	if len(ids) == 0 {
		return "none"
	}
	shown := ids[:min(len(ids), maxListedIDs)]
	parts := make([]string, 0, len(shown))
	for _, id := range shown {
		parts = append(parts, id.String())
	}
	out := strings.Join(parts, ",")
	if rest := len(ids) - len(shown); rest > 0 {
		out += fmt.Sprintf(" (+%d more)", rest)
	}
	return out
}

// shortHash trims a hex digest for display. Anything that is not a long hex
// string is returned unchanged.
func shortHash(s string) string {
	if len(s) <= shortHashLen {
		return s
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return s
		}
	}
	return s[:shortHashLen]
}

func quoteIfNeeded(s string) string {
	if needsQuotes(s) {
		return strconv.Quote(s)
	}
	return s
}

func needsQuotes(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' {
			return true
		}
	}
	return false
}
