package semantic

import (
	"fmt"
	"strings"
)

// SourceType enumerates the origins a provenance record may attribute.
type SourceType uint8

const (
	SourceUnknown SourceType = iota
	SourceSpreadsheet
	SourceHTMLTable
	SourceMarkdownNote
	SourceWeb
	SourceUser
	SourceAutomatedPipeline
	SourceAIClassifier
)

var sourceTokens = [...]string{
	SourceUnknown:           "",
	SourceSpreadsheet:       "SPREADSHEET",
	SourceHTMLTable:         "HTML_TABLE",
	SourceMarkdownNote:      "MARKDOWN_NOTE",
	SourceWeb:               "WEB",
	SourceUser:              "USER",
	SourceAutomatedPipeline: "AUTOMATED_PIPELINE",
	SourceAIClassifier:      "AI_CLASSIFIER",
}

// ParseSourceType maps a stored token back to its SourceType.
func ParseSourceType(token string) (SourceType, bool) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return SourceUnknown, false
	}
	for i, candidate := range sourceTokens {
		if candidate == token {
			return SourceType(i), true
		}
	}
	return SourceUnknown, false
}

// String returns the canonical token.
func (s SourceType) String() string {
	if int(s) < len(sourceTokens) && s != SourceUnknown {
		return sourceTokens[s]
	}
	return fmt.Sprintf("SOURCE(%d)", uint8(s))
}

// Valid reports whether s is a member of the closed source set.
func (s SourceType) Valid() bool {
	return s != SourceUnknown && int(s) < len(sourceTokens)
}

// MarshalText implements encoding.TextMarshaler.
func (s SourceType) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid source type %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SourceType) UnmarshalText(text []byte) error {
	parsed, ok := ParseSourceType(string(text))
	if !ok {
		return fmt.Errorf("unknown source type %q", string(text))
	}
	*s = parsed
	return nil
}

// Resolution describes how a drift log entry was settled.
type Resolution uint8

const (
	ResolutionPending Resolution = iota
	ResolutionAutoResolved
	ResolutionUserResolved
)

// String returns the persisted token for the resolution.
func (r Resolution) String() string {
	switch r {
	case ResolutionPending:
		return "pending"
	case ResolutionAutoResolved:
		return "auto_resolved"
	case ResolutionUserResolved:
		return "user_resolved"
	default:
		return fmt.Sprintf("resolution(%d)", uint8(r))
	}
}

// Resolved reports whether the entry no longer blocks a commit.
func (r Resolution) Resolved() bool {
	return r == ResolutionAutoResolved || r == ResolutionUserResolved
}

// ParseResolution maps a persisted token back to a Resolution.
func ParseResolution(token string) (Resolution, bool) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "pending":
		return ResolutionPending, true
	case "auto_resolved":
		return ResolutionAutoResolved, true
	case "user_resolved":
		return ResolutionUserResolved, true
	default:
		return ResolutionPending, false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Resolution) UnmarshalText(text []byte) error {
	parsed, ok := ParseResolution(string(text))
	if !ok {
		return fmt.Errorf("unknown drift resolution %q", text)
	}
	*r = parsed
	return nil
}
