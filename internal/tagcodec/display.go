package tagcodec

import "strings"

// DisplayState is a presentation preference for markers. It is never
// persisted and never consulted by Decode or Encode.
type DisplayState uint8

const (
	DisplayVisible DisplayState = iota
	DisplayHidden
)

// ParseDisplayState maps "visible"/"hidden" to a DisplayState.
func ParseDisplayState(value string) (DisplayState, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "visible", "show":
		return DisplayVisible, true
	case "hidden", "hide":
		return DisplayHidden, true
	default:
		return DisplayVisible, false
	}
}

// Render returns a view of text for display. Hidden state removes well-formed
// markers from the returned copy; malformed markers stay visible so they can
// be fixed. The input is not modified.
func Render(text string, state DisplayState) string {
	if state != DisplayHidden {
		return text
	}
	decoded, _ := Decode(text)
	if len(decoded) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, d := range decoded {
		b.WriteString(text[last:d.Span.Start])
		last = d.Span.End
	}
	b.WriteString(text[last:])
	return b.String()
}
