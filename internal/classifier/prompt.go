package classifier

import (
	"fmt"
	"strings"

	"tagsync/internal/semantic"
)

func systemPrompt(maxProposals int) string {
	tokens := make([]string, 0, len(semantic.Kinds()))
	for _, k := range semantic.Kinds() {
		tokens = append(tokens, k.String())
	}
	limit := ""
	if maxProposals > 0 {
		limit = fmt.Sprintf(" Return at most %d proposals.", maxProposals)
	}
	return `You label passages of research notes with semantic units.
Respond with JSON only, shaped as {"proposals": [{"kind": ..., "label": ..., "parent": ..., "confidence": ...}]}.
kind must be one of: ` + strings.Join(tokens, ", ") + `.
label is a short single-line statement taken from the text.
parent is optional: the zero-based index of an earlier proposal that contains this one.
NOTE_ROOT contains PARAGRAPH, PARAGRAPH contains SENTENCE, SENTENCE contains ONTOLOGY_TERM; other kinds never contain anything.
confidence is a number between 0 and 1.
Do not add any other fields.` + limit
}
