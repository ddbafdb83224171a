package semantic

import (
	"fmt"
	"strings"
)

// Kind enumerates the semantic unit categories that may appear in a tag marker.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNoteRoot
	KindParagraph
	KindSentence
	KindOntologyTerm
	KindAxiom
	KindClaim
	KindEvidence
	KindRelationship
	KindLinkInternal
	KindLinkExternal
	KindLinkForward
	KindProperName
)

var kindTokens = [...]string{
	KindUnknown:      "",
	KindNoteRoot:     "NOTE_ROOT",
	KindParagraph:    "PARAGRAPH",
	KindSentence:     "SENTENCE",
	KindOntologyTerm: "ONTOLOGY_TERM",
	KindAxiom:        "AXIOM",
	KindClaim:        "CLAIM",
	KindEvidence:     "EVIDENCE",
	KindRelationship: "RELATIONSHIP",
	KindLinkInternal: "LINK_INTERNAL",
	KindLinkExternal: "LINK_EXTERNAL",
	KindLinkForward:  "LINK_FORWARD",
	KindProperName:   "PROPER_NAME",
}

// leafRank is shared by every kind outside the structural hierarchy.
const leafRank = 4

// Kinds returns every valid kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindTokens)-1)
	for k := KindNoteRoot; int(k) < len(kindTokens); k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind maps a marker token to its Kind. Tokens are case-sensitive.
func ParseKind(token string) (Kind, bool) {
	if token == "" {
		return KindUnknown, false
	}
	for i, candidate := range kindTokens {
		if candidate == token {
			return Kind(i), true
		}
	}
	return KindUnknown, false
}

// String returns the canonical marker token.
func (k Kind) String() string {
	if int(k) < len(kindTokens) && k != KindUnknown {
		return kindTokens[k]
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	return k != KindUnknown && int(k) < len(kindTokens)
}

// Rank returns the depth of the kind in the NoteRoot > Paragraph > Sentence >
// OntologyTerm order. Annotation kinds share the leaf rank.
func (k Kind) Rank() int {
	switch k {
	case KindNoteRoot:
		return 0
	case KindParagraph:
		return 1
	case KindSentence:
		return 2
	case KindOntologyTerm:
		return 3
	case KindAxiom, KindClaim, KindEvidence, KindRelationship,
		KindLinkInternal, KindLinkExternal, KindLinkForward, KindProperName:
		return leafRank
	default:
		return -1
	}
}

// Structural reports whether the kind belongs to the parent hierarchy and may
// therefore have children.
func (k Kind) Structural() bool {
	r := k.Rank()
	return r >= 0 && r < leafRank
}

// CanParent reports whether a unit of kind k may be the parent of a unit of
// kind child.
func (k Kind) CanParent(child Kind) bool {
	if !k.Structural() || !child.Valid() {
		return false
	}
	return k.Rank() < child.Rank()
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Lower-case tokens are
// accepted for configuration and API input.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, ok := ParseKind(strings.ToUpper(strings.TrimSpace(string(text))))
	if !ok {
		return fmt.Errorf("unknown kind %q", string(text))
	}
	*k = parsed
	return nil
}
