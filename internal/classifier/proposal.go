package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"tagsync/internal/semantic"
	"tagsync/internal/textutil"
)

const noParent = -1

var allowedFields = []string{"kind", "label", "parent", "confidence"}

// Candidate is a proposal that passed validation.
type Candidate struct {
	Index int           `json:"index"`
	Kind  semantic.Kind `json:"kind"`
	Label string        `json:"label"`
	// ParentID names an existing unit; ParentRef names an earlier candidate.
	// At most one is set.
	ParentID   uuid.UUID `json:"parent_id,omitzero"`
	ParentRef  int       `json:"parent_ref"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Validate decodes payload and checks every proposal. Valid candidates are
// returned in payload order together with one error per rejected proposal.
// A payload that cannot be decoded at all yields no candidates. A proposal
// whose parent reference points at a rejected proposal is rejected too.
func Validate(payload string, maxProposals int) ([]Candidate, error) {
	raws, err := decodeProposals(payload)
	if err != nil {
		return nil, &semantic.InvalidProposalError{Index: -1, Reason: err.Error()}
	}

	var (
		out   []Candidate
		errs  []error
		valid = make(map[int]bool, len(raws))
	)
	for i, raw := range raws {
		if maxProposals > 0 && i >= maxProposals {
			errs = append(errs, &semantic.InvalidProposalError{
				Index:  i,
				Reason: fmt.Sprintf("exceeds the limit of %d proposals", maxProposals),
			})
			continue
		}
		c, err := validateOne(i, raw, valid)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		valid[i] = true
		out = append(out, c)
	}
	return out, errors.Join(errs...)
}

func decodeProposals(payload string) ([]json.RawMessage, error) {
	var raw json.RawMessage
	if err := decodeJSON(payload, &raw); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("proposal list: %w", err)
		}
		return list, nil
	case strings.HasPrefix(trimmed, "{"):
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("proposal envelope: %w", err)
		}
		list, ok := envelope["proposals"]
		if !ok {
			return nil, errors.New(`payload object has no "proposals" field`)
		}
		var proposals []json.RawMessage
		if err := json.Unmarshal(list, &proposals); err != nil {
			return nil, fmt.Errorf(`"proposals" must be an array: %w`, err)
		}
		return proposals, nil
	default:
		return nil, errors.New("payload must be a JSON array or object")
	}
}

func validateOne(index int, raw json.RawMessage, valid map[int]bool) (Candidate, error) {
	invalid := func(format string, args ...any) error {
		return &semantic.InvalidProposalError{Index: index, Reason: fmt.Sprintf(format, args...)}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Candidate{}, invalid("proposal must be a JSON object")
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !slices.Contains(allowedFields, k) {
			return Candidate{}, invalid("unknown field %q", k)
		}
	}

	c := Candidate{Index: index, ParentRef: noParent}

	var kindToken string
	if err := unmarshalField(fields, "kind", &kindToken); err != nil {
		return Candidate{}, invalid("kind: %v", err)
	}
	kind, ok := semantic.ParseKind(strings.ToUpper(strings.TrimSpace(kindToken)))
	if !ok {
		return Candidate{}, invalid("unknown kind %q", kindToken)
	}
	c.Kind = kind

	var label string
	if err := unmarshalField(fields, "label", &label); err != nil {
		return Candidate{}, invalid("label: %v", err)
	}
	c.Label = textutil.NormalizeLabel(label)
	if c.Label == "" {
		return Candidate{}, invalid("label is empty")
	}

	if parent, ok := fields["parent"]; ok && string(parent) != "null" {
		switch trimmed := strings.TrimSpace(string(parent)); {
		case strings.HasPrefix(trimmed, `"`):
			var s string
			if err := json.Unmarshal(parent, &s); err != nil {
				return Candidate{}, invalid("parent: %v", err)
			}
			id, err := uuid.Parse(s)
			if err != nil || id.String() != s || id == uuid.Nil {
				return Candidate{}, invalid("parent %q is not a canonical unit id", s)
			}
			c.ParentID = id
		default:
			var ref int
			if err := json.Unmarshal(parent, &ref); err != nil {
				return Candidate{}, invalid("parent must be a unit id or a proposal index")
			}
			if ref < 0 || ref >= index {
				return Candidate{}, invalid("parent index %d must name an earlier proposal", ref)
			}
			if !valid[ref] {
				return Candidate{}, invalid("parent proposal %d was rejected", ref)
			}
			c.ParentRef = ref
		}
	}

	if conf, ok := fields["confidence"]; ok && string(conf) != "null" {
		if err := json.Unmarshal(conf, &c.Confidence); err != nil {
			return Candidate{}, invalid("confidence must be a number")
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			return Candidate{}, invalid("confidence %.3f outside [0,1]", c.Confidence)
		}
	}
	return c, nil
}

func unmarshalField(fields map[string]json.RawMessage, name string, target *string) error {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return errors.New("required")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errors.New("must be a string")
	}
	return nil
}

// decodeJSON decodes model output, tolerating code fences and prose around
// the JSON value.
func decodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}
	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, snippet(trimmed))
	}
	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return fmt.Errorf("%w (sanitized payload snippet: %s)", err, snippet(sanitized))
	}
	return nil
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		if start := strings.Index(trimmed, pair[0]); start >= 0 {
			if end := strings.LastIndex(trimmed, pair[1]); end > start {
				return strings.TrimSpace(trimmed[start : end+1])
			}
		}
	}
	return trimmed
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	if runes := []rune(clean); len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
