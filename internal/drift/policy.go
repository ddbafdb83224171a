package drift

import (
	"fmt"
	"strings"

	"tagsync/internal/semantic"
	"tagsync/internal/textutil"
)

// Policy decides whether a change may be committed without a user. cur is
// nil for removals.
type Policy interface {
	Classify(prev SnapshotEntry, cur *Observation) (semantic.Resolution, string)
}

// RefinementPolicy auto-resolves pure label refinements: same kind, same
// parent, same source type. MinSimilarity, when positive, additionally
// requires the old and new labels to stay that similar.
type RefinementPolicy struct {
	MinSimilarity float64
}

// Classify implements Policy.
func (p RefinementPolicy) Classify(prev SnapshotEntry, cur *Observation) (semantic.Resolution, string) {
	switch {
	case cur == nil:
		return semantic.ResolutionPending, "unit removed from document"
	case cur.Unit.Kind != prev.Kind:
		return semantic.ResolutionPending, fmt.Sprintf("kind changed from %s to %s", prev.Kind, cur.Unit.Kind)
	case cur.Unit.ParentID != prev.ParentID:
		return semantic.ResolutionPending, "parent changed"
	case prev.Source.Valid() && cur.Source != prev.Source:
		return semantic.ResolutionPending, fmt.Sprintf("source changed from %s to %s", prev.Source, cur.Source)
	}
	if p.MinSimilarity > 0 {
		if sim := textutil.LabelSimilarity(prev.Label, cur.Unit.Label); sim < p.MinSimilarity {
			return semantic.ResolutionPending, fmt.Sprintf("label similarity %.2f below %.2f", sim, p.MinSimilarity)
		}
	}
	return semantic.ResolutionAutoResolved, "label refinement"
}

// StrictPolicy sends every change to a user.
type StrictPolicy struct{}

// Classify implements Policy.
func (StrictPolicy) Classify(_ SnapshotEntry, cur *Observation) (semantic.Resolution, string) {
	if cur == nil {
		return semantic.ResolutionPending, "unit removed from document"
	}
	return semantic.ResolutionPending, "strict policy requires review"
}

// PolicyByName maps a configured policy name to a Policy.
func PolicyByName(name string, minSimilarity float64) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "refinement":
		return RefinementPolicy{MinSimilarity: minSimilarity}, nil
	case "strict":
		return StrictPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown drift policy %q (want refinement or strict)", name)
	}
}
