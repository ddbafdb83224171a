package identity

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"tagsync/internal/logging"
	"tagsync/internal/semantic"
)

// TieBreak selects the canonical id when two ids name the same unit.
type TieBreak string

const (
	TieBreakLexicographic  TieBreak = "lexicographic"
	TieBreakEarliestIngest TieBreak = "earliest_ingest"
)

// ParseTieBreak validates a configured policy name.
func ParseTieBreak(value string) (TieBreak, error) {
	switch TieBreak(strings.ToLower(strings.TrimSpace(value))) {
	case "", TieBreakLexicographic:
		return TieBreakLexicographic, nil
	case TieBreakEarliestIngest:
		return TieBreakEarliestIngest, nil
	default:
		return "", fmt.Errorf("unknown tie-break policy %q (want %s or %s)", value, TieBreakLexicographic, TieBreakEarliestIngest)
	}
}

// MergePlan describes how a duplicate pair collapses into one id.
type MergePlan struct {
	Canonical uuid.UUID   `json:"canonical"`
	Retired   uuid.UUID   `json:"retired"`
	Reparent  []uuid.UUID `json:"reparent,omitempty"`
}

// PlanDuplicate chooses the canonical id for a duplicate pair without changing
// registry state. Ids the registry has not seen are treated as ingested now.
func (r *Registry) PlanDuplicate(a, b uuid.UUID) (MergePlan, error) {
	a, b = r.Resolve(a), r.Resolve(b)
	if a == uuid.Nil || b == uuid.Nil {
		return MergePlan{}, fmt.Errorf("resolve duplicate: nil id")
	}
	if a == b {
		return MergePlan{}, &semantic.CollisionError{ID: a, Reason: "ids already resolve to the same unit"}
	}
	now := r.now()
	ea, okA := r.Lookup(a)
	eb, okB := r.Lookup(b)
	if okA && okB && ea.Kind != eb.Kind {
		return MergePlan{}, &semantic.CollisionError{
			ID:     a,
			Reason: fmt.Sprintf("cannot merge %s %s with %s %s", ea.Kind, a, eb.Kind, b),
		}
	}
	if !okA {
		ea.IngestedAt = now
	}
	if !okB {
		eb.IngestedAt = now
	}

	canonical, retired := a, b
	if r.prefer(b, eb.IngestedAt, a, ea.IngestedAt) {
		canonical, retired = b, a
	}
	return MergePlan{Canonical: canonical, Retired: retired, Reparent: r.childrenOf(retired)}, nil
}

// prefer reports whether candidate should win over other.
func (r *Registry) prefer(candidate uuid.UUID, candidateAt time.Time, other uuid.UUID, otherAt time.Time) bool {
	if r.tieBreak == TieBreakEarliestIngest && !candidateAt.Equal(otherAt) {
		return candidateAt.Before(otherAt)
	}
	return candidate.String() < other.String()
}

// ResolveDuplicate plans and applies a merge in one step.
func (r *Registry) ResolveDuplicate(a, b uuid.UUID) (MergePlan, error) {
	plan, err := r.PlanDuplicate(a, b)
	if err != nil {
		return MergePlan{}, err
	}
	r.ApplyMerge(plan)
	return plan, nil
}

// ApplyMerge records the tombstone for plan.Retired and moves its children to
// plan.Canonical. Existing tombstones that pointed at the retired id are
// rewritten so lookups stay one hop.
func (r *Registry) ApplyMerge(plan MergePlan) {
	r.tombMu.Lock()
	r.tombs[plan.Retired] = plan.Canonical
	for from, to := range r.tombs {
		if to == plan.Retired {
			r.tombs[from] = plan.Canonical
		}
	}
	r.tombMu.Unlock()
	if _, ok := r.rootOf(plan.Retired); !ok {
		r.roots.Store(plan.Retired, plan.Retired)
	}

	var retired *Entry
	for _, sh := range r.shards {
		sh.mu.Lock()
		if e, ok := sh.entries[plan.Retired]; ok {
			retired = e
			delete(sh.entries, plan.Retired)
		}
		for _, e := range sh.entries {
			if e.ParentID == plan.Retired {
				e.ParentID = plan.Canonical
			}
		}
		sh.mu.Unlock()
	}
	if retired != nil {
		if _, ok := r.Lookup(plan.Canonical); !ok {
			r.Register([]semantic.Unit{{ID: plan.Canonical, Kind: retired.Kind, ParentID: retired.ParentID}}, retired.IngestedAt)
		}
	}
	r.logger.Info("identity merged",
		logging.String("canonical", plan.Canonical.String()),
		logging.String("retired", plan.Retired.String()),
		logging.Int("reparented", len(plan.Reparent)),
	)
}

func (r *Registry) childrenOf(id uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, sh := range r.shards {
		sh.mu.Lock()
		for childID, e := range sh.entries {
			if e.ParentID == id {
				out = append(out, childID)
			}
		}
		sh.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
	return out
}

// Tombstones returns a copy of the retired -> canonical mapping.
func (r *Registry) Tombstones() map[uuid.UUID]uuid.UUID {
	r.tombMu.RLock()
	defer r.tombMu.RUnlock()
	return maps.Clone(r.tombs)
}
