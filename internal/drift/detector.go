// Package drift compares a document's current units against the snapshot
// taken at its last successful commit.
//
// A unit whose canonical hash matches the snapshot is unchanged. A differing
// hash is a modification, a snapshot unit missing from the document is a
// removal, and units absent from the snapshot are fresh ingestion rather than
// drift. Each drift entry is classified by a Policy; Pending entries block the
// document's commit until a user resolves them.
package drift

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"tagsync/internal/logging"
	"tagsync/internal/semantic"
	"tagsync/internal/tagcodec"
)

// Observation is one unit as it currently appears in a document.
type Observation struct {
	Unit   semantic.Unit
	Source semantic.SourceType
}

// SnapshotEntry is the last synchronized state of one unit in a document.
type SnapshotEntry struct {
	UnitID   uuid.UUID
	Hash     string
	Kind     semantic.Kind
	Label    string
	ParentID uuid.UUID
	Source   semantic.SourceType
}

// Snapshot is a document's last synchronized state.
type Snapshot struct {
	Version int64
	Entries map[uuid.UUID]SnapshotEntry
}

// ChangeKey identifies one specific transition of a unit.
type ChangeKey struct {
	UnitID       uuid.UUID
	PreviousHash string
	NewHash      string
}

// Baseline supplies the state detection compares against.
type Baseline interface {
	Snapshot(ctx context.Context, documentRef string) (Snapshot, error)
	// UserResolutions returns transitions a user has already accepted for the
	// document, keyed by the exact change.
	UserResolutions(ctx context.Context, documentRef string) (map[ChangeKey]semantic.DriftLogEntry, error)
}

// Report is the outcome of one detection pass.
type Report struct {
	DocumentRef string
	BaseVersion int64
	Entries     []semantic.DriftLogEntry
	Fresh       []Observation
	Unchanged   int
}

// Pending returns the entries that still block a commit.
func (r Report) Pending() []semantic.DriftLogEntry {
	var out []semantic.DriftLogEntry
	for _, e := range r.Entries {
		if e.Resolution == semantic.ResolutionPending {
			out = append(out, e)
		}
	}
	return out
}

// Tracked returns the ids that were in the snapshot and are still present.
func (r Report) Tracked() map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{}, len(r.Entries))
	for _, e := range r.Entries {
		if !e.Removed {
			out[e.UnitID] = struct{}{}
		}
	}
	return out
}

// Detector runs drift detection against a Baseline.
type Detector struct {
	baseline Baseline
	policy   Policy
	now      func() time.Time
	logger   *slog.Logger
}

// NewDetector builds a detector. A nil policy defaults to RefinementPolicy.
func NewDetector(baseline Baseline, policy Policy, now func() time.Time, logger *slog.Logger) *Detector {
	if policy == nil {
		policy = RefinementPolicy{}
	}
	if now == nil {
		now = time.Now
	}
	return &Detector{
		baseline: baseline,
		policy:   policy,
		now:      now,
		logger:   logging.NewComponentLogger(logger, "drift"),
	}
}

// Detect classifies every observation against the document's snapshot.
func (d *Detector) Detect(ctx context.Context, documentRef string, current []Observation) (Report, error) {
	report := Report{DocumentRef: documentRef}
	if d.baseline == nil {
		report.Fresh = current
		return report, nil
	}
	snap, err := d.baseline.Snapshot(ctx, documentRef)
	if err != nil {
		return Report{}, fmt.Errorf("load snapshot for %s: %w", documentRef, err)
	}
	report.BaseVersion = snap.Version
	if len(snap.Entries) == 0 {
		report.Fresh = current
		return report, nil
	}
	accepted, err := d.baseline.UserResolutions(ctx, documentRef)
	if err != nil {
		return Report{}, fmt.Errorf("load drift resolutions for %s: %w", documentRef, err)
	}

	observedAt := d.now().UTC()
	present := make(map[uuid.UUID]struct{}, len(current))
	for _, obs := range current {
		present[obs.Unit.ID] = struct{}{}
		prev, ok := snap.Entries[obs.Unit.ID]
		if !ok {
			report.Fresh = append(report.Fresh, obs)
			continue
		}
		hash := tagcodec.Hash(obs.Unit)
		if hash == prev.Hash {
			report.Unchanged++
			continue
		}
		entry := semantic.DriftLogEntry{
			DocumentRef:   documentRef,
			UnitID:        obs.Unit.ID,
			ObservedAt:    observedAt,
			PreviousLabel: prev.Label,
			NewLabel:      obs.Unit.Label,
			PreviousHash:  prev.Hash,
			NewHash:       hash,
		}
		d.classify(&entry, accepted, func() (semantic.Resolution, string) {
			return d.policy.Classify(prev, &obs)
		})
		report.Entries = append(report.Entries, entry)
	}

	removed := make([]SnapshotEntry, 0)
	for id, prev := range snap.Entries {
		if _, ok := present[id]; !ok {
			removed = append(removed, prev)
		}
	}
	slices.SortFunc(removed, func(a, b SnapshotEntry) int {
		return strings.Compare(a.UnitID.String(), b.UnitID.String())
	})
	for _, prev := range removed {
		entry := semantic.DriftLogEntry{
			DocumentRef:   documentRef,
			UnitID:        prev.UnitID,
			ObservedAt:    observedAt,
			PreviousLabel: prev.Label,
			Removed:       true,
			PreviousHash:  prev.Hash,
		}
		d.classify(&entry, accepted, func() (semantic.Resolution, string) {
			return d.policy.Classify(prev, nil)
		})
		report.Entries = append(report.Entries, entry)
	}

	if len(report.Entries) > 0 {
		d.logger.Debug("drift detected",
			logging.String(logging.FieldDocument, documentRef),
			logging.Int("entries", len(report.Entries)),
			logging.Int("pending", len(report.Pending())),
			logging.Int("fresh", len(report.Fresh)),
		)
	}
	return report, nil
}

func (d *Detector) classify(entry *semantic.DriftLogEntry, accepted map[ChangeKey]semantic.DriftLogEntry, policy func() (semantic.Resolution, string)) {
	key := ChangeKey{UnitID: entry.UnitID, PreviousHash: entry.PreviousHash, NewHash: entry.NewHash}
	if prior, ok := accepted[key]; ok {
		entry.Resolution = semantic.ResolutionUserResolved
		entry.Reason = "accepted earlier"
		entry.ResolvedBy = prior.ResolvedBy
		entry.ResolvedAt = prior.ResolvedAt
		return
	}
	entry.Resolution, entry.Reason = policy()
	if entry.Resolution == semantic.ResolutionAutoResolved {
		entry.ResolvedBy = "policy"
		entry.ResolvedAt = entry.ObservedAt
	}
	attrs := append(logging.DecisionAttrs("drift_resolution", entry.Resolution.String(), entry.Reason),
		logging.String(logging.FieldDocument, entry.DocumentRef),
		logging.String("unit_id", entry.UnitID.String()),
	)
	d.logger.Debug("drift classified", logging.Args(attrs...)...)
}
