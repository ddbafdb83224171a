package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"tagsync/internal/drift"
	"tagsync/internal/identity"
	"tagsync/internal/logging"
	"tagsync/internal/metrics"
	"tagsync/internal/provenance"
	"tagsync/internal/reconcile"
	"tagsync/internal/semantic"
	"tagsync/internal/services"
	"tagsync/internal/sources"
	"tagsync/internal/tagcodec"
	"tagsync/internal/textutil"
)

// Options configure a Pipeline.
type Options struct {
	IngestedBy string
	// StrictMarkers fails a document that contains any malformed marker.
	// When false, malformed markers are reported and the rest is ingested.
	StrictMarkers bool
	// DuplicateSimilarity merges fresh same-kind siblings whose labels are at
	// least this similar. Zero merges only labels that fold to the same key.
	DuplicateSimilarity float64
	Logger              *slog.Logger
	Now                 func() time.Time
}

// Committer commits a prepared document.
type Committer interface {
	Commit(ctx context.Context, req reconcile.Request) (semantic.CommitResult, error)
}

// Pipeline runs one document through decode, identity, provenance, drift
// and reconcile.
type Pipeline struct {
	registry  *identity.Registry
	detector  *drift.Detector
	committer Committer
	recorder  *provenance.Recorder
	opts      Options
	logger    *slog.Logger
}

// NewPipeline wires a pipeline.
func NewPipeline(registry *identity.Registry, detector *drift.Detector, committer Committer, opts Options) *Pipeline {
	if opts.IngestedBy == "" {
		opts.IngestedBy = "tagsync"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		registry:  registry,
		detector:  detector,
		committer: committer,
		recorder:  provenance.NewRecorder(opts.Now),
		opts:      opts,
		logger:    logging.NewComponentLogger(opts.Logger, "ingest"),
	}
}

// Occurrence is one decoded marker and where it was found.
type Occurrence struct {
	Unit    semantic.Unit    `json:"unit"`
	Span    semantic.Span    `json:"span"`
	Locator semantic.Locator `json:"locator"`
	// Redirected is set when the marker names a retired id.
	Redirected bool `json:"redirected,omitempty"`
}

// Result describes one document's pass through the pipeline.
type Result struct {
	DocumentRef string                        `json:"document_ref"`
	SourceType  semantic.SourceType           `json:"source_type"`
	Occurrences []Occurrence                  `json:"occurrences"`
	Units       []semantic.Unit               `json:"units"`
	Provenance  []semantic.ProvenanceRecord   `json:"provenance"`
	Report      drift.Report                  `json:"drift"`
	Merges      []identity.MergePlan          `json:"merges,omitempty"`
	Malformed   []*semantic.MalformedTagError `json:"-"`
	Commit      semantic.CommitResult         `json:"commit,omitzero"`
	Committed   bool                          `json:"committed"`
}

// UnitIDs lists the document's unit ids in order of first occurrence.
func (r Result) UnitIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.Units))
	for _, u := range r.Units {
		ids = append(ids, u.ID)
	}
	return ids
}

// Envelopes pairs every provenance record with its unit, in record order.
func (r Result) Envelopes() []provenance.Envelope {
	units := make(map[uuid.UUID]semantic.Unit, len(r.Units))
	for _, u := range r.Units {
		units[u.ID] = u
	}
	out := make([]provenance.Envelope, 0, len(r.Provenance))
	for _, rec := range r.Provenance {
		if u, ok := units[rec.UnitID]; ok {
			out = append(out, provenance.NewEnvelope(u, rec))
		}
	}
	return out
}

// Ingest prepares doc and commits it. The returned Result is populated as
// far as the pipeline got, so callers can report partial progress.
func (p *Pipeline) Ingest(ctx context.Context, doc *sources.Document) (Result, error) {
	res, err := p.ingest(ctx, doc)
	if doc != nil {
		metrics.RecordDocument(doc.SourceType.String(), string(services.FailureStatus(err)), len(res.Units))
	}
	return res, err
}

func (p *Pipeline) ingest(ctx context.Context, doc *sources.Document) (Result, error) {
	res, err := p.Preview(ctx, doc)
	if err != nil {
		return res, err
	}
	commit, err := p.committer.Commit(ctx, reconcile.Request{
		DocumentRef: res.DocumentRef,
		SourceType:  res.SourceType,
		Units:       res.Units,
		Provenance:  res.Provenance,
		Report:      res.Report,
		Merges:      res.Merges,
		Metadata:    doc.Metadata,
	})
	if err != nil {
		return res, err
	}
	res.Commit = commit
	res.Committed = true
	return res, nil
}

// Preview runs every stage except the commit. Nothing is written.
func (p *Pipeline) Preview(ctx context.Context, doc *sources.Document) (Result, error) {
	if doc == nil {
		return Result{}, errors.New("ingest: nil document")
	}
	if err := ctx.Err(); err != nil {
		return Result{DocumentRef: doc.Ref, SourceType: doc.SourceType}, err
	}
	logger := logging.WithContext(services.WithDocument(ctx, doc.Ref), p.logger)
	res := p.extract(doc)

	if len(res.Malformed) > 0 {
		errs := make([]error, 0, len(res.Malformed))
		for _, m := range res.Malformed {
			errs = append(errs, m)
		}
		if p.opts.StrictMarkers {
			return res, errors.Join(errs...)
		}
		logging.WarnWithContext(logger, "malformed markers skipped", "malformed_markers",
			logging.Int("malformed", len(res.Malformed)),
			logging.String("first", res.Malformed[0].Error()),
			logging.String(logging.FieldErrorHint, "fix the marker text or run with ingest.strict_markers = true to fail the document"),
			logging.String(logging.FieldImpact, "units in malformed markers were not ingested"),
		)
	}

	units, err := uniqueUnits(res.Occurrences)
	if err != nil {
		return res, err
	}
	res.Units = units

	observations := make([]drift.Observation, 0, len(units))
	for _, u := range units {
		observations = append(observations, drift.Observation{Unit: u, Source: doc.SourceType})
	}
	report, err := p.detector.Detect(ctx, doc.Ref, observations)
	if err != nil {
		return res, err
	}
	res.Report = report

	merges, err := p.planMerges(report.Fresh)
	if err != nil {
		return res, err
	}
	if len(merges) > 0 {
		res.Merges = merges
		res.applyMerges(merges)
		logger.Info("duplicate units merged",
			logging.String(logging.FieldEventType, "units_merged"),
			logging.Int("merges", len(merges)),
		)
	}
	if err := p.registry.ValidateRevision(res.Units, report.Tracked()); err != nil {
		return res, err
	}

	var errs []error
	for _, occ := range res.Occurrences {
		record, err := p.recorder.Attach(occ.Unit, &provenance.Source{
			Type:        doc.SourceType,
			DocumentRef: doc.Ref,
			Locator:     occ.Locator,
			IngestedBy:  p.opts.IngestedBy,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Provenance = append(res.Provenance, record)
	}
	if err := errors.Join(errs...); err != nil {
		return res, err
	}

	logger.Debug("document prepared",
		logging.Int("units", len(res.Units)),
		logging.Int("occurrences", len(res.Occurrences)),
		logging.Int("fresh", len(report.Fresh)),
		logging.Int("drift", len(report.Entries)),
	)
	return res, nil
}

// extract decodes every segment and resolves ids through the tombstone map.
func (p *Pipeline) extract(doc *sources.Document) Result {
	res := Result{DocumentRef: doc.Ref, SourceType: doc.SourceType}
	for _, seg := range doc.Segments {
		decoded, malformed := tagcodec.Decode(seg.Text)
		for _, m := range malformed {
			m.Location = doc.Ref + " " + seg.Locate(m.Span.Line).String()
			res.Malformed = append(res.Malformed, m)
		}
		for _, d := range decoded {
			unit := d.Unit
			unit.ID = p.registry.Resolve(unit.ID)
			if unit.HasParent() {
				unit.ParentID = p.registry.Resolve(unit.ParentID)
			}
			res.Occurrences = append(res.Occurrences, Occurrence{
				Unit:       unit,
				Span:       d.Span,
				Locator:    seg.Locate(d.Span.Line),
				Redirected: unit.ID != d.Unit.ID,
			})
		}
	}
	return res
}

// uniqueUnits collapses repeated occurrences of one id and points every
// occurrence at the chosen unit. Direct occurrences that disagree about the
// label are collisions; a redirected occurrence defers to a direct one. Kind
// and parent disagreements are left to registry validation.
func uniqueUnits(occurrences []Occurrence) ([]semantic.Unit, error) {
	chosen := make(map[uuid.UUID]Occurrence, len(occurrences))
	var errs []error
	for _, occ := range occurrences {
		prev, ok := chosen[occ.Unit.ID]
		switch {
		case !ok, prev.Redirected && !occ.Redirected:
			chosen[occ.Unit.ID] = occ
		case !prev.Redirected && !occ.Redirected && prev.Unit.Label != occ.Unit.Label:
			errs = append(errs, &semantic.CollisionError{
				ID:     occ.Unit.ID,
				Reason: fmt.Sprintf("id appears with labels %q and %q at %s", prev.Unit.Label, occ.Unit.Label, occ.Locator),
			})
		}
	}

	units := make([]semantic.Unit, 0, len(chosen))
	emitted := make(map[uuid.UUID]struct{}, len(chosen))
	for i := range occurrences {
		unit := chosen[occurrences[i].Unit.ID].Unit
		occurrences[i].Unit = unit
		if _, ok := emitted[unit.ID]; !ok {
			emitted[unit.ID] = struct{}{}
			units = append(units, unit)
		}
	}
	return units, errors.Join(errs...)
}

// planMerges finds fresh units that duplicate an earlier fresh sibling of the
// same kind. Parents are merged before children so that duplicated subtrees
// collapse in one pass.
func (p *Pipeline) planMerges(fresh []drift.Observation) ([]identity.MergePlan, error) {
	if len(fresh) < 2 {
		return nil, nil
	}
	ordered := make([]semantic.Unit, 0, len(fresh))
	for _, obs := range fresh {
		ordered = append(ordered, obs.Unit)
	}
	slices.SortStableFunc(ordered, func(a, b semantic.Unit) int {
		return a.Kind.Rank() - b.Kind.Rank()
	})

	type group struct {
		kind   semantic.Kind
		parent uuid.UUID
	}
	remap := make(map[uuid.UUID]uuid.UUID)
	resolve := func(id uuid.UUID) uuid.UUID {
		if to, ok := remap[id]; ok {
			return to
		}
		return id
	}
	reps := make(map[group][]semantic.Unit)
	var plans []identity.MergePlan
	for _, u := range ordered {
		key := group{kind: u.Kind, parent: resolve(u.ParentID)}
		matched := -1
		for i, rep := range reps[key] {
			if p.sameLabel(rep.Label, u.Label) {
				matched = i
				break
			}
		}
		if matched < 0 {
			reps[key] = append(reps[key], u)
			continue
		}
		rep := reps[key][matched]
		plan, err := p.registry.PlanDuplicate(rep.ID, u.ID)
		if err != nil {
			return nil, err
		}
		remap[plan.Retired] = plan.Canonical
		if plan.Canonical == u.ID {
			reps[key][matched] = u
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func (p *Pipeline) sameLabel(a, b string) bool {
	if textutil.LabelKey(a) == textutil.LabelKey(b) {
		return true
	}
	return p.opts.DuplicateSimilarity > 0 && textutil.LabelSimilarity(a, b) >= p.opts.DuplicateSimilarity
}

// applyMerges rewrites the result so retired ids no longer appear.
func (r *Result) applyMerges(plans []identity.MergePlan) {
	remap := make(map[uuid.UUID]uuid.UUID, len(plans))
	for _, plan := range plans {
		remap[plan.Retired] = plan.Canonical
	}
	resolve := func(id uuid.UUID) uuid.UUID {
		for range len(remap) + 1 {
			to, ok := remap[id]
			if !ok {
				return id
			}
			id = to
		}
		return id
	}

	canonical := make(map[uuid.UUID]semantic.Unit, len(r.Units))
	units := r.Units[:0]
	for _, u := range r.Units {
		if u.HasParent() {
			u.ParentID = resolve(u.ParentID)
		}
		if _, retired := remap[u.ID]; retired {
			continue
		}
		canonical[u.ID] = u
		units = append(units, u)
	}
	r.Units = units

	for i := range r.Occurrences {
		id := resolve(r.Occurrences[i].Unit.ID)
		if u, ok := canonical[id]; ok {
			r.Occurrences[i].Unit = u
		}
	}
}
