package ingest_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"tagsync/internal/config"
	"tagsync/internal/engine"
	"tagsync/internal/semantic"
	"tagsync/internal/sources"
	"tagsync/internal/store"
	"tagsync/internal/tagcodec"
	"tagsync/internal/testsupport"
)

func openEngine(t *testing.T, cfg *config.Config) *engine.Engine {
	t.Helper()
	eng, err := engine.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func markdown(t *testing.T, ref, body string) *sources.Document {
	t.Helper()
	doc, err := sources.ParseMarkdown(ref, []byte(body))
	if err != nil {
		t.Fatalf("parse %s: %v", ref, err)
	}
	return doc
}

func marker(id uuid.UUID, kind semantic.Kind, label string, parent uuid.UUID) string {
	return tagcodec.Encode(semantic.Unit{ID: id, Kind: kind, Label: label, ParentID: parent})
}

func TestIngestCommitsUnitsWithProvenance(t *testing.T) {
	eng := openEngine(t, testsupport.NewConfig(t))
	ctx := context.Background()
	topic := uuid.New()
	claim := uuid.New()
	body := "---\ntitle: Boiling\ntags: [physics]\n---\n# Water\n" +
		marker(topic, semantic.KindParagraph, "Phase changes", uuid.Nil) + "\n\n## Evidence\n" +
		"We saw " + marker(claim, semantic.KindClaim, "Water boils at 100C", topic) + " today.\n"

	res, err := eng.Pipeline.Ingest(ctx, markdown(t, "notes/boiling.md", body))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Committed || res.Commit.SnapshotVersion != 1 || res.Commit.UnitCount != 2 {
		t.Fatalf("unexpected commit: %+v", res.Commit)
	}
	ids := res.UnitIDs()
	if len(ids) != 2 || ids[0] != topic || ids[1] != claim {
		t.Fatalf("unit ids = %v", ids)
	}

	stored, err := eng.Store.GetUnit(ctx, claim)
	if err != nil {
		t.Fatalf("get unit: %v", err)
	}
	if stored.Unit.ParentID != topic || stored.Unit.Label != "Water boils at 100C" {
		t.Fatalf("stored unit = %+v", stored.Unit)
	}
	prov, err := eng.Store.Provenance(ctx, claim)
	if err != nil {
		t.Fatalf("provenance: %v", err)
	}
	if len(prov) != 1 {
		t.Fatalf("expected one provenance record, got %d", len(prov))
	}
	if prov[0].Locator.Heading != "Evidence" || prov[0].Locator.Line != 9 {
		t.Fatalf("locator = %+v", prov[0].Locator)
	}
	if prov[0].IngestedBy != "test" || prov[0].SourceType != semantic.SourceMarkdownNote {
		t.Fatalf("provenance = %+v", prov[0])
	}

	meta, err := eng.Store.Metadata(ctx, "notes/boiling.md")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.Note == nil || meta.Note.Title != "Boiling" {
		t.Fatalf("note metadata = %+v", meta.Note)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	eng := openEngine(t, testsupport.NewConfig(t))
	ctx := context.Background()
	body := "# Notes\n" + marker(uuid.New(), semantic.KindClaim, "Ice floats", uuid.Nil) + "\n"

	first, err := eng.Pipeline.Ingest(ctx, markdown(t, "a.md", body))
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := eng.Pipeline.Ingest(ctx, markdown(t, "a.md", body))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if first.Commit != second.Commit {
		t.Fatalf("re-ingest changed the commit: %+v vs %+v", first.Commit, second.Commit)
	}
}

func TestIngestAutoResolvesLabelRefinement(t *testing.T) {
	eng := openEngine(t, testsupport.NewConfig(t))
	ctx := context.Background()
	id := uuid.New()

	if _, err := eng.Pipeline.Ingest(ctx, markdown(t, "a.md", marker(id, semantic.KindClaim, "Ice floats", uuid.Nil))); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	res, err := eng.Pipeline.Ingest(ctx, markdown(t, "a.md", marker(id, semantic.KindClaim, "Ice floats on water", uuid.Nil)))
	if err != nil {
		t.Fatalf("refined ingest: %v", err)
	}
	if res.Commit.SnapshotVersion != 2 {
		t.Fatalf("snapshot version = %d, want 2", res.Commit.SnapshotVersion)
	}
	if len(res.Report.Entries) != 1 || res.Report.Entries[0].Resolution != semantic.ResolutionAutoResolved {
		t.Fatalf("drift entries = %+v", res.Report.Entries)
	}
	stored, err := eng.Store.GetUnit(ctx, id)
	if err != nil {
		t.Fatalf("get unit: %v", err)
	}
	if stored.Unit.Label != "Ice floats on water" {
		t.Fatalf("label = %q", stored.Unit.Label)
	}
}

func TestIngestRemovalRequiresReview(t *testing.T) {
	eng := openEngine(t, testsupport.NewConfig(t))
	ctx := context.Background()
	keep := marker(uuid.New(), semantic.KindClaim, "Keep me", uuid.Nil)
	drop := marker(uuid.New(), semantic.KindClaim, "Drop me", uuid.Nil)

	if _, err := eng.Pipeline.Ingest(ctx, markdown(t, "a.md", keep+"\n"+drop)); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	_, err := eng.Pipeline.Ingest(ctx, markdown(t, "a.md", keep))
	var pending *semantic.PendingDriftError
	if !errors.As(err, &pending) {
		t.Fatalf("expected PendingDriftError, got %v", err)
	}
	if len(pending.Entries) != 1 || !pending.Entries[0].Removed {
		t.Fatalf("pending entries = %+v", pending.Entries)
	}
	state, err := eng.Store.Document(ctx, "a.md")
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if state.Version != 1 || state.UnitCount != 2 {
		t.Fatalf("blocked commit must leave the snapshot alone: %+v", state)
	}
}

func TestIngestKindChangeCommitsOnceResolved(t *testing.T) {
	eng := openEngine(t, testsupport.NewConfig(t))
	ctx := context.Background()
	id := uuid.New()

	if _, err := eng.Pipeline.Ingest(ctx, markdown(t, "a.md", marker(id, semantic.KindClaim, "Ice floats", uuid.Nil))); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	changed := marker(id, semantic.KindEvidence, "Ice floats", uuid.Nil)
	_, err := eng.Pipeline.Ingest(ctx, markdown(t, "a.md", changed))
	var pending *semantic.PendingDriftError
	if !errors.As(err, &pending) {
		t.Fatalf("expected PendingDriftError, got %v", err)
	}
	if len(pending.Entries) != 1 || !strings.HasPrefix(pending.Entries[0].Reason, "kind changed") {
		t.Fatalf("pending entries = %+v", pending.Entries)
	}

	open := semantic.ResolutionPending
	entries, err := eng.Store.ListDrift(ctx, store.DriftFilter{DocumentRef: "a.md", Resolution: &open})
	if err != nil || len(entries) != 1 {
		t.Fatalf("list drift: %v %+v", err, entries)
	}
	if _, err := eng.Store.ResolveDrift(ctx, entries[0].ID, "editor", time.Time{}); err != nil {
		t.Fatalf("resolve drift: %v", err)
	}

	res, err := eng.Pipeline.Ingest(ctx, markdown(t, "a.md", changed))
	if err != nil {
		t.Fatalf("ingest after resolve: %v", err)
	}
	if res.Commit.SnapshotVersion != 2 {
		t.Fatalf("snapshot version = %d, want 2", res.Commit.SnapshotVersion)
	}
	stored, err := eng.Store.GetUnit(ctx, id)
	if err != nil {
		t.Fatalf("get unit: %v", err)
	}
	if stored.Unit.Kind != semantic.KindEvidence {
		t.Fatalf("stored kind = %s, want %s", stored.Unit.Kind, semantic.KindEvidence)
	}
}

func TestIngestStrictMarkersFailsDocument(t *testing.T) {
	eng := openEngine(t, testsupport.NewConfig(t))
	ctx := context.Background()
	good := marker(uuid.New(), semantic.KindClaim, "Good", uuid.Nil)
	body := good + "\n" + `%%tag::THEOREM::` + uuid.NewString() + `::"bad"::%%` + "\n"

	_, err := eng.Pipeline.Ingest(ctx, markdown(t, "bad.md", body))
	if semantic.ErrorKindOf(err) != semantic.KindMalformedTag {
		t.Fatalf("expected malformed tag error, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad.md line=2") {
		t.Fatalf("error should locate the marker: %v", err)
	}
	if _, err := eng.Store.Document(ctx, "bad.md"); err == nil {
		t.Fatal("nothing should be stored for a failed document")
	}
}

func TestIngestLenientMarkersSkipsMalformed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Ingest.StrictMarkers = false
	eng := openEngine(t, cfg)
	good := uuid.New()
	body := marker(good, semantic.KindClaim, "Good", uuid.Nil) + "\n" + `%%tag::CLAIM::1234::"bad"::%%`

	res, err := eng.Pipeline.Ingest(context.Background(), markdown(t, "lenient.md", body))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(res.Malformed) != 1 || len(res.Units) != 1 || res.Units[0].ID != good {
		t.Fatalf("unexpected result: units=%v malformed=%v", res.Units, res.Malformed)
	}
}

func TestIngestMergesDuplicateSiblings(t *testing.T) {
	eng := openEngine(t, testsupport.NewConfig(t))
	ctx := context.Background()
	a := uuid.MustParse("11111111-1111-4111-8111-111111111111")
	b := uuid.MustParse("22222222-2222-4222-8222-222222222222")
	body := marker(a, semantic.KindClaim, "Water boils at 100C", uuid.Nil) + "\n" +
		marker(b, semantic.KindClaim, "water  boils at 100c", uuid.Nil) + "\n"

	res, err := eng.Pipeline.Ingest(ctx, markdown(t, "dup.md", body))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(res.Merges) != 1 || len(res.Units) != 1 {
		t.Fatalf("expected one merge and one unit, got merges=%+v units=%+v", res.Merges, res.Units)
	}
	plan := res.Merges[0]
	if plan.Canonical != a || plan.Retired != b {
		t.Fatalf("lexicographic tie-break should keep %s, got %+v", a, plan)
	}
	if got := eng.Registry.Resolve(b); got != a {
		t.Fatalf("retired id resolves to %s, want %s", got, a)
	}
	for _, occ := range res.Occurrences {
		if occ.Unit.ID != a {
			t.Fatalf("occurrence still names %s", occ.Unit.ID)
		}
	}

	// A later document still carrying the retired id lands on the canonical unit.
	again, err := eng.Pipeline.Ingest(ctx, markdown(t, "other.md", marker(b, semantic.KindClaim, "water  boils at 100c", uuid.Nil)))
	if err != nil {
		t.Fatalf("ingest retired id: %v", err)
	}
	if ids := again.UnitIDs(); len(ids) != 1 || ids[0] != a {
		t.Fatalf("retired id was not redirected: %v", ids)
	}
}

func TestIngestRejectsLabelCollision(t *testing.T) {
	eng := openEngine(t, testsupport.NewConfig(t))
	id := uuid.New()
	body := marker(id, semantic.KindClaim, "One label", uuid.Nil) + "\n" + marker(id, semantic.KindClaim, "Another label", uuid.Nil)

	_, err := eng.Pipeline.Ingest(context.Background(), markdown(t, "clash.md", body))
	var collision *semantic.CollisionError
	if !errors.As(err, &collision) || collision.ID != id {
		t.Fatalf("expected collision for %s, got %v", id, err)
	}
}

func TestPreviewWritesNothing(t *testing.T) {
	eng := openEngine(t, testsupport.NewConfig(t))
	ctx := context.Background()
	id := uuid.New()

	res, err := eng.Pipeline.Preview(ctx, markdown(t, "p.md", marker(id, semantic.KindClaim, "Preview only", uuid.Nil)))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if res.Committed || len(res.Report.Fresh) != 1 {
		t.Fatalf("unexpected preview: %+v", res)
	}
	if _, err := eng.Store.GetUnit(ctx, id); err == nil {
		t.Fatal("preview must not store units")
	}
}

func TestResultEnvelopesPairUnitsWithOrigin(t *testing.T) {
	eng := openEngine(t, testsupport.NewConfig(t))
	id := uuid.New()

	res, err := eng.Pipeline.Preview(context.Background(), markdown(t, "notes/env.md", "# Env\n"+marker(id, semantic.KindClaim, "Enveloped", uuid.Nil)+"\n"))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	envs := res.Envelopes()
	if len(envs) != len(res.Provenance) || len(envs) == 0 {
		t.Fatalf("envelopes = %d, provenance = %d", len(envs), len(res.Provenance))
	}
	env := envs[0]
	if env.Unit.ID != id || env.Provenance.Type != semantic.SourceMarkdownNote || env.Provenance.File != "notes/env.md" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}
