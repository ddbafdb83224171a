package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"tagsync/internal/drift"
	"tagsync/internal/identity"
	"tagsync/internal/semantic"
	"tagsync/internal/services"
	"tagsync/internal/store"
	"tagsync/internal/tagcodec"
	"tagsync/internal/testsupport"
)

var fixedTime = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return fixedTime }

func newRegistry() *identity.Registry {
	return identity.New(identity.Options{Partitions: 4, Now: fixedNow})
}

func fastOptions() Options {
	return Options{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Now: fixedNow}
}

func requestFor(doc string, units ...semantic.Unit) Request {
	req := Request{DocumentRef: doc, SourceType: semantic.SourceMarkdownNote, Units: units}
	for i, u := range units {
		req.Provenance = append(req.Provenance, semantic.ProvenanceRecord{
			UnitID:      u.ID,
			SourceType:  semantic.SourceMarkdownNote,
			DocumentRef: doc,
			Locator:     semantic.Locator{Line: i + 1},
			IngestedBy:  "test",
			IngestedAt:  fixedTime,
		})
	}
	return req
}

func sampleUnits() (semantic.Unit, semantic.Unit) {
	root := semantic.Unit{ID: uuid.New(), Kind: semantic.KindNoteRoot, Label: "Note"}
	claim := semantic.Unit{ID: uuid.New(), Kind: semantic.KindClaim, Label: "water boils at 100C", ParentID: root.ID}
	return root, claim
}

func TestCommitPersistsAndRegisters(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	reg := newRegistry()
	rec := New(reg, st, fastOptions())
	root, claim := sampleUnits()

	result, err := rec.Commit(context.Background(), requestFor("a.md", root, claim))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if result.SnapshotVersion != 1 || result.UnitCount != 2 || result.CommitHash == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if entry, ok := reg.Lookup(claim.ID); !ok || !entry.Committed || entry.ParentID != root.ID {
		t.Fatalf("claim not registered: %+v (%v)", entry, ok)
	}

	again, err := rec.Commit(context.Background(), requestFor("a.md", root, claim))
	if err != nil {
		t.Fatalf("repeat Commit: %v", err)
	}
	if again != result {
		t.Fatalf("repeat commit changed result: %+v vs %+v", again, result)
	}
}

func TestCommitRequiresAttribution(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	rec := New(newRegistry(), st, fastOptions())
	root, claim := sampleUnits()
	req := requestFor("a.md", root, claim)
	req.Provenance = req.Provenance[:1]

	_, err := rec.Commit(context.Background(), req)
	var missing *semantic.SourceAttributionMissingError
	if !errors.As(err, &missing) || missing.UnitID != claim.ID {
		t.Fatalf("expected attribution error for claim, got %v", err)
	}
	docs, err := st.Documents(context.Background())
	if err != nil {
		t.Fatalf("Documents: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("rejected commit wrote %d documents", len(docs))
	}
}

func TestCommitRejectsInvalidParent(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	rec := New(newRegistry(), st, fastOptions())
	claim := semantic.Unit{ID: uuid.New(), Kind: semantic.KindClaim, Label: "x"}
	evidence := semantic.Unit{ID: uuid.New(), Kind: semantic.KindEvidence, Label: "y", ParentID: claim.ID}

	_, err := rec.Commit(context.Background(), requestFor("a.md", claim, evidence))
	var invalid *semantic.InvalidParentError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidParentError, got %v", err)
	}
}

func TestCommitBlockedByPendingDrift(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	reg := newRegistry()
	rec := New(reg, st, fastOptions())
	root, claim := sampleUnits()
	ctx := context.Background()
	if _, err := rec.Commit(ctx, requestFor("a.md", root, claim)); err != nil {
		t.Fatalf("first Commit: %v", err)
	}

	changed := claim
	changed.Label = "water boils at 90C at altitude"
	req := requestFor("a.md", root, changed)
	req.Report = drift.Report{
		DocumentRef: "a.md",
		BaseVersion: 1,
		Entries: []semantic.DriftLogEntry{{
			DocumentRef:   "a.md",
			UnitID:        claim.ID,
			ObservedAt:    fixedTime,
			PreviousLabel: claim.Label,
			NewLabel:      changed.Label,
			PreviousHash:  tagcodec.Hash(claim),
			NewHash:       tagcodec.Hash(changed),
			Resolution:    semantic.ResolutionPending,
		}},
	}

	_, err := rec.Commit(ctx, req)
	var pending *semantic.PendingDriftError
	if !errors.As(err, &pending) || len(pending.Entries) != 1 {
		t.Fatalf("expected PendingDriftError, got %v", err)
	}
	res := semantic.ResolutionPending
	logged, err := st.ListDrift(ctx, store.DriftFilter{DocumentRef: "a.md", Resolution: &res})
	if err != nil {
		t.Fatalf("ListDrift: %v", err)
	}
	if len(logged) != 1 {
		t.Fatalf("expected pending entry recorded, got %d", len(logged))
	}
	doc, err := st.Document(ctx, "a.md")
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if doc.Version != 1 {
		t.Fatalf("blocked commit moved snapshot to version %d", doc.Version)
	}
}

func TestCommitAppliesMerges(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	reg := newRegistry()
	rec := New(reg, st, fastOptions())
	root, claim := sampleUnits()
	retired := uuid.New()

	req := requestFor("a.md", root, claim)
	req.Merges = []identity.MergePlan{{Canonical: claim.ID, Retired: retired}}
	if _, err := rec.Commit(context.Background(), req); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := reg.Resolve(retired); got != claim.ID {
		t.Fatalf("registry resolves retired id to %s", got)
	}
	resolved, err := st.ResolveID(context.Background(), retired)
	if err != nil || resolved != claim.ID {
		t.Fatalf("store resolves retired id to %s (%v)", resolved, err)
	}
}

type flakyCommitter struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *flakyCommitter) CommitDocument(_ context.Context, req store.DocumentCommit) (semantic.CommitResult, store.CommitOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return semantic.CommitResult{}, store.CommitOutcome{}, f.err
	}
	return semantic.CommitResult{DocumentRef: req.DocumentRef, CommitHash: req.CommitHash, SnapshotVersion: 1}, store.CommitOutcome{Applied: true}, nil
}

func (f *flakyCommitter) RecordPendingDrift(context.Context, []semantic.DriftLogEntry) (int, error) {
	return 0, nil
}

func TestCommitRetryPolicy(t *testing.T) {
	unavailable := &semantic.StoreUnavailableError{Op: "commit", Err: errors.New("database is locked")}
	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   bool
		transient bool
	}{
		{name: "recovers after outage", failures: 2, err: unavailable, wantCalls: 3},
		{name: "gives up after max attempts", failures: 10, err: unavailable, wantCalls: 3, wantErr: true, transient: true},
		{name: "rejections are not retried", failures: 10, err: errors.New("constraint failed"), wantCalls: 1, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := &flakyCommitter{failures: tc.failures, err: tc.err}
			rec := New(newRegistry(), fake, fastOptions())
			root, _ := sampleUnits()
			_, err := rec.Commit(context.Background(), requestFor("a.md", root))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if fake.calls != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", fake.calls, tc.wantCalls)
			}
			if got := errors.Is(err, services.ErrTransient); got != tc.transient {
				t.Fatalf("transient = %v, want %v (err %v)", got, tc.transient, err)
			}
			if tc.transient && semantic.ErrorKindOf(err) != semantic.KindStoreUnavailable {
				t.Fatalf("error kind = %q", semantic.ErrorKindOf(err))
			}
		})
	}
}

func TestCommitHashIgnoresTimestamps(t *testing.T) {
	root, claim := sampleUnits()
	a := requestFor("a.md", root, claim)
	b := requestFor("a.md", claim, root)
	for i := range b.Provenance {
		b.Provenance[i].IngestedAt = fixedTime.Add(time.Hour)
	}
	// requestFor numbers lines by position, so align the locators.
	b.Provenance[0].Locator, b.Provenance[1].Locator = a.Provenance[1].Locator, a.Provenance[0].Locator

	ha, err := CommitHash(a)
	if err != nil {
		t.Fatalf("CommitHash: %v", err)
	}
	hb, err := CommitHash(b)
	if err != nil {
		t.Fatalf("CommitHash: %v", err)
	}
	if ha != hb {
		t.Fatal("hash should not depend on order or ingest time")
	}
	claim.Label = "changed"
	hc, _ := CommitHash(requestFor("a.md", root, claim))
	if hc == ha {
		t.Fatal("hash should change with content")
	}
}
