package identity

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"tagsync/internal/semantic"
)

func newRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	if opts.Partitions == 0 {
		opts.Partitions = 8
	}
	return New(opts)
}

func TestAllocateConcurrentIDsAreDistinct(t *testing.T) {
	reg := newRegistry(t, Options{})
	root, err := reg.Allocate(semantic.KindNoteRoot, uuid.Nil)
	if err != nil {
		t.Fatalf("Allocate root: %v", err)
	}
	reg.Register([]semantic.Unit{{ID: root, Kind: semantic.KindNoteRoot}}, time.Now())

	const workers, perWorker = 16, 200
	var (
		mu   sync.Mutex
		seen = make(map[uuid.UUID]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	errs := make(chan error, workers)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			parent := uuid.Nil
			if w%2 == 0 {
				parent = root
			}
			for range perWorker {
				id, err := reg.Allocate(semantic.KindClaim, parent)
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				if _, dup := seen[id]; dup {
					mu.Unlock()
					errs <- errors.New("duplicate id " + id.String())
					return
				}
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d ids, got %d", workers*perWorker, len(seen))
	}
}

func TestAllocateRejectsInvalidParentKind(t *testing.T) {
	reg := newRegistry(t, Options{})
	sentence, err := reg.Allocate(semantic.KindSentence, uuid.Nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	_, err = reg.Allocate(semantic.KindParagraph, sentence)
	var invalid *semantic.InvalidParentError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidParentError, got %v", err)
	}
	if _, err := reg.Allocate(semantic.KindClaim, uuid.New()); !errors.As(err, &invalid) {
		t.Fatalf("expected unknown parent to be rejected, got %v", err)
	}
}

func TestValidateSetParentRules(t *testing.T) {
	root := uuid.New()
	para := uuid.New()
	sentence := uuid.New()
	claim := uuid.New()

	tests := []struct {
		name    string
		units   []semantic.Unit
		wantErr string
	}{
		{
			name: "valid chain in one document",
			units: []semantic.Unit{
				{ID: claim, Kind: semantic.KindClaim, ParentID: sentence},
				{ID: sentence, Kind: semantic.KindSentence, ParentID: para},
				{ID: para, Kind: semantic.KindParagraph, ParentID: root},
				{ID: root, Kind: semantic.KindNoteRoot},
			},
		},
		{
			name: "paragraph under sentence",
			units: []semantic.Unit{
				{ID: sentence, Kind: semantic.KindSentence},
				{ID: para, Kind: semantic.KindParagraph, ParentID: sentence},
			},
			wantErr: "SENTENCE cannot be the parent of PARAGRAPH",
		},
		{
			name: "leaf as parent",
			units: []semantic.Unit{
				{ID: claim, Kind: semantic.KindClaim},
				{ID: sentence, Kind: semantic.KindEvidence, ParentID: claim},
			},
			wantErr: "cannot be the parent",
		},
		{
			name:    "self parent",
			units:   []semantic.Unit{{ID: para, Kind: semantic.KindParagraph, ParentID: para}},
			wantErr: "own parent",
		},
		{
			name: "two-unit cycle",
			units: []semantic.Unit{
				{ID: para, Kind: semantic.KindParagraph, ParentID: sentence},
				{ID: sentence, Kind: semantic.KindParagraph, ParentID: para},
			},
			wantErr: "cannot be the parent",
		},
		{
			name:    "missing parent",
			units:   []semantic.Unit{{ID: claim, Kind: semantic.KindClaim, ParentID: uuid.New()}},
			wantErr: "parent does not exist",
		},
		{
			name: "conflicting duplicate declaration",
			units: []semantic.Unit{
				{ID: claim, Kind: semantic.KindClaim},
				{ID: claim, Kind: semantic.KindAxiom},
			},
			wantErr: "appears twice",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newRegistry(t, Options{})
			err := reg.ValidateSet(tt.units)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateRejectsKindChangeOfRegisteredID(t *testing.T) {
	reg := newRegistry(t, Options{})
	id := uuid.New()
	reg.Register([]semantic.Unit{{ID: id, Kind: semantic.KindClaim, Label: "c"}}, time.Now())

	err := reg.Validate(semantic.Unit{ID: id, Kind: semantic.KindAxiom})
	var collision *semantic.CollisionError
	if !errors.As(err, &collision) {
		t.Fatalf("expected CollisionError, got %v", err)
	}
	if err := reg.Validate(semantic.Unit{ID: id, Kind: semantic.KindClaim, Label: "refined"}); err != nil {
		t.Fatalf("label change should validate: %v", err)
	}
}

func TestValidateRevisionAllowsKindChangeOfTrackedID(t *testing.T) {
	reg := newRegistry(t, Options{})
	id := uuid.New()
	reg.Register([]semantic.Unit{{ID: id, Kind: semantic.KindClaim, Label: "c"}}, time.Now())
	changed := semantic.Unit{ID: id, Kind: semantic.KindEvidence, Label: "c"}

	tests := []struct {
		name    string
		tracked map[uuid.UUID]struct{}
		wantErr bool
	}{
		{name: "untracked", tracked: nil, wantErr: true},
		{name: "other id tracked", tracked: map[uuid.UUID]struct{}{uuid.New(): {}}, wantErr: true},
		{name: "tracked", tracked: map[uuid.UUID]struct{}{id: {}}, wantErr: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := reg.ValidateRevision([]semantic.Unit{changed}, tc.tracked)
			var collision *semantic.CollisionError
			if tc.wantErr != errors.As(err, &collision) {
				t.Fatalf("ValidateRevision() = %v, want collision %v", err, tc.wantErr)
			}
		})
	}

	reg.Register([]semantic.Unit{changed}, time.Now())
	if entry, ok := reg.Lookup(id); !ok || entry.Kind != semantic.KindEvidence {
		t.Fatalf("kind not updated on register: %+v", entry)
	}
}

func TestRegisterReparentMovesLineage(t *testing.T) {
	reg := newRegistry(t, Options{Partitions: 16})
	rootA, rootB := uuid.New(), uuid.New()
	para, sentence := uuid.New(), uuid.New()
	reg.Register([]semantic.Unit{
		{ID: rootA, Kind: semantic.KindNoteRoot},
		{ID: rootB, Kind: semantic.KindNoteRoot},
		{ID: para, Kind: semantic.KindParagraph, ParentID: rootA},
		{ID: sentence, Kind: semantic.KindSentence, ParentID: para},
	}, time.Now())

	reg.Register([]semantic.Unit{{ID: para, Kind: semantic.KindParagraph, ParentID: rootB}}, time.Now())

	for _, id := range []uuid.UUID{para, sentence} {
		entry, ok := reg.Lookup(id)
		if !ok {
			t.Fatalf("%s lost after reparent", id)
		}
		if entry.Root != rootB {
			t.Fatalf("%s root = %s, want %s", id, entry.Root, rootB)
		}
	}
	if entry, _ := reg.Lookup(para); entry.ParentID != rootB {
		t.Fatalf("parent not updated: %+v", entry)
	}
	if units, _ := reg.Stats(); units != 4 {
		t.Fatalf("units = %d, want 4", units)
	}
	if err := reg.Validate(semantic.Unit{ID: uuid.New(), Kind: semantic.KindClaim, ParentID: sentence}); err != nil {
		t.Fatalf("moved descendant should still validate as a parent: %v", err)
	}
}

func TestValidateUsesRegisteredParents(t *testing.T) {
	reg := newRegistry(t, Options{Partitions: 4})
	root := uuid.New()
	para := uuid.New()
	reg.Register([]semantic.Unit{
		{ID: para, Kind: semantic.KindParagraph, ParentID: root},
		{ID: root, Kind: semantic.KindNoteRoot},
	}, time.Now())

	entry, ok := reg.Lookup(para)
	if !ok || entry.Root != root || !entry.Committed {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if err := reg.Validate(semantic.Unit{ID: uuid.New(), Kind: semantic.KindSentence, ParentID: para}); err != nil {
		t.Fatalf("expected registered parent to validate: %v", err)
	}
}

func TestResolveDuplicateLexicographic(t *testing.T) {
	reg := newRegistry(t, Options{})
	a := uuid.MustParse("aaaaaaaa-0000-4000-8000-000000000000")
	b := uuid.MustParse("bbbbbbbb-0000-4000-8000-000000000000")
	child := uuid.New()
	reg.Register([]semantic.Unit{
		{ID: b, Kind: semantic.KindSentence},
		{ID: a, Kind: semantic.KindSentence},
		{ID: child, Kind: semantic.KindClaim, ParentID: b},
	}, time.Now())

	plan, err := reg.ResolveDuplicate(b, a)
	if err != nil {
		t.Fatalf("ResolveDuplicate: %v", err)
	}
	if plan.Canonical != a || plan.Retired != b {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if len(plan.Reparent) != 1 || plan.Reparent[0] != child {
		t.Fatalf("expected child to be reparented, got %v", plan.Reparent)
	}
	if got := reg.Resolve(b); got != a {
		t.Fatalf("Resolve(retired) = %s, want %s", got, a)
	}
	entry, ok := reg.Lookup(child)
	if !ok || entry.ParentID != a {
		t.Fatalf("child parent = %s, want %s", entry.ParentID, a)
	}
	var collision *semantic.CollisionError
	if err := reg.Validate(semantic.Unit{ID: b, Kind: semantic.KindSentence}); !errors.As(err, &collision) {
		t.Fatalf("expected retired id to be rejected, got %v", err)
	}
}

func TestResolveDuplicateEarliestIngest(t *testing.T) {
	reg := newRegistry(t, Options{TieBreak: TieBreakEarliestIngest})
	early := uuid.MustParse("ffffffff-0000-4000-8000-000000000000")
	late := uuid.MustParse("00000000-0000-4000-8000-000000000001")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reg.Register([]semantic.Unit{{ID: early, Kind: semantic.KindClaim}}, base)
	reg.Register([]semantic.Unit{{ID: late, Kind: semantic.KindClaim}}, base.Add(time.Hour))

	plan, err := reg.PlanDuplicate(late, early)
	if err != nil {
		t.Fatalf("PlanDuplicate: %v", err)
	}
	if plan.Canonical != early {
		t.Fatalf("expected earliest ingest %s to win, got %s", early, plan.Canonical)
	}
	if reg.Retired(late) {
		t.Fatal("PlanDuplicate must not change registry state")
	}
}

func TestResolveDuplicateRejectsKindMismatch(t *testing.T) {
	reg := newRegistry(t, Options{})
	a, b := uuid.New(), uuid.New()
	reg.Register([]semantic.Unit{{ID: a, Kind: semantic.KindClaim}, {ID: b, Kind: semantic.KindAxiom}}, time.Now())
	if _, err := reg.ResolveDuplicate(a, b); err == nil {
		t.Fatal("expected kind mismatch to be rejected")
	}
	if _, err := reg.ResolveDuplicate(a, a); err == nil {
		t.Fatal("expected self merge to be rejected")
	}
}

func TestSeedRestoresTombstones(t *testing.T) {
	reg := newRegistry(t, Options{})
	canonical, retired := uuid.New(), uuid.New()
	reg.Seed(
		[]SeedEntry{{Unit: semantic.Unit{ID: canonical, Kind: semantic.KindAxiom}, IngestedAt: time.Now()}},
		map[uuid.UUID]uuid.UUID{retired: canonical},
	)
	if got := reg.Resolve(retired); got != canonical {
		t.Fatalf("Resolve = %s, want %s", got, canonical)
	}
	units, tombstones := reg.Stats()
	if units != 1 || tombstones != 1 {
		t.Fatalf("Stats = (%d, %d), want (1, 1)", units, tombstones)
	}
}

func TestParseTieBreak(t *testing.T) {
	if got, err := ParseTieBreak(" Earliest_Ingest "); err != nil || got != TieBreakEarliestIngest {
		t.Fatalf("ParseTieBreak = %q, %v", got, err)
	}
	if _, err := ParseTieBreak("random"); err == nil {
		t.Fatal("expected unknown policy to fail")
	}
}
