package engine_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"tagsync/internal/batch"
	"tagsync/internal/engine"
	"tagsync/internal/semantic"
	"tagsync/internal/tagcodec"
	"tagsync/internal/testsupport"
)

func TestOpenRejectsBadConfig(t *testing.T) {
	if _, err := engine.Open(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	cfg := testsupport.NewConfig(t, testsupport.WithDriftPolicy("sometimes"))
	if _, err := engine.Open(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unknown drift policy")
	}
}

func TestBatchOverStoreIsolatesMalformedDocument(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(2))
	ctx := context.Background()
	eng, err := engine.Open(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer eng.Close()

	dir := filepath.Join(testsupport.BaseDir(cfg), "vault")
	var paths []string
	for i := 1; i <= 5; i++ {
		body := fmt.Sprintf("# Note %d\n%s\n", i, tagcodec.Encode(semantic.Unit{
			ID: uuid.New(), Kind: semantic.KindClaim, Label: fmt.Sprintf("Claim %d", i),
		}))
		if i == 3 {
			body += `%%tag::CLAIM::not-a-uuid::"broken"::%%` + "\n"
		}
		paths = append(paths, testsupport.WriteFile(t, filepath.Join(dir, fmt.Sprintf("note-%d.md", i)), body))
	}

	run, err := eng.Orchestrator().RunBatch(ctx, batch.FromPaths(paths), batch.Options{Trigger: "test"})
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	session, err := run.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if session.Succeeded != 4 || session.Failed != 1 || session.Status != semantic.SessionPartial {
		t.Fatalf("unexpected session: %+v", session)
	}

	stored, err := eng.Store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.Status != semantic.SessionPartial || stored.Succeeded != 4 {
		t.Fatalf("stored session = %+v", stored)
	}
	records, err := eng.Store.ListRecords(ctx, session.ID)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	for _, rec := range records {
		if filepath.Base(rec.DocumentRef) == "note-3.md" {
			if rec.Status != semantic.RecordFailed || rec.ErrorKind != semantic.KindMalformedTag {
				t.Fatalf("unexpected record for note-3: %+v", rec)
			}
			continue
		}
		if rec.Status != semantic.RecordSucceeded || len(rec.UnitIDs) != 1 || rec.CommitHash == "" {
			t.Fatalf("unexpected record: %+v", rec)
		}
	}

	docs, err := eng.Store.Documents(ctx)
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if len(docs) != 4 {
		t.Fatalf("expected 4 synchronized documents, got %d", len(docs))
	}
}

func TestOrchestratorHonoursConfirmThreshold(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConfirmThreshold(1024))
	eng, err := engine.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer eng.Close()

	path := filepath.Join(testsupport.BaseDir(cfg), "big.md")
	testsupport.WriteSizedFile(t, path, 4096)
	_, err = eng.Orchestrator().RunBatch(context.Background(), batch.FromPaths([]string{path}), batch.Options{})
	if !errors.Is(err, batch.ErrConfirmationRequired) {
		t.Fatalf("expected confirmation error, got %v", err)
	}
}

func TestOpenSeedsRegistryFromStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	first, err := engine.Open(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	path := testsupport.WriteFile(t, filepath.Join(testsupport.BaseDir(cfg), "seed.md"),
		tagcodec.Encode(semantic.Unit{ID: uuid.New(), Kind: semantic.KindClaim, Label: "Seeded"}))
	run, err := first.Orchestrator().RunBatch(ctx, batch.FromPaths([]string{path}), batch.Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if s, err := run.Wait(); err != nil || s.Succeeded != 1 {
		t.Fatalf("batch: %+v %v", s, err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := engine.Open(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if units, _ := second.Registry.Stats(); units != 1 {
		t.Fatalf("registry should be seeded with 1 unit, got %d", units)
	}
}
