package services_test

import (
	"context"
	"testing"

	"tagsync/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithDocument(ctx, "notes/grace.md")
	ctx = services.WithSession(ctx, "sess-1")
	ctx = services.WithStage(ctx, "reconcile")
	ctx = services.WithRequestID(ctx, "req-123")

	if ref, ok := services.DocumentFromContext(ctx); !ok || ref != "notes/grace.md" {
		t.Fatalf("unexpected document: %v %v", ref, ok)
	}
	if id, ok := services.SessionFromContext(ctx); !ok || id != "sess-1" {
		t.Fatalf("unexpected session: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "reconcile" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithDocument(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.DocumentFromContext(ctx); ok {
		t.Fatal("expected no document value")
	}
}
