package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesRecordedInstruments(t *testing.T) {
	RecordDocument("MARKDOWN_NOTE", "succeeded", 3)
	RecordDrift("pending", 2)
	RecordDrift("auto_resolved", 0)
	RecordCommit("applied", 15*time.Millisecond)
	RecordRetry()
	RecordSession("completed")
	RecordWatchEvent("coalesced")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	text := string(body)
	for _, want := range []string{
		`tagsync_ingest_documents_total{source="MARKDOWN_NOTE",status="succeeded"}`,
		`tagsync_ingest_units_total{source="MARKDOWN_NOTE"}`,
		`tagsync_drift_entries_total{resolution="pending"}`,
		`tagsync_reconcile_commit_duration_seconds_count{outcome="applied"}`,
		`tagsync_reconcile_retries_total`,
		`tagsync_batch_sessions_total{status="completed"}`,
		`tagsync_watch_events_total{disposition="coalesced"}`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
	if strings.Contains(text, `resolution="auto_resolved"`) {
		t.Fatal("zero drift counts should not create a series")
	}
}
