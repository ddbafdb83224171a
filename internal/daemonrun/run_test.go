package daemonrun

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"tagsync/internal/logging"
	"tagsync/internal/metrics"
)

func TestEnsureCurrentLogPointerReplacesLink(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "tagsync-1.log")
	second := filepath.Join(dir, "tagsync-2.log")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte(filepath.Base(p)), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "tagsync.log"))
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if string(data) != "tagsync-2.log" {
		t.Fatalf("pointer resolves to %q", data)
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagsync.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected pid file %q", data)
	}
	if err := writePIDFile(""); err != nil {
		t.Fatalf("empty path should be ignored: %v", err)
	}
}

func TestServeMetrics(t *testing.T) {
	addr, stop, err := serveMetrics("127.0.0.1:0", logging.NewNop())
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer stop()
	metrics.RecordSession("completed")

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read scrape: %v", err)
	}
	if !strings.Contains(string(body), "tagsync_batch_sessions_total") {
		t.Fatalf("expected session counter in scrape output:\n%s", body)
	}
}

func TestServeMetricsRejectsBadAddress(t *testing.T) {
	if _, _, err := serveMetrics("not-an-address", logging.NewNop()); err == nil {
		t.Fatal("expected listen error")
	}
}
