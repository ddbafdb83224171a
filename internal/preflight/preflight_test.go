package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tagsync/internal/classifier"
	"tagsync/internal/store"
	"tagsync/internal/testsupport"
)

type healthFunc func(ctx context.Context) (store.DatabaseHealth, error)

func (f healthFunc) CheckHealth(ctx context.Context) (store.DatabaseHealth, error) { return f(ctx) }

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckWatchRoot(t *testing.T) {
	dir := t.TempDir()
	file := testsupport.WriteFile(t, filepath.Join(dir, "note.md"), "# n\n")
	tests := []struct {
		name string
		path string
		pass bool
	}{
		{"directory", dir, true},
		{"single file", file, true},
		{"missing", filepath.Join(dir, "missing"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckWatchRoot(tt.path); got.Passed != tt.pass {
				t.Fatalf("passed=%v want %v (%s)", got.Passed, tt.pass, got.Detail)
			}
		})
	}
}

func TestCheckStore(t *testing.T) {
	tests := []struct {
		name    string
		checker HealthChecker
		pass    bool
		detail  string
	}{
		{"not opened", nil, false, "not opened"},
		{"healthy", healthFunc(func(context.Context) (store.DatabaseHealth, error) {
			return store.DatabaseHealth{DBPath: "/db", DatabaseExists: true, DatabaseReadable: true, SchemaVersion: 1, TotalUnits: 3}, nil
		}), true, "3 units"},
		{"missing tables", healthFunc(func(context.Context) (store.DatabaseHealth, error) {
			return store.DatabaseHealth{DBPath: "/db", DatabaseExists: true, MissingTables: []string{"drift_logs"}}, nil
		}), false, "drift_logs"},
		{"ping failure", healthFunc(func(context.Context) (store.DatabaseHealth, error) {
			return store.DatabaseHealth{DBPath: "/db"}, errors.New("disk I/O error")
		}), false, "disk I/O error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckStore(context.Background(), tt.checker)
			if got.Passed != tt.pass || !strings.Contains(got.Detail, tt.detail) {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestCheckStoreAgainstRealDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	got := CheckStore(context.Background(), st)
	if !got.Passed {
		t.Fatalf("expected fresh store to pass: %s", got.Detail)
	}
}

func TestCheckClassifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer srv.Close()

	if got := CheckClassifier(context.Background(), classifier.OpenAIConfig{APIKey: "good-key", BaseURL: srv.URL}); !got.Passed {
		t.Fatalf("expected pass, got: %s", got.Detail)
	}
	if got := CheckClassifier(context.Background(), classifier.OpenAIConfig{APIKey: "bad-key", BaseURL: srv.URL}); got.Passed {
		t.Fatal("expected failure for bad key")
	}
	if got := CheckClassifier(context.Background(), classifier.OpenAIConfig{}); got.Passed || got.Detail != "API key missing" {
		t.Fatalf("expected missing key, got %+v", got)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	root := t.TempDir()
	cfg := testsupport.NewConfig(t, testsupport.WithWatchRoots(root))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	st := testsupport.MustOpenStore(t, cfg)

	results := RunAll(context.Background(), cfg, st)
	// data dir, log dir, store, one watch root
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
	if Failed(results) {
		t.Fatal("Failed reported a failure")
	}
}

func TestRunAll_IncludesClassifierWhenEnabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Classifier.Enabled = true
	cfg.Classifier.APIKey = ""

	results := RunAll(context.Background(), cfg, nil)
	found := false
	for _, r := range results {
		if r.Name == "Classifier" {
			found = true
			if r.Passed {
				t.Error("classifier without a key should fail")
			}
		}
	}
	if !found {
		t.Fatal("expected classifier check in results")
	}
	if !Failed(results) {
		t.Fatal("expected Failed to report the missing store and key")
	}
}
