package ingest

import (
	"path/filepath"
	"strings"
	"testing"

	"tagsync/internal/testsupport"
)

func TestDiscoverAppliesFilter(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{
		"notes/a.md",
		"notes/B.MD",
		"notes/.obsidian/cache.md",
		"notes/drafts/old.md",
		"tables/report.html",
		"tables/data.csv",
		"tables/image.png",
	} {
		testsupport.WriteFile(t, filepath.Join(root, rel), "x")
	}
	filter := Filter{
		Extensions: []string{".md", ".html", ".csv"},
		Exclude:    []string{"**/.obsidian/**", "notes/drafts/**"},
	}

	got, err := Discover([]string{root, filepath.Join(root, "notes", "a.md")}, filter)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	rel := make([]string, 0, len(got))
	for _, p := range got {
		r, err := filepath.Rel(root, p)
		if err != nil {
			t.Fatalf("rel: %v", err)
		}
		rel = append(rel, filepath.ToSlash(r))
	}
	want := "notes/B.MD,notes/a.md,tables/data.csv,tables/report.html"
	if strings.Join(rel, ",") != want {
		t.Fatalf("discovered %v, want %s", rel, want)
	}
}

func TestDiscoverRejectsBadPattern(t *testing.T) {
	if _, err := Discover([]string{t.TempDir()}, Filter{Extensions: []string{".md"}, Exclude: []string{"[a-"}}); err == nil {
		t.Fatal("expected invalid pattern error")
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	if _, err := Discover([]string{filepath.Join(t.TempDir(), "missing")}, Filter{Extensions: []string{".md"}}); err == nil {
		t.Fatal("expected error for a missing root")
	}
}

func TestFilterPrunesExcludedDirectories(t *testing.T) {
	f := Filter{Exclude: []string{"archive/**", "**/*.tmp.md"}}
	if !f.Prunes("archive") {
		t.Fatal("archive should be pruned")
	}
	if f.Prunes("notes") {
		t.Fatal("notes must not be pruned by a file pattern")
	}
}
