package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter selects the documents discovery returns.
type Filter struct {
	// Extensions are lower-case and dot-prefixed; empty accepts none.
	Extensions []string
	// Exclude holds doublestar patterns matched against slash-separated
	// paths relative to the walked root.
	Exclude []string
}

// Validate checks the exclude patterns.
func (f Filter) Validate() error {
	for _, pattern := range f.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	return nil
}

// Accepts reports whether rel, a slash-separated path relative to its root,
// passes the filter.
func (f Filter) Accepts(rel string) bool {
	ext := strings.ToLower(path.Ext(rel))
	if !slices.Contains(f.Extensions, ext) {
		return false
	}
	return !f.excluded(rel)
}

func (f Filter) excluded(rel string) bool {
	for _, pattern := range f.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Prunes reports whether everything under the directory rel is excluded.
// The probe name cannot occur in a real path, so only patterns that match
// any child of rel succeed.
func (f Filter) Prunes(rel string) bool {
	return f.excluded(rel + "/\x00")
}

// Discover expands roots into the sorted list of document paths they name.
// A root may be a file, which is returned when its extension is accepted, or
// a directory, which is walked recursively.
func Discover(roots []string, filter Filter) ([]string, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", root, err)
		}
		if !info.IsDir() {
			if filter.Accepts(filepath.Base(abs)) {
				add(abs)
			}
			continue
		}
		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				if errors.Is(walkErr, fs.ErrPermission) && p != abs {
					return nil
				}
				return walkErr
			}
			if p == abs {
				return nil
			}
			rel, err := filepath.Rel(abs, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				if filter.Prunes(rel) {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() && filter.Accepts(rel) {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	slices.Sort(out)
	return out, nil
}
