// Package discovery locates raw demo files under a data root and derives
// the default processed-output path from the active selection filters.
//
// Raw demos are laid out as
// <raw>/<environment>/<source>/<furniture>/<randomness>/<outcome>/<name>.demo.zst;
// every path segment is a selectable dimension.
package discovery

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/robopack/robopack/internal/episode"
)

// Filter selects demos by metadata encoded in their path. An empty slice
// matches every value of that dimension.
type Filter struct {
	Environments []string
	Furniture    []string
	Sources      []string
	Randomness   []string
	Outcomes     []string
}

// Demo is one raw demo file: its filesystem path and its provenance-relative
// path under the raw root (slash-separated, recorded in the output store).
type Demo struct {
	Path   string
	Source string
}

// FindDemos walks the raw root and returns every demo matching the filter,
// sorted by source path for a deterministic input list. Files that do not
// sit at the expected layout depth are ignored.
func FindDemos(rawRoot string, filter Filter) ([]Demo, error) {
	absRoot, err := filepath.Abs(rawRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving raw root: %w", err)
	}
	if _, err := os.Stat(absRoot); err != nil {
		return nil, fmt.Errorf("raw root: %w", err)
	}

	var demos []Demo
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible entries
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), episode.Extension) {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		source := filepath.ToSlash(rel)

		parts := strings.Split(source, "/")
		if len(parts) != 6 {
			return nil
		}
		env, src, furniture, randomness, outcome := parts[0], parts[1], parts[2], parts[3], parts[4]

		if !match(env, filter.Environments) ||
			!match(src, filter.Sources) ||
			!match(furniture, filter.Furniture) ||
			!match(randomness, filter.Randomness) ||
			!match(outcome, filter.Outcomes) {
			return nil
		}

		demos = append(demos, Demo{Path: path, Source: source})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", absRoot, err)
	}

	sort.Slice(demos, func(i, j int) bool { return demos[i].Source < demos[j].Source })
	return demos, nil
}

func match(value string, allowed []string) bool {
	return len(allowed) == 0 || slices.Contains(allowed, value)
}

// ProcessedPath derives the default output location for a selection:
// <dataRoot>/processed/image/<furniture>/<source>/<randomness>/<outcome>/data.cds,
// with "all" standing in for unconstrained dimensions.
func ProcessedPath(dataRoot string, filter Filter) string {
	return filepath.Join(dataRoot, "processed", "image",
		firstOrAll(filter.Furniture),
		firstOrAll(filter.Sources),
		firstOrAll(filter.Randomness),
		firstOrAll(filter.Outcomes),
		"data.cds")
}

func firstOrAll(values []string) string {
	if len(values) == 0 {
		return "all"
	}
	return values[0]
}
