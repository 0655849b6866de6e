// Package importer publishes a directory of existing .crate archives into an
// index, applying exclude filtering and checksum-based conflict detection.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kamusis/regindex/internal/ctxlog"
	"github.com/kamusis/regindex/internal/index"
	"github.com/kamusis/regindex/internal/indexerr"
	"github.com/kamusis/regindex/internal/record"
)

// Concurrency bounds the number of archives added at once.
const Concurrency = 4

// Conflict records an archive whose version is already published with a
// different checksum. Nothing is written for it.
type Conflict struct {
	Path     string // archive that was not imported
	Package  string
	Version  string
	Existing string // checksum in the index
	Incoming string // checksum of the archive
}

// Result is returned by ImportDir.
type Result struct {
	Conflicts []Conflict
	Imported  int // archives added to the index
	Skipped   int // archives whose record is already present, same checksum
	Excluded  int // files or directories matched by an exclude pattern
}

// ImportDir walks dir for *.crate files and adds each to root. An archive
// whose version is already present with the same checksum is skipped; a
// different checksum is reported as a conflict. Any other failure stops the
// import and is returned with the archive path.
func ImportDir(ctx context.Context, root *index.Root, dir, indexURL string, excludes []string) (*Result, error) {
	log := ctxlog.FromContext(ctx)
	result := &Result{}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if matchesExclude(filepath.ToSlash(rel), d.IsDir(), excludes) {
			result.Excluded++
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".crate") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return result, indexerr.Wrap(indexerr.IoFailure, err, "cannot walk %s", dir).WithPath(dir, 0)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Concurrency)
	for _, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, conflict, err := importOne(gctx, root, p, indexURL)
			if err != nil {
				return fmt.Errorf("import %s: %w", p, err)
			}
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case imported:
				result.Imported++
			case skipped:
				result.Skipped++
			case conflicted:
				result.Conflicts = append(result.Conflicts, conflict)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	sort.Slice(result.Conflicts, func(i, j int) bool { return result.Conflicts[i].Path < result.Conflicts[j].Path })
	log.Info("imported directory", "path", dir, "imported", result.Imported, "skipped", result.Skipped, "conflicts", len(result.Conflicts))
	return result, nil
}

type outcome int

const (
	imported outcome = iota
	skipped
	conflicted
)

func importOne(ctx context.Context, root *index.Root, path, indexURL string) (outcome, Conflict, error) {
	archive, err := os.ReadFile(path)
	if err != nil {
		return 0, Conflict{}, indexerr.Wrap(indexerr.IoFailure, err, "cannot read archive").WithPath(path, 0)
	}
	_, addErr := index.Add(ctx, root, archive, indexURL, index.AddOptions{})
	if addErr == nil {
		return imported, Conflict{}, nil
	}
	if !errors.Is(addErr, indexerr.ErrDuplicateVersion) {
		return 0, Conflict{}, addErr
	}

	// Add failed before producing a record; rebuild it to compare.
	rec, err := index.Metadata(ctx, archive, indexURL, index.MetadataOptions{})
	if err != nil {
		return 0, Conflict{}, err
	}
	existing, err := root.Store().Read(rec.Name)
	if err != nil {
		return 0, Conflict{}, err
	}
	for _, e := range existing {
		if !record.SameVersion(e.Vers, rec.Vers) {
			continue
		}
		if e.Cksum == rec.Cksum {
			return skipped, Conflict{}, nil
		}
		return conflicted, Conflict{
			Path:     path,
			Package:  rec.Name,
			Version:  rec.Vers,
			Existing: e.Cksum,
			Incoming: rec.Cksum,
		}, nil
	}
	return 0, Conflict{}, addErr
}

// matchesExclude reports whether relPath matches any of the given glob
// patterns. A pattern ending in "/" matches directories only.
func matchesExclude(relPath string, isDir bool, patterns []string) bool {
	name := filepath.Base(relPath)
	for _, pattern := range patterns {
		if dirOnly, ok := strings.CutSuffix(pattern, "/"); ok {
			if !isDir {
				continue
			}
			pattern = dirOnly
		}
		// Match against the full relative path AND just the basename.
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return true
		}
	}
	return false
}
