package verify

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Sweeper removes distribution files that are absent from the owned set.
type Sweeper struct {
	storage *Storage
	workers int
}

// NewSweeper constructs a Sweeper deleting with at most workers
// concurrent filesystem operations.
func NewSweeper(storage *Storage, workers int) *Sweeper {
	if workers < 1 {
		workers = 1
	}
	return &Sweeper{
		storage: storage,
		workers: workers,
	}
}

// Sweep walks the packages tree once and deletes every regular file not
// present in owned.  With dryRun set, intended deletions are recorded as
// skipped-dry-run and nothing is mutated.
//
// owned must be complete: callers guarantee that every verify worker has
// finished before Sweep is invoked.  Per-path failures, including
// enumeration errors such as an unreadable shard directory, are recorded
// as delete-failed and do not abort the sweep of the remaining files.
// Sweeping twice with the same owned set deletes nothing the second time.
func (s *Sweeper) Sweep(ctx context.Context, owned *OwnedSet, dryRun bool, report *RunReport) error {
	root := filepath.Join(s.storage.Dir(), "packages")
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}

	var unowned []string
	// The callback records enumeration errors instead of returning them,
	// so the walk itself cannot fail.
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			rel := s.relPath(path)
			slog.Warn("cannot enumerate path during sweep", "path", rel, "error", err)
			report.Add(rel, StatusDeleteFailed, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if rel := s.relPath(path); !owned.Contains(rel) {
			unowned = append(unowned, rel)
		}
		return nil
	})

	if dryRun {
		for _, rel := range unowned {
			slog.Info("would delete unowned file", "path", rel)
			report.Add(rel, StatusSkippedDryRun, nil)
		}
		return nil
	}

	var group errgroup.Group
	group.SetLimit(s.workers)
	for _, rel := range unowned {
		rel := rel
		group.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			s.deleteFile(root, rel, report)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return errors.Wrap(err, "Sweep")
	}

	slog.Info("sweep stats",
		"deleted", report.Count(StatusDeleted),
		"delete_failed", report.Count(StatusDeleteFailed))
	return nil
}

// relPath converts an absolute path under the web root to the slash-form
// web-relative path used in the owned set and the report.
func (s *Sweeper) relPath(path string) string {
	rel, err := filepath.Rel(s.storage.Dir(), path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// deleteFile removes one unowned file and prunes parent directories left
// empty, stopping at (and never removing) the packages root.
func (s *Sweeper) deleteFile(root, rel string, report *RunReport) {
	full := filepath.Join(s.storage.Dir(), filepath.FromSlash(rel))

	err := os.Remove(full)
	switch {
	case os.IsNotExist(err):
		// Already gone; a concurrent run got there first.
		return
	case err != nil:
		slog.Warn("failed to delete unowned file", "path", rel, "error", err)
		report.Add(rel, StatusDeleteFailed, err)
		return
	}

	slog.Debug("deleted unowned file", "path", rel)
	report.Add(rel, StatusDeleted, nil)

	for d := filepath.Dir(full); d != root; d = filepath.Dir(d) {
		// os.Remove refuses non-empty directories; concurrent deletions
		// may also race on the same parent.  Either way, stop pruning.
		if err := os.Remove(d); err != nil {
			return
		}
	}
}
