package verify

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

// snapshotTree collects every regular file under the web root.
func snapshotTree(t *testing.T, storage *Storage) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(storage.Dir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func ownedWithoutBlack2018() *OwnedSet {
	owned := NewOwnedSet()
	owned.Add("packages/8f/1a/6969/bandersnatch-0.6.9.tar.gz")
	owned.Add("packages/8f/1a/1aa0/black-2019.6.9.tar.gz")
	return owned
}

func TestSweepDryRunThenDelete(t *testing.T) {
	t.Parallel()

	storage := newTestMirror(t)
	owned := ownedWithoutBlack2018()
	ctx := context.Background()

	before := snapshotTree(t, storage)

	// Dry run must not mutate anything.
	report := NewRunReport()
	sweeper := NewSweeper(storage, 2)
	if err := sweeper.Sweep(ctx, owned, true, report); err != nil {
		t.Fatal(err)
	}
	if got := report.Count(StatusSkippedDryRun); got != 1 {
		t.Errorf("skipped-dry-run count = %d, want 1", got)
	}
	if got := report.Count(StatusDeleted); got != 0 {
		t.Errorf("deleted count after dry run = %d, want 0", got)
	}

	after := snapshotTree(t, storage)
	if len(before) != len(after) {
		t.Errorf("dry run changed the tree: %d files before, %d after", len(before), len(after))
	}

	// Real sweep removes exactly the unowned file.
	report = NewRunReport()
	if err := sweeper.Sweep(ctx, owned, false, report); err != nil {
		t.Fatal(err)
	}
	if got := report.Count(StatusDeleted); got != 1 {
		t.Errorf("deleted count = %d, want 1", got)
	}

	unownedPath := filepath.Join(storage.Dir(), "packages", "8f", "1a", "6969", "black-2018.6.9.tar.gz")
	if exists(t, unownedPath) {
		t.Error("unowned file still exists after sweep")
	}
	for _, rel := range []string{
		"packages/8f/1a/6969/bandersnatch-0.6.9.tar.gz",
		"packages/8f/1a/1aa0/black-2019.6.9.tar.gz",
	} {
		if !exists(t, filepath.Join(storage.Dir(), filepath.FromSlash(rel))) {
			t.Errorf("owned file %s was deleted", rel)
		}
	}
}

func TestSweepIdempotent(t *testing.T) {
	t.Parallel()

	storage := newTestMirror(t)
	owned := ownedWithoutBlack2018()
	ctx := context.Background()
	sweeper := NewSweeper(storage, 2)

	report := NewRunReport()
	if err := sweeper.Sweep(ctx, owned, false, report); err != nil {
		t.Fatal(err)
	}
	if got := report.Count(StatusDeleted); got != 1 {
		t.Fatalf("first sweep deleted %d files, want 1", got)
	}

	report = NewRunReport()
	if err := sweeper.Sweep(ctx, owned, false, report); err != nil {
		t.Fatal(err)
	}
	if got := report.Count(StatusDeleted); got != 0 {
		t.Errorf("second sweep deleted %d files, want 0", got)
	}
	if got := report.Count(StatusDeleteFailed); got != 0 {
		t.Errorf("second sweep reported %d delete failures, want 0", got)
	}
}

func TestSweepPrunesEmptyDirectories(t *testing.T) {
	t.Parallel()

	storage := newTestMirror(t)
	ctx := context.Background()

	// Own nothing under 6969 so both of its files go away and the shard
	// directory becomes prunable.
	owned := NewOwnedSet()
	owned.Add("packages/8f/1a/1aa0/black-2019.6.9.tar.gz")

	report := NewRunReport()
	if err := NewSweeper(storage, 2).Sweep(ctx, owned, false, report); err != nil {
		t.Fatal(err)
	}
	if got := report.Count(StatusDeleted); got != 2 {
		t.Fatalf("deleted count = %d, want 2", got)
	}

	if exists(t, filepath.Join(storage.Dir(), "packages", "8f", "1a", "6969")) {
		t.Error("empty shard directory was not pruned")
	}
	if !exists(t, filepath.Join(storage.Dir(), "packages", "8f", "1a")) {
		t.Error("non-empty parent directory was pruned")
	}
	if !exists(t, filepath.Join(storage.Dir(), "packages")) {
		t.Error("packages root was pruned")
	}
}

func TestSweepDeleteFailureIsolation(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	t.Parallel()

	storage := newTestMirror(t)

	// Nothing is owned, so all three files are up for deletion.  The
	// read-only shard directory makes its two deletions fail; the third
	// file must still go and the sweep itself must not error.
	locked := filepath.Join(storage.Dir(), "packages", "8f", "1a", "6969")
	if err := os.Chmod(locked, 0555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0755) })

	report := NewRunReport()
	if err := NewSweeper(storage, 2).Sweep(context.Background(), NewOwnedSet(), false, report); err != nil {
		t.Fatal(err)
	}

	if got := report.Count(StatusDeleteFailed); got != 2 {
		t.Errorf("delete-failed count = %d, want 2", got)
	}
	if got := report.Count(StatusDeleted); got != 1 {
		t.Errorf("deleted count = %d, want 1", got)
	}
	if exists(t, filepath.Join(storage.Dir(), "packages", "8f", "1a", "1aa0", "black-2019.6.9.tar.gz")) {
		t.Error("deletable unowned file survived the sweep")
	}
}

func TestSweepEnumerationFailureIsolation(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	t.Parallel()

	storage := newTestMirror(t)

	// An unreadable shard directory fails enumeration.  The failure is
	// recorded for the directory and the walk continues into the
	// remaining shards.
	unreadable := filepath.Join(storage.Dir(), "packages", "8f", "1a", "6969")
	if err := os.Chmod(unreadable, 0000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(unreadable, 0750) })

	report := NewRunReport()
	if err := NewSweeper(storage, 2).Sweep(context.Background(), NewOwnedSet(), false, report); err != nil {
		t.Fatal(err)
	}

	var failed []string
	for _, o := range report.Outcomes() {
		if o.Status == StatusDeleteFailed {
			failed = append(failed, o.Name)
		}
	}
	if len(failed) != 1 || failed[0] != "packages/8f/1a/6969" {
		t.Errorf("delete-failed outcomes = %v, want the unreadable shard directory", failed)
	}
	if got := report.Count(StatusDeleted); got != 1 {
		t.Errorf("deleted count = %d, want 1", got)
	}
	if exists(t, filepath.Join(storage.Dir(), "packages", "8f", "1a", "1aa0", "black-2019.6.9.tar.gz")) {
		t.Error("file in a readable shard survived the sweep")
	}
}

func TestSweepMissingPackagesDir(t *testing.T) {
	t.Parallel()

	webDir := t.TempDir()
	storage, err := NewStorage(webDir)
	if err != nil {
		t.Fatal(err)
	}

	report := NewRunReport()
	if err := NewSweeper(storage, 2).Sweep(context.Background(), NewOwnedSet(), false, report); err != nil {
		t.Fatal(err)
	}
	if got := len(report.Outcomes()); got != 0 {
		t.Errorf("outcomes = %d, want 0", got)
	}
}
