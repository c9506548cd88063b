package verify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/sync/errgroup"

	"github.com/redbaron4/bandersnatch/internal/pypi"
)

// OwnedSet is the set of web-relative file paths sanctioned by the
// authoritative metadata fetched during the current run.
//
// The set is insert-only while verify workers run and must be read only
// after Producer.Run has returned.
type OwnedSet struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// NewOwnedSet constructs an empty OwnedSet.
func NewOwnedSet() *OwnedSet {
	return &OwnedSet{paths: make(map[string]struct{})}
}

// Add inserts a path.  Safe for concurrent use.
func (s *OwnedSet) Add(p string) {
	s.mu.Lock()
	s.paths[p] = struct{}{}
	s.mu.Unlock()
}

// Contains reports whether p is in the set.
func (s *OwnedSet) Contains(p string) bool {
	s.mu.Lock()
	_, ok := s.paths[p]
	s.mu.Unlock()
	return ok
}

// Len returns the number of paths in the set.
func (s *OwnedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}

// Producer fans package names out over a fixed pool of verify workers
// and accumulates the owned set from their results.
type Producer struct {
	verifier *Verifier
	workers  int
	quiet    bool
}

// NewProducer constructs a Producer with the given pool size.
func NewProducer(verifier *Verifier, workers int, quiet bool) *Producer {
	if workers < 1 {
		workers = 1
	}
	return &Producer{
		verifier: verifier,
		workers:  workers,
		quiet:    quiet,
	}
}

// Run verifies every named package and returns the completed owned set.
//
// Each package is consumed by exactly one worker.  Per-package failures
// are recorded in report and never stop sibling workers; only context
// cancellation stops the run early.  Run returns after every worker has
// exited, which is the barrier the sweeper relies on: the returned set
// is complete and no longer written.
func (p *Producer) Run(ctx context.Context, names []string, report *RunReport) *OwnedSet {
	owned := NewOwnedSet()

	queue := make(chan string, len(names))
	for _, name := range names {
		queue <- name
	}
	close(queue)

	var bar *pb.ProgressBar
	if !p.quiet {
		bar = pb.StartNew(len(names))
	}

	var group errgroup.Group
	for i := 0; i < p.workers; i++ {
		group.Go(func() error {
			for name := range queue {
				select {
				case <-ctx.Done():
					return nil
				default:
				}

				files, status, err := p.verifier.Refresh(ctx, name)
				report.Add(name, status, err)
				for _, f := range files {
					owned.Add(pypi.ConvertURLToPath(f.URL))
				}
				if bar != nil {
					bar.Increment()
				}
			}
			return nil
		})
	}
	_ = group.Wait() // workers never return errors; this is the join barrier

	if bar != nil {
		bar.Finish()
	}

	slog.Info("verify stats",
		"packages", len(names),
		"ok", report.Count(StatusOK),
		"updated", report.Count(StatusUpdated),
		"fetch_failed", report.Count(StatusFetchFailed),
		"store_failed", report.Count(StatusStoreFailed),
		"owned_files", owned.Len())
	return owned
}
