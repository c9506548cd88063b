package verify

import "sync"

// Status classifies the outcome of verifying one package or sweeping one
// file.
type Status string

const (
	// StatusOK means the package metadata was re-fetched and unchanged.
	StatusOK Status = "ok"
	// StatusUpdated means the re-fetched metadata differed from the
	// stored copy.
	StatusUpdated Status = "updated"
	// StatusFetchFailed means the metadata could not be fetched; the
	// package contributes nothing to the owned set for this run.
	StatusFetchFailed Status = "fetch-failed"
	// StatusStoreFailed means the metadata was fetched but could not be
	// written to the local store.  The package's files still count as
	// owned.
	StatusStoreFailed Status = "store-failed"
	// StatusDeleted means an unowned file was removed.
	StatusDeleted Status = "deleted"
	// StatusDeleteFailed means removing an unowned file failed.
	StatusDeleteFailed Status = "delete-failed"
	// StatusSkippedDryRun means an unowned file was left in place
	// because the run was a dry run.
	StatusSkippedDryRun Status = "skipped-dry-run"
)

// Outcome records the result for a single package or file.
type Outcome struct {
	// Name is a package name for verify outcomes and a path relative to
	// the web root for sweep outcomes.
	Name   string
	Status Status
	Err    error
}

// RunReport accumulates outcomes across a reconciliation run.
// Add is safe for concurrent use.
type RunReport struct {
	mu       sync.Mutex
	outcomes []Outcome
}

// NewRunReport constructs an empty RunReport.
func NewRunReport() *RunReport {
	return &RunReport{}
}

// Add records one outcome.
func (r *RunReport) Add(name string, status Status, err error) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, Outcome{Name: name, Status: status, Err: err})
	r.mu.Unlock()
}

// Outcomes returns a copy of all recorded outcomes.
func (r *RunReport) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Count returns the number of outcomes with the given status.
func (r *RunReport) Count(status Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Summary returns per-status outcome counts.
func (r *RunReport) Summary() map[Status]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := make(map[Status]int)
	for _, o := range r.outcomes {
		sum[o.Status]++
	}
	return sum
}
