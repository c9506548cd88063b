package verify

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

// Overrides carries command-line settings that take precedence over the
// configuration file.  Zero/nil fields leave the configured value in
// effect.
type Overrides struct {
	Workers int
	Delete  *bool
	DryRun  *bool
}

// Run re-verifies every package known to the local metadata store and,
// if deletion is enabled, garbage-collects files no longer referenced by
// the authoritative metadata.
//
// The sweep starts only after the verify producer has returned, so it
// always observes a complete owned set; the two phases never overlap.
func Run(ctx context.Context, config *Config, overrides Overrides, quiet bool) (*RunReport, error) {
	if err := config.Check(); err != nil {
		return nil, errors.Wrap(err, "verify.Run")
	}

	workers := resolveWorkers(config.Workers, overrides.Workers)
	deleteFiles := config.Delete
	if overrides.Delete != nil {
		deleteFiles = *overrides.Delete
	}
	dryRun := config.DryRun
	if overrides.DryRun != nil {
		dryRun = *overrides.DryRun
	}

	storage, err := NewStorage(filepath.Join(filepath.Clean(config.Directory), "web"))
	if err != nil {
		return nil, errors.Wrap(err, "verify.Run")
	}

	names, err := storage.ListPackages()
	if err != nil {
		return nil, errors.Wrap(err, "verify.Run")
	}

	timeout := time.Duration(config.Timeout * float64(time.Second))
	master := NewMaster(config.Master.URL, timeout)
	defer master.Close()
	verifier := NewVerifier(master, storage, master.MetadataURL)

	slog.Info("verify starts",
		"packages", len(names), "workers", workers,
		"delete", deleteFiles, "dry_run", dryRun)

	report := NewRunReport()
	owned := NewProducer(verifier, workers, quiet).Run(ctx, names, report)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	// The producer has joined all workers; owned is complete and closed
	// for writes from here on.
	if deleteFiles {
		sweeper := NewSweeper(storage, workers)
		if err := sweeper.Sweep(ctx, owned, dryRun, report); err != nil {
			return report, errors.Wrap(err, "verify.Run")
		}
	}

	slog.Info("verify ends")
	return report, nil
}

// resolveWorkers picks the effective worker count: explicit command-line
// override first, then the configured value, then the built-in default.
func resolveWorkers(configured, override int) int {
	if override > 0 {
		return override
	}
	if configured > 0 {
		return configured
	}
	return defaultWorkers
}
