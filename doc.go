/*
Package bandersnatch maintains local mirrors of PyPI-compatible package
indexes.

The verification engine re-fetches authoritative per-package metadata,
derives the set of distribution files the mirror legitimately owns, and
garbage-collects everything else, with features including:
  - Concurrent metadata verification with a bounded worker pool
  - Atomic metadata replacement (temp file + rename + fsync)
  - Retry, backoff and per-host circuit breaking on upstream fetches
  - Dry-run reconciliation reports
  - Empty directory pruning after deletions

The main packages are:

	github.com/redbaron4/bandersnatch/internal/pypi    - index metadata parsing and path derivation
	github.com/redbaron4/bandersnatch/internal/verify  - verification, owned-set accumulation and sweeping
	github.com/redbaron4/bandersnatch/cmd/bandersnatch - command-line interface
*/
package bandersnatch
