package verify

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/redbaron4/bandersnatch/internal/pypi"
)

// Verifier re-fetches the authoritative metadata for single packages and
// keeps the local metadata store in sync.
type Verifier struct {
	fetcher Fetcher
	storage *Storage
	urlFor  func(pkg string) string
}

// NewVerifier constructs a Verifier.
//
// urlFor maps a package name to its metadata document URL; Master's
// MetadataURL method is the production implementation.
func NewVerifier(fetcher Fetcher, storage *Storage, urlFor func(pkg string) string) *Verifier {
	return &Verifier{
		fetcher: fetcher,
		storage: storage,
		urlFor:  urlFor,
	}
}

// Refresh fetches the latest metadata document for pkg, stores it
// atomically, and returns the distribution files it references.
//
// A fetch or parse failure returns StatusFetchFailed with no files: the
// package then contributes nothing to the owned set and its files become
// eligible for deletion this run.  A local store failure after a
// successful fetch returns StatusStoreFailed but still returns the
// parsed files, so a disk hiccup never unprotects valid files.
func (v *Verifier) Refresh(ctx context.Context, pkg string) ([]pypi.DistFile, Status, error) {
	data, err := v.fetcher.Fetch(ctx, v.urlFor(pkg))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			slog.Info("package no longer exists upstream", "package", pkg)
		} else {
			slog.Warn("metadata fetch failed", "package", pkg, "error", err)
		}
		return nil, StatusFetchFailed, err
	}

	metadata, err := pypi.ParseMetadata(data)
	if err != nil {
		slog.Warn("invalid metadata document", "package", pkg, "error", err)
		return nil, StatusFetchFailed, err
	}

	changed, storeErr := v.storage.StoreMetadata(pkg, data)
	if storeErr != nil {
		slog.Warn("metadata store failed", "package", pkg, "error", storeErr)
		return metadata.Files(), StatusStoreFailed, storeErr
	}

	status := StatusOK
	if changed {
		status = StatusUpdated
	}
	return metadata.Files(), status, nil
}
