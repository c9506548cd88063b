package verify

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/redbaron4/bandersnatch/internal/pypi"
)

// validatePath validates that a path is safe for use within the storage
// directory.  It rejects parent directory references and absolute paths.
func validatePath(path string) error {
	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return errors.New("unsafe path (contains directory traversal): " + path)
	}
	if filepath.IsAbs(cleanPath) {
		return errors.New("unsafe path (absolute path not allowed): " + path)
	}

	return nil
}

// Storage manages the mirror web tree: per-package metadata documents
// under json/ (with legacy symlinks under pypi/<pkg>/json) and
// distribution files under packages/.
//
// Metadata writes go through a temporary file and an atomic rename, so
// concurrent readers of an existing document never observe a torn write.
type Storage struct {
	dir string
}

// NewStorage constructs Storage.
//
// dir must be an absolute path to an existing directory (the web root).
func NewStorage(dir string) (*Storage, error) {
	if !filepath.IsAbs(dir) {
		return nil, errors.New("none absolute: " + dir)
	}

	dir = filepath.Clean(dir)
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsDir() {
		return nil, errors.New("not a directory: " + dir)
	}

	return &Storage{dir: dir}, nil
}

// Dir returns the web root directory of the Storage.
func (s *Storage) Dir() string {
	return s.dir
}

// FullPath resolves a web-relative path against the storage root.
func (s *Storage) FullPath(p string) (string, error) {
	if err := validatePath(p); err != nil {
		return "", errors.Wrap(err, "FullPath")
	}
	return filepath.Join(s.dir, filepath.Clean(p)), nil
}

// ListPackages returns the package names known to the local metadata
// store, i.e. the entries of the json/ directory.
func (s *Storage) ListPackages() ([]string, error) {
	dirEntries, err := os.ReadDir(filepath.Join(s.dir, "json"))
	switch {
	case os.IsNotExist(err):
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "ListPackages")
	}

	var names []string
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}
		names = append(names, dirEntry.Name())
	}
	return names, nil
}

// StoreMetadata atomically replaces the metadata document for a package
// and keeps the legacy pypi/<pkg>/json symlink pointing at it.
//
// It reports whether the stored content changed.
func (s *Storage) StoreMetadata(pkg string, data []byte) (bool, error) {
	rel := pypi.JSONPath(pkg)
	if err := validatePath(rel); err != nil {
		return false, errors.Wrap(err, "StoreMetadata")
	}
	target := filepath.Join(s.dir, filepath.Clean(rel))

	old, err := os.ReadFile(target)
	changed := err != nil || !bytes.Equal(old, data)

	d := filepath.Dir(target)
	if err := os.MkdirAll(d, 0750); err != nil {
		return false, errors.Wrap(err, "StoreMetadata")
	}

	f, err := os.CreateTemp(d, "_tmp")
	if err != nil {
		return false, errors.Wrap(err, "StoreMetadata")
	}
	tmpName := f.Name()
	defer os.Remove(tmpName)

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return false, errors.Wrap(err, "StoreMetadata: "+pkg)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return false, errors.Wrap(err, "StoreMetadata: "+pkg)
	}
	if err := f.Close(); err != nil {
		return false, errors.Wrap(err, "StoreMetadata: "+pkg)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return false, errors.Wrap(err, "StoreMetadata: "+pkg)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return false, errors.Wrap(err, "StoreMetadata: "+pkg)
	}
	if err := DirSync(d); err != nil {
		return false, errors.Wrap(err, "StoreMetadata: "+pkg)
	}

	if err := s.linkLegacyJSON(pkg, target); err != nil {
		return false, errors.Wrap(err, "StoreMetadata: "+pkg)
	}

	return changed, nil
}

// linkLegacyJSON replaces the legacy symlink atomically, the same way
// the mirror publishes its top-level symlinks: create under a temporary
// name, then rename over the destination.
func (s *Storage) linkLegacyJSON(pkg, target string) error {
	rel := pypi.LegacyJSONPath(pkg)
	if err := validatePath(rel); err != nil {
		return err
	}
	link := filepath.Join(s.dir, filepath.Clean(rel))
	d := filepath.Dir(link)

	if err := os.MkdirAll(d, 0750); err != nil {
		return err
	}

	if existing, err := os.Readlink(link); err == nil && existing == target {
		return nil
	}

	tname := link + ".tmp"
	os.Remove(tname)
	if err := os.Symlink(target, tname); err != nil {
		return err
	}
	if err := os.Rename(tname, link); err != nil {
		return err
	}
	return DirSync(d)
}
