package pypi

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Metadata is the per-package JSON document served by the package index.
// Only the release listing is needed for mirror reconciliation; the rest
// of the document is ignored on decode.
type Metadata struct {
	Releases map[string][]DistFile `json:"releases"`
}

// DistFile describes one distribution file within a release.
type DistFile struct {
	Filename string  `json:"filename"`
	URL      string  `json:"url"`
	Digests  Digests `json:"digests"`
	Size     int64   `json:"size"`
}

// Digests holds the content digests reported for a distribution file.
type Digests struct {
	SHA256 string `json:"sha256"`
}

// ParseMetadata decodes a per-package metadata document.
func ParseMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "pypi.ParseMetadata")
	}
	return &m, nil
}

// Files returns every distribution file across all releases.
// The order follows Go's map iteration and carries no meaning.
func (m *Metadata) Files() []DistFile {
	var files []DistFile
	for _, fl := range m.Releases {
		files = append(files, fl...)
	}
	return files
}
