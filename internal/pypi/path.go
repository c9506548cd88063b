package pypi

import (
	"path"
	"strings"
)

// ConvertURLToPath maps a distribution file URL to its location relative
// to the mirror web root.  Upstream URLs already encode the sharded
// layout (packages/<two hex>/<two hex>/<hash prefix>/<filename>), so the
// local path is simply the URL path with the leading slash removed.
//
// The result must be byte-identical to the path used when the file was
// first stored.  The function is pure and total; callers are responsible
// for passing well-formed URLs.
func ConvertURLToPath(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		url = url[i+3:]
	}
	if i := strings.IndexByte(url, '/'); i >= 0 {
		return url[i+1:]
	}
	return ""
}

// JSONPath returns the canonical metadata file location for a package,
// relative to the mirror web root.
func JSONPath(pkg string) string {
	return path.Join("json", pkg)
}

// LegacyJSONPath returns the legacy metadata location kept as a symlink
// to the canonical file, relative to the mirror web root.
func LegacyJSONPath(pkg string) string {
	return path.Join("pypi", pkg, "json")
}

// NormalizeName lowers a project name and collapses separator runs as
// described in PEP 503.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ReplaceAll(name, ".", "-")
	return name
}
