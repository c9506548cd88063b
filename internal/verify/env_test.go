package verify

import (
	"os"
	"path/filepath"
	"testing"
)

// testDist describes one distribution file placed in a test mirror.
type testDist struct {
	pkg      string
	filename string
	contents string
	url      string
}

var testDists = []testDist{
	{
		pkg:      "bandersnatch",
		filename: "bandersnatch-0.6.9.tar.gz",
		contents: "69",
		url:      "https://test.pypi.org/packages/8f/1a/6969/bandersnatch-0.6.9.tar.gz",
	},
	{
		pkg:      "black",
		filename: "black-2018.6.9.tar.gz",
		contents: "69",
		url:      "https://test.pypi.org/packages/8f/1a/6969/black-2018.6.9.tar.gz",
	},
	{
		pkg:      "black",
		filename: "black-2019.6.9.tar.gz",
		contents: "1469",
		url:      "https://test.pypi.org/packages/8f/1a/1aa0/black-2019.6.9.tar.gz",
	},
}

// newTestMirror builds a mirror web tree containing metadata stubs for
// the bandersnatch and black packages and their distribution files, and
// returns a Storage rooted at it.
func newTestMirror(t *testing.T) *Storage {
	t.Helper()

	webDir := filepath.Join(t.TempDir(), "web")
	for _, sub := range []string{"json", "packages", "pypi", "simple"} {
		if err := os.MkdirAll(filepath.Join(webDir, sub), 0750); err != nil {
			t.Fatal(err)
		}
	}

	seen := make(map[string]bool)
	for _, dist := range testDists {
		if !seen[dist.pkg] {
			seen[dist.pkg] = true
			if err := os.WriteFile(filepath.Join(webDir, "json", dist.pkg), []byte("{}"), 0644); err != nil {
				t.Fatal(err)
			}
		}

		full := filepath.Join(webDir, "packages", "8f", "1a", shardOf(dist.url), dist.filename)
		if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(dist.contents), 0644); err != nil {
			t.Fatal(err)
		}
	}

	storage, err := NewStorage(webDir)
	if err != nil {
		t.Fatal(err)
	}
	return storage
}

func shardOf(url string) string {
	// URLs in testDists are .../packages/8f/1a/<shard>/<filename>.
	dir := filepath.Base(filepath.Dir(url))
	return dir
}

func exists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	return err == nil
}
