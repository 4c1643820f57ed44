package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
)

// AssertFileExists fails the test if the file does not exist.
func (p *TestProject) AssertFileExists(relPath string) {
	p.t.Helper()
	if _, err := os.Stat(filepath.Join(p.Path, filepath.FromSlash(relPath))); os.IsNotExist(err) {
		p.t.Errorf("expected file to exist: %s", relPath)
	}
}

// AssertFileContains fails the test if the file does not contain the substring.
func (p *TestProject) AssertFileContains(relPath, substr string) {
	p.t.Helper()
	content := p.ReadFile(relPath)
	if !strings.Contains(content, substr) {
		p.t.Errorf("expected file %s to contain %q, got:\n%s", relPath, substr, content)
	}
}

// AssertFileNotContains fails the test if the file contains the substring.
func (p *TestProject) AssertFileNotContains(relPath, substr string) {
	p.t.Helper()
	content := p.ReadFile(relPath)
	if strings.Contains(content, substr) {
		p.t.Errorf("expected file %s to not contain %q, got:\n%s", relPath, substr, content)
	}
}

// AssertSnapshotEqual fails the test if any file differs from want, or if
// files were added or removed.
func (p *TestProject) AssertSnapshotEqual(want map[string][]byte, skip ...string) {
	p.t.Helper()
	got := p.Snapshot(skip...)
	for path, content := range want {
		actual, ok := got[path]
		if !ok {
			p.t.Errorf("file removed: %s", path)
			continue
		}
		if !bytes.Equal(actual, content) {
			p.t.Errorf("file changed: %s\nwant:\n%s\ngot:\n%s", path, content, actual)
		}
	}
	for path := range got {
		if _, ok := want[path]; !ok {
			p.t.Errorf("file added: %s", path)
		}
	}
}
