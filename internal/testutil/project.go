// Package testutil provides reusable test utilities for pbipkit tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// ModelDir and ReportDir are where the builder puts definition files.
const (
	ModelDir  = "Sample.SemanticModel/definition"
	ReportDir = "Sample.Report/definition"
)

// TestProject represents a temporary PBIP project for testing.
type TestProject struct {
	Path  string
	t     testing.TB
	files map[string][]byte
}

// NewTestProject creates a new test project builder.
// Call Build() to create the actual project directory.
func NewTestProject(t testing.TB) *TestProject {
	t.Helper()
	return &TestProject{
		t: t,
		files: map[string][]byte{
			"Sample.pbip": []byte(`{"version": "1.0", "artifacts": [{"report": {"path": "Sample.Report"}}]}`),
		},
	}
}

// WithFile adds a file. The path is relative to the project root.
func (p *TestProject) WithFile(path, content string) *TestProject {
	p.files[path] = []byte(content)
	return p
}

// WithRawFile adds a file with exact bytes, for encoding tests.
func (p *TestProject) WithRawFile(path string, content []byte) *TestProject {
	p.files[path] = content
	return p
}

// WithTable adds tables/<name>.tmdl to the semantic model.
func (p *TestProject) WithTable(name, tmdl string) *TestProject {
	return p.WithFile(ModelDir+"/tables/"+name+".tmdl", tmdl)
}

// WithModel sets model.tmdl.
func (p *TestProject) WithModel(tmdl string) *TestProject {
	return p.WithFile(ModelDir+"/model.tmdl", tmdl)
}

// WithRelationships sets relationships.tmdl.
func (p *TestProject) WithRelationships(tmdl string) *TestProject {
	return p.WithFile(ModelDir+"/relationships.tmdl", tmdl)
}

// WithVisual adds pages/<page>/visuals/<visual>/visual.json to the report.
func (p *TestProject) WithVisual(page, visual, json string) *TestProject {
	return p.WithFile(ReportDir+"/pages/"+page+"/visuals/"+visual+"/visual.json", json)
}

// Build creates the project directory and all configured files.
func (p *TestProject) Build() *TestProject {
	p.t.Helper()
	p.Path = p.t.TempDir()
	for path, content := range p.files {
		p.writeFile(path, content)
	}
	return p
}

func (p *TestProject) writeFile(relPath string, content []byte) {
	p.t.Helper()
	fullPath := filepath.Join(p.Path, filepath.FromSlash(relPath))
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		p.t.Fatalf("failed to create directory %s: %v", dir, err)
	}
	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		p.t.Fatalf("failed to write file %s: %v", fullPath, err)
	}
}

// ReadFile reads a project file as a string.
func (p *TestProject) ReadFile(relPath string) string {
	p.t.Helper()
	return string(p.ReadRaw(relPath))
}

// ReadRaw reads a project file as bytes.
func (p *TestProject) ReadRaw(relPath string) []byte {
	p.t.Helper()
	content, err := os.ReadFile(filepath.Join(p.Path, filepath.FromSlash(relPath)))
	if err != nil {
		p.t.Fatalf("failed to read file %s: %v", relPath, err)
	}
	return content
}

// Overwrite replaces a file after Build, simulating an outside edit.
func (p *TestProject) Overwrite(relPath, content string) {
	p.t.Helper()
	p.writeFile(relPath, []byte(content))
}

// Snapshot returns the bytes of every file under the project root, keyed by
// slash-separated relative path. Directories named skip are left out.
func (p *TestProject) Snapshot(skip ...string) map[string][]byte {
	p.t.Helper()
	out := make(map[string][]byte)
	err := filepath.WalkDir(p.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			for _, s := range skip {
				if d.Name() == s {
					return filepath.SkipDir
				}
			}
			return nil
		}
		rel, err := filepath.Rel(p.Path, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil {
		p.t.Fatalf("failed to snapshot project: %v", err)
	}
	return out
}
