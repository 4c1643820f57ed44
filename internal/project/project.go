// Package project discovers the files of a Power BI project (PBIP) folder.
//
// A project root holds <Name>.pbip, a <Name>.SemanticModel folder with TMDL
// definitions and a <Name>.Report folder with PBIR JSON. Every path handed
// out by this package has been checked to lie inside the root.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// StateDir holds backups, the transaction journal and the lock file.
const StateDir = ".pbipkit"

// ErrPathOutsideRoot is returned for paths that escape the project root.
var ErrPathOutsideRoot = errors.New("path is outside the project root")

// Layout is the validated file set of a project.
type Layout struct {
	// Root is the absolute project root.
	Root string

	// Name is the project stem, taken from the .pbip file or the root folder.
	Name string

	// ModelFiles are the TMDL files, root-relative and slash separated.
	ModelFiles []string

	// ReportFiles are the report JSON files, root-relative and slash separated.
	ReportFiles []string
}

// Options tune discovery.
type Options struct {
	// SkipDirs are additional absolute directories to leave out, such as a
	// backup directory configured inside the project.
	SkipDirs []string
}

// Discover walks root and returns its layout.
func Discover(root string, opts *Options) (*Layout, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("project not found: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", absRoot)
	}

	skip := make(map[string]struct{})
	if opts != nil {
		for _, d := range opts.SkipDirs {
			if abs, err := filepath.Abs(d); err == nil {
				skip[abs] = struct{}{}
			}
		}
	}

	layout := &Layout{Root: absRoot, Name: filepath.Base(absRoot)}
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			if _, ok := skip[path]; ok {
				return filepath.SkipDir
			}
			switch d.Name() {
			case StateDir, ".git", ".pbi":
				return filepath.SkipDir
			}
			return nil
		}

		if err := ValidateWithinRoot(absRoot, path); err != nil {
			if errors.Is(err, ErrPathOutsideRoot) {
				return nil
			}
			return err
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		switch {
		case strings.HasSuffix(path, ".pbip") && filepath.Dir(path) == absRoot:
			layout.Name = strings.TrimSuffix(d.Name(), ".pbip")
		case strings.HasSuffix(path, ".tmdl"):
			layout.ModelFiles = append(layout.ModelFiles, rel)
		case strings.HasSuffix(path, ".json") && inReport(rel):
			layout.ReportFiles = append(layout.ReportFiles, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(layout.ModelFiles)
	sort.Strings(layout.ReportFiles)
	return layout, nil
}

// inReport reports whether rel lies under a *.Report folder.
func inReport(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasSuffix(part, ".Report") {
			return true
		}
	}
	return false
}

// Files returns model files followed by report files.
func (l *Layout) Files() []string {
	out := make([]string, 0, len(l.ModelFiles)+len(l.ReportFiles))
	out = append(out, l.ModelFiles...)
	return append(out, l.ReportFiles...)
}

// Abs converts a root-relative path to an absolute path.
func (l *Layout) Abs(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}

// StatePath returns the absolute path of the project's state directory.
func (l *Layout) StatePath() string {
	return filepath.Join(l.Root, StateDir)
}

// IsReportFile reports whether rel is one of the report JSON files.
func IsReportFile(rel string) bool {
	return strings.HasSuffix(rel, ".json")
}

// ValidateWithinRoot checks that target resolves to a location inside root.
// Symlinks are resolved on both sides; a target that does not exist yet is
// checked through its parent directory.
func ValidateWithinRoot(root, target string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return err
	}

	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		realRoot = absRoot
	}

	realTarget := resolveExisting(absTarget)

	if realTarget == realRoot {
		return nil
	}
	if !strings.HasPrefix(realTarget, realRoot+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrPathOutsideRoot, target)
	}
	return nil
}

// resolveExisting resolves symlinks in the longest existing prefix of path
// and appends the rest unchanged.
func resolveExisting(path string) string {
	rest := ""
	for cur := path; ; {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(real, rest)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}
