// Package index builds the registry of tables, columns and measures of a
// project and the reverse map from each table to the files that mention it.
//
// An Index is an immutable snapshot: it keeps the decoded content, parsed
// TMDL documents and report bindings of every file it read, so the locator
// and validator work from exactly the bytes the index was built from.
package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/aidanlsb/pbipkit/internal/dialect"
	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/project"
	"github.com/aidanlsb/pbipkit/internal/safeio"
)

// Source reads project files by root-relative path.
type Source interface {
	Read(rel string) (*safeio.File, error)
}

// DiskSource reads files from the project directory.
type DiskSource struct {
	Layout *project.Layout
}

// Read implements Source.
func (s DiskSource) Read(rel string) (*safeio.File, error) {
	return safeio.ReadFile(s.Layout.Abs(rel))
}

// Table is one declared table.
type Table struct {
	Name     string
	File     string
	Line     int
	Columns  []string
	Measures []string

	// ReferencedBy lists the files, other than File, that mention the table.
	ReferencedBy []string
}

// HasColumn reports whether the table declares column name.
func (t *Table) HasColumn(name string) bool { return contains(t.Columns, name) }

// HasMeasure reports whether the table declares measure name.
func (t *Table) HasMeasure(name string) bool { return contains(t.Measures, name) }

// Duplicate is a second declaration of an already declared table.
type Duplicate struct {
	Name  string
	File  string
	Line  int
	First string
}

// FileEntry is the snapshot of one readable file.
type FileEntry struct {
	Path        string
	Content     *safeio.File
	Fingerprint uint64

	// Doc is set for TMDL files.
	Doc *dialect.Document

	// Bindings and JSONErr are set for report files.
	Bindings []dialect.Binding
	JSONErr  error

	mentions map[string]struct{}
}

// Text returns the decoded content.
func (f *FileEntry) Text() string { return f.Content.Text }

// IsReport reports whether the entry is a report JSON file.
func (f *FileEntry) IsReport() bool { return f.Doc == nil }

// Index is an immutable project snapshot.
type Index struct {
	layout     *project.Layout
	tables     map[string]*Table
	names      []string
	files      map[string]*FileEntry
	paths      []string
	skipped    []model.SkippedFile
	duplicates []Duplicate
}

// Options tune Build.
type Options struct {
	// Workers bounds parallel file parsing. Zero means GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// Build reads every file of layout through src and indexes it. Files that
// cannot be decoded are recorded as skipped rather than failing the build.
// It fails with model.ErrProjectStructure when no table is declared.
func Build(ctx context.Context, layout *project.Layout, src Source, opts Options) (*Index, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	paths := layout.Files()
	entries := make([]*FileEntry, len(paths))
	failures := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, rel := range paths {
		i, rel := i, rel
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := src.Read(rel)
			if err != nil {
				failures[i] = err
				return nil
			}
			entries[i] = parseEntry(rel, content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	idx := &Index{
		layout: layout,
		tables: make(map[string]*Table),
		files:  make(map[string]*FileEntry, len(paths)),
	}
	for i, rel := range paths {
		if failures[i] != nil {
			logger.Warn("skipping unreadable file", "file", rel, "error", failures[i])
			idx.skipped = append(idx.skipped, model.SkippedFile{File: rel, Reason: failures[i].Error()})
			continue
		}
		idx.files[rel] = entries[i]
		idx.paths = append(idx.paths, rel)
	}

	for _, rel := range idx.paths {
		entry := idx.files[rel]
		if entry.Doc != nil {
			idx.declare(entry)
		}
	}
	if len(idx.tables) == 0 {
		return nil, fmt.Errorf("%w: no table declarations under %s", model.ErrProjectStructure, layout.Root)
	}

	for _, rel := range idx.paths {
		entry := idx.files[rel]
		for name := range entry.mentions {
			if t, ok := idx.tables[name]; ok && t.File != rel {
				t.ReferencedBy = append(t.ReferencedBy, rel)
			}
		}
	}
	for _, t := range idx.tables {
		sort.Strings(t.ReferencedBy)
	}

	logger.Debug("index built", "tables", len(idx.tables), "files", len(idx.paths), "skipped", len(idx.skipped))
	return idx, nil
}

func (idx *Index) declare(entry *FileEntry) {
	for _, obj := range entry.Doc.Objects {
		switch obj.Keyword {
		case "table":
			if first, ok := idx.tables[obj.Name]; ok {
				idx.duplicates = append(idx.duplicates, Duplicate{
					Name: obj.Name, File: entry.Path, Line: obj.Line, First: first.File,
				})
				continue
			}
			idx.tables[obj.Name] = &Table{Name: obj.Name, File: entry.Path, Line: obj.Line}
			idx.names = append(idx.names, obj.Name)
		case "column", "measure":
			t, ok := idx.tables[obj.Table]
			if !ok || t.File != entry.Path || obj.Name == "" {
				continue
			}
			if obj.Keyword == "column" {
				t.Columns = append(t.Columns, obj.Name)
			} else {
				t.Measures = append(t.Measures, obj.Name)
			}
		}
	}
	sort.Strings(idx.names)
}

func parseEntry(rel string, content *safeio.File) *FileEntry {
	entry := &FileEntry{
		Path:        rel,
		Content:     content,
		Fingerprint: safeio.Fingerprint(content.Raw),
		mentions:    make(map[string]struct{}),
	}
	if project.IsReportFile(rel) {
		entry.Bindings, entry.JSONErr = dialect.ScanJSON(content.Text)
		for _, b := range entry.Bindings {
			entry.mention(b.Entity)
		}
		return entry
	}

	entry.Doc = dialect.ParseTMDL(content.Text)
	text := content.Text
	for _, obj := range entry.Doc.Objects {
		switch obj.Keyword {
		case "table", "ref table", "perspectiveTable", "tablePermission":
			entry.mention(obj.Name)
		case "annotation":
			if obj.Name == "PBI_QueryOrder" && obj.ValueStart >= 0 {
				for _, s := range QueryOrder(text, obj) {
					entry.mention(s.Name)
				}
			}
		}
	}
	for _, p := range entry.Doc.Properties {
		switch p.Key {
		case "fromTable", "toTable":
			entry.mention(dialect.ParseName(text, p.ValueStart, p.ValueEnd, false).Name)
		case "fromColumn", "toColumn":
			if table, _, ok := dialect.ParseQualified(text, p.ValueStart, p.ValueEnd); ok {
				entry.mention(table.Name)
			}
		}
	}
	for _, expr := range entry.Doc.Expressions {
		if expr.Dialect == dialect.ExprM {
			for _, tok := range dialect.ScanM(text, expr.Start, expr.End) {
				entry.mention(tok.Name)
			}
			continue
		}
		for _, tok := range dialect.ScanDAX(text, expr.Start, expr.End) {
			entry.mention(tok.Name)
			entry.mention(tok.Table)
		}
	}
	return entry
}

func (f *FileEntry) mention(name string) {
	if name != "" {
		f.mentions[name] = struct{}{}
	}
}

// Mentions reports whether the file mentions table name anywhere.
func (f *FileEntry) Mentions(name string) bool {
	_, ok := f.mentions[name]
	return ok
}

// QueryString is one string of a PBI_QueryOrder annotation value.
type QueryString struct {
	Name  string
	Start int
	End   int
}

// QueryOrder returns the JSON string literals of a PBI_QueryOrder
// annotation, with absolute offsets of each literal including its quotes.
func QueryOrder(text string, obj *dialect.Object) []QueryString {
	var out []QueryString
	i, end := obj.ValueStart, obj.ValueEnd
	for i < end {
		if text[i] != '"' {
			i++
			continue
		}
		j := i + 1
		var b strings.Builder
		for j < end && text[j] != '"' {
			if text[j] == '\\' && j+1 < end {
				j++
			}
			b.WriteByte(text[j])
			j++
		}
		if j >= end {
			break
		}
		out = append(out, QueryString{Name: b.String(), Start: i, End: j + 1})
		i = j + 1
	}
	return out
}

// Layout returns the layout the index was built from.
func (idx *Index) Layout() *project.Layout { return idx.layout }

// Table looks up a table by exact name.
func (idx *Index) Table(name string) (*Table, bool) {
	t, ok := idx.tables[name]
	return t, ok
}

// Tables returns every table sorted by name.
func (idx *Index) Tables() []*Table {
	out := make([]*Table, 0, len(idx.names))
	for _, n := range idx.names {
		out = append(out, idx.tables[n])
	}
	return out
}

// MeasureTable returns the table declaring measure name.
func (idx *Index) MeasureTable(name string) (string, bool) {
	for _, n := range idx.names {
		if idx.tables[n].HasMeasure(name) {
			return n, true
		}
	}
	return "", false
}

// File returns the snapshot of a readable file.
func (idx *Index) File(rel string) (*FileEntry, bool) {
	f, ok := idx.files[rel]
	return f, ok
}

// Files returns the readable files in sorted order.
func (idx *Index) Files() []string { return idx.paths }

// Skipped returns the files that could not be read or decoded.
func (idx *Index) Skipped() []model.SkippedFile { return idx.skipped }

// Duplicates returns repeated table declarations.
func (idx *Index) Duplicates() []Duplicate { return idx.duplicates }

// Fingerprints returns the raw-content fingerprint of each given file.
func (idx *Index) Fingerprints(files []string) map[string]uint64 {
	out := make(map[string]uint64, len(files))
	for _, rel := range files {
		if f, ok := idx.files[rel]; ok {
			out[rel] = f.Fingerprint
		}
	}
	return out
}

// CandidateFiles returns the files that can hold occurrences of an
// identifier of kind owned by (or, for tables, named) table. Tables and
// columns are limited to the declaring and referencing files; measures can
// be referenced unqualified from any file.
func (idx *Index) CandidateFiles(kind model.Kind, table string) []string {
	if kind == model.KindMeasure {
		return idx.paths
	}
	t, ok := idx.tables[table]
	if !ok {
		return nil
	}
	out := append([]string{t.File}, t.ReferencedBy...)
	sort.Strings(out)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
