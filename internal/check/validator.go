// Package check validates a project snapshot: delimiter balance in DAX,
// quoting of table accessors, orphaned table and column references,
// duplicate declarations and malformed files.
package check

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aidanlsb/pbipkit/internal/dialect"
	"github.com/aidanlsb/pbipkit/internal/guard"
	"github.com/aidanlsb/pbipkit/internal/index"
	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/quoting"
)

// Mode selects how much of the project a run covers.
type Mode int

const (
	// ModeBounded stops once MaxErrors findings have been emitted.
	ModeBounded Mode = iota
	// ModeExhaustive reports every finding.
	ModeExhaustive
)

func (m Mode) String() string {
	if m == ModeExhaustive {
		return "exhaustive"
	}
	return "bounded"
}

// DefaultMaxErrors is the bounded-mode budget when none is configured.
const DefaultMaxErrors = 50

// Options controls a validation run.
type Options struct {
	Mode      Mode
	MaxErrors int

	// Files restricts the run to these files. Nil means every file.
	Files []string
}

// OrphanedRef aggregates references to one missing table or column.
type OrphanedRef struct {
	Table      string   // Missing table, or the table of a missing column
	Column     string   // Empty for a missing table
	UsageCount int      // Number of references found
	Locations  []string // file:line locations (up to 5)
}

// Validator checks files of one index snapshot. A Validator collects
// orphan summaries across calls; create one per run.
type Validator struct {
	idx     *index.Index
	rules   *quoting.Rules
	guard   *guard.Guard
	orphans map[string]*OrphanedRef
}

// NewValidator creates a new validator. Nil rules use the defaults.
func NewValidator(idx *index.Index, rules *quoting.Rules) *Validator {
	if rules == nil {
		rules = quoting.Default()
	}
	return &Validator{
		idx:     idx,
		rules:   rules,
		guard:   guard.New(),
		orphans: make(map[string]*OrphanedRef),
	}
}

// Orphans returns the orphaned references seen so far, sorted.
func (v *Validator) Orphans() []*OrphanedRef {
	out := make([]*OrphanedRef, 0, len(v.orphans))
	for _, o := range v.orphans {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Column < out[j].Column
	})
	return out
}

// Validate runs the checks file by file in path order. Findings are sorted
// by file, line, column and code. In bounded mode the result holds at most
// MaxErrors findings.
func (v *Validator) Validate(ctx context.Context, opts Options) ([]model.Finding, error) {
	budget := opts.MaxErrors
	if opts.Mode == ModeBounded && budget <= 0 {
		budget = DefaultMaxErrors
	}

	var findings []model.Finding
	for _, rel := range v.files(opts.Files) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, f := range v.ValidateFile(rel) {
			if opts.Mode == ModeBounded && len(findings) >= budget {
				return findings, nil
			}
			findings = append(findings, f)
		}
	}
	return findings, nil
}

// files returns the sorted union of readable and skipped files, limited to
// subset when one is given.
func (v *Validator) files(subset []string) []string {
	var all []string
	if subset != nil {
		all = append(all, subset...)
	} else {
		all = append(all, v.idx.Files()...)
		for _, s := range v.idx.Skipped() {
			all = append(all, s.File)
		}
	}
	sort.Strings(all)

	out := all[:0]
	for i, f := range all {
		if i == 0 || f != all[i-1] {
			out = append(out, f)
		}
	}
	return out
}

// ValidateFile returns the sorted findings for one file.
func (v *Validator) ValidateFile(rel string) []model.Finding {
	var findings []model.Finding

	entry, ok := v.idx.File(rel)
	if !ok {
		for _, s := range v.idx.Skipped() {
			if s.File == rel {
				findings = append(findings, model.Finding{
					File:     rel,
					Category: model.CategoryIO,
					Code:     model.CodeUnreadableFile,
					Severity: model.SeverityWarning,
					Message:  fmt.Sprintf("File could not be read: %s", s.Reason),
				})
			}
		}
		return findings
	}

	fc := &fileCheck{
		v:        v,
		entry:    entry,
		text:     entry.Text(),
		lines:    dialect.NewLines(entry.Text()),
		shielded: v.guard.Protect(entry.Text()),
	}
	if entry.IsReport() {
		fc.checkJSON()
	} else {
		fc.checkDeclarations()
		fc.checkExpressions()
	}

	sort.SliceStable(fc.findings, func(i, j int) bool {
		a, b := fc.findings[i], fc.findings[j]
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.Code < b.Code
	})
	return fc.findings
}

type fileCheck struct {
	v        *Validator
	entry    *index.FileEntry
	text     string
	lines    *dialect.Lines
	shielded *guard.Shielded
	findings []model.Finding
}

func (c *fileCheck) add(off int, cat model.Category, code string, sev model.Severity, msg, suggestion string) {
	line, col := c.lines.Position(off)
	c.findings = append(c.findings, model.Finding{
		File:       c.entry.Path,
		Line:       line,
		Column:     col,
		Category:   cat,
		Code:       code,
		Severity:   sev,
		Message:    msg,
		Suggestion: suggestion,
	})
}

func (c *fileCheck) orphanTable(off int, name string) {
	c.add(off, model.CategoryReference, model.CodeOrphanedTableReference, model.SeverityError,
		fmt.Sprintf("Reference to undeclared table '%s'", name), "")
	c.track(off, name, "")
}

func (c *fileCheck) orphanColumn(off int, table, column string) {
	c.add(off, model.CategoryReference, model.CodeOrphanedColumnReference, model.SeverityError,
		fmt.Sprintf("Reference to undeclared column %s[%s]", quoting.Quote(table), column), "")
	c.track(off, table, column)
}

func (c *fileCheck) track(off int, table, column string) {
	key := table + "\x00" + column
	o, ok := c.v.orphans[key]
	if !ok {
		o = &OrphanedRef{Table: table, Column: column}
		c.v.orphans[key] = o
	}
	o.UsageCount++
	if len(o.Locations) < 5 {
		line, _ := c.lines.Position(off)
		o.Locations = append(o.Locations, fmt.Sprintf("%s:%d", c.entry.Path, line))
	}
}

// hasField reports whether table declares a column or measure named field.
func (c *fileCheck) hasField(table *index.Table, field string) bool {
	return table.HasColumn(field) || table.HasMeasure(field)
}

func (c *fileCheck) checkDeclarations() {
	doc := c.entry.Doc
	idx := c.v.idx

	hasTable := false
	for _, obj := range doc.Objects {
		switch obj.Keyword {
		case "table":
			hasTable = true
		case "ref table":
			if _, ok := idx.Table(obj.Name); !ok && obj.NameStart >= 0 {
				c.orphanTable(obj.NameStart, obj.Name)
			}
		}
	}
	if !hasTable && strings.Contains("/"+c.entry.Path, "/tables/") {
		c.add(0, model.CategoryStructural, model.CodeMissingTableHeader, model.SeverityWarning,
			"Table definition file declares no table", "")
	}

	for _, dup := range idx.Duplicates() {
		if dup.File != c.entry.Path {
			continue
		}
		off := 0
		for _, obj := range doc.Objects {
			if obj.Keyword == "table" && obj.Line == dup.Line {
				off = obj.NameStart
			}
		}
		c.add(off, model.CategoryStructural, model.CodeDuplicateTable, model.SeverityError,
			fmt.Sprintf("Table '%s' is already declared in %s", dup.Name, dup.First), "")
	}

	for _, p := range doc.Properties {
		switch p.Key {
		case "fromTable", "toTable":
			name := dialect.ParseName(c.text, p.ValueStart, p.ValueEnd, false)
			if _, ok := idx.Table(name.Name); !ok && name.Name != "" {
				c.orphanTable(name.Start, name.Name)
			}
		case "fromColumn", "toColumn":
			table, column, ok := dialect.ParseQualified(c.text, p.ValueStart, p.ValueEnd)
			if !ok {
				continue
			}
			t, found := idx.Table(table.Name)
			switch {
			case !found:
				c.orphanTable(table.Start, table.Name)
			case !t.HasColumn(column.Name):
				c.orphanColumn(column.Start, table.Name, column.Name)
			}
		}
	}
}

func (c *fileCheck) checkExpressions() {
	idx := c.v.idx
	for _, expr := range c.entry.Doc.Expressions {
		if expr.Dialect != dialect.ExprDAX {
			continue
		}
		if problem := dialect.BalanceDAX(c.text, expr.Start, expr.End); problem != nil {
			c.add(problem.Offset, model.CategoryStructural, model.CodeUnbalancedDelimiter, model.SeverityError,
				"DAX expression: "+problem.Message, "")
		}

		for _, tok := range dialect.ScanDAX(c.text, expr.Start, expr.End) {
			if c.shielded.Guarded(tok.Start, tok.End) {
				continue
			}
			switch tok.Kind {
			case dialect.DAXTable:
				t, ok := idx.Table(tok.Name)
				if !ok {
					// A bare argument may be a name the scanner cannot
					// resolve; only quoted names and accessors are certain.
					if tok.Form == model.FormSingleQuoted || tok.Accessor {
						c.orphanTable(tok.Start, tok.Name)
					}
					continue
				}
				if tok.Form == model.FormBare && c.v.rules.NeedsQuoting(t.Name) {
					quoted := c.v.rules.Quote(t.Name)
					c.add(tok.Start, model.CategoryQuoting, model.CodeUnquotedTableInDAX, model.SeverityWarning,
						fmt.Sprintf("Table %s must be quoted when used in DAX", t.Name), quoted)
				}
			case dialect.DAXColumn:
				if tok.Table == "" {
					continue
				}
				if t, ok := idx.Table(tok.Table); ok && !c.hasField(t, tok.Name) {
					c.orphanColumn(tok.Start, tok.Table, tok.Name)
				}
			}
		}
	}
}

func (c *fileCheck) checkJSON() {
	if err := c.entry.JSONErr; err != nil {
		off := 0
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			off = int(syntax.Offset)
		}
		if off > len(c.text) {
			off = len(c.text)
		}
		c.add(off, model.CategoryStructural, model.CodeInvalidJSON, model.SeverityError,
			"Malformed JSON: "+err.Error(), "")
		return
	}

	idx := c.v.idx
	for _, b := range c.entry.Bindings {
		if c.shielded.Guarded(b.Start, b.End) {
			continue
		}
		switch b.Kind {
		case dialect.BindEntity:
			if _, ok := idx.Table(b.Entity); !ok {
				c.orphanTable(b.Start, b.Entity)
			}
		case dialect.BindProperty:
			if t, ok := idx.Table(b.Entity); ok && !c.hasField(t, b.Field) {
				c.orphanColumn(b.Start, b.Entity, b.Field)
			}
		}
	}
}
