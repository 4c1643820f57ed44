// Package locate finds every occurrence of a table, column or measure
// across the TMDL, DAX, M and report JSON of a project and turns a rename
// request into a RenamePlan.
package locate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/aidanlsb/pbipkit/internal/dialect"
	"github.com/aidanlsb/pbipkit/internal/guard"
	"github.com/aidanlsb/pbipkit/internal/index"
	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/quoting"
)

// Locator resolves identifiers against one index snapshot.
type Locator struct {
	idx   *index.Index
	guard *guard.Guard
	rules *quoting.Rules
}

// New returns a Locator. Nil guard or rules fall back to the defaults.
func New(idx *index.Index, g *guard.Guard, rules *quoting.Rules) *Locator {
	if g == nil {
		g = guard.New()
	}
	if rules == nil {
		rules = quoting.Default()
	}
	return &Locator{idx: idx, guard: g, rules: rules}
}

// target is the identifier being searched for and the name it becomes.
type target struct {
	kind    model.Kind
	table   string
	name    string
	newName string
}

// Identifier describes name with its quoting decision.
func (l *Locator) Identifier(kind model.Kind, table, name string) model.Identifier {
	id := model.Identifier{Kind: kind, Name: name, Table: table}
	if kind == model.KindTable {
		id.Table = ""
	}
	id.NeedsQuoting = l.rules.NeedsQuoting(name)
	id.Quoted = l.rules.Quote(name)
	return id
}

// Plan builds the plan that renames oldName to newName within scope.
// Renaming to the same name returns the NoOp plan without consulting the
// index.
func (l *Locator) Plan(scope model.Scope, oldName, newName string) (*model.RenamePlan, error) {
	plan := &model.RenamePlan{
		ID:    uuid.NewString(),
		Scope: scope,
		Old:   l.Identifier(scope.Kind, scope.Table, oldName),
		New:   l.Identifier(scope.Kind, scope.Table, newName),
	}
	if oldName == newName {
		return plan, nil
	}
	if err := checkName(oldName); err != nil {
		return nil, err
	}
	if err := checkName(newName); err != nil {
		return nil, err
	}

	t, err := l.resolve(scope, oldName, newName)
	if err != nil {
		return nil, err
	}
	plan.Scope.Table = scopeTable(scope.Kind, t)
	plan.Old.Table, plan.New.Table = plan.Scope.Table, plan.Scope.Table

	occs := l.find(t)
	plan.Occurrences = occs
	plan.Fingerprints = l.idx.Fingerprints(plan.Files())
	plan.Skipped = l.idx.Skipped()
	return plan, nil
}

// Find returns the occurrences of an existing identifier without planning a
// rename. Replacements in the result are empty.
func (l *Locator) Find(scope model.Scope, name string) ([]model.Occurrence, error) {
	t, err := l.resolve(scope, name, "")
	if err != nil {
		return nil, err
	}
	occs := l.find(t)
	for i := range occs {
		occs[i].Replacement = ""
	}
	return occs, nil
}

func scopeTable(kind model.Kind, t target) string {
	if kind == model.KindTable {
		return ""
	}
	return t.table
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name must not be empty", model.ErrStructural)
	}
	if strings.ContainsAny(name, "\r\n") {
		return fmt.Errorf("%w: name %q must not contain line breaks", model.ErrStructural, name)
	}
	return nil
}

// resolve checks that the old identifier exists and the new one is free.
// An empty newName skips the collision check.
func (l *Locator) resolve(scope model.Scope, oldName, newName string) (target, error) {
	t := target{kind: scope.Kind, table: scope.Table, name: oldName, newName: newName}

	switch scope.Kind {
	case model.KindTable:
		t.table = oldName
		if _, ok := l.idx.Table(oldName); !ok {
			return t, fmt.Errorf("%w: table %q: %w", model.ErrReference, oldName, model.ErrNotFound)
		}
		if _, ok := l.idx.Table(newName); ok && newName != "" {
			return t, fmt.Errorf("%w: table %q already exists", model.ErrStructural, newName)
		}

	case model.KindColumn:
		tbl, ok := l.idx.Table(scope.Table)
		if !ok {
			return t, fmt.Errorf("%w: table %q: %w", model.ErrReference, scope.Table, model.ErrNotFound)
		}
		if !tbl.HasColumn(oldName) {
			return t, fmt.Errorf("%w: column %s[%s]: %w", model.ErrReference, scope.Table, oldName, model.ErrNotFound)
		}
		if newName != "" && (tbl.HasColumn(newName) || tbl.HasMeasure(newName)) {
			return t, fmt.Errorf("%w: %s[%s] already exists", model.ErrStructural, scope.Table, newName)
		}

	case model.KindMeasure:
		owner, ok := l.idx.MeasureTable(oldName)
		if !ok || (scope.Table != "" && owner != scope.Table) {
			return t, fmt.Errorf("%w: measure [%s]: %w", model.ErrReference, oldName, model.ErrNotFound)
		}
		t.table = owner
		tbl, _ := l.idx.Table(owner)
		if _, taken := l.idx.MeasureTable(newName); newName != "" && (taken || tbl.HasColumn(newName)) {
			return t, fmt.Errorf("%w: [%s] already exists", model.ErrStructural, newName)
		}

	default:
		return t, fmt.Errorf("%w: unknown identifier kind %q", model.ErrStructural, scope.Kind)
	}
	return t, nil
}

func (l *Locator) find(t target) []model.Occurrence {
	var occs []model.Occurrence
	for _, rel := range l.idx.CandidateFiles(t.kind, t.table) {
		entry, ok := l.idx.File(rel)
		if !ok {
			continue
		}
		occs = append(occs, l.scanFile(entry, t)...)
	}
	return sortOccurrences(occs)
}

// sortOccurrences dedupes by (file, offset) and orders by file ascending,
// offset descending.
func sortOccurrences(occs []model.Occurrence) []model.Occurrence {
	sort.SliceStable(occs, func(i, j int) bool {
		if occs[i].File != occs[j].File {
			return occs[i].File < occs[j].File
		}
		return occs[i].Offset > occs[j].Offset
	})
	out := occs[:0]
	for i, occ := range occs {
		if i > 0 && occ.File == occs[i-1].File && occ.Offset == occs[i-1].Offset {
			continue
		}
		out = append(out, occ)
	}
	return out
}

// fileScan collects occurrences for one file, dropping anything inside an
// external reference.
type fileScan struct {
	entry    *index.FileEntry
	text     string
	lines    *dialect.Lines
	shielded *guard.Shielded
	out      []model.Occurrence
}

func (l *Locator) newFileScan(entry *index.FileEntry) *fileScan {
	return &fileScan{
		entry:    entry,
		text:     entry.Text(),
		lines:    dialect.NewLines(entry.Text()),
		shielded: l.guard.Protect(entry.Text()),
	}
}

func (s *fileScan) add(start, end int, d model.Dialect, usage model.Usage, form model.Form, replacement string) {
	if start < 0 || end <= start || s.shielded.Guarded(start, end) {
		return
	}
	line, col := s.lines.Position(start)
	s.out = append(s.out, model.Occurrence{
		File:        s.entry.Path,
		Offset:      start,
		Length:      end - start,
		Line:        line,
		Column:      col,
		Dialect:     d,
		Usage:       usage,
		Form:        form,
		Text:        s.text[start:end],
		Replacement: replacement,
	})
}

func (l *Locator) scanFile(entry *index.FileEntry, t target) []model.Occurrence {
	s := l.newFileScan(entry)
	if entry.IsReport() {
		l.scanJSON(s, t)
	} else {
		l.scanDeclarations(s, t)
		l.scanExpressions(s, t)
	}
	return s.out
}

func (l *Locator) scanDeclarations(s *fileScan, t target) {
	doc := s.entry.Doc
	tmdlName := l.rules.Quote(t.newName)

	for _, obj := range doc.Objects {
		if obj.NameStart < 0 {
			continue
		}
		usage := model.UsageReference
		match := false
		switch t.kind {
		case model.KindTable:
			switch obj.Keyword {
			case "table":
				match, usage = obj.Name == t.name, model.UsageDeclaration
			case "ref table", "perspectiveTable", "tablePermission":
				match = obj.Name == t.name
			case "partition":
				match, usage = obj.Name == t.name && obj.Table == t.name, model.UsageDeclaration
			case "annotation":
				if obj.Name == "PBI_QueryOrder" && obj.ValueStart >= 0 {
					for _, q := range index.QueryOrder(s.text, obj) {
						if q.Name == t.name {
							s.add(q.Start, q.End, model.DialectDeclaration, model.UsageReference, model.FormJSONString, dialect.EncodeJSONString(t.newName))
						}
					}
				}
			}
		case model.KindColumn:
			switch obj.Keyword {
			case "column":
				match, usage = obj.Name == t.name && obj.Table == t.table, model.UsageDeclaration
			case "perspectiveColumn", "columnPermission":
				match = obj.Name == t.name && obj.Table == t.table
			}
		case model.KindMeasure:
			switch obj.Keyword {
			case "measure":
				match, usage = obj.Name == t.name && obj.Table == t.table, model.UsageDeclaration
			case "perspectiveMeasure":
				match = obj.Name == t.name && obj.Table == t.table
			}
		}
		if match {
			s.add(obj.NameStart, obj.NameEnd, model.DialectDeclaration, usage, model.FormTMDLName, tmdlName)
		}
	}

	for _, p := range doc.Properties {
		switch p.Key {
		case "fromTable", "toTable":
			if t.kind != model.KindTable {
				continue
			}
			name := dialect.ParseName(s.text, p.ValueStart, p.ValueEnd, false)
			if name.Name == t.name {
				s.add(name.Start, name.End, model.DialectDeclaration, model.UsageReference, model.FormTMDLName, tmdlName)
			}
		case "fromColumn", "toColumn":
			table, column, ok := dialect.ParseQualified(s.text, p.ValueStart, p.ValueEnd)
			if !ok || table.Name != t.table {
				continue
			}
			switch {
			case t.kind == model.KindTable:
				s.add(table.Start, table.End, model.DialectDeclaration, model.UsageReference, model.FormTMDLName, tmdlName)
			case t.kind == model.KindColumn && column.Name == t.name:
				s.add(column.Start, column.End, model.DialectDeclaration, model.UsageReference, model.FormTMDLName, tmdlName)
			}
		case "sortByColumn", "column":
			if t.kind != model.KindColumn || p.Table() != t.table {
				continue
			}
			if p.Key == "column" && (p.Owner == nil || p.Owner.Keyword != "level") {
				continue
			}
			name := dialect.ParseName(s.text, p.ValueStart, p.ValueEnd, false)
			if name.Name == t.name {
				s.add(name.Start, name.End, model.DialectDeclaration, model.UsageReference, model.FormTMDLName, tmdlName)
			}
		}
	}
}

func (l *Locator) scanExpressions(s *fileScan, t target) {
	for _, expr := range s.entry.Doc.Expressions {
		if expr.Dialect == dialect.ExprM {
			if t.kind != model.KindTable {
				continue
			}
			for _, tok := range dialect.ScanM(s.text, expr.Start, expr.End) {
				if tok.Name == t.name {
					s.add(tok.Start, tok.End, model.DialectQuery, model.UsageReference, tok.Form, quoting.MIdentifier(t.newName))
				}
			}
			continue
		}

		for _, tok := range dialect.ScanDAX(s.text, expr.Start, expr.End) {
			if l.daxMatches(tok, expr, t) {
				replacement := l.rules.Quote(t.newName)
				if tok.Kind == dialect.DAXColumn {
					replacement = quoting.Bracket(t.newName)
				}
				s.add(tok.Start, tok.End, model.DialectDAX, model.UsageReference, tok.Form, replacement)
			}
		}
	}
}

func (l *Locator) daxMatches(tok dialect.DAXToken, expr dialect.Expression, t target) bool {
	switch t.kind {
	case model.KindTable:
		return tok.Kind == dialect.DAXTable && tok.Name == t.name
	case model.KindColumn:
		if tok.Kind != dialect.DAXColumn || tok.Name != t.name {
			return false
		}
		return tok.Table == t.table || (tok.Table == "" && expr.Table == t.table)
	case model.KindMeasure:
		if tok.Kind != dialect.DAXColumn || tok.Name != t.name {
			return false
		}
		if tok.Table != "" {
			return tok.Table == t.table
		}
		// An unqualified [X] in a table that has a column X is that column.
		if home, ok := l.idx.Table(expr.Table); ok && home.HasColumn(t.name) {
			return false
		}
		return true
	}
	return false
}

func (l *Locator) scanJSON(s *fileScan, t target) {
	for _, b := range s.entry.Bindings {
		switch b.Kind {
		case dialect.BindEntity:
			if t.kind == model.KindTable && b.Entity == t.name {
				s.add(b.Start, b.End, model.DialectJSON, model.UsageReference, model.FormJSONString, dialect.EncodeJSONString(t.newName))
			}
		case dialect.BindProperty:
			if t.kind != model.KindTable && b.Entity == t.table && b.Field == t.name {
				s.add(b.Start, b.End, model.DialectJSON, model.UsageReference, model.FormJSONString, dialect.EncodeJSONString(t.newName))
			}
		case dialect.BindQueryRef:
			switch {
			case t.kind == model.KindTable && b.Entity == t.name:
				s.add(b.Start, b.End, model.DialectJSON, model.UsageReference, model.FormJSONDotted, dialect.EncodeJSONString(b.Rewrite(t.newName, b.Field)))
			case t.kind != model.KindTable && b.Entity == t.table && b.Field == t.name:
				s.add(b.Start, b.End, model.DialectJSON, model.UsageReference, model.FormJSONDotted, dialect.EncodeJSONString(b.Rewrite(b.Entity, t.newName)))
			}
		}
	}
}
