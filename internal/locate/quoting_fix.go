package locate

import (
	"github.com/google/uuid"

	"github.com/aidanlsb/pbipkit/internal/dialect"
	"github.com/aidanlsb/pbipkit/internal/model"
)

// QuotingFixPlan returns a plan that quotes every bare DAX reference to a
// known table whose name requires quoting, such as `Date[Year]` or
// `COUNTROWS(Calendar)`. Nothing is renamed.
func (l *Locator) QuotingFixPlan() *model.RenamePlan {
	plan := &model.RenamePlan{
		ID:         uuid.NewString(),
		Scope:      model.TableScope(),
		QuotingFix: true,
	}

	var occs []model.Occurrence
	for _, rel := range l.idx.Files() {
		entry, ok := l.idx.File(rel)
		if !ok || entry.IsReport() {
			continue
		}
		s := l.newFileScan(entry)
		for _, expr := range entry.Doc.Expressions {
			if expr.Dialect != dialect.ExprDAX {
				continue
			}
			for _, tok := range dialect.ScanDAX(s.text, expr.Start, expr.End) {
				if !l.NeedsFix(tok) {
					continue
				}
				s.add(tok.Start, tok.End, model.DialectDAX, model.UsageReference, model.FormBare, l.rules.Quote(tok.Name))
			}
		}
		occs = append(occs, s.out...)
	}

	plan.Occurrences = sortOccurrences(occs)
	plan.Fingerprints = l.idx.Fingerprints(plan.Files())
	plan.Skipped = l.idx.Skipped()
	return plan
}

// NeedsFix reports whether tok is a bare reference to a known table that
// must be quoted.
func (l *Locator) NeedsFix(tok dialect.DAXToken) bool {
	if tok.Kind != dialect.DAXTable || tok.Form != model.FormBare {
		return false
	}
	if _, ok := l.idx.Table(tok.Name); !ok {
		return false
	}
	return l.rules.NeedsQuoting(tok.Name)
}
