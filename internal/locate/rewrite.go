package locate

import (
	"fmt"
	"sort"

	"github.com/aidanlsb/pbipkit/internal/guard"
	"github.com/aidanlsb/pbipkit/internal/model"
)

// Rewrite applies the occurrences of one file to text, the content they
// were located in. External references are shielded for the duration of
// the pass and must come back untouched. Edits run back to front so every
// offset stays valid.
func Rewrite(g *guard.Guard, text string, occs []model.Occurrence) (string, error) {
	ordered := make([]model.Occurrence, len(occs))
	copy(ordered, occs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Offset > ordered[j].Offset })

	sh := g.Protect(text)
	out := sh.Text
	limit := len(text)
	for _, occ := range ordered {
		if occ.Offset < 0 || occ.End() > limit {
			return "", fmt.Errorf("%w: %s:%d: occurrence overlaps another edit or runs past the end of the file",
				model.ErrStructural, occ.File, occ.Line)
		}
		if text[occ.Offset:occ.End()] != occ.Text {
			return "", fmt.Errorf("%w: %s:%d: expected %q, found %q (stale plan)",
				model.ErrStructural, occ.File, occ.Line, occ.Text, text[occ.Offset:occ.End()])
		}
		if sh.Guarded(occ.Offset, occ.End()) {
			return "", fmt.Errorf("%w: %s:%d: occurrence lies inside an external reference",
				model.ErrStructural, occ.File, occ.Line)
		}
		start := sh.ToShielded(occ.Offset)
		out = out[:start] + occ.Replacement + out[start+occ.Length:]
		limit = occ.Offset
	}
	return sh.Restore(out)
}
