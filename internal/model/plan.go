package model

// SkippedFile is a file excluded from a plan because it could not be read.
type SkippedFile struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// RenamePlan is the complete, ordered set of edits for one rename. It is
// built by the locator and consumed read-only by a transaction.
type RenamePlan struct {
	ID    string     `json:"id"`
	Scope Scope      `json:"scope"`
	Old   Identifier `json:"old"`
	New   Identifier `json:"new"`

	// Occurrences are ordered by file ascending, then offset descending.
	Occurrences []Occurrence `json:"occurrences"`

	// Fingerprints maps each touched file to a hash of the content the
	// occurrences were computed from.
	Fingerprints map[string]uint64 `json:"fingerprints,omitempty"`

	// Skipped lists files that could not be decoded and were left out.
	Skipped []SkippedFile `json:"skipped,omitempty"`

	// QuotingFix marks plans that only change how names are written.
	QuotingFix bool `json:"quoting_fix,omitempty"`
}

// NoOp reports whether applying the plan can change nothing.
func (p *RenamePlan) NoOp() bool {
	if p == nil {
		return true
	}
	if p.QuotingFix {
		return len(p.Occurrences) == 0
	}
	return p.Old.Name == p.New.Name
}

// Files returns the distinct files touched by the plan in plan order.
func (p *RenamePlan) Files() []string {
	var files []string
	seen := make(map[string]struct{})
	for _, occ := range p.Occurrences {
		if _, ok := seen[occ.File]; ok {
			continue
		}
		seen[occ.File] = struct{}{}
		files = append(files, occ.File)
	}
	return files
}

// ByFile groups occurrences per file, preserving descending offset order.
func (p *RenamePlan) ByFile() map[string][]Occurrence {
	out := make(map[string][]Occurrence)
	for _, occ := range p.Occurrences {
		out[occ.File] = append(out[occ.File], occ)
	}
	return out
}
