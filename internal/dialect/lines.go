// Package dialect holds one boundary-aware scanner per textual dialect of a
// Power BI project: TMDL declarations, DAX expressions, M query code and
// report JSON bindings. Scanners report absolute byte offsets into the file
// content they were given and never modify it.
package dialect

import (
	"sort"
	"unicode/utf8"

	"github.com/aidanlsb/pbipkit/internal/quoting"
)

// Lines maps byte offsets to 1-based line and column numbers.
type Lines struct {
	starts []int
}

// NewLines indexes the line starts of content.
func NewLines(content string) *Lines {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &Lines{starts: starts}
}

// Position returns the 1-based line and byte column of off.
func (l *Lines) Position(off int) (line, col int) {
	i := sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > off }) - 1
	if i < 0 {
		i = 0
	}
	return i + 1, off - l.starts[i] + 1
}

// Position is a one-off convenience for NewLines(content).Position(off).
func Position(content string, off int) (line, col int) {
	line, col = 1, 1
	for i := 0; i < off && i < len(content); i++ {
		if content[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

func identStartAt(content string, pos, end int) bool {
	if pos >= end {
		return false
	}
	r, _ := utf8.DecodeRuneInString(content[pos:end])
	return quoting.IsIdentStart(r)
}

// wordEnd returns the end of the identifier characters starting at pos.
func wordEnd(content string, pos, end int, dots bool) int {
	for pos < end {
		if dots && content[pos] == '.' {
			pos++
			continue
		}
		r, size := utf8.DecodeRuneInString(content[pos:end])
		if !quoting.IsIdentPart(r) {
			break
		}
		pos += size
	}
	return pos
}
