package dialect

import (
	"strings"

	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/quoting"
)

// MToken is a possible query reference in M code. Offsets are absolute.
type MToken struct {
	Name  string
	Start int
	End   int
	Form  model.Form
}

type mWord struct {
	MToken
	prev     byte // previous non-space byte, 0 at start
	next     byte // next non-space byte, 0 at end
	afterLet bool
	beforeIn bool
	arrow    bool
	branch   bool // next to then, else or in
}

// ScanM returns the identifiers in content[start:end] that can refer to
// another query: an accessor or lookup target (`Sales[Amount]`,
// `Sales{0}`), a whole function argument or list item, the whole value
// of a step, an operand (`Sales & Returns`) or a branch of if/then/else.
// Let-step names, function parameters and keywords are excluded, as is
// anything inside strings or comments.
func ScanM(content string, start, end int) []MToken {
	words := scanMWords(content, start, end)

	locals := map[string]bool{"_": true}
	for _, w := range words {
		if w.next == '=' && !w.arrow && (w.prev == 0 || w.prev == ',' || w.prev == '[' || w.afterLet) {
			locals[w.Name] = true
		}
	}
	for _, name := range mParameters(content, start, end) {
		locals[name] = true
	}

	var out []MToken
	for _, w := range words {
		if locals[w.Name] {
			continue
		}
		if w.Form == model.FormBare && (quoting.IsMKeyword(w.Name) || strings.Contains(w.Name, ".")) {
			continue
		}
		switch {
		case w.next == '[' || w.next == '{':
		case (w.prev == '(' || w.prev == ',' || w.prev == '{') && (w.next == ')' || w.next == ',' || w.next == '}'):
		case w.prev == '=' && (w.next == ',' || w.next == 0 || w.beforeIn):
		case isMOperator(w.prev) || isMOperator(w.next) || w.branch:
		default:
			continue
		}
		out = append(out, w.MToken)
	}
	return out
}

func scanMWords(content string, start, end int) []mWord {
	var words []mWord
	i := start
	for i < end {
		c := content[i]
		switch {
		case c == '"':
			i = skipMString(content, i+1, end)
		case c == '/' && i+1 < end && content[i+1] == '/':
			for i < end && content[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < end && content[i+1] == '*':
			if j := strings.Index(content[i+2:end], "*/"); j >= 0 {
				i = i + 2 + j + 2
			} else {
				i = end
			}
		case c == '#' && i+1 < end && content[i+1] == '"':
			j := skipMString(content, i+2, end)
			raw := content[i:j]
			words = append(words, newMWord(content, start, end, MToken{
				Name: quoting.UnquoteM(raw), Start: i, End: j, Form: model.FormHashQuoted,
			}))
			i = j
		case c == '#':
			i = wordEnd(content, i+1, end, false)
		case c >= '0' && c <= '9':
			i = wordEnd(content, i, end, true)
		case identStartAt(content, i, end):
			j := wordEnd(content, i, end, true)
			if k := skipSpace(content, j, end); k < end && content[k] == '(' {
				i = j
				continue
			}
			words = append(words, newMWord(content, start, end, MToken{
				Name: content[i:j], Start: i, End: j, Form: model.FormBare,
			}))
			i = j
		default:
			i++
		}
	}
	return words
}

func newMWord(content string, start, end int, tok MToken) mWord {
	w := mWord{MToken: tok}
	p := tok.Start - 1
	for p >= start && isSpace(content[p]) {
		p--
	}
	if p >= start {
		w.prev = content[p]
		w.afterLet = keywordEndsAt(content, start, p, "let")
		w.branch = keywordEndsAt(content, start, p, "then") ||
			keywordEndsAt(content, start, p, "else") ||
			keywordEndsAt(content, start, p, "in")
	}
	k := skipSpace(content, tok.End, end)
	if k < end {
		w.next = content[k]
		w.arrow = content[k] == '=' && k+1 < end && content[k+1] == '>'
		w.beforeIn = keywordStartsAt(content, k, end, "in")
		w.branch = w.branch || keywordStartsAt(content, k, end, "then") || keywordStartsAt(content, k, end, "else")
	}
	return w
}

func isMOperator(c byte) bool {
	switch c {
	case '&', '=', '<', '>', '+', '-', '*', '/':
		return true
	}
	return false
}

// keywordEndsAt reports whether the word ending at content[p] is kw.
func keywordEndsAt(content string, start, p int, kw string) bool {
	q := p - len(kw) + 1
	if q < start || content[q:p+1] != kw {
		return false
	}
	return q == start || !isMWordByte(content[q-1])
}

// keywordStartsAt reports whether the word starting at content[k] is kw.
func keywordStartsAt(content string, k, end int, kw string) bool {
	e := k + len(kw)
	if e > end || content[k:e] != kw {
		return false
	}
	return e == end || !isMWordByte(content[e])
}

func isMWordByte(c byte) bool {
	return c == '_' || c == '.' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func skipMString(content string, i, end int) int {
	for i < end {
		if content[i] == '"' {
			if i+1 < end && content[i+1] == '"' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return end
}

// mParameters returns the parameter names of every `(a, b as table) =>`
// function literal in content[start:end].
func mParameters(content string, start, end int) []string {
	var names []string
	for i := start; i+1 < end; i++ {
		if content[i] != '=' || content[i+1] != '>' {
			continue
		}
		p := i - 1
		for p >= start && isSpace(content[p]) {
			p--
		}
		if p < start || content[p] != ')' {
			continue
		}
		open := strings.LastIndexByte(content[start:p], '(')
		if open < 0 {
			continue
		}
		for _, param := range strings.Split(content[start+open+1:p], ",") {
			fields := strings.Fields(param)
			if len(fields) > 0 && fields[0] == "optional" {
				fields = fields[1:]
			}
			if len(fields) > 0 {
				names = append(names, quoting.UnquoteM(fields[0]))
			}
		}
	}
	return names
}
