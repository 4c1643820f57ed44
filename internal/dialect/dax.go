package dialect

import (
	"fmt"
	"strings"

	"github.com/aidanlsb/pbipkit/internal/model"
)

// DAXKind distinguishes table and column tokens.
type DAXKind int

const (
	DAXTable DAXKind = iota
	DAXColumn
)

// DAXToken is an identifier reference found in a DAX expression. Offsets
// are absolute offsets into the scanned content.
type DAXToken struct {
	Kind  DAXKind
	Name  string
	Start int
	End   int
	Form  model.Form

	// Table qualifies a column token (`Sales[Amount]`); empty when the
	// column is written unqualified.
	Table string

	// Accessor is set on table tokens followed by a [column].
	Accessor bool
}

// Imbalance describes the first delimiter problem in an expression.
type Imbalance struct {
	Offset  int
	Message string
}

// statementKeywords never name a table even when written bare.
var statementKeywords = map[string]bool{
	"AND": true, "ASC": true, "AT": true, "BY": true, "COLUMN": true,
	"DEFINE": true, "DESC": true, "EVALUATE": true, "FALSE": true,
	"IN": true, "MEASURE": true, "NOT": true, "OR": true, "ORDER": true,
	"RETURN": true, "START": true, "TABLE": true, "TRUE": true, "VAR": true,
}

// ScanDAX returns the table and column tokens in content[start:end].
// Strings and comments are skipped. Bare words count as table references
// only as a column accessor (`Sales[Amount]`) or as a whole function
// argument (`COUNTROWS(Sales)`); variables are never tables.
func ScanDAX(content string, start, end int) []DAXToken {
	tokens, _ := scanDAX(content, start, end)
	return tokens
}

// BalanceDAX reports unterminated strings, names, comments and unbalanced
// parentheses or braces in content[start:end].
func BalanceDAX(content string, start, end int) *Imbalance {
	_, problem := scanDAX(content, start, end)
	return problem
}

func scanDAX(content string, start, end int) ([]DAXToken, *Imbalance) {
	var (
		tokens  []DAXToken
		problem *Imbalance
		opens   []int
		vars    = map[string]bool{}

		qualifier    string
		qualifierAt  = -1
		afterVarWord bool
	)
	fail := func(off int, format string, args ...any) {
		if problem == nil {
			problem = &Imbalance{Offset: off, Message: fmt.Sprintf(format, args...)}
		}
	}

	i := start
	for i < end {
		c := content[i]
		switch {
		case c == '"':
			j := i + 1
			closed := false
			for j < end {
				if content[j] == '"' {
					if j+1 < end && content[j+1] == '"' {
						j += 2
						continue
					}
					closed = true
					j++
					break
				}
				j++
			}
			if !closed {
				fail(i, "unterminated string literal")
			}
			i = j

		case c == '/' && i+1 < end && content[i+1] == '/',
			c == '-' && i+1 < end && content[i+1] == '-':
			for i < end && content[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < end && content[i+1] == '*':
			j := strings.Index(content[i+2:end], "*/")
			if j < 0 {
				fail(i, "unterminated block comment")
				i = end
			} else {
				i = i + 2 + j + 2
			}

		case c == '\'':
			name, j, closed := readDelimited(content, i, end, '\'')
			if !closed {
				fail(i, "unterminated quoted table name")
			}
			tok := DAXToken{Kind: DAXTable, Name: name, Start: i, End: j, Form: model.FormSingleQuoted}
			if k := skipSpace(content, j, end); k < end && content[k] == '[' {
				tok.Accessor = true
				qualifier, qualifierAt = name, k
			}
			tokens = append(tokens, tok)
			i = j

		case c == '[':
			name, j, closed := readDelimited(content, i, end, ']')
			if !closed {
				fail(i, "unterminated column reference")
			}
			tok := DAXToken{Kind: DAXColumn, Name: name, Start: i, End: j, Form: model.FormBracketed}
			if qualifierAt == i {
				tok.Table = qualifier
			}
			tokens = append(tokens, tok)
			i = j

		case c == '(' || c == '{':
			opens = append(opens, i)
			i++

		case c == ')' || c == '}':
			want := byte('(')
			if c == '}' {
				want = '{'
			}
			if len(opens) == 0 || content[opens[len(opens)-1]] != want {
				fail(i, "unexpected %q", c)
			} else {
				opens = opens[:len(opens)-1]
			}
			i++

		case c == ']':
			fail(i, "unexpected ']'")
			i++

		case c >= '0' && c <= '9':
			i = wordEnd(content, i, end, true)

		case identStartAt(content, i, end):
			j := wordEnd(content, i, end, true)
			word := content[i:j]
			upper := strings.ToUpper(word)

			if afterVarWord {
				vars[upper] = true
				afterVarWord = false
				i = j
				continue
			}
			if upper == "VAR" {
				afterVarWord = true
				i = j
				continue
			}

			k := skipSpace(content, j, end)
			next := byte(0)
			if k < end {
				next = content[k]
			}
			switch {
			case next == '(':
				// function call
			case statementKeywords[upper] || vars[upper] || strings.Contains(word, "."):
			case next == '[':
				tokens = append(tokens, DAXToken{Kind: DAXTable, Name: word, Start: i, End: j, Form: model.FormBare, Accessor: true})
				qualifier, qualifierAt = word, k
			case isArgumentPosition(content, start, i, next):
				tokens = append(tokens, DAXToken{Kind: DAXTable, Name: word, Start: i, End: j, Form: model.FormBare})
			}
			i = j

		default:
			i++
		}
	}

	if len(opens) > 0 {
		fail(opens[len(opens)-1], "unclosed %q", content[opens[len(opens)-1]])
	}
	return tokens, problem
}

// isArgumentPosition reports whether the word at pos is a whole argument:
// preceded by start, '(' or ',' and followed by the end, ')' or ','.
func isArgumentPosition(content string, start, pos int, next byte) bool {
	if next != 0 && next != ')' && next != ',' {
		return false
	}
	p := pos - 1
	for p >= start && isSpace(content[p]) {
		p--
	}
	return p < start || content[p] == '(' || content[p] == ','
}

// readDelimited reads a name opened at content[pos] and closed by the
// given delimiter, where a doubled delimiter is an escape.
func readDelimited(content string, pos, end int, close byte) (string, int, bool) {
	var b strings.Builder
	j := pos + 1
	for j < end {
		if content[j] == close {
			if j+1 < end && content[j+1] == close {
				b.WriteByte(close)
				j += 2
				continue
			}
			return b.String(), j + 1, true
		}
		if content[j] == '\n' && close == ']' {
			break
		}
		b.WriteByte(content[j])
		j++
	}
	return b.String(), j, false
}

func skipSpace(content string, pos, end int) int {
	for pos < end && isSpace(content[pos]) {
		pos++
	}
	return pos
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
