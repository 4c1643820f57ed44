// Package quoting decides when a model identifier must be delimited and
// produces its canonical written form. Everything here is pure.
package quoting

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Delimiter wraps table names that need quoting in DAX and TMDL.
const Delimiter = '\''

// daxReservedWords are the DAX keywords that cannot appear as bare table names.
var daxReservedWords = []string{
	"AND", "ASC", "AT", "BOOLEAN", "BOTH", "BY", "CALENDAR", "COLUMN",
	"CURRENCY", "DATE", "DATETIME", "DEFINE", "DESC", "DOUBLE", "EVALUATE",
	"FALSE", "FUNCTION", "IN", "INT", "INTEGER", "MEASURE", "MPARAMETER",
	"NONE", "NOT", "OR", "ORDER", "RETURN", "SINGLE", "START", "STRING",
	"TABLE", "TIME", "TRUE", "VAR", "VARIANT",
}

// mKeywords cannot be written as bare M identifiers.
var mKeywords = map[string]struct{}{
	"and": {}, "as": {}, "each": {}, "else": {}, "error": {}, "false": {},
	"if": {}, "in": {}, "is": {}, "let": {}, "meta": {}, "not": {}, "null": {},
	"or": {}, "otherwise": {}, "section": {}, "shared": {}, "then": {},
	"true": {}, "try": {}, "type": {},
}

// Rules holds the reserved-word set used to decide quoting.
type Rules struct {
	reserved map[string]struct{}
}

var defaultRules = NewRules()

// NewRules returns rules for the DAX reserved words plus any extra words.
// Matching is case-insensitive.
func NewRules(extra ...string) *Rules {
	r := &Rules{reserved: make(map[string]struct{}, len(daxReservedWords)+len(extra))}
	for _, w := range daxReservedWords {
		r.reserved[strings.ToUpper(w)] = struct{}{}
	}
	for _, w := range extra {
		w = strings.TrimSpace(w)
		if w != "" {
			r.reserved[strings.ToUpper(w)] = struct{}{}
		}
	}
	return r
}

// Default returns the rules with only the built-in reserved words.
func Default() *Rules { return defaultRules }

// IsReserved reports whether name is a reserved word.
func (r *Rules) IsReserved(name string) bool {
	_, ok := r.reserved[strings.ToUpper(name)]
	return ok
}

// NeedsQuoting reports whether name must be delimited when written as a
// table accessor: it is a reserved word, starts with a digit, or contains
// whitespace or any character other than a letter, digit or underscore.
func (r *Rules) NeedsQuoting(name string) bool {
	if name == "" {
		return false
	}
	first, _ := utf8.DecodeRuneInString(name)
	if unicode.IsDigit(first) {
		return true
	}
	for _, c := range name {
		if !IsIdentPart(c) {
			return true
		}
	}
	return r.IsReserved(name)
}

// Quote returns the canonical form of name: delimited if it needs quoting,
// bare otherwise. Input that is already delimited is unquoted first, so
// Quote(Quote(x)) == Quote(x).
func (r *Rules) Quote(name string) string {
	raw := Unquote(name)
	if !r.NeedsQuoting(raw) {
		return raw
	}
	return string(Delimiter) + strings.ReplaceAll(raw, "'", "''") + string(Delimiter)
}

// Unquote strips the delimiter from a canonical quoted name and undoubles
// embedded quotes. Anything that is not a well-formed quoted name is
// returned unchanged.
func Unquote(s string) string {
	if len(s) < 2 || s[0] != Delimiter || s[len(s)-1] != Delimiter {
		return s
	}
	inner := s[1 : len(s)-1]
	for i := 0; i < len(inner); i++ {
		if inner[i] != Delimiter {
			continue
		}
		if i+1 >= len(inner) || inner[i+1] != Delimiter {
			return s
		}
		i++
	}
	return strings.ReplaceAll(inner, "''", "'")
}

// NeedsQuoting applies the default rules.
func NeedsQuoting(name string) bool { return defaultRules.NeedsQuoting(name) }

// Quote applies the default rules.
func Quote(name string) string { return defaultRules.Quote(name) }

// Bracket writes a column or measure reference: [Name], with ] doubled.
func Bracket(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// Unbracket inverts Bracket. Malformed input is returned unchanged.
func Unbracket(s string) string {
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return s
	}
	return strings.ReplaceAll(s[1:len(s)-1], "]]", "]")
}

// IsIdentStart reports whether c can begin a bare identifier.
func IsIdentStart(c rune) bool {
	return c == '_' || unicode.IsLetter(c)
}

// IsIdentPart reports whether c can continue a bare identifier.
func IsIdentPart(c rune) bool {
	return c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c)
}

// IsMKeyword reports whether word is an M language keyword.
func IsMKeyword(word string) bool {
	_, ok := mKeywords[word]
	return ok
}

// MIdentifier writes name as an M identifier: bare when it is a regular
// identifier, #"..." otherwise.
func MIdentifier(name string) string {
	if isRegularMIdentifier(name) {
		return name
	}
	return `#"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// UnquoteM inverts MIdentifier.
func UnquoteM(s string) string {
	if len(s) >= 3 && strings.HasPrefix(s, `#"`) && strings.HasSuffix(s, `"`) {
		return strings.ReplaceAll(s[2:len(s)-1], `""`, `"`)
	}
	return s
}

func isRegularMIdentifier(name string) bool {
	if name == "" {
		return false
	}
	if _, kw := mKeywords[name]; kw {
		return false
	}
	for i, c := range name {
		switch {
		case i == 0 && !IsIdentStart(c):
			return false
		case c == '.':
			if i == len(name)-1 {
				return false
			}
		case !IsIdentPart(c):
			return false
		}
	}
	return true
}
