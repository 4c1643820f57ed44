package dialect

import (
	"strings"
)

// ExprDialect is the language of an embedded expression.
type ExprDialect int

const (
	ExprDAX ExprDialect = iota
	ExprM
)

func (d ExprDialect) String() string {
	if d == ExprM {
		return "m"
	}
	return "dax"
}

// Object is a TMDL object header, e.g. `table 'Sales Data'` or
// `measure Total = SUM(Sales[Amount])`.
type Object struct {
	// Keyword is the object type; "ref table" style references keep both words.
	Keyword string

	// Name is the unquoted name; NameStart/NameEnd span the written form.
	Name      string
	NameStart int
	NameEnd   int
	Quoted    bool

	Line  int
	Level int

	// Table is the table this object belongs to, or that it names when it
	// opens a table context (table, perspectiveTable, tablePermission).
	Table string

	// Mode is the partition type (m, calculated, entity, ...) for partitions.
	Mode string

	// ValueStart/ValueEnd span the single-line value after `=`, if any.
	ValueStart int
	ValueEnd   int

	Parent *Object
}

// Property is a `key: value` line.
type Property struct {
	Key        string
	Value      string
	ValueStart int
	ValueEnd   int
	Line       int
	Owner      *Object
}

// Table returns the table context of the property's owner.
func (p *Property) Table() string {
	if p.Owner == nil {
		return ""
	}
	return p.Owner.Table
}

// Expression is an embedded DAX or M block. Start/End are absolute offsets
// into the document content covering the whole block.
type Expression struct {
	Dialect ExprDialect
	Start   int
	End     int
	Line    int
	Owner   *Object
	Table   string
}

// Document is a parsed TMDL file.
type Document struct {
	Content     string
	Objects     []*Object
	Properties  []*Property
	Expressions []Expression
}

// Tables returns the `table` declarations of the document.
func (d *Document) Tables() []*Object {
	var out []*Object
	for _, o := range d.Objects {
		if o.Keyword == "table" {
			out = append(out, o)
		}
	}
	return out
}

var objectKeywords = map[string]bool{
	"annotation": true, "calculationGroup": true, "calculationItem": true,
	"changedProperty": true, "column": true, "columnPermission": true,
	"culture": true, "database": true, "dataSource": true, "expression": true,
	"extendedProperty": true, "hierarchy": true, "level": true,
	"linguisticMetadata": true, "measure": true, "model": true,
	"partition": true, "perspective": true, "perspectiveColumn": true,
	"perspectiveHierarchy": true, "perspectiveMeasure": true,
	"perspectiveTable": true, "queryGroup": true, "ref": true,
	"relationship": true, "role": true, "table": true,
	"tablePermission": true, "variation": true,
}

// daxHeaders carry a DAX expression after `=` on their header.
var daxHeaders = map[string]bool{
	"measure": true, "column": true, "calculationItem": true,
	"tablePermission": true, "columnPermission": true,
}

// daxProperties carry a DAX expression after `=`.
var daxProperties = map[string]bool{
	"expression": true, "formatStringDefinition": true,
	"detailRowsDefinition": true, "defaultDetailRowsDefinition": true,
	"filterExpression": true,
}

type lineSpan struct {
	start, end int // end excludes the line break
}

func splitLines(content string) []lineSpan {
	var lines []lineSpan
	start := 0
	for i := 0; i <= len(content); i++ {
		if i == len(content) || content[i] == '\n' {
			end := i
			if end > start && content[end-1] == '\r' {
				end--
			}
			lines = append(lines, lineSpan{start, end})
			start = i + 1
		}
	}
	return lines
}

// indentUnit is 1 for tab-indented files and the narrowest space indent
// otherwise, so that levels compare the same either way.
func indentUnit(content string, lines []lineSpan) int {
	unit := 0
	for _, ln := range lines {
		text := content[ln.start:ln.end]
		if strings.HasPrefix(text, "\t") {
			return 1
		}
		n := len(text) - len(strings.TrimLeft(text, " "))
		if n > 0 && n < len(text) && (unit == 0 || n < unit) {
			unit = n
		}
	}
	if unit == 0 {
		return 1
	}
	return unit
}

func indentOf(text string, unit int) (width, level int) {
	tabs, spaces := 0, 0
	for width < len(text) && (text[width] == '\t' || text[width] == ' ') {
		if text[width] == '\t' {
			tabs++
		} else {
			spaces++
		}
		width++
	}
	return width, tabs + spaces/unit
}

// ParseTMDL parses TMDL content into objects, properties and expression
// blocks. It is tolerant: lines it does not understand are skipped.
func ParseTMDL(content string) *Document {
	doc := &Document{Content: content}
	lines := splitLines(content)
	unit := indentUnit(content, lines)

	var stack []*Object
	for i := 0; i < len(lines); i++ {
		ln := lines[i]
		text := content[ln.start:ln.end]
		width, level := indentOf(text, unit)
		body := text[width:]
		if body == "" || strings.HasPrefix(body, "//") {
			continue
		}

		for len(stack) > 0 && stack[len(stack)-1].Level >= level {
			stack = stack[:len(stack)-1]
		}
		var parent *Object
		if len(stack) > 0 {
			parent = stack[len(stack)-1]
		}

		at := ln.start + width
		word, wordEnd := readWord(content, at, ln.end)
		next := skipSpaces(content, wordEnd, ln.end)
		isProp := next < ln.end && content[next] == ':'
		isAssign := next < ln.end && content[next] == '='

		if objectKeywords[word] && !isProp && !isAssign {
			obj, eq := parseObject(content, word, wordEnd, ln.end)
			obj.Line = i + 1
			obj.Level = level
			obj.Parent = parent
			switch obj.Keyword {
			case "table", "perspectiveTable", "tablePermission":
				obj.Table = obj.Name
			default:
				if parent != nil {
					obj.Table = parent.Table
				}
			}
			doc.Objects = append(doc.Objects, obj)
			stack = append(stack, obj)

			if eq < 0 {
				continue
			}
			if obj.Keyword == "partition" {
				obj.Mode = strings.TrimSpace(content[eq+1 : ln.end])
				continue
			}
			vs := skipSpaces(content, eq+1, ln.end)
			obj.ValueStart, obj.ValueEnd = vs, trimRight(content, vs, ln.end)

			var d *ExprDialect
			if daxHeaders[obj.Keyword] {
				dax := ExprDAX
				d = &dax
			} else if obj.Keyword == "expression" {
				m := ExprM
				d = &m
			}
			i = doc.consumeExpression(lines, i, eq+1, level+2, unit, d, obj)
			continue
		}

		if isProp {
			vs := skipSpaces(content, next+1, ln.end)
			ve := trimRight(content, vs, ln.end)
			doc.Properties = append(doc.Properties, &Property{
				Key:        word,
				Value:      content[vs:ve],
				ValueStart: vs,
				ValueEnd:   ve,
				Line:       i + 1,
				Owner:      parent,
			})
			continue
		}

		if isAssign {
			var d *ExprDialect
			switch {
			case word == "source" && parent != nil && parent.Keyword == "partition":
				switch parent.Mode {
				case "m":
					m := ExprM
					d = &m
				case "calculated":
					dax := ExprDAX
					d = &dax
				}
			case daxProperties[word]:
				dax := ExprDAX
				d = &dax
			}
			i = doc.consumeExpression(lines, i, next+1, level+1, unit, d, parent)
		}
	}
	return doc
}

// consumeExpression records the expression that starts after `=` at exprAt
// on line i and returns the index of its last line. Continuation lines are
// those indented at least minLevel; a ``` fence runs to the closing fence.
// A nil dialect consumes the block without recording it.
func (d *Document) consumeExpression(lines []lineSpan, i, exprAt, minLevel, unit int, dia *ExprDialect, owner *Object) int {
	content := d.Content
	ln := lines[i]
	start := skipSpaces(content, exprAt, ln.end)
	end := trimRight(content, start, ln.end)
	last := i

	if strings.HasPrefix(content[start:end], "```") {
		start, end = ln.end, ln.end
		for j := i + 1; j < len(lines); j++ {
			body := strings.TrimSpace(content[lines[j].start:lines[j].end])
			if body == "```" {
				last = j
				break
			}
			if start == ln.end {
				start = lines[j].start
			}
			end = lines[j].end
			last = j
		}
	} else {
		for j := i + 1; j < len(lines); j++ {
			text := content[lines[j].start:lines[j].end]
			width, level := indentOf(text, unit)
			if width == len(text) {
				continue
			}
			if level < minLevel {
				break
			}
			if start == end {
				start = lines[j].start + width
			}
			end = lines[j].end
			last = j
		}
	}

	if dia != nil && end > start {
		table := ""
		if owner != nil {
			table = owner.Table
		}
		line, _ := Position(content, start)
		d.Expressions = append(d.Expressions, Expression{
			Dialect: *dia,
			Start:   start,
			End:     end,
			Line:    line,
			Owner:   owner,
			Table:   table,
		})
	}
	return last
}

func parseObject(content, word string, wordEnd, lineEnd int) (*Object, int) {
	obj := &Object{Keyword: word, NameStart: -1, NameEnd: -1, ValueStart: -1, ValueEnd: -1}
	pos := skipSpaces(content, wordEnd, lineEnd)

	if word == "ref" {
		kind, kindEnd := readWord(content, pos, lineEnd)
		obj.Keyword = "ref " + kind
		pos = skipSpaces(content, kindEnd, lineEnd)
	}

	if pos < lineEnd && content[pos] != '=' {
		part := ParseName(content, pos, lineEnd, false)
		obj.Name, obj.NameStart, obj.NameEnd, obj.Quoted = part.Name, part.Start, part.End, part.Quoted
		pos = skipSpaces(content, part.End, lineEnd)
	}

	if pos < lineEnd && content[pos] == '=' {
		return obj, pos
	}
	return obj, -1
}

// NamePart is one written TMDL name, quoted or bare.
type NamePart struct {
	Name   string
	Start  int
	End    int
	Quoted bool
}

// ParseName reads a name at content[pos:limit]. A quoted name runs to its
// closing quote ('' escapes a quote); a bare name runs to whitespace, '='
// or ':' and, when stopAtDot is set, to '.'.
func ParseName(content string, pos, limit int, stopAtDot bool) NamePart {
	if pos < limit && content[pos] == '\'' {
		var b strings.Builder
		i := pos + 1
		for i < limit {
			if content[i] == '\'' {
				if i+1 < limit && content[i+1] == '\'' {
					b.WriteByte('\'')
					i += 2
					continue
				}
				return NamePart{Name: b.String(), Start: pos, End: i + 1, Quoted: true}
			}
			b.WriteByte(content[i])
			i++
		}
		return NamePart{Name: b.String(), Start: pos, End: limit, Quoted: true}
	}

	i := pos
	for i < limit {
		c := content[i]
		if c == ' ' || c == '\t' || c == '=' || c == ':' || (stopAtDot && c == '.') {
			break
		}
		i++
	}
	return NamePart{Name: content[pos:i], Start: pos, End: i}
}

// ParseQualified splits a `Table.Column` reference as used by relationship
// properties. ok is false when there is no dot.
func ParseQualified(content string, pos, limit int) (table, column NamePart, ok bool) {
	table = ParseName(content, pos, limit, true)
	if table.End >= limit || content[table.End] != '.' {
		return table, NamePart{}, false
	}
	column = ParseName(content, table.End+1, limit, false)
	return table, column, true
}

func readWord(content string, pos, limit int) (string, int) {
	i := pos
	for i < limit {
		c := content[i]
		if c == ' ' || c == '\t' || c == ':' || c == '=' {
			break
		}
		i++
	}
	return content[pos:i], i
}

func skipSpaces(content string, pos, limit int) int {
	for pos < limit && (content[pos] == ' ' || content[pos] == '\t') {
		pos++
	}
	return pos
}

func trimRight(content string, start, end int) int {
	for end > start && (content[end-1] == ' ' || content[end-1] == '\t') {
		end--
	}
	return end
}
