package dialect

import (
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
)

// BindingKind is the role of a JSON string in a report definition.
type BindingKind int

const (
	// BindEntity is an "Entity" value: a table name.
	BindEntity BindingKind = iota
	// BindProperty is a "Property" value: a column or measure of Entity.
	BindProperty
	// BindQueryRef is a "Table.Field" string such as queryRef or metadata,
	// possibly wrapped in an aggregation like "Sum(Table.Field)".
	BindQueryRef
)

// Binding is a data binding in report JSON. Start/End span the string
// literal including its quotes.
type Binding struct {
	Kind   BindingKind
	Key    string
	Value  string
	Entity string
	Field  string
	Start  int
	End    int

	prefix string
	suffix string
	source string
}

// Rewrite returns the binding value with its table and field replaced.
// Only meaningful for BindQueryRef.
func (b Binding) Rewrite(entity, field string) string {
	return b.prefix + entity + "." + field + b.suffix
}

var queryRefKeys = map[string]bool{"queryRef": true, "metadata": true}

type jsonFrame struct {
	object    bool
	expectKey bool
	key       string

	entity   string // first Entity in this object's subtree
	source   string // first Source alias in this object's subtree
	ownName  string
	ownEnt   string
	pending  []int
}

// ScanJSON returns the table and field bindings of a report JSON document.
// Property bindings are resolved to the entity of the enclosing field
// expression, following From aliases when the expression names a Source.
func ScanJSON(content string) ([]Binding, error) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()

	var (
		bindings []Binding
		stack    []*jsonFrame
		aliases  = map[string]string{}
	)
	top := func() *jsonFrame {
		if len(stack) == 0 {
			return nil
		}
		return stack[len(stack)-1]
	}
	consumeValue := func() {
		if f := top(); f != nil && f.object {
			f.expectKey = true
		}
	}

	for {
		before := int(dec.InputOffset())
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch v := tok.(type) {
		case json.Delim:
			switch v {
			case '{', '[':
				consumeValue()
				stack = append(stack, &jsonFrame{object: v == '{', expectKey: v == '{'})
			case '}', ']':
				f := top()
				stack = stack[:len(stack)-1]
				if !f.object {
					continue
				}
				if f.ownName != "" && f.ownEnt != "" {
					aliases[f.ownName] = f.ownEnt
				}
				for _, idx := range f.pending {
					bindings[idx].Entity = f.entity
					bindings[idx].source = f.source
				}
				if p := top(); p != nil && p.object {
					if p.entity == "" {
						p.entity = f.entity
					}
					if p.source == "" {
						p.source = f.source
					}
				}
			}

		case string:
			f := top()
			if f != nil && f.object && f.expectKey {
				f.key = v
				f.expectKey = false
				continue
			}
			consumeValue()
			if f == nil || !f.object {
				continue
			}
			start := before + strings.IndexByte(content[before:], '"')
			end := int(dec.InputOffset())

			switch {
			case f.key == "Entity":
				bindings = append(bindings, Binding{Kind: BindEntity, Key: f.key, Value: v, Entity: v, Start: start, End: end})
				f.ownEnt = v
				if f.entity == "" {
					f.entity = v
				}
			case f.key == "Source":
				if f.source == "" {
					f.source = v
				}
			case f.key == "Name":
				f.ownName = v
			case f.key == "Property":
				f.pending = append(f.pending, len(bindings))
				bindings = append(bindings, Binding{Kind: BindProperty, Key: f.key, Value: v, Field: v, Start: start, End: end})
			case queryRefKeys[f.key]:
				if b, ok := parseQueryRef(v); ok {
					b.Key, b.Start, b.End = f.key, start, end
					bindings = append(bindings, b)
				}
			}

		default:
			consumeValue()
		}
	}

	for i := range bindings {
		if bindings[i].Kind == BindProperty && bindings[i].Entity == "" {
			bindings[i].Entity = aliases[bindings[i].source]
		}
	}
	sort.SliceStable(bindings, func(i, j int) bool { return bindings[i].Start < bindings[j].Start })
	return bindings, nil
}

// parseQueryRef splits "Table.Field" or "Agg(Table.Field)".
func parseQueryRef(v string) (Binding, bool) {
	b := Binding{Kind: BindQueryRef, Value: v}
	inner := v
	if open := strings.IndexByte(v, '('); open > 0 && strings.HasSuffix(v, ")") {
		b.prefix, b.suffix = v[:open+1], ")"
		inner = v[open+1 : len(v)-1]
	}
	dot := strings.IndexByte(inner, '.')
	if dot <= 0 || dot == len(inner)-1 {
		return Binding{}, false
	}
	b.Entity, b.Field = inner[:dot], inner[dot+1:]
	return b, true
}

// EncodeJSONString writes s as a JSON string literal without HTML escaping,
// matching how report files are written.
func EncodeJSONString(s string) string {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(sb.String(), "\n")
}
