package model

import "fmt"

// Kind identifies what an Identifier names in the semantic model.
type Kind string

const (
	KindTable   Kind = "table"
	KindColumn  Kind = "column"
	KindMeasure Kind = "measure"
)

// ParseKind converts user input ("table", "column", "measure") to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTable, KindColumn, KindMeasure:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown identifier kind %q (expected table, column or measure)", s)
	}
}

// Identifier is a single named object of the semantic model.
type Identifier struct {
	// Kind is table, column or measure.
	Kind Kind `json:"kind"`

	// Name is the raw (unquoted) name, e.g. "Sales Data".
	Name string `json:"name"`

	// Table is the owning table for columns and measures. Empty for tables.
	Table string `json:"table,omitempty"`

	// NeedsQuoting reports whether Name must be wrapped in delimiters
	// when written as a table accessor.
	NeedsQuoting bool `json:"needs_quoting"`

	// Quoted is the canonical written form of Name.
	Quoted string `json:"quoted"`
}

// String renders the identifier the way a DAX author would write it.
func (id Identifier) String() string {
	switch id.Kind {
	case KindColumn, KindMeasure:
		if id.Table == "" {
			return "[" + id.Name + "]"
		}
		return id.Table + "[" + id.Name + "]"
	default:
		return id.Name
	}
}

// Scope names the identifier a rename applies to: a table, or a column or
// measure within a table.
type Scope struct {
	Kind  Kind   `json:"kind"`
	Table string `json:"table,omitempty"`
}

// TableScope returns the scope for a table rename.
func TableScope() Scope { return Scope{Kind: KindTable} }

// ColumnScope returns the scope for renaming a column of table.
func ColumnScope(table string) Scope { return Scope{Kind: KindColumn, Table: table} }

// MeasureScope returns the scope for renaming a measure of table.
func MeasureScope(table string) Scope { return Scope{Kind: KindMeasure, Table: table} }
