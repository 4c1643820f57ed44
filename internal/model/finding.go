package model

import "fmt"

// Severity ranks a Finding.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

// MarshalText renders the severity by name in JSON output.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Category groups findings by the error taxonomy.
type Category string

const (
	CategoryStructural Category = "structural"
	CategoryReference  Category = "reference"
	CategoryQuoting    Category = "quoting"
	CategoryIO         Category = "io"
)

// Finding codes.
const (
	CodeUnbalancedDelimiter     = "UNBALANCED_DELIMITER"
	CodeUnquotedTableInDAX      = "UNQUOTED_TABLE_IN_DAX"
	CodeOrphanedTableReference  = "ORPHANED_TABLE_REFERENCE"
	CodeOrphanedColumnReference = "ORPHANED_COLUMN_REFERENCE"
	CodeDuplicateTable          = "DUPLICATE_TABLE"
	CodeInvalidJSON             = "INVALID_JSON"
	CodeUnreadableFile          = "UNREADABLE_FILE"
	CodeMissingTableHeader      = "MISSING_TABLE_HEADER"
)

// Finding is a single validation result. Findings are values handed to the
// caller; the engine never keeps them.
type Finding struct {
	File       string   `json:"file"`
	Line       int      `json:"line"`
	Column     int      `json:"column"`
	Category   Category `json:"category"`
	Code       string   `json:"code"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s:%d:%d: %s [%s] %s", f.File, f.Line, f.Column, f.Severity, f.Code, f.Message)
}
