package model

// Dialect tags which textual representation an Occurrence was found in.
type Dialect string

const (
	DialectDeclaration Dialect = "declaration"
	DialectDAX         Dialect = "dax-expression"
	DialectQuery       Dialect = "query-code"
	DialectJSON        Dialect = "json-binding"
)

// Usage distinguishes the site that defines an identifier from the sites
// that use it.
type Usage string

const (
	UsageDeclaration Usage = "declaration"
	UsageReference   Usage = "reference"
)

// Form is the lexical shape of an occurrence. It decides how the new name
// is written back.
type Form string

const (
	FormBare         Form = "bare"          // Sales
	FormSingleQuoted Form = "single-quoted" // 'Sales Data'
	FormBracketed    Form = "bracketed"     // [Amount]
	FormHashQuoted   Form = "hash-quoted"   // #"Sales Data"
	FormJSONString   Form = "json-string"   // "Sales Data"
	FormJSONDotted   Form = "json-dotted"   // the table or field half of "Sales.Amount"
	FormTMDLName     Form = "tmdl-name"     // table 'Sales Data' / column Amount
)

// Occurrence is one place an identifier appears in a project file.
// Offset and Length always refer to the content the plan was computed from.
type Occurrence struct {
	// File is the path relative to the project root, slash separated.
	File string `json:"file"`

	// Offset is the byte offset of the occurrence's first byte, including
	// any delimiters that belong to Form.
	Offset int `json:"offset"`

	// Length is the byte length of the written occurrence.
	Length int `json:"length"`

	// Line and Column are 1-based; Column counts bytes.
	Line   int `json:"line"`
	Column int `json:"column"`

	Dialect Dialect `json:"dialect"`
	Usage   Usage   `json:"usage"`
	Form    Form    `json:"form"`

	// Text is the original written text of the occurrence.
	Text string `json:"text"`

	// Replacement is the text written in place of Text.
	Replacement string `json:"replacement"`
}

// End returns the byte offset just past the occurrence.
func (o Occurrence) End() int { return o.Offset + o.Length }
