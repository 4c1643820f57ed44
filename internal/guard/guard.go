// Package guard shields external references (dataflow entities, source
// navigation records, connector calls, dataset connections) from rename
// passes. A file is protected before it is scanned or rewritten, and the
// original text of every shielded span is put back afterwards.
package guard

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/safeio"
)

// placeholderPrefix starts every placeholder token.
const placeholderPrefix = "__PBIPX_"

// Pattern is one recognized external-reference dialect.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

const mString = `"(?:[^"]|"")*"`

// connectorNamespaces are the M library namespaces whose calls read from an
// external source. Their arguments name things in that source, not the model.
var connectorNamespaces = []string{
	"AmazonRedshift", "AnalysisServices", "AzureStorage", "Csv", "Databricks",
	"Excel", "Fabric", "File", "Folder", "GoogleBigQuery", "Lakehouse",
	"MySQL", "OData", "Odbc", "OleDb", "Oracle", "PostgreSQL", "PowerBI",
	"PowerPlatform", "SharePoint", "Snowflake", "Sql", "Web",
}

// DefaultPatterns are the external-reference dialects recognized out of the box.
var DefaultPatterns = []Pattern{
	{
		// {[entity="Sales",version=""]}, {[Schema="dbo",Item="Sales"]}, {[dataflowId="…"]}
		Name: "navigation-record",
		Re: regexp.MustCompile(`\{\s*\[\s*(?:#` + mString + `|[A-Za-z_][A-Za-z0-9_ ]*)\s*=` +
			`(?:[^\[\]"]|` + mString + `)*\]\s*\}`),
	},
	{
		// Sql.Database("srv", "db"), PowerPlatform.Dataflows(null), Excel.Workbook(File.Contents("x"))
		Name: "connector-call",
		Re: regexp.MustCompile(`\b(?:` + strings.Join(connectorNamespaces, "|") + `)\.[A-Z][A-Za-z0-9]*\s*\(` +
			`(?:[^()"]|` + mString + `|\((?:[^()"]|` + mString + `)*\))*\)`),
	},
	{
		Name: "connection-string",
		Re:   regexp.MustCompile(`"connectionString"\s*:\s*"(?:[^"\\]|\\.)*"`),
	},
	{
		Name: "dataset-by-path",
		Re:   regexp.MustCompile(`"byPath"\s*:\s*\{[^{}]*\}`),
	},
}

// Span is one shielded region of the original content.
type Span struct {
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Pattern string `json:"pattern"`
	Text    string `json:"text"`
}

// Guard finds external references with a fixed pattern set.
type Guard struct {
	patterns []Pattern
}

// New returns a guard for patterns, or DefaultPatterns when none are given.
func New(patterns ...Pattern) *Guard {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	return &Guard{patterns: patterns}
}

// Find returns the non-overlapping external-reference spans in content,
// ordered by position. Overlapping matches merge into their union.
func (g *Guard) Find(content string) []Span {
	var spans []Span
	for _, p := range g.patterns {
		for _, loc := range p.Re.FindAllStringIndex(content, -1) {
			spans = append(spans, Span{Start: loc[0], End: loc[1], Pattern: p.Name})
		}
	}
	if len(spans) == 0 {
		return nil
	}

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})

	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.Start < last.End {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	for i := range merged {
		merged[i].Text = content[merged[i].Start:merged[i].End]
	}
	return merged
}

// Shielded is content with every external reference replaced by a
// placeholder.
type Shielded struct {
	// Text is the content with placeholders in place of external references.
	Text string

	original     string
	spans        []Span
	placeholders []string
	starts       []int // placeholder offsets in Text
}

// Protect shields content.
func (g *Guard) Protect(content string) *Shielded {
	spans := g.Find(content)
	sh := &Shielded{Text: content, original: content, spans: spans}
	if len(spans) == 0 {
		return sh
	}

	suffix := placeholderSuffix(content)
	var b strings.Builder
	b.Grow(len(content))
	prev := 0
	for i, s := range spans {
		b.WriteString(content[prev:s.Start])
		ph := placeholderPrefix + suffix + "_" + strconv.Itoa(i) + "__"
		sh.starts = append(sh.starts, b.Len())
		sh.placeholders = append(sh.placeholders, ph)
		b.WriteString(ph)
		prev = s.End
	}
	b.WriteString(content[prev:])
	sh.Text = b.String()
	return sh
}

// placeholderSuffix derives a suffix from the content hash and re-salts it
// until no placeholder built from it can already occur in content.
func placeholderSuffix(content string) string {
	for salt := 0; ; salt++ {
		suffix := strconv.FormatUint(safeio.Fingerprint([]byte(content+strconv.Itoa(salt))), 36)
		if !strings.Contains(content, placeholderPrefix+suffix) {
			return suffix
		}
	}
}

// Spans returns the shielded regions of the original content.
func (s *Shielded) Spans() []Span { return s.spans }

// Placeholders returns the placeholder tokens in span order.
func (s *Shielded) Placeholders() []string { return s.placeholders }

// Guarded reports whether the original range [start, end) overlaps a
// shielded span.
func (s *Shielded) Guarded(start, end int) bool {
	for _, sp := range s.spans {
		if start < sp.End && end > sp.Start {
			return true
		}
		if sp.Start >= end {
			break
		}
	}
	return false
}

// ToOriginal maps an offset in Text to the original content. Offsets
// inside a placeholder map to the start of its span.
func (s *Shielded) ToOriginal(off int) int {
	delta := 0
	for i, start := range s.starts {
		end := start + len(s.placeholders[i])
		if off < start {
			break
		}
		if off < end {
			return s.spans[i].Start
		}
		delta += (s.spans[i].End - s.spans[i].Start) - len(s.placeholders[i])
	}
	return off + delta
}

// ToShielded maps an original offset outside every span to Text.
func (s *Shielded) ToShielded(off int) int {
	delta := 0
	for i, sp := range s.spans {
		if off < sp.End {
			break
		}
		delta += len(s.placeholders[i]) - (sp.End - sp.Start)
	}
	return off + delta
}

// Restore puts the original external references back into text, which must
// be Text after a rewrite pass. Every placeholder has to survive the pass
// exactly once.
func (s *Shielded) Restore(text string) (string, error) {
	for i := len(s.placeholders) - 1; i >= 0; i-- {
		ph := s.placeholders[i]
		if n := strings.Count(text, ph); n != 1 {
			return "", fmt.Errorf("%w: external reference %q was disturbed by the rewrite (placeholder seen %d times)",
				model.ErrStructural, s.spans[i].Text, n)
		}
		text = strings.Replace(text, ph, s.spans[i].Text, 1)
	}
	return text, nil
}
