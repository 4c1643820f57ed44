package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidanlsb/pbipkit/internal/model"
)

func TestRenderMarkdownNormalizesTrailingNewline(t *testing.T) {
	out, err := RenderMarkdown("# Heading", 80)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.False(t, strings.HasSuffix(out, "\n\n"))
}

func TestRenderMarkdownDefaultsWidthWhenNonPositive(t *testing.T) {
	out, err := RenderMarkdown("hello", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}

func TestMarkdownStyleEmphasizesHeadingsAndCode(t *testing.T) {
	style := markdownStyle()
	require.NotNil(t, style.Heading.Underline)
	assert.True(t, *style.Heading.Underline)
	assert.NotNil(t, style.CodeBlock.StylePrimitive.Color)
	assert.NotEmpty(t, style.CodeBlock.Theme)
}

func TestConfigureMarkdownCodeTheme(t *testing.T) {
	orig := markdownCodeTheme
	t.Cleanup(func() { markdownCodeTheme = orig })

	ConfigureMarkdownCodeTheme("DrAcUlA")
	assert.Equal(t, "dracula", markdownCodeTheme)
	assert.Equal(t, "dracula", markdownStyle().CodeBlock.Theme)

	ConfigureMarkdownCodeTheme("not-a-real-theme")
	assert.Equal(t, defaultCodeTheme, markdownCodeTheme)
}

func TestRenamePreview(t *testing.T) {
	plan := &model.RenamePlan{
		Scope: model.TableScope(),
		Old:   model.Identifier{Kind: model.KindTable, Name: "Sales Data"},
		New:   model.Identifier{Kind: model.KindTable, Name: "Revenue"},
		Occurrences: []model.Occurrence{
			{File: "b.tmdl", Offset: 40, Line: 3, Text: "'Sales Data'", Replacement: "Revenue"},
			{File: "b.tmdl", Offset: 10, Line: 1, Text: "'Sales Data'", Replacement: "Revenue"},
			{File: "a|b.json", Offset: 5, Line: 2, Text: `"Sales Data"`, Replacement: `"Revenue"`},
		},
		Skipped: []model.SkippedFile{{File: "c.tmdl", Reason: "not valid text"}},
	}

	got := RenamePreview(plan)
	assert.Contains(t, got, "## Rename table `Sales Data` to `Revenue`")
	assert.Contains(t, got, "3 edits in 2 files.")
	assert.Contains(t, got, "| a\\|b.json | 2 | `\"Sales Data\"` | `\"Revenue\"` |")

	first := strings.Index(got, "| b.tmdl | 1 |")
	second := strings.Index(got, "| b.tmdl | 3 |")
	require.True(t, first > 0 && second > first, got)
	assert.Contains(t, got, "> - c.tmdl: not valid text")
}

func TestRenamePreviewNoOp(t *testing.T) {
	plan := &model.RenamePlan{
		Scope: model.MeasureScope("Sales"),
		Old:   model.Identifier{Kind: model.KindMeasure, Table: "Sales", Name: "Total"},
		New:   model.Identifier{Kind: model.KindMeasure, Table: "Sales", Name: "Total"},
	}
	got := RenamePreview(plan)
	assert.Contains(t, got, "## Rename measure `Sales[Total]` to `Sales[Total]`")
	assert.Contains(t, got, "Nothing to change.")
}

func TestCodeSpan(t *testing.T) {
	assert.Equal(t, "`Sales`", codeSpan("Sales"))
	assert.Equal(t, "``a`b``", codeSpan("a`b"))
	assert.Equal(t, "`` `x ``", codeSpan("`x"))
}
