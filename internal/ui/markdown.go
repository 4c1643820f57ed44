package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"

	"github.com/aidanlsb/pbipkit/internal/model"
)

// MarkdownRenderMargin is the left margin used for terminal markdown rendering.
const MarkdownRenderMargin = 2

const defaultCodeTheme = "monokai"

var markdownCodeTheme = defaultCodeTheme

// ConfigureMarkdownCodeTheme selects the chroma theme for code blocks.
// Unknown names fall back to the default theme.
func ConfigureMarkdownCodeTheme(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := styles.Registry[name]; !ok {
		name = defaultCodeTheme
	}
	markdownCodeTheme = name
}

// RenderMarkdown renders markdown content for terminal display.
func RenderMarkdown(content string, width int) (string, error) {
	if width <= 0 {
		width = DefaultTermWidth
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(markdownStyle()),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}

	rendered, err := r.Render(content)
	if err != nil {
		return "", err
	}

	// glamour adds trailing newlines; normalize to a single trailing newline.
	rendered = strings.TrimRight(rendered, "\n") + "\n"
	return rendered, nil
}

// RenamePreview describes a plan as markdown: a heading, a per-file summary
// and every edit with its replacement.
func RenamePreview(plan *model.RenamePlan) string {
	var b strings.Builder
	if plan.QuotingFix {
		b.WriteString("## Fix DAX table quoting\n\n")
	} else {
		fmt.Fprintf(&b, "## Rename %s `%s` to `%s`\n\n", plan.Scope.Kind, plan.Old.String(), plan.New.String())
	}

	if plan.NoOp() {
		b.WriteString("Nothing to change.\n")
		return b.String()
	}

	byFile := plan.ByFile()
	files := plan.Files()
	sort.Strings(files)
	fmt.Fprintf(&b, "%d %s in %d %s.\n\n",
		len(plan.Occurrences), pluralize("edit", len(plan.Occurrences)),
		len(files), pluralize("file", len(files)))

	b.WriteString("| File | Line | Found | Becomes |\n|---|---:|---|---|\n")
	for _, file := range files {
		occs := byFile[file]
		sort.SliceStable(occs, func(i, j int) bool { return occs[i].Offset < occs[j].Offset })
		for _, occ := range occs {
			fmt.Fprintf(&b, "| %s | %d | %s | %s |\n", escapeCell(file), occ.Line, codeSpan(occ.Text), codeSpan(occ.Replacement))
		}
	}

	if len(plan.Skipped) > 0 {
		b.WriteString("\n> Skipped unreadable files:\n")
		for _, s := range plan.Skipped {
			fmt.Fprintf(&b, "> - %s: %s\n", escapeCell(s.File), s.Reason)
		}
	}
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// codeSpan wraps s in enough backticks that any inside it stay literal.
func codeSpan(s string) string {
	fence := "`"
	for strings.Contains(s, fence) {
		fence += "`"
	}
	pad := ""
	if strings.HasPrefix(s, "`") || strings.HasSuffix(s, "`") {
		pad = " "
	}
	return fence + pad + escapeCell(s) + pad + fence
}

// markdownStyle renders previews: headings and code spans in the accent
// color, quotes and table rules muted.
func markdownStyle() ansi.StyleConfig {
	muted := mdStringPtr("8")
	var accent *string
	if color, ok := AccentColor(); ok {
		accent = mdStringPtr(color)
	}

	return ansi.StyleConfig{
		Document: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{BlockPrefix: "\n", BlockSuffix: "\n"},
			Margin:         mdUintPtr(MarkdownRenderMargin),
		},
		Heading: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{
				BlockSuffix: "\n",
				Color:       accent,
				Bold:        mdBoolPtr(true),
				Underline:   mdBoolPtr(true),
			},
		},
		H2: ansi.StyleBlock{StylePrimitive: ansi.StylePrimitive{Prefix: "## "}},
		BlockQuote: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Color: muted},
			Indent:         mdUintPtr(1),
			IndentToken:    mdStringPtr("│ "),
		},
		List:   ansi.StyleList{LevelIndent: 2},
		Item:   ansi.StylePrimitive{BlockPrefix: "• "},
		Emph:   ansi.StylePrimitive{Italic: mdBoolPtr(true)},
		Strong: ansi.StylePrimitive{Bold: mdBoolPtr(true)},
		Code:   ansi.StyleBlock{StylePrimitive: ansi.StylePrimitive{Color: accent}},
		CodeBlock: ansi.StyleCodeBlock{
			StyleBlock: ansi.StyleBlock{StylePrimitive: ansi.StylePrimitive{Color: muted}},
			Theme:      markdownCodeTheme,
		},
		Table: ansi.StyleTable{
			CenterSeparator: mdStringPtr("┼"),
			ColumnSeparator: mdStringPtr("│"),
			RowSeparator:    mdStringPtr("─"),
		},
	}
}

func mdBoolPtr(v bool) *bool { return &v }

func mdStringPtr(v string) *string { return &v }

func mdUintPtr(v uint) *uint { return &v }
