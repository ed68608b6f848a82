package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"formpilot/internal/schema"
)

// =============================================================================
// FORM RENDERING
// =============================================================================

// formRows flattens the form into (path, value) pairs in key order.
func formRows(t *schema.Tree) [][2]string {
	var rows [][2]string
	var walk func(t *schema.Tree, prefix schema.Path)
	walk = func(t *schema.Tree, prefix schema.Path) {
		for _, key := range t.Keys() {
			v, _ := t.Lookup(key)
			path := append(append(schema.Path{}, prefix...), key)
			switch v := v.(type) {
			case *schema.Tree:
				walk(v, path)
			case schema.Leaf:
				rows = append(rows, [2]string{path.String(), string(v)})
			}
		}
	}
	walk(t, nil)
	return rows
}

// progressLine reports how much of the form is filled and what comes next.
func progressLine(t *schema.Tree) string {
	filled, total := t.Leaves()
	line := fmt.Sprintf("%d/%d fields filled", filled, total)
	if next, ok := schema.FirstUnfilledPath(t); ok {
		line += ", next: " + next.String()
	}
	return line
}

// formMarkdown renders the form as a markdown table.
func formMarkdown(t *schema.Tree) string {
	var sb strings.Builder
	sb.WriteString("| Field | Value |\n|---|---|\n")
	for _, row := range formRows(t) {
		value := row[1]
		if value == "" {
			value = "_missing_"
		}
		fmt.Fprintf(&sb, "| %s | %s |\n", escapeCell(row[0]), escapeCell(value))
	}
	sb.WriteString("\n_" + progressLine(t) + "_\n")
	return sb.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// formText renders the form for plain terminals and pipes.
func formText(t *schema.Tree) string {
	rows := formRows(t)
	width := 0
	for _, row := range rows {
		if len(row[0]) > width {
			width = len(row[0])
		}
	}
	var sb strings.Builder
	for _, row := range rows {
		value := row[1]
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(&sb, "  %-*s  %s\n", width, row[0], value)
	}
	sb.WriteString("  (" + progressLine(t) + ")\n")
	return sb.String()
}

// newMarkdownRenderer returns nil when glamour cannot build a renderer; the
// caller then shows raw markdown.
func newMarkdownRenderer(width int) *glamour.TermRenderer {
	if width < 20 {
		width = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return r
}

// renderMarkdown falls back to the raw text if glamour fails or panics.
func renderMarkdown(r *glamour.TermRenderer, content string) (result string) {
	defer func() {
		if rec := recover(); rec != nil {
			result = content
		}
	}()
	if r == nil || content == "" {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return out
}
