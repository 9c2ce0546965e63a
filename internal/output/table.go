package output

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/swapgate/swapgate/internal/core"
)

// TableFormatter renders results as a two-column table, or a Markdown table when Markdown is set.
type TableFormatter struct {
	Markdown bool
}

// FormatSwap renders a price or quote.
func (f *TableFormatter) FormatSwap(view *SwapView) (string, error) {
	if view == nil {
		return "", nil
	}
	return f.render(strings.ToUpper(view.Kind), swapFields(view)), nil
}

// FormatSession renders the outcome of a swap session.
func (f *TableFormatter) FormatSession(state core.SwapSessionState) (string, error) {
	return f.render("SWAP", sessionFields(state)), nil
}

func (f *TableFormatter) render(title string, fields []field) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{title, ""})
	for _, fl := range fields {
		t.AppendRow(table.Row{fl.name, fl.value})
	}
	if f.Markdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}
