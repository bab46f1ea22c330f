// Package ui renders the status command's terminal tables.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles groups the lipgloss styles used for terminal output.
type Styles struct {
	Title  lipgloss.Style
	Header lipgloss.Style
	Rule   lipgloss.Style
	Good   lipgloss.Style
	Bad    lipgloss.Style
}

// DefaultStyles returns the standard style set.
func DefaultStyles() Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Header: lipgloss.NewStyle().Bold(true),
		Rule:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Good:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Bad:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// StatusCell colors a run or row status for table output.
func StatusCell(styles Styles, status string) string {
	switch status {
	case "done", "completed":
		return styles.Good.Render(status)
	case "failed", "aborted":
		return styles.Bad.Render(status)
	}
	return status
}

// Column describes one table column. Numeric columns are right
// aligned so counts line up.
type Column struct {
	Name    string
	Numeric bool
}

// Table renders static rows under a title.
type Table struct {
	title   string
	columns []Column
	rows    [][]string
}

// NewTable creates a table with the given title and columns.
func NewTable(title string, columns ...Column) *Table {
	return &Table{title: title, columns: columns}
}

// AddRow appends a row. Cells beyond the column count are not rendered.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// View renders the table. An empty table renders nothing.
func (t *Table) View(styles Styles) string {
	if len(t.rows) == 0 {
		return ""
	}

	widths := make([]int, len(t.columns))
	for i, c := range t.columns {
		widths[i] = lipgloss.Width(c.Name)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var sb strings.Builder
	if t.title != "" {
		sb.WriteString(styles.Title.Render(t.title))
		sb.WriteString("\n")
	}

	for i, c := range t.columns {
		sb.WriteString(styles.Header.Render(pad(c.Name, widths[i], false)))
		if i < len(t.columns)-1 {
			sb.WriteString("  ")
		}
	}
	sb.WriteString("\n")

	total := 2 * (len(t.columns) - 1)
	for _, w := range widths {
		total += w
	}
	sb.WriteString(styles.Rule.Render(strings.Repeat("-", total)))
	sb.WriteString("\n")

	for _, row := range t.rows {
		for i, cell := range row {
			if i >= len(t.columns) {
				break
			}
			sb.WriteString(pad(cell, widths[i], t.columns[i].Numeric))
			if i < len(row)-1 && i < len(t.columns)-1 {
				sb.WriteString("  ")
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

// pad pads a cell to the column width. The gap is computed from the
// display width so ANSI-styled cells line up with plain ones.
func pad(cell string, width int, rightAlign bool) string {
	gap := width - lipgloss.Width(cell)
	if gap <= 0 {
		return cell
	}
	fill := strings.Repeat(" ", gap)
	if rightAlign {
		return fill + cell
	}
	return cell + fill
}
