package markdown

import (
	"strings"

	"lecker/internal/dom"
)

type tableRow struct {
	cells []string
	head  bool
}

// table converts a table element to a pipe-delimited markdown table. The
// header row is the first row of thead, or the first row when there is none.
func (w *writer) table(n *dom.Node) string {
	rows := w.rows(n, false)
	if len(rows) == 0 {
		return ""
	}
	for i, r := range rows {
		if r.head && i > 0 {
			rows = append([]tableRow{r}, append(rows[:i:i], rows[i+1:]...)...)
			break
		}
	}

	cols := 0
	for _, r := range rows {
		if len(r.cells) > cols {
			cols = len(r.cells)
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}

	writeRow(rows[0].cells)
	sep := make([]string, cols)
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(sep)
	for _, r := range rows[1:] {
		writeRow(r.cells)
	}
	return strings.TrimRight(b.String(), "\n")
}

// rows collects the rows of n without descending into nested tables.
func (w *writer) rows(n *dom.Node, head bool) []tableRow {
	var rows []tableRow
	for _, c := range n.Children {
		if w.skip(c) || c.IsText() {
			continue
		}
		switch c.Tag {
		case "thead":
			rows = append(rows, w.rows(c, true)...)
		case "tbody", "tfoot":
			rows = append(rows, w.rows(c, false)...)
		case "tr":
			var cells []string
			for _, cell := range c.Children {
				if w.skip(cell) || (cell.Tag != "td" && cell.Tag != "th") {
					continue
				}
				text := cleanInline(w.inlineChildren(cell))
				text = strings.ReplaceAll(text, "\n", " ")
				text = strings.ReplaceAll(text, "|", `\|`)
				cells = append(cells, text)
			}
			if len(cells) > 0 {
				rows = append(rows, tableRow{cells: cells, head: head})
			}
		}
	}
	return rows
}
