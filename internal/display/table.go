package display

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignCenter
	AlignRight
)

// TableStyle defines the visual style of a table
type TableStyle struct {
	Name            string
	BorderStyle     BorderStyle
	HeaderSeparator bool
	RowSeparator    bool
	Padding         int
}

// BorderStyle defines table border characters
type BorderStyle struct {
	TopLeft     string
	TopRight    string
	BottomLeft  string
	BottomRight string
	Horizontal  string
	Vertical    string
	Cross       string
	TopTee      string
	BottomTee   string
	LeftTee     string
	RightTee    string
}

var (
	ASCIIBorderStyle = BorderStyle{
		TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
		Horizontal: "-", Vertical: "|", Cross: "+",
		TopTee: "+", BottomTee: "+", LeftTee: "+", RightTee: "+",
	}

	RoundedBorderStyle = BorderStyle{
		TopLeft: "╭", TopRight: "╮", BottomLeft: "╰", BottomRight: "╯",
		Horizontal: "─", Vertical: "│", Cross: "┼",
		TopTee: "┬", BottomTee: "┴", LeftTee: "├", RightTee: "┤",
	}

	NoBorderStyle = BorderStyle{}
)

// TableStyleByName returns the named style, falling back to default
func TableStyleByName(name string) TableStyle {
	switch TableStyleName(name) {
	case TableStyleRounded:
		return TableStyle{Name: name, BorderStyle: RoundedBorderStyle, HeaderSeparator: true, Padding: 1}
	case TableStyleMinimal:
		return TableStyle{Name: name, BorderStyle: NoBorderStyle, Padding: 1}
	case TableStyleGrid:
		return TableStyle{Name: name, BorderStyle: ASCIIBorderStyle, HeaderSeparator: true, RowSeparator: true, Padding: 1}
	default:
		return TableStyle{Name: string(TableStyleDefault), BorderStyle: ASCIIBorderStyle, HeaderSeparator: true, Padding: 1}
	}
}

// CellColorFunc picks the color of a body cell. Returning ColorReset leaves
// the cell plain.
type CellColorFunc func(column int, value string) Color

// Table renders rows with aligned columns. Colors are applied after width
// calculation so escape codes never count towards a column's width.
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	style      TableStyle
	maxWidth   int
	colors     ColorSystem
	cellColor  CellColorFunc
}

// NewTable creates a table. maxWidth of zero disables shrinking.
func NewTable(colors ColorSystem, style TableStyle, maxWidth int) *Table {
	return &Table{
		alignments: make(map[int]Alignment),
		style:      style,
		maxWidth:   maxWidth,
		colors:     colors,
	}
}

func (t *Table) SetHeaders(headers []string) {
	t.headers = headers
}

func (t *Table) AddRow(row []string) {
	t.rows = append(t.rows, row)
}

func (t *Table) SetColumnAlignment(column int, alignment Alignment) {
	t.alignments[column] = alignment
}

func (t *Table) SetCellColor(fn CellColorFunc) {
	t.cellColor = fn
}

// Render returns the formatted table, or an empty string when it has
// neither headers nor rows
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}

	widths := t.calculateColumnWidths()
	if t.maxWidth > 0 {
		widths = t.adjustForMaxWidth(widths)
	}
	hasBorder := t.style.BorderStyle.Horizontal != ""

	var b strings.Builder
	if hasBorder {
		b.WriteString(t.renderBorder(widths, t.style.BorderStyle.TopLeft, t.style.BorderStyle.TopTee, t.style.BorderStyle.TopRight))
	}
	if len(t.headers) > 0 {
		b.WriteString(t.renderRow(t.headers, widths, true))
		if t.style.HeaderSeparator && hasBorder {
			b.WriteString(t.middleBorder(widths))
		}
	}
	for i, row := range t.rows {
		b.WriteString(t.renderRow(row, widths, false))
		if t.style.RowSeparator && hasBorder && i < len(t.rows)-1 {
			b.WriteString(t.middleBorder(widths))
		}
	}
	if hasBorder {
		b.WriteString(t.renderBorder(widths, t.style.BorderStyle.BottomLeft, t.style.BorderStyle.BottomTee, t.style.BorderStyle.BottomRight))
	}
	return b.String()
}

// RenderTo renders the table to w
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columnCount() int {
	n := len(t.headers)
	for _, row := range t.rows {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

// calculateColumnWidths returns the padded width of each column
func (t *Table) calculateColumnWidths() []int {
	widths := make([]int, t.columnCount())
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	for i := range widths {
		widths[i] += t.style.Padding * 2
	}
	return widths
}

// adjustForMaxWidth shrinks the widest columns first until the table fits
func (t *Table) adjustForMaxWidth(widths []int) []int {
	minWidth := t.style.Padding*2 + 4
	for t.totalWidth(widths) > t.maxWidth {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= minWidth {
			break
		}
		widths[widest]--
	}
	return widths
}

func (t *Table) totalWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w
	}
	if t.style.BorderStyle.Vertical != "" {
		total += len(widths) + 1
	}
	return total
}

func (t *Table) renderBorder(widths []int, left, tee, right string) string {
	var b strings.Builder
	b.WriteString(left)
	for i, w := range widths {
		b.WriteString(strings.Repeat(t.style.BorderStyle.Horizontal, w))
		if i < len(widths)-1 {
			b.WriteString(tee)
		}
	}
	b.WriteString(right)
	b.WriteString("\n")
	return b.String()
}

func (t *Table) middleBorder(widths []int) string {
	bs := t.style.BorderStyle
	return t.renderBorder(widths, bs.LeftTee, bs.Cross, bs.RightTee)
}

func (t *Table) renderRow(row []string, widths []int, isHeader bool) string {
	var b strings.Builder
	vertical := t.style.BorderStyle.Vertical

	b.WriteString(vertical)
	for i, w := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		b.WriteString(t.formatCell(i, cell, w, isHeader))
		b.WriteString(vertical)
	}
	return strings.TrimRight(b.String(), " ") + "\n"
}

// formatCell truncates, aligns and colors one cell
func (t *Table) formatCell(column int, content string, width int, isHeader bool) string {
	contentWidth := width - t.style.Padding*2
	if contentWidth < 0 {
		contentWidth = 0
	}

	if utf8.RuneCountInString(content) > contentWidth {
		runes := []rune(content)
		if contentWidth > 3 {
			content = string(runes[:contentWidth-3]) + "..."
		} else {
			content = string(runes[:contentWidth])
		}
	}

	padding := contentWidth - utf8.RuneCountInString(content)
	var left, right int
	switch t.alignments[column] {
	case AlignCenter:
		left = padding / 2
		right = padding - left
	case AlignRight:
		left = padding
	default:
		right = padding
	}

	if t.colors != nil {
		switch {
		case isHeader:
			content = t.colors.Colorize(content, t.colors.GetTheme().Primary)
		case t.cellColor != nil:
			content = t.colors.Colorize(content, t.cellColor(column, content))
		}
	}

	left += t.style.Padding
	right += t.style.Padding
	return strings.Repeat(" ", left) + content + strings.Repeat(" ", right)
}
