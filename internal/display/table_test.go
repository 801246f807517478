package display

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func plainColors() ColorSystem {
	return NewColorSystem(DarkColorTheme(), false)
}

func TestTable_Render(t *testing.T) {
	table := NewTable(plainColors(), TableStyleByName("default"), 0)
	table.SetHeaders([]string{"ID", "STATUS"})
	table.AddRow([]string{"op-1", "completed"})

	expected := "" +
		"+------+-----------+\n" +
		"| ID   | STATUS    |\n" +
		"+------+-----------+\n" +
		"| op-1 | completed |\n" +
		"+------+-----------+\n"
	assert.Equal(t, expected, table.Render())
}

func TestTable_EmptyRendersNothing(t *testing.T) {
	table := NewTable(plainColors(), TableStyleByName("default"), 0)
	assert.Equal(t, "", table.Render())
}

func TestTable_Styles(t *testing.T) {
	tests := []struct {
		name     string
		style    string
		contains []string
		excludes []string
	}{
		{name: "rounded", style: "rounded", contains: []string{"╭", "│", "╯"}},
		{name: "minimal", style: "minimal", excludes: []string{"+", "|", "-"}},
		{name: "grid", style: "grid", contains: []string{"+", "|"}},
		{name: "unknown falls back to default", style: "fancy", contains: []string{"+", "|"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable(plainColors(), TableStyleByName(tt.style), 0)
			table.SetHeaders([]string{"JOB", "SCHEDULE"})
			table.AddRow([]string{"drift:capture", "*/30 * * * *"})
			table.AddRow([]string{"backup:retention", "30 3 * * *"})

			out := table.Render()
			assert.Contains(t, out, "drift:capture")
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, strings.ReplaceAll(out, "*/30 * * * *", ""), s)
			}
		})
	}
}

func TestTable_ShrinksToMaxWidth(t *testing.T) {
	table := NewTable(plainColors(), TableStyleByName("default"), 20)
	table.SetHeaders([]string{"NAME"})
	table.AddRow([]string{"a-very-long-value-that-overflows"})

	out := table.Render()
	assert.Contains(t, out, "a-very-long-v...")
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.LessOrEqual(t, utf8.RuneCountInString(line), 20, line)
	}
}

func TestTable_Alignment(t *testing.T) {
	table := NewTable(plainColors(), TableStyleByName("default"), 0)
	table.SetHeaders([]string{"SIZE"})
	table.AddRow([]string{"4"})
	table.SetColumnAlignment(0, AlignRight)

	assert.Contains(t, table.Render(), "|    4 |")
}

func TestTable_CellColor(t *testing.T) {
	colors := NewColorSystem(DarkColorTheme(), true)
	table := NewTable(colors, TableStyleByName("default"), 0)
	table.SetHeaders([]string{"ID", "STATUS"})
	table.AddRow([]string{"op-1", "failed"})
	table.SetCellColor(func(column int, value string) Color {
		if column == 1 {
			return StatusColor(colors.GetTheme(), value)
		}
		return ColorReset
	})

	out := table.Render()
	assert.Contains(t, out, "\x1b[")
	assert.Contains(t, out, "op-1 |")
}
