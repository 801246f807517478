package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// View is something the printer can show. Table and compact output use
// Headers and Rows; JSON and YAML output marshal Data.
type View interface {
	Title() string
	Headers() []string
	Rows() [][]string
	Data() interface{}
}

// StatusView marks the column whose values drive row coloring
type StatusView interface {
	StatusColumns() []int
}

// NumericView marks columns that are right aligned in tables
type NumericView interface {
	NumericColumns() []int
}

// Formatter writes a view in one output format
type Formatter interface {
	Format(w io.Writer, view View) error
}

// NewFormatter returns the formatter for cfg.OutputFormat
func NewFormatter(cfg Config, colors ColorSystem) (Formatter, error) {
	switch OutputFormat(cfg.OutputFormat) {
	case FormatTable:
		return &TableOutput{colors: colors, style: TableStyleByName(cfg.TableStyle), maxWidth: cfg.MaxTableWidth}, nil
	case FormatJSON:
		return &JSONFormatter{indent: "  "}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatCompact:
		return &CompactFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", cfg.OutputFormat)
	}
}

// JSONFormatter writes the view's data as indented JSON
type JSONFormatter struct {
	indent string
}

func (f *JSONFormatter) Format(w io.Writer, view View) error {
	data, err := json.MarshalIndent(view.Data(), "", f.indent)
	if err != nil {
		return fmt.Errorf("failed to marshal %s to JSON: %w", view.Title(), err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// YAMLFormatter writes the view's data as YAML. Data goes through JSON
// first so that field names follow the json tags of the domain types.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(w io.Writer, view View) error {
	raw, err := json.Marshal(view.Data())
	if err != nil {
		return fmt.Errorf("failed to marshal %s to YAML: %w", view.Title(), err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("failed to marshal %s to YAML: %w", view.Title(), err)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("failed to marshal %s to YAML: %w", view.Title(), err)
	}
	return enc.Close()
}

// CompactFormatter writes one tab separated line per row with no header,
// for scripts
type CompactFormatter struct{}

func (f *CompactFormatter) Format(w io.Writer, view View) error {
	for _, row := range view.Rows() {
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return nil
}

// TableOutput renders the view as a titled table with status coloring
type TableOutput struct {
	colors   ColorSystem
	style    TableStyle
	maxWidth int
}

func (f *TableOutput) Format(w io.Writer, view View) error {
	rows := view.Rows()
	title := view.Title()

	if title != "" {
		fmt.Fprintln(w, f.colors.Colorize(title, f.colors.GetTheme().Highlight))
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, f.colors.Colorize("(none)", f.colors.GetTheme().Muted))
		return err
	}

	table := NewTable(f.colors, f.style, f.maxWidth)
	table.SetHeaders(view.Headers())
	for _, row := range rows {
		table.AddRow(row)
	}
	if nv, ok := view.(NumericView); ok {
		for _, c := range nv.NumericColumns() {
			table.SetColumnAlignment(c, AlignRight)
		}
	}
	if sv, ok := view.(StatusView); ok {
		columns := make(map[int]bool)
		for _, c := range sv.StatusColumns() {
			columns[c] = true
		}
		theme := f.colors.GetTheme()
		table.SetCellColor(func(column int, value string) Color {
			if !columns[column] {
				return ColorReset
			}
			return StatusColor(theme, value)
		})
	}
	table.RenderTo(w)
	return nil
}

// StatusColor maps the status, severity and risk words used across the
// domain onto the theme
func StatusColor(theme ColorTheme, value string) Color {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "completed", "passed", "resolved", "healthy", "yes", "none", "low", "improving", "available":
		return theme.Success
	case "failed", "critical", "high", "no", "unhealthy", "degrading", "error":
		return theme.Error
	case "running", "pending", "acknowledged", "active", "medium", "stable":
		return theme.Warning
	case "cancelled", "":
		return theme.Muted
	default:
		return theme.Info
	}
}
