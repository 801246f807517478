// Package display renders operations, drill executions, alerts, schema
// versions and compliance reports for the command line.
package display

import (
	"fmt"
	"io"
	"os"
)

// OutputFormat represents different output format options
type OutputFormat string

const (
	FormatTable   OutputFormat = "table"
	FormatJSON    OutputFormat = "json"
	FormatYAML    OutputFormat = "yaml"
	FormatCompact OutputFormat = "compact"
)

// Structured reports whether the format is meant for machines, in which
// case status messages are not written
func (f OutputFormat) Structured() bool {
	return f == FormatJSON || f == FormatYAML
}

// Color represents terminal color options
type Color int

const (
	ColorReset Color = iota
	ColorBlack
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite
	ColorBrightRed
	ColorBrightGreen
	ColorBrightYellow
	ColorBrightBlue
	ColorBrightMagenta
	ColorBrightCyan
	ColorBrightWhite
)

// ColorTheme defines color scheme for different message types
type ColorTheme struct {
	Primary   Color
	Success   Color
	Warning   Color
	Error     Color
	Info      Color
	Muted     Color
	Highlight Color
}

// Printer writes views and status messages in the configured format
type Printer struct {
	config    Config
	colors    ColorSystem
	formatter Formatter
	writer    io.Writer
}

// NewPrinter validates cfg and builds a printer writing to cfg.Writer
func NewPrinter(cfg Config) (*Printer, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	colors := NewColorSystem(cfg.ColorTheme(), cfg.ColorEnabled && supportsColor(cfg.Writer))
	formatter, err := NewFormatter(cfg, colors)
	if err != nil {
		return nil, err
	}

	return &Printer{
		config:    cfg,
		colors:    colors,
		formatter: formatter,
		writer:    cfg.Writer,
	}, nil
}

// Format returns the output format in use
func (p *Printer) Format() OutputFormat {
	return OutputFormat(p.config.OutputFormat)
}

// Colors returns the color system used for table output
func (p *Printer) Colors() ColorSystem {
	return p.colors
}

// Text writes preformatted text as is
func (p *Printer) Text(text string) {
	fmt.Fprint(p.writer, text)
}

// Render writes one view
func (p *Printer) Render(view View) error {
	return p.formatter.Format(p.writer, view)
}

func (p *Printer) Success(message string) {
	p.status("OK", message, p.colors.GetTheme().Success)
}

func (p *Printer) Warning(message string) {
	p.status("WARN", message, p.colors.GetTheme().Warning)
}

func (p *Printer) Error(message string) {
	p.status("ERROR", message, p.colors.GetTheme().Error)
}

func (p *Printer) Info(message string) {
	p.status("INFO", message, p.colors.GetTheme().Info)
}

// status messages are dropped in quiet mode and for structured formats so
// that piped output stays parseable
func (p *Printer) status(level, message string, color Color) {
	if p.config.Quiet || p.Format().Structured() {
		return
	}
	if p.Format() == FormatCompact {
		fmt.Fprintf(p.writer, "%s: %s\n", level, message)
		return
	}
	fmt.Fprintf(p.writer, "%s %s\n", p.colors.Sprintf(color, "[%s]", level), message)
}

func defaultWriter() io.Writer {
	return os.Stdout
}
