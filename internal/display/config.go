package display

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Config holds the command line output options
type Config struct {
	ColorEnabled  bool   `yaml:"color_enabled" mapstructure:"color_enabled"`
	Theme         string `yaml:"theme" mapstructure:"theme"`
	OutputFormat  string `yaml:"output_format" mapstructure:"output_format"`
	TableStyle    string `yaml:"table_style" mapstructure:"table_style"`
	MaxTableWidth int    `yaml:"max_table_width" mapstructure:"max_table_width"`
	Quiet         bool   `yaml:"quiet" mapstructure:"quiet"`

	Writer io.Writer `yaml:"-" mapstructure:"-"`
}

// ThemeName represents available color themes
type ThemeName string

const (
	ThemeDark         ThemeName = "dark"
	ThemeLight        ThemeName = "light"
	ThemeHighContrast ThemeName = "high-contrast"
	ThemePlain        ThemeName = "plain"
)

// TableStyleName represents available table styles
type TableStyleName string

const (
	TableStyleDefault TableStyleName = "default"
	TableStyleRounded TableStyleName = "rounded"
	TableStyleMinimal TableStyleName = "minimal"
	TableStyleGrid    TableStyleName = "grid"
)

// DefaultConfig returns the default output options
func DefaultConfig() Config {
	return Config{
		ColorEnabled:  true,
		Theme:         string(ThemeDark),
		OutputFormat:  string(FormatTable),
		TableStyle:    string(TableStyleDefault),
		MaxTableWidth: 160,
	}
}

// SetDefaults sets default values for unspecified options
func (c *Config) SetDefaults() {
	if c.Theme == "" {
		c.Theme = string(ThemeDark)
	}
	if c.OutputFormat == "" {
		c.OutputFormat = string(FormatTable)
	}
	if c.TableStyle == "" {
		c.TableStyle = string(TableStyleDefault)
	}
	if c.MaxTableWidth == 0 {
		c.MaxTableWidth = 160
	}
	if c.Writer == nil {
		c.Writer = defaultWriter()
	}
}

// Validate checks the options against the known themes, formats and styles
func (c *Config) Validate() error {
	var errs []error

	validThemes := []string{string(ThemeDark), string(ThemeLight), string(ThemeHighContrast), string(ThemePlain)}
	if !contains(validThemes, c.Theme) {
		errs = append(errs, fmt.Errorf("invalid theme '%s', must be one of: %s", c.Theme, strings.Join(validThemes, ", ")))
	}

	validFormats := []string{string(FormatTable), string(FormatJSON), string(FormatYAML), string(FormatCompact)}
	if !contains(validFormats, c.OutputFormat) {
		errs = append(errs, fmt.Errorf("invalid output format '%s', must be one of: %s", c.OutputFormat, strings.Join(validFormats, ", ")))
	}

	validStyles := []string{string(TableStyleDefault), string(TableStyleRounded), string(TableStyleMinimal), string(TableStyleGrid)}
	if !contains(validStyles, c.TableStyle) {
		errs = append(errs, fmt.Errorf("invalid table style '%s', must be one of: %s", c.TableStyle, strings.Join(validStyles, ", ")))
	}

	if c.MaxTableWidth < 40 || c.MaxTableWidth > 400 {
		errs = append(errs, fmt.Errorf("max table width must be between 40 and 400, got %d", c.MaxTableWidth))
	}

	return errors.Join(errs...)
}

// ColorTheme returns the theme named by the configuration
func (c *Config) ColorTheme() ColorTheme {
	return GetThemeByName(c.Theme)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
