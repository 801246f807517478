package schema

import (
	"fmt"
	"strings"
)

// DisplayFormatter handles formatting drift results for terminal output
type DisplayFormatter struct {
	ShowDetails bool
	UseColors   bool
}

// NewDisplayFormatter creates a new DisplayFormatter instance
func NewDisplayFormatter(showDetails, useColors bool) *DisplayFormatter {
	return &DisplayFormatter{
		ShowDetails: showDetails,
		UseColors:   useColors,
	}
}

// FormatSchemaDiff formats a SchemaDiff grouped by object kind
func (df *DisplayFormatter) FormatSchemaDiff(diff *SchemaDiff) string {
	if diff == nil || diff.IsEmpty() {
		return df.colorize("✓ No schema drift detected", "green")
	}

	var output strings.Builder
	output.WriteString(df.colorize("Schema Drift Summary", "bold"))
	output.WriteString("\n")
	output.WriteString(strings.Repeat("=", 50))
	output.WriteString("\n")
	output.WriteString(fmt.Sprintf("v%d (%s) -> v%d (%s)\n", diff.FromVersion, shortHash(diff.FromHash), diff.ToVersion, shortHash(diff.ToHash)))
	output.WriteString(fmt.Sprintf("Risk: %s", df.colorize(strings.ToUpper(string(diff.RiskLevel)), severityColor(diff.RiskLevel))))
	if diff.IsBreaking {
		output.WriteString(df.colorize("  BREAKING", "red"))
	}
	output.WriteString("\n\n")

	groups := []struct {
		title string
		types []ChangeType
	}{
		{"Tables", []ChangeType{ChangeTableAdded, ChangeTableRemoved}},
		{"Columns", []ChangeType{ChangeColumnAdded, ChangeColumnRemoved, ChangeColumnModified}},
		{"Indexes", []ChangeType{ChangeIndexAdded, ChangeIndexRemoved, ChangeIndexModified}},
		{"Constraints", []ChangeType{ChangeConstraintAdded, ChangeConstraintRemoved, ChangeConstraintModified}},
	}

	for _, group := range groups {
		changes := filterChanges(diff.Changes, group.types)
		if len(changes) == 0 {
			continue
		}
		output.WriteString(df.colorize(group.title, "bold"))
		output.WriteString("\n")
		output.WriteString(strings.Repeat("-", 20))
		output.WriteString("\n")
		for _, change := range changes {
			output.WriteString(df.formatChange(change))
		}
		output.WriteString("\n")
	}

	return output.String()
}

func (df *DisplayFormatter) formatChange(change Change) string {
	marker, color := "~", "yellow"
	switch change.Type {
	case ChangeTableAdded, ChangeColumnAdded, ChangeIndexAdded, ChangeConstraintAdded:
		marker, color = "+", "green"
	case ChangeTableRemoved, ChangeColumnRemoved, ChangeIndexRemoved, ChangeConstraintRemoved:
		marker, color = "-", "red"
	}

	line := fmt.Sprintf("  %s %s [%s]\n",
		df.colorize(marker, color),
		change.Description,
		df.colorize(string(change.Severity), severityColor(change.Severity)))

	if df.ShowDetails {
		if change.Impact != "" {
			line += fmt.Sprintf("      impact: %s\n", change.Impact)
		}
		if change.Column != nil && len(change.Column.ChangedFields) > 0 {
			line += fmt.Sprintf("      changed: %s\n", strings.Join(change.Column.ChangedFields, ", "))
		}
	}
	return line
}

// FormatCompactSummary returns a compact one-line summary
func (df *DisplayFormatter) FormatCompactSummary(diff *SchemaDiff) string {
	if diff == nil || diff.IsEmpty() {
		return df.colorize("✓ Schema matches baseline", "green")
	}
	return df.colorize(fmt.Sprintf("⚠ Drift: %s", diff.Summary()), severityColor(diff.RiskLevel))
}

func (df *DisplayFormatter) colorize(text, color string) string {
	if !df.UseColors {
		return text
	}

	colorCodes := map[string]string{
		"red":    "\033[31m",
		"green":  "\033[32m",
		"yellow": "\033[33m",
		"blue":   "\033[34m",
		"bold":   "\033[1m",
		"reset":  "\033[0m",
	}

	if code, exists := colorCodes[color]; exists {
		return fmt.Sprintf("%s%s%s", code, text, colorCodes["reset"])
	}
	return text
}

func severityColor(s Severity) string {
	switch s {
	case SeverityCritical, SeverityHigh:
		return "red"
	case SeverityMedium:
		return "yellow"
	case SeverityLow:
		return "blue"
	default:
		return "green"
	}
}

func filterChanges(changes []Change, types []ChangeType) []Change {
	var out []Change
	for _, c := range changes {
		for _, t := range types {
			if c.Type == t {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	if hash == "" {
		return "-"
	}
	return hash
}
