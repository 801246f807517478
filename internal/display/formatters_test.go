package display

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-resilience/internal/backup"
)

func sampleOperation() *backup.Operation {
	completed := time.Date(2026, 3, 1, 2, 0, 42, 0, time.UTC)
	return &backup.Operation{
		ID:          "op-1",
		PolicyID:    "nightly-full",
		Type:        backup.TypeFull,
		Status:      backup.StatusCompleted,
		Trigger:     backup.TriggerScheduled,
		StartedAt:   completed.Add(-42 * time.Second),
		CompletedAt: &completed,
		Duration:    42 * time.Second,
		SizeBytes:   4096,
		SnapshotID:  "snap-1",
		Validation:  &backup.Validation{Status: backup.ValidationPassed},
	}
}

func newTestPrinter(t *testing.T, format OutputFormat) (*Printer, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.ColorEnabled = false
	cfg.OutputFormat = string(format)
	cfg.Writer = &buf
	p, err := NewPrinter(cfg)
	require.NoError(t, err)
	return p, &buf
}

func TestPrinter_Formats(t *testing.T) {
	ops := []*backup.Operation{sampleOperation()}

	tests := []struct {
		format   OutputFormat
		contains []string
	}{
		{format: FormatTable, contains: []string{"Backup operations", "| op-1", "nightly-full", "4.0 KiB", "passed"}},
		{format: FormatJSON, contains: []string{`"id": "op-1"`, `"policy_id": "nightly-full"`, `"status": "passed"`}},
		{format: FormatYAML, contains: []string{"id: op-1", "policy_id: nightly-full", "snapshot_id: snap-1"}},
		{format: FormatCompact, contains: []string{"op-1\tnightly-full\tfull_backup\tscheduled\tcompleted\t"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			p, buf := newTestPrinter(t, tt.format)
			require.NoError(t, p.Render(OperationsView(ops)))
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
		})
	}
}

func TestPrinter_EmptyViews(t *testing.T) {
	p, buf := newTestPrinter(t, FormatJSON)
	require.NoError(t, p.Render(OperationsView(nil)))
	assert.Equal(t, "[]\n", buf.String())

	p, buf = newTestPrinter(t, FormatTable)
	require.NoError(t, p.Render(AlertsView(nil)))
	assert.Contains(t, buf.String(), "(none)")

	p, buf = newTestPrinter(t, FormatCompact)
	require.NoError(t, p.Render(AlertsView(nil)))
	assert.Empty(t, buf.String())
}

func TestPrinter_StatusMessages(t *testing.T) {
	p, buf := newTestPrinter(t, FormatTable)
	p.Success("backup completed")
	p.Warning("validation pending")
	assert.Equal(t, "[OK] backup completed\n[WARN] validation pending\n", buf.String())

	p, buf = newTestPrinter(t, FormatCompact)
	p.Error("drill failed")
	assert.Equal(t, "ERROR: drill failed\n", buf.String())

	for _, format := range []OutputFormat{FormatJSON, FormatYAML} {
		p, buf = newTestPrinter(t, format)
		p.Info("ignored")
		assert.Empty(t, buf.String(), format)
	}

	var quiet bytes.Buffer
	cfg := DefaultConfig()
	cfg.Quiet = true
	cfg.Writer = &quiet
	p, err := NewPrinter(cfg)
	require.NoError(t, err)
	p.Success("hidden")
	assert.Empty(t, quiet.String())
}

func TestPrinter_TextIgnoresQuiet(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Quiet = true
	cfg.Writer = &buf
	p, err := NewPrinter(cfg)
	require.NoError(t, err)

	p.Text("v1 -> v2\n")
	assert.Equal(t, "v1 -> v2\n", buf.String())
}

func TestNewPrinter_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputFormat = "xml"
	_, err := NewPrinter(cfg)
	assert.ErrorContains(t, err, "invalid output format 'xml'")
}

func TestStatusColor(t *testing.T) {
	theme := DarkColorTheme()
	tests := map[string]Color{
		"completed":    theme.Success,
		"Passed":       theme.Success,
		"failed":       theme.Error,
		"critical":     theme.Error,
		"running":      theme.Warning,
		"acknowledged": theme.Warning,
		"cancelled":    theme.Muted,
		"manual":       theme.Info,
	}
	for value, want := range tests {
		assert.Equal(t, want, StatusColor(theme, value), value)
	}
}

func TestColorSystem(t *testing.T) {
	enabled := NewColorSystem(DarkColorTheme(), true)
	assert.True(t, strings.HasPrefix(enabled.Colorize("ok", ColorGreen), "\x1b["))
	assert.Equal(t, "ok", enabled.Colorize("ok", ColorReset))

	disabled := NewColorSystem(DarkColorTheme(), false)
	assert.Equal(t, "ok", disabled.Colorize("ok", ColorGreen))
	assert.Equal(t, "n=2", disabled.Sprintf(ColorRed, "n=%d", 2))
	assert.False(t, disabled.IsColorSupported())
}

func TestSupportsColor_NonTerminalWriter(t *testing.T) {
	t.Setenv("FORCE_COLOR", "")
	t.Setenv("NO_COLOR", "")
	assert.False(t, supportsColor(&bytes.Buffer{}))

	t.Setenv("FORCE_COLOR", "1")
	assert.True(t, supportsColor(&bytes.Buffer{}))

	t.Setenv("NO_COLOR", "1")
	assert.False(t, supportsColor(&bytes.Buffer{}))
}
