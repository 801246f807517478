package display

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"db-resilience/internal/backup"
	"db-resilience/internal/compliance"
	"db-resilience/internal/drift"
	"db-resilience/internal/drill"
	"db-resilience/internal/monitoring"
	"db-resilience/internal/schema"
	"db-resilience/internal/scheduler"
)

const timeLayout = "2006-01-02 15:04:05"

// tableView is the common View implementation
type tableView struct {
	title   string
	headers []string
	rows    [][]string
	data    interface{}
	status  []int
	numeric []int
}

func (v *tableView) Title() string         { return v.title }
func (v *tableView) Headers() []string     { return v.headers }
func (v *tableView) Rows() [][]string      { return v.rows }
func (v *tableView) Data() interface{}     { return v.data }
func (v *tableView) StatusColumns() []int  { return v.status }
func (v *tableView) NumericColumns() []int { return v.numeric }

// OperationsView lists backup operations
func OperationsView(ops []*backup.Operation) View {
	v := &tableView{
		title:   "Backup operations",
		headers: []string{"ID", "POLICY", "TYPE", "TRIGGER", "STATUS", "STARTED", "DURATION", "SIZE", "SNAPSHOT", "VALIDATION"},
		rows:    make([][]string, 0, len(ops)),
		data:    nonNil(ops),
		status:  []int{4, 9},
		numeric: []int{6, 7},
	}
	for _, op := range ops {
		validation := "-"
		if op.Validation != nil {
			validation = string(op.Validation.Status)
		}
		size := "-"
		if op.Status == backup.StatusCompleted {
			size = humanize.IBytes(uint64(max(op.SizeBytes, 0)))
		}
		v.rows = append(v.rows, []string{
			op.ID,
			op.PolicyID,
			string(op.Type),
			string(op.Trigger),
			string(op.Status),
			formatTime(op.StartedAt),
			formatDuration(op.Duration),
			size,
			orDash(op.SnapshotID),
			validation,
		})
	}
	return v
}

// OperationView shows one operation, including its error when it failed
func OperationView(op *backup.Operation) View {
	v := OperationsView([]*backup.Operation{op}).(*tableView)
	v.title = "Backup operation " + op.ID
	v.data = op
	if op.Error != "" {
		v.headers = append(v.headers, "ERROR")
		v.rows[0] = append(v.rows[0], op.Error)
	}
	return v
}

// HealthView shows a backup health report as key/value rows
func HealthView(report *backup.HealthReport) View {
	v := &tableView{
		title:   "Backup health",
		headers: []string{"CHECK", "VALUE"},
		data:    report,
		status:  []int{1},
	}
	healthy := "healthy"
	if !report.Healthy {
		healthy = "unhealthy"
	}
	v.rows = [][]string{
		{"status", healthy},
		{"score", formatFloat(report.Score)},
		{"backup success rate", formatPercent(report.BackupSuccessRate)},
		{"validation success rate", formatPercent(report.ValidationSuccessRate)},
		{"rto achievement rate", formatPercent(report.RtoAchievementRate)},
		{"operations", strconv.Itoa(report.Operations)},
		{"window", report.Window.String()},
	}
	names := make([]string, 0, len(report.Dependencies))
	for name := range report.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v.rows = append(v.rows, []string{"dependency " + name, report.Dependencies[name]})
	}
	return v
}

// RetentionView summarises a retention sweep
func RetentionView(result *backup.RetentionResult) View {
	title := "Retention"
	if result.DryRun {
		title = "Retention (dry run)"
	}
	v := &tableView{
		title:   title,
		headers: []string{"SNAPSHOT", "ACTION"},
		rows:    make([][]string, 0, len(result.Deleted)+len(result.Errors)),
		data:    result,
	}
	action := "deleted"
	if result.DryRun {
		action = "would delete"
	}
	for _, id := range result.Deleted {
		v.rows = append(v.rows, []string{id, action})
	}
	for _, msg := range result.Errors {
		v.rows = append(v.rows, []string{"-", "error: " + msg})
	}
	return v
}

// ExecutionsView lists drill executions
func ExecutionsView(execs []*drill.Execution) View {
	v := &tableView{
		title:   "Drill executions",
		headers: []string{"ID", "CONFIG", "TRIGGER", "STATUS", "STARTED", "RTO", "RPO", "SCORE", "REASON"},
		rows:    make([][]string, 0, len(execs)),
		data:    nonNil(execs),
		status:  []int{3},
		numeric: []int{7},
	}
	for _, e := range execs {
		started := "-"
		if e.StartedAt != nil {
			started = formatTime(*e.StartedAt)
		}
		v.rows = append(v.rows, []string{
			e.ID,
			e.ConfigID,
			string(e.Trigger),
			string(e.Status),
			started,
			formatObjective(e.ActualRto, e.RtoAchieved),
			formatObjective(e.ActualRpo, e.RpoAchieved),
			strconv.Itoa(e.SuccessScore),
			orDash(e.FailureReason),
		})
	}
	return v
}

// ExecutionView shows the step results of one execution
func ExecutionView(e *drill.Execution) View {
	v := &tableView{
		title:   fmt.Sprintf("Drill %s (%s, score %d)", e.ID, e.Status, e.SuccessScore),
		headers: []string{"STEP", "TYPE", "RESULT", "DURATION", "OUTPUT", "ERROR"},
		rows:    make([][]string, 0, len(e.StepResults)),
		data:    e,
		status:  []int{2},
	}
	for _, r := range e.StepResults {
		result := "passed"
		if !r.Success {
			result = "failed"
		}
		v.rows = append(v.rows, []string{
			r.Name,
			string(r.Type),
			result,
			formatDuration(r.Duration),
			stepOutput(r.Output),
			orDash(r.Error),
		})
	}
	return v
}

func stepOutput(out drill.StepOutput) string {
	switch {
	case out.TablesVerified > 0:
		return fmt.Sprintf("%d tables verified", out.TablesVerified)
	case out.RestoredRef != "":
		return "restored to " + out.RestoredRef
	case out.SnapshotID != "":
		return "snapshot " + out.SnapshotID
	default:
		return orDash(out.Detail)
	}
}

// ConfigurationsView lists drill configurations
func ConfigurationsView(configs []*drill.Configuration) View {
	v := &tableView{
		title:   "Drill configurations",
		headers: []string{"ID", "NAME", "SCENARIO", "TARGET", "SCHEDULE", "RTO", "RPO", "ENABLED"},
		rows:    make([][]string, 0, len(configs)),
		data:    nonNil(configs),
		status:  []int{7},
	}
	for _, c := range configs {
		enabled := "no"
		if c.Enabled {
			enabled = "yes"
		}
		v.rows = append(v.rows, []string{
			c.ID,
			c.Name,
			c.ScenarioID,
			c.TargetRef,
			orDash(c.Schedule),
			formatSeconds(c.ExpectedRtoSeconds),
			formatSeconds(c.ExpectedRpoSeconds),
			enabled,
		})
	}
	return v
}

// AlertsView lists alerts
func AlertsView(alerts []*monitoring.Alert) View {
	v := &tableView{
		title:   "Alerts",
		headers: []string{"ID", "TYPE", "SEVERITY", "STATUS", "SUBJECT", "CREATED", "ESCALATION", "TITLE"},
		rows:    make([][]string, 0, len(alerts)),
		data:    nonNil(alerts),
		status:  []int{2, 3},
	}
	for _, a := range alerts {
		v.rows = append(v.rows, []string{
			a.ID,
			string(a.Type),
			string(a.Severity),
			string(a.Status),
			a.Subject,
			formatTime(a.CreatedAt),
			strconv.Itoa(a.EscalationLevel),
			a.Title,
		})
	}
	return v
}

// ComplianceView shows the per-target rollup of a compliance report
func ComplianceView(report *compliance.Report) View {
	v := &tableView{
		title:   fmt.Sprintf("Compliance (overall %s)", formatFloat(report.OverallScore)),
		headers: []string{"TARGET", "SERVICE", "CRITICALITY", "RTO", "RPO", "AVG RTO 30D", "AVG RPO 30D", "SCORE", "TREND", "RISK", "MEASUREMENTS"},
		rows:    make([][]string, 0, len(report.Targets)),
		data:    report,
		status:  []int{8, 9},
	}
	for _, m := range report.Targets {
		v.rows = append(v.rows, []string{
			m.Target.ID,
			m.Target.Service,
			string(m.Target.Criticality),
			formatCurrent(m.CurrentRto, m.Target.RtoSeconds),
			formatCurrent(m.CurrentRpo, m.Target.RpoSeconds),
			formatSeconds(m.AvgRto30d),
			formatSeconds(m.AvgRpo30d),
			formatFloat(m.ComplianceScore),
			string(m.Trend),
			string(m.RiskLevel),
			strconv.Itoa(m.MeasurementCount),
		})
	}
	return v
}

// VersionsView lists schema versions with the risk of the change that
// produced each one
func VersionsView(versions []*drift.SchemaVersion) View {
	v := &tableView{
		title:   "Schema versions",
		headers: []string{"VERSION", "DATABASE", "TRIGGER", "CAPTURED", "HASH", "TABLES", "RISK", "CHANGES"},
		rows:    make([][]string, 0, len(versions)),
		data:    nonNil(versions),
		status:  []int{6},
		numeric: []int{0, 5},
	}
	for _, sv := range versions {
		hash, tables := "-", "-"
		if sv.Snapshot != nil {
			hash = shortHash(sv.Snapshot.Hash)
			tables = strconv.Itoa(len(sv.Snapshot.Tables))
		}
		risk, changes := "-", "initial"
		if sv.Diff != nil {
			risk = string(sv.Diff.RiskLevel)
			changes = sv.Diff.Summary()
		}
		v.rows = append(v.rows, []string{
			strconv.Itoa(sv.Version),
			sv.Database,
			string(sv.Trigger),
			formatTime(sv.CapturedAt),
			hash,
			tables,
			risk,
			changes,
		})
	}
	return v
}

// DiffView lists the classified changes between two schema versions
func DiffView(diff *schema.SchemaDiff) View {
	title := fmt.Sprintf("Schema diff v%d -> v%d: %s", diff.FromVersion, diff.ToVersion, diff.Summary())
	if diff.IsBreaking {
		title += " (breaking)"
	}
	v := &tableView{
		title:   title,
		headers: []string{"SEVERITY", "CHANGE", "TABLE", "OBJECT", "DESCRIPTION"},
		rows:    make([][]string, 0, len(diff.Changes)),
		data:    diff,
		status:  []int{0},
	}
	for _, c := range diff.Changes {
		v.rows = append(v.rows, []string{
			string(c.Severity),
			string(c.Type),
			c.TableName,
			orDash(c.ObjectName),
			c.Description,
		})
	}
	return v
}

// JobsView lists scheduled jobs
func JobsView(entries []scheduler.EntryInfo) View {
	v := &tableView{
		title:   "Scheduled jobs",
		headers: []string{"JOB", "SCHEDULE", "NEXT", "PREVIOUS"},
		rows:    make([][]string, 0, len(entries)),
		data:    nonNil(entries),
	}
	for _, e := range entries {
		v.rows = append(v.rows, []string{e.Name, e.Schedule, formatTime(e.Next), formatTime(e.Prev)})
	}
	return v
}

// ListView shows plain strings under one header
func ListView(title, header string, items []string) View {
	v := &tableView{
		title:   title,
		headers: []string{header},
		rows:    make([][]string, 0, len(items)),
		data:    nonNil(items),
	}
	for _, item := range items {
		v.rows = append(v.rows, []string{item})
	}
	return v
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func formatSeconds(s float64) string {
	return formatDuration(time.Duration(s * float64(time.Second)))
}

// formatObjective renders an achieved or missed recovery objective
func formatObjective(actual float64, achieved bool) string {
	mark := "missed"
	if achieved {
		mark = "met"
	}
	return fmt.Sprintf("%s (%s)", formatSeconds(actual), mark)
}

func formatCurrent(current *float64, target float64) string {
	if current == nil {
		return "- / " + formatSeconds(target)
	}
	return formatSeconds(*current) + " / " + formatSeconds(target)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64)
}

func formatPercent(f float64) string {
	return formatFloat(f) + "%"
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
