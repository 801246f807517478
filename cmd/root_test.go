package cmd

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-resilience/internal/application"
	"db-resilience/internal/backup"
	"db-resilience/internal/config"
	"db-resilience/internal/database"
	appErrors "db-resilience/internal/errors"
	"db-resilience/internal/provider"
)

type fakeProvider struct {
	mu      sync.Mutex
	count   int
	expired []string
	deleted []string
}

func (f *fakeProvider) CreateSnapshot(ctx context.Context, name string, tags map[string]string, expiresAt time.Time) (*provider.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return &provider.SnapshotInfo{
		ID:        fmt.Sprintf("snap-%d", f.count),
		Name:      name,
		Status:    provider.SnapshotStatusAvailable,
		SizeBytes: 2048,
		CreatedAt: time.Now(),
		Tags:      tags,
	}, nil
}

func (f *fakeProvider) ListSnapshots(ctx context.Context) ([]provider.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	past := time.Now().Add(-time.Hour)
	var out []provider.SnapshotInfo
	for _, id := range f.expired {
		out = append(out, provider.SnapshotInfo{ID: id, Status: provider.SnapshotStatusAvailable, ExpiresAt: &past})
	}
	return out, nil
}

func (f *fakeProvider) RestoreSnapshot(ctx context.Context, id, targetRef string) (*provider.RestoreResult, error) {
	return &provider.RestoreResult{SnapshotID: id, TargetRef: targetRef, Status: "available"}, nil
}

func (f *fakeProvider) DeleteSnapshot(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return true, nil
}

// offlineDatabases refuses every connection so no test reaches a network
type offlineDatabases struct{}

func (offlineDatabases) Connect(ctx context.Context, cfg database.DatabaseConfig) (*sql.DB, error) {
	return nil, appErrors.NewAppError(appErrors.ErrorTypeConnection, "offline: "+cfg.Host, nil)
}

func (offlineDatabases) TestConnection(ctx context.Context, db *sql.DB) error { return nil }
func (offlineDatabases) Close(db *sql.DB) error                               { return nil }
func (offlineDatabases) GetVersion(ctx context.Context, db *sql.DB) (string, error) {
	return "", nil
}

func useFakes(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{}
	previous := appOptions
	appOptions = func() application.Options {
		return application.Options{
			Registry:        prometheus.NewRegistry(),
			DatabaseService: offlineDatabases{},
			Provider:        p,
		}
	}
	t.Cleanup(func() { appOptions = previous })
	return p
}

func writeConfig(t *testing.T) string {
	t.Helper()
	data, err := config.GenerateExample()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "db-resilience.yaml")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runWithInput(t, "", args...)
}

func runWithInput(t *testing.T, input string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetIn(strings.NewReader(input))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "today", "abc123", "go1.25")
	t.Cleanup(func() { SetVersionInfo("dev", "unknown", "unknown", "unknown") })

	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "db-resilience version 1.2.3")
	assert.Contains(t, out, "Commit: abc123")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")

	out, _, err := run(t, "config", "init", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration written to "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# db-resilience configuration")

	_, _, err = run(t, "config", "init", "--output", path)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeConflict))

	_, _, err = run(t, "config", "init", "--output", path, "--force")
	assert.NoError(t, err)

	out, _, err = run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "backup:")
}

func TestConfigEnv(t *testing.T) {
	out, _, err := run(t, "config", "env")
	require.NoError(t, err)
	assert.Contains(t, out, "DBR_DATABASE_PASSWORD\n")
	assert.Contains(t, out, "DBR_DISPLAY_OUTPUT_FORMAT\n")
}

func TestConfigValidate(t *testing.T) {
	path := writeConfig(t)

	out, _, err := run(t, "config", "validate", "--config", path, "--format", "compact")
	require.NoError(t, err)
	assert.Contains(t, out, "backup policies: 2\n")
	assert.Contains(t, out, "OK: Configuration is valid\n")

	_, _, err = run(t, "config", "validate", "--config", path, "--format", "xml")
	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeConfig))

	_, _, err = run(t, "config", "validate", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeConfig))
}

func TestBackupRun(t *testing.T) {
	useFakes(t)
	path := writeConfig(t)

	out, _, err := run(t, "backup", "run", "nightly-full", "--config", path, "--format", "json", "--log-level", "quiet")
	require.NoError(t, err)

	var op backup.Operation
	require.NoError(t, json.Unmarshal([]byte(out), &op))
	assert.Equal(t, "nightly-full", op.PolicyID)
	assert.Equal(t, backup.StatusCompleted, op.Status)
	assert.Equal(t, "snap-1", op.SnapshotID)
	assert.Equal(t, int64(2048), op.SizeBytes)
}

func TestBackupRun_UnknownPolicy(t *testing.T) {
	useFakes(t)
	path := writeConfig(t)

	_, stderr, err := run(t, "backup", "run", "weekly", "--config", path, "--log-level", "quiet")
	assert.ErrorIs(t, err, errReported)
	assert.Contains(t, stderr, "Error: ")
	assert.Contains(t, stderr, "weekly")
}

func TestBackupRetention(t *testing.T) {
	path := writeConfig(t)
	common := []string{"backup", "retention", "--config", path, "--format", "compact", "--log-level", "quiet"}

	t.Run("nothing expired", func(t *testing.T) {
		p := useFakes(t)
		out, _, err := run(t, common...)
		require.NoError(t, err)
		assert.Contains(t, out, "INFO: 0 snapshots processed, nothing to delete")
		assert.Empty(t, p.deleted)
	})

	t.Run("declined", func(t *testing.T) {
		p := useFakes(t)
		p.expired = []string{"snap-old"}
		out, stderr, err := runWithInput(t, "n\n", common...)
		require.NoError(t, err)
		assert.Contains(t, out, "snap-old\twould delete")
		assert.Contains(t, stderr, "Delete 1 snapshots? [y/N]: ")
		assert.Contains(t, out, "WARN: Retention cancelled, no snapshots deleted")
		assert.Empty(t, p.deleted)
	})

	t.Run("confirmed", func(t *testing.T) {
		p := useFakes(t)
		p.expired = []string{"snap-old"}
		out, _, err := runWithInput(t, "y\n", common...)
		require.NoError(t, err)
		assert.Contains(t, out, "snap-old\tdeleted")
		assert.Equal(t, []string{"snap-old"}, p.deleted)
	})

	t.Run("yes flag", func(t *testing.T) {
		p := useFakes(t)
		p.expired = []string{"snap-old"}
		_, stderr, err := run(t, append(common, "--yes")...)
		require.NoError(t, err)
		assert.NotContains(t, stderr, "[y/N]")
		assert.Equal(t, []string{"snap-old"}, p.deleted)
	})
}

func TestJobsList(t *testing.T) {
	useFakes(t)
	path := writeConfig(t)

	out, _, err := run(t, "jobs", "list", "--config", path, "--format", "compact", "--log-level", "quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "drift:capture\t*/30 * * * *\t")
	assert.Contains(t, out, "backup:nightly-full\t0 2 * * *\t")
	assert.Contains(t, out, "drill:orders-weekly\t")
}

func TestAlertList_Empty(t *testing.T) {
	useFakes(t)
	path := writeConfig(t)

	out, _, err := run(t, "alert", "list", "--config", path, "--format", "json", "--log-level", "quiet")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestComplianceReport(t *testing.T) {
	useFakes(t)
	path := writeConfig(t)

	out, _, err := run(t, "compliance", "report", "--config", path, "--format", "yaml", "--log-level", "quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "overall_score:")
	assert.Contains(t, out, "id: orders-db")
}

func TestDrillConfigs(t *testing.T) {
	useFakes(t)
	path := writeConfig(t)

	out, _, err := run(t, "drill", "configs", "--config", path, "--no-color", "--log-level", "quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "Drill configurations")
	assert.Contains(t, out, "orders-weekly")
	assert.Contains(t, out, "orders-restore")
}

func TestSchemaDiff_InvalidVersion(t *testing.T) {
	useFakes(t)
	path := writeConfig(t)

	_, stderr, err := run(t, "schema", "diff", "first", "2", "--config", path, "--log-level", "quiet")
	assert.ErrorIs(t, err, errReported)
	assert.Contains(t, stderr, `schema version must be a positive integer, got "first"`)
}

func TestReportError(t *testing.T) {
	var buf bytes.Buffer
	reportError(&buf, appErrors.NewConfigError("invalid configuration", fmt.Errorf("database: host is required")))
	assert.Contains(t, buf.String(), "Error: invalid configuration\n")
	assert.Contains(t, buf.String(), "database: host is required")
	assert.Contains(t, buf.String(), "config init")

	buf.Reset()
	reportError(&buf, fmt.Errorf("accepts 1 arg(s), received 0"))
	assert.Equal(t, "Error: accepts 1 arg(s), received 0\n", buf.String())
}
