// Package store persists every record of the engine as JSON documents,
// either in memory or in a MySQL/PostgreSQL table.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"db-resilience/internal/backup"
	"db-resilience/internal/compliance"
	"db-resilience/internal/drift"
	"db-resilience/internal/drill"
	apperrors "db-resilience/internal/errors"
	"db-resilience/internal/monitoring"
)

const (
	collOperations    = "backup_operation"
	collVersions      = "schema_version"
	collConfiguration = "drill_configuration"
	collScenarios     = "drill_scenario"
	collExecutions    = "drill_execution"
	collAlerts        = "alert"
	collTargets       = "compliance_target"
	collMeasurements  = "compliance_measurement"
)

// record is one stored document. Parent and Seq are secondary keys
// (database and version for schema versions). Lists are ordered by Seq,
// then CreatedAt, then insertion order, all descending.
type record struct {
	Collection string
	ID         string
	Parent     string
	Seq        int64
	CreatedAt  time.Time
	Body       []byte
}

type query struct {
	Collection string
	Parent     string
	Seq        int64
	Limit      int
}

// backend is the raw document storage. insert returns a conflict error for
// an existing id; update and get return not_found for a missing one.
type backend interface {
	insert(ctx context.Context, rec record) error
	update(ctx context.Context, rec record) error
	upsert(ctx context.Context, rec record) error
	get(ctx context.Context, collection, id string) (record, error)
	list(ctx context.Context, q query) ([]record, error)
	close() error
}

// Store implements the persistence interfaces of the backup, drift, drill,
// monitoring and compliance packages on one backend
type Store struct {
	backend backend
}

var (
	_ backup.OperationStore    = (*Store)(nil)
	_ backup.MeasurementSource = (*Store)(nil)
	_ drift.VersionStore       = (*Store)(nil)
	_ drill.Store              = (*Store)(nil)
	_ monitoring.AlertStore    = (*Store)(nil)
	_ compliance.Store         = (*Store)(nil)
)

// Close releases the backend
func (s *Store) Close() error {
	return s.backend.close()
}

func newRecord(collection, id, parent string, seq int64, createdAt time.Time, v interface{}) (record, error) {
	if id == "" {
		return record{}, apperrors.NewValidationError(fmt.Sprintf("%s id is required", collection), nil)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return record{}, apperrors.NewAppError(apperrors.ErrorTypeValidation, fmt.Sprintf("failed to encode %s %s", collection, id), err)
	}
	return record{Collection: collection, ID: id, Parent: parent, Seq: seq, CreatedAt: createdAt, Body: body}, nil
}

func decode[T any](rec record) (*T, error) {
	var v T
	if err := json.Unmarshal(rec.Body, &v); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeIntegrity, fmt.Sprintf("failed to decode %s %s", rec.Collection, rec.ID), err)
	}
	return &v, nil
}

func getDoc[T any](ctx context.Context, b backend, collection, id string) (*T, error) {
	rec, err := b.get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return decode[T](rec)
}

// listDocs decodes the records of q, keeps those accepted by match and
// stops after limit (0 means all)
func listDocs[T any](ctx context.Context, b backend, q query, limit int, match func(*T) bool) ([]*T, error) {
	recs, err := b.list(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		v, err := decode[T](rec)
		if err != nil {
			return nil, err
		}
		if match != nil && !match(v) {
			continue
		}
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) insert(ctx context.Context, collection, id, parent string, seq int64, createdAt time.Time, v interface{}) error {
	rec, err := newRecord(collection, id, parent, seq, createdAt, v)
	if err != nil {
		return err
	}
	return s.backend.insert(ctx, rec)
}

func (s *Store) update(ctx context.Context, collection, id, parent string, seq int64, createdAt time.Time, v interface{}) error {
	rec, err := newRecord(collection, id, parent, seq, createdAt, v)
	if err != nil {
		return err
	}
	return s.backend.update(ctx, rec)
}

func (s *Store) upsert(ctx context.Context, collection, id string, v interface{}) error {
	rec, err := newRecord(collection, id, "", 0, time.Time{}, v)
	if err != nil {
		return err
	}
	return s.backend.upsert(ctx, rec)
}

// Backup operations

func (s *Store) CreateOperation(ctx context.Context, op *backup.Operation) (*backup.Operation, error) {
	if err := s.insert(ctx, collOperations, op.ID, op.PolicyID, 0, op.StartedAt, op); err != nil {
		return nil, err
	}
	return op, nil
}

func (s *Store) UpdateOperation(ctx context.Context, op *backup.Operation) error {
	return s.update(ctx, collOperations, op.ID, op.PolicyID, 0, op.StartedAt, op)
}

func (s *Store) GetOperation(ctx context.Context, id string) (*backup.Operation, error) {
	return getDoc[backup.Operation](ctx, s.backend, collOperations, id)
}

func (s *Store) ListOperations(ctx context.Context, filter backup.OperationFilter) ([]*backup.Operation, error) {
	q := query{Collection: collOperations, Parent: filter.PolicyID}
	return listDocs(ctx, s.backend, q, filter.Limit, func(op *backup.Operation) bool { return filter.Matches(op) })
}

// Schema versions

func (s *Store) LatestVersion(ctx context.Context, database string) (*drift.SchemaVersion, error) {
	versions, err := s.ListVersions(ctx, database, 1)
	if err != nil || len(versions) == 0 {
		return nil, err
	}
	return versions[0], nil
}

func (s *Store) CreateVersion(ctx context.Context, v *drift.SchemaVersion) (*drift.SchemaVersion, error) {
	if err := s.insert(ctx, collVersions, v.ID, v.Database, int64(v.Version), v.CapturedAt, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store) GetVersion(ctx context.Context, database string, version int) (*drift.SchemaVersion, error) {
	versions, err := listDocs[drift.SchemaVersion](ctx, s.backend,
		query{Collection: collVersions, Parent: database, Seq: int64(version), Limit: 1}, 1, nil)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, apperrors.NewNotFoundError("schema version", fmt.Sprintf("%s@%d", database, version))
	}
	return versions[0], nil
}

func (s *Store) ListVersions(ctx context.Context, database string, limit int) ([]*drift.SchemaVersion, error) {
	return listDocs[drift.SchemaVersion](ctx, s.backend,
		query{Collection: collVersions, Parent: database, Limit: limit}, limit, nil)
}

// Drill configurations, scenarios and executions

func (s *Store) SaveConfiguration(ctx context.Context, cfg *drill.Configuration) error {
	return s.upsert(ctx, collConfiguration, cfg.ID, cfg)
}

func (s *Store) GetConfiguration(ctx context.Context, id string) (*drill.Configuration, error) {
	return getDoc[drill.Configuration](ctx, s.backend, collConfiguration, id)
}

func (s *Store) ListConfigurations(ctx context.Context) ([]*drill.Configuration, error) {
	configs, err := listDocs[drill.Configuration](ctx, s.backend, query{Collection: collConfiguration}, 0, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	return configs, nil
}

func (s *Store) SaveScenario(ctx context.Context, scenario *drill.Scenario) error {
	return s.upsert(ctx, collScenarios, scenario.ID, scenario)
}

func (s *Store) GetScenario(ctx context.Context, id string) (*drill.Scenario, error) {
	return getDoc[drill.Scenario](ctx, s.backend, collScenarios, id)
}

func (s *Store) CreateExecution(ctx context.Context, exec *drill.Execution) (*drill.Execution, error) {
	if err := s.insert(ctx, collExecutions, exec.ID, exec.ConfigID, 0, exec.CreatedAt, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

func (s *Store) UpdateExecution(ctx context.Context, exec *drill.Execution) error {
	return s.update(ctx, collExecutions, exec.ID, exec.ConfigID, 0, exec.CreatedAt, exec)
}

func (s *Store) GetExecution(ctx context.Context, id string) (*drill.Execution, error) {
	return getDoc[drill.Execution](ctx, s.backend, collExecutions, id)
}

func (s *Store) ListExecutions(ctx context.Context, filter drill.ExecutionFilter) ([]*drill.Execution, error) {
	q := query{Collection: collExecutions, Parent: filter.ConfigID}
	return listDocs(ctx, s.backend, q, filter.Limit, func(e *drill.Execution) bool { return filter.Matches(e) })
}

// Alerts

func (s *Store) CreateAlert(ctx context.Context, alert *monitoring.Alert) (*monitoring.Alert, error) {
	if err := s.insert(ctx, collAlerts, alert.ID, string(alert.Type), 0, alert.CreatedAt, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

func (s *Store) UpdateAlert(ctx context.Context, alert *monitoring.Alert) error {
	return s.update(ctx, collAlerts, alert.ID, string(alert.Type), 0, alert.CreatedAt, alert)
}

func (s *Store) GetAlert(ctx context.Context, id string) (*monitoring.Alert, error) {
	return getDoc[monitoring.Alert](ctx, s.backend, collAlerts, id)
}

func (s *Store) ListAlerts(ctx context.Context, filter monitoring.AlertFilter) ([]*monitoring.Alert, error) {
	q := query{Collection: collAlerts, Parent: string(filter.Type)}
	return listDocs(ctx, s.backend, q, filter.Limit, func(a *monitoring.Alert) bool { return filter.Matches(a) })
}

// Compliance targets and measurements

func (s *Store) SaveTarget(ctx context.Context, target *compliance.Target) error {
	return s.upsert(ctx, collTargets, target.ID, target)
}

func (s *Store) GetTarget(ctx context.Context, id string) (*compliance.Target, error) {
	return getDoc[compliance.Target](ctx, s.backend, collTargets, id)
}

func (s *Store) ListTargets(ctx context.Context) ([]*compliance.Target, error) {
	targets, err := listDocs[compliance.Target](ctx, s.backend, query{Collection: collTargets}, 0, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	return targets, nil
}

func (s *Store) CreateMeasurement(ctx context.Context, m *compliance.Measurement) (*compliance.Measurement, error) {
	if err := s.insert(ctx, collMeasurements, m.ID, m.TargetID, 0, m.MeasuredAt, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) ListMeasurements(ctx context.Context, filter compliance.MeasurementFilter) ([]*compliance.Measurement, error) {
	q := query{Collection: collMeasurements, Parent: filter.TargetID}
	return listDocs(ctx, s.backend, q, filter.Limit, func(m *compliance.Measurement) bool { return filter.Matches(m) })
}
