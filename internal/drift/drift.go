// Package drift captures schema snapshots of the protected database, diffs
// them against the last known version and reports drift to the alert
// engine.
package drift

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "db-resilience/internal/errors"
	"db-resilience/internal/logging"
	"db-resilience/internal/metrics"
	"db-resilience/internal/monitoring"
	"db-resilience/internal/schema"
)

// Trigger records why a capture ran
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerBackup   Trigger = "backup"
	TriggerManual   Trigger = "manual"
)

// SchemaVersion is one distinct structure of a database. Diff is nil for
// the first version.
type SchemaVersion struct {
	ID          string             `json:"id"`
	Database    string             `json:"database"`
	Version     int                `json:"version"`
	Snapshot    *schema.Snapshot   `json:"snapshot"`
	Diff        *schema.SchemaDiff `json:"diff,omitempty"`
	Trigger     Trigger            `json:"trigger"`
	OperationID string             `json:"operation_id,omitempty"`
	CapturedAt  time.Time          `json:"captured_at"`
}

// VersionStore persists schema versions. LatestVersion returns nil, nil
// when the database has none; ListVersions returns newest first.
type VersionStore interface {
	LatestVersion(ctx context.Context, database string) (*SchemaVersion, error)
	CreateVersion(ctx context.Context, v *SchemaVersion) (*SchemaVersion, error)
	GetVersion(ctx context.Context, database string, version int) (*SchemaVersion, error)
	ListVersions(ctx context.Context, database string, limit int) ([]*SchemaVersion, error)
}

// CaptureResult is the outcome of one capture. Changed is false when the
// structure hash matched the latest version, in which case Version is that
// existing version.
type CaptureResult struct {
	Version *SchemaVersion
	Changed bool
}

// Snapshotter runs captures for one introspected database
type Snapshotter struct {
	introspector schema.Introspector
	store        VersionStore
	events       monitoring.Publisher
	logger       *logging.Logger
	metrics      *metrics.Recorder
	now          func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSnapshotter creates a snapshotter. events may be nil.
func NewSnapshotter(introspector schema.Introspector, store VersionStore, events monitoring.Publisher, logger *logging.Logger, recorder *metrics.Recorder) *Snapshotter {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Snapshotter{
		introspector: introspector,
		store:        store,
		events:       events,
		logger:       logger,
		metrics:      recorder,
		now:          time.Now,
		locks:        make(map[string]*sync.Mutex),
	}
}

// Database is the name of the captured database
func (s *Snapshotter) Database() string {
	return s.introspector.Database()
}

func (s *Snapshotter) lockFor(database string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[database]
	if !ok {
		l = &sync.Mutex{}
		s.locks[database] = l
	}
	return l
}

// Capture introspects the database and stores a new version when the
// structure changed. Reading the baseline, introspecting, diffing and
// writing the version happen under one per-database lock.
func (s *Snapshotter) Capture(ctx context.Context, trigger Trigger) (*CaptureResult, error) {
	return s.capture(ctx, trigger, "")
}

// CaptureAfterBackup captures on behalf of a completed backup operation
func (s *Snapshotter) CaptureAfterBackup(ctx context.Context, operationID string) error {
	_, err := s.capture(ctx, TriggerBackup, operationID)
	return err
}

func (s *Snapshotter) capture(ctx context.Context, trigger Trigger, operationID string) (*CaptureResult, error) {
	database := s.introspector.Database()
	lock := s.lockFor(database)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	baseline, err := s.store.LatestVersion(ctx, database)
	if err != nil {
		return nil, s.captureFailed(database, trigger, start, apperrors.WrapError(err, "failed to load baseline schema version"))
	}

	structure, err := s.introspector.Introspect(ctx)
	if err != nil {
		return nil, s.captureFailed(database, trigger, start, apperrors.WrapError(err, fmt.Sprintf("failed to introspect %s", database)))
	}

	nextVersion := 1
	if baseline != nil {
		nextVersion = baseline.Version + 1
	}

	snapshot, err := schema.NewSnapshot(structure, nextVersion, s.now())
	if err != nil {
		return nil, s.captureFailed(database, trigger, start, apperrors.NewAppError(apperrors.ErrorTypeSchema, "invalid introspected structure", err))
	}
	s.logger.LogSchemaCapture(database, len(snapshot.Tables), snapshot.Hash, time.Since(start), nil)

	if baseline != nil && baseline.Snapshot != nil && baseline.Snapshot.Hash == snapshot.Hash {
		s.logger.LogSchemaDrift(database, 0, string(schema.SeverityNone), false)
		s.metrics.ObserveCapture(database, string(trigger), baseline.Version, nil, nil)
		return &CaptureResult{Version: baseline, Changed: false}, nil
	}

	var diff *schema.SchemaDiff
	if baseline != nil && baseline.Snapshot != nil {
		diff = schema.CompareSnapshots(baseline.Snapshot, snapshot)
	}

	version, err := s.store.CreateVersion(ctx, &SchemaVersion{
		ID:          uuid.New().String(),
		Database:    database,
		Version:     nextVersion,
		Snapshot:    snapshot,
		Diff:        diff,
		Trigger:     trigger,
		OperationID: operationID,
		CapturedAt:  snapshot.CapturedAt,
	})
	if err != nil {
		return nil, s.captureFailed(database, trigger, start, apperrors.WrapError(err, "failed to store schema version"))
	}

	severities := map[string]int{}
	if diff != nil {
		for severity, count := range diff.CountBySeverity() {
			severities[string(severity)] = count
		}
		s.logger.LogSchemaDrift(database, len(diff.Changes), string(diff.RiskLevel), diff.IsBreaking)
		if !diff.IsEmpty() && s.events != nil {
			s.events.Publish(ctx, monitoring.DriftDetected{
				Database:    database,
				FromVersion: diff.FromVersion,
				ToVersion:   diff.ToVersion,
				RiskLevel:   monitoring.Severity(diff.RiskLevel),
				Breaking:    diff.IsBreaking,
				ChangeCount: len(diff.Changes),
				Summary:     diff.Summary(),
			})
		}
	}
	s.metrics.ObserveCapture(database, string(trigger), version.Version, severities, nil)

	return &CaptureResult{Version: version, Changed: true}, nil
}

func (s *Snapshotter) captureFailed(database string, trigger Trigger, start time.Time, err error) error {
	s.logger.LogSchemaCapture(database, 0, "", time.Since(start), err)
	s.metrics.ObserveCapture(database, string(trigger), 0, nil, err)
	return err
}

// History returns the most recent versions, newest first
func (s *Snapshotter) History(ctx context.Context, limit int) ([]*SchemaVersion, error) {
	return s.store.ListVersions(ctx, s.introspector.Database(), limit)
}

// Version returns one stored version
func (s *Snapshotter) Version(ctx context.Context, version int) (*SchemaVersion, error) {
	return s.store.GetVersion(ctx, s.introspector.Database(), version)
}

// Compare diffs any two stored versions of the database for inspection. It
// stores nothing and raises no events; drift detection is Capture, which
// always diffs against the latest stored version.
func (s *Snapshotter) Compare(ctx context.Context, from, to int) (*schema.SchemaDiff, error) {
	a, err := s.Version(ctx, from)
	if err != nil {
		return nil, err
	}
	b, err := s.Version(ctx, to)
	if err != nil {
		return nil, err
	}
	return schema.CompareSnapshots(a.Snapshot, b.Snapshot), nil
}
