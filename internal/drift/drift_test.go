package drift

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "db-resilience/internal/errors"
	"db-resilience/internal/metrics"
	"db-resilience/internal/monitoring"
	"db-resilience/internal/schema"
)

type fakeIntrospector struct {
	mu        sync.Mutex
	structure *schema.Structure
	err       error
}

func (f *fakeIntrospector) Database() string { return "app" }

func (f *fakeIntrospector) Introspect(ctx context.Context) (*schema.Structure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.structure, nil
}

func (f *fakeIntrospector) set(s *schema.Structure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.structure = s
}

type memVersionStore struct {
	mu       sync.Mutex
	versions []*SchemaVersion
}

func (m *memVersionStore) LatestVersion(ctx context.Context, database string) (*SchemaVersion, error) {
	list, _ := m.ListVersions(ctx, database, 1)
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (m *memVersionStore) CreateVersion(ctx context.Context, v *SchemaVersion) (*SchemaVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = append(m.versions, v)
	return v, nil
}

func (m *memVersionStore) GetVersion(ctx context.Context, database string, version int) (*SchemaVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.Database == database && v.Version == version {
			return v, nil
		}
	}
	return nil, apperrors.NewNotFoundError("schema version", database)
}

func (m *memVersionStore) ListVersions(ctx context.Context, database string, limit int) ([]*SchemaVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*SchemaVersion
	for _, v := range m.versions {
		if v.Database == database {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []monitoring.Event
}

func (c *capturingPublisher) Publish(ctx context.Context, event monitoring.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func usersStructure() *schema.Structure {
	return &schema.Structure{
		Database: "app",
		Tables: []schema.TableDefinition{
			{Name: "users", Columns: []schema.ColumnDefinition{
				{Name: "id", DataType: "bigint", IsPrimaryKey: true, Position: 1},
				{Name: "name", DataType: "varchar", Length: 255, Position: 2},
			}},
			{Name: "sessions", Columns: []schema.ColumnDefinition{
				{Name: "id", DataType: "bigint", IsPrimaryKey: true, Position: 1},
			}},
		},
		Indexes: []schema.IndexDefinition{
			{Name: "PRIMARY", TableName: "users", Columns: []string{"id"}, IsUnique: true, IsPrimary: true},
			{Name: "PRIMARY", TableName: "sessions", Columns: []string{"id"}, IsUnique: true, IsPrimary: true},
		},
	}
}

func withEmail(s *schema.Structure) *schema.Structure {
	out := *s
	out.Tables = append([]schema.TableDefinition(nil), s.Tables...)
	users := out.Tables[0]
	users.Columns = append(append([]schema.ColumnDefinition(nil), users.Columns...),
		schema.ColumnDefinition{Name: "email", DataType: "varchar", Length: 255, IsNullable: true, Position: 3})
	out.Tables[0] = users
	return &out
}

func withoutSessions(s *schema.Structure) *schema.Structure {
	out := *s
	out.Tables = []schema.TableDefinition{s.Tables[0]}
	out.Indexes = []schema.IndexDefinition{s.Indexes[0]}
	return &out
}

func TestCapture_FirstVersionHasNoDiff(t *testing.T) {
	store := &memVersionStore{}
	pub := &capturingPublisher{}
	s := NewSnapshotter(&fakeIntrospector{structure: usersStructure()}, store, pub, nil, nil)

	result, err := s.Capture(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, 1, result.Version.Version)
	assert.Nil(t, result.Version.Diff)
	assert.Equal(t, TriggerManual, result.Version.Trigger)
	assert.NotEmpty(t, result.Version.Snapshot.Hash)
	assert.Empty(t, pub.events)
}

func TestCapture_UnchangedStructureKeepsVersion(t *testing.T) {
	store := &memVersionStore{}
	s := NewSnapshotter(&fakeIntrospector{structure: usersStructure()}, store, nil, nil, nil)
	ctx := context.Background()

	_, err := s.Capture(ctx, TriggerSchedule)
	require.NoError(t, err)

	result, err := s.Capture(ctx, TriggerSchedule)
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, 1, result.Version.Version)
	assert.Len(t, store.versions, 1)
}

func TestCapture_DriftPublishesEvent(t *testing.T) {
	intro := &fakeIntrospector{structure: usersStructure()}
	store := &memVersionStore{}
	pub := &capturingPublisher{}
	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	s := NewSnapshotter(intro, store, pub, nil, recorder)
	ctx := context.Background()

	_, err := s.Capture(ctx, TriggerSchedule)
	require.NoError(t, err)

	intro.set(withEmail(usersStructure()))
	result, err := s.Capture(ctx, TriggerSchedule)
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.NotNil(t, result.Version.Diff)
	require.Len(t, result.Version.Diff.Changes, 1)
	assert.Equal(t, schema.ChangeColumnAdded, result.Version.Diff.Changes[0].Type)
	assert.Equal(t, schema.SeverityLow, result.Version.Diff.Changes[0].Severity)

	intro.set(withoutSessions(withEmail(usersStructure())))
	result, err = s.Capture(ctx, TriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Version.Version)
	assert.True(t, result.Version.Diff.IsBreaking)
	assert.Equal(t, schema.SeverityCritical, result.Version.Diff.RiskLevel)

	require.Len(t, pub.events, 2)
	drift := pub.events[1].(monitoring.DriftDetected)
	assert.Equal(t, "app", drift.Database)
	assert.Equal(t, 2, drift.FromVersion)
	assert.Equal(t, 3, drift.ToVersion)
	assert.True(t, drift.Breaking)
	assert.Equal(t, monitoring.SeverityCritical, drift.RiskLevel)

	assert.Equal(t, 3.0, testutil.ToFloat64(recorder.SchemaVersion.WithLabelValues("app")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.DriftChanges.WithLabelValues("critical")))
}

func TestCaptureAfterBackup_RecordsOperation(t *testing.T) {
	store := &memVersionStore{}
	s := NewSnapshotter(&fakeIntrospector{structure: usersStructure()}, store, nil, nil, nil)

	require.NoError(t, s.CaptureAfterBackup(context.Background(), "op-1"))
	require.Len(t, store.versions, 1)
	assert.Equal(t, TriggerBackup, store.versions[0].Trigger)
	assert.Equal(t, "op-1", store.versions[0].OperationID)
}

func TestCapture_IntrospectionError(t *testing.T) {
	s := NewSnapshotter(&fakeIntrospector{err: errors.New("connection refused")}, &memVersionStore{}, nil, nil, nil)

	_, err := s.Capture(context.Background(), TriggerSchedule)
	assert.ErrorContains(t, err, "connection refused")
}

func TestCapture_ConcurrentCapturesAreSerialized(t *testing.T) {
	intro := &fakeIntrospector{structure: usersStructure()}
	store := &memVersionStore{}
	s := NewSnapshotter(intro, store, nil, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Capture(ctx, TriggerSchedule)
		}()
	}
	wg.Wait()

	assert.Len(t, store.versions, 1)
}

func TestHistoryAndCompare(t *testing.T) {
	intro := &fakeIntrospector{structure: usersStructure()}
	s := NewSnapshotter(intro, &memVersionStore{}, nil, nil, nil)
	ctx := context.Background()

	_, err := s.Capture(ctx, TriggerManual)
	require.NoError(t, err)
	intro.set(withoutSessions(usersStructure()))
	_, err = s.Capture(ctx, TriggerManual)
	require.NoError(t, err)

	history, err := s.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)

	diff, err := s.Compare(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, diff.Changes, 1)
	assert.Equal(t, schema.ChangeTableRemoved, diff.Changes[0].Type)

	_, err = s.Compare(ctx, 1, 7)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestCompare_ReadOnlyAndCaptureUsesLatest(t *testing.T) {
	intro := &fakeIntrospector{structure: usersStructure()}
	store := &memVersionStore{}
	pub := &capturingPublisher{}
	s := NewSnapshotter(intro, store, pub, nil, nil)
	ctx := context.Background()

	_, err := s.Capture(ctx, TriggerManual)
	require.NoError(t, err)
	intro.set(withEmail(usersStructure()))
	_, err = s.Capture(ctx, TriggerManual)
	require.NoError(t, err)
	intro.set(withoutSessions(withEmail(usersStructure())))
	_, err = s.Capture(ctx, TriggerManual)
	require.NoError(t, err)
	eventsBefore := len(pub.events)

	diff, err := s.Compare(ctx, 1, 3)
	require.NoError(t, err)
	assert.Len(t, diff.Changes, 2)
	assert.Len(t, store.versions, 3)
	assert.Len(t, pub.events, eventsBefore)

	result, err := s.Capture(ctx, TriggerManual)
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, 3, result.Version.Version)
}
