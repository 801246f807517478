package compliance

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "db-resilience/internal/errors"
	"db-resilience/internal/metrics"
)

type memStore struct {
	mu           sync.Mutex
	targets      map[string]Target
	measurements []Measurement
}

func newMemStore() *memStore {
	return &memStore{targets: make(map[string]Target)}
}

func (s *memStore) SaveTarget(ctx context.Context, t *Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[t.ID] = *t
	return nil
}

func (s *memStore) GetTarget(ctx context.Context, id string) (*Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("target", id)
	}
	return &t, nil
}

func (s *memStore) ListTargets(ctx context.Context) ([]*Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Target
	for _, t := range s.targets {
		t := t
		out = append(out, &t)
	}
	return out, nil
}

func (s *memStore) CreateMeasurement(ctx context.Context, m *Measurement) (*Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.measurements = append(s.measurements, *m)
	out := *m
	return &out, nil
}

func (s *memStore) ListMeasurements(ctx context.Context, f MeasurementFilter) ([]*Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Measurement
	for _, m := range s.measurements {
		if f.Matches(&m) {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MeasuredAt.After(out[j].MeasuredAt) })
	return out, nil
}

var testNow = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

func newTestAggregator(t *testing.T) (*Aggregator, *memStore) {
	t.Helper()
	store := newMemStore()
	agg := NewAggregator(store, nil, nil)
	agg.now = func() time.Time { return testNow }
	require.NoError(t, agg.RegisterTarget(context.Background(), Target{
		ID: "orders", Service: "orders-api", RtoSeconds: 300, RpoSeconds: 60, Criticality: CriticalityHigh,
	}))
	return agg, store
}

func measurement(rto, rpo float64, daysAgo int, target Target) *Measurement {
	return &Measurement{
		TargetID:    target.ID,
		ActualRto:   rto,
		ActualRpo:   rpo,
		RtoAchieved: rto <= target.RtoSeconds,
		RpoAchieved: rpo <= target.RpoSeconds,
		MeasuredAt:  testNow.Add(-time.Duration(daysAgo) * 24 * time.Hour),
	}
}

func TestRecordMeasurement_DerivesFlags(t *testing.T) {
	agg, store := newTestAggregator(t)
	ctx := context.Background()

	tests := []struct {
		rto, rpo     float64
		rtoOK, rpoOK bool
	}{
		{300, 60, true, true},
		{301, 10, false, true},
		{100, 61, true, false},
		{900, 900, false, false},
	}

	for _, tt := range tests {
		m, err := agg.RecordMeasurement(ctx, MeasurementInput{TargetID: "orders", Source: SourceDrill, SourceID: "exec", ActualRto: tt.rto, ActualRpo: tt.rpo})
		require.NoError(t, err)
		assert.Equal(t, tt.rtoOK, m.RtoAchieved)
		assert.Equal(t, tt.rpoOK, m.RpoAchieved)
		assert.Equal(t, testNow, m.MeasuredAt)
	}

	target, _ := store.GetTarget(ctx, "orders")
	for _, m := range store.measurements {
		assert.Equal(t, m.ActualRto <= target.RtoSeconds, m.RtoAchieved)
		assert.Equal(t, m.ActualRpo <= target.RpoSeconds, m.RpoAchieved)
	}
}

func TestRecordMeasurement_Errors(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()

	_, err := agg.RecordMeasurement(ctx, MeasurementInput{TargetID: "missing"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	_, err = agg.RecordMeasurement(ctx, MeasurementInput{TargetID: "orders", ActualRto: -1})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestRecordMeasurement_UpdatesScoreGauge(t *testing.T) {
	store := newMemStore()
	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	agg := NewAggregator(store, nil, recorder)
	ctx := context.Background()
	require.NoError(t, agg.RegisterTarget(ctx, Target{ID: "t", Service: "s", RtoSeconds: 10, RpoSeconds: 10, Criticality: CriticalityLow}))

	_, err := agg.RecordMeasurement(ctx, MeasurementInput{TargetID: "t", ActualRto: 5, ActualRpo: 5})
	require.NoError(t, err)
	_, err = agg.RecordMeasurement(ctx, MeasurementInput{TargetID: "t", ActualRto: 50, ActualRpo: 5})
	require.NoError(t, err)

	assert.Equal(t, 50.0, testutil.ToFloat64(recorder.ComplianceScore.WithLabelValues("t")))
}

func TestCompute(t *testing.T) {
	target := Target{ID: "orders", Service: "orders-api", RtoSeconds: 300, RpoSeconds: 60, Criticality: CriticalityHigh}

	tests := []struct {
		name         string
		measurements []*Measurement
		score        float64
		risk         RiskLevel
		trend        Trend
		count        int
	}{
		{
			name:  "no measurements",
			risk:  RiskCritical,
			trend: TrendStable,
		},
		{
			name:         "only stale measurements",
			measurements: []*Measurement{measurement(100, 10, 45, target)},
			risk:         RiskCritical,
			trend:        TrendStable,
		},
		{
			name: "all compliant",
			measurements: []*Measurement{
				measurement(100, 10, 3, target),
				measurement(100, 10, 2, target),
				measurement(100, 10, 1, target),
			},
			score: 100, risk: RiskLow, trend: TrendStable, count: 3,
		},
		{
			name: "latest failed",
			measurements: []*Measurement{
				measurement(100, 10, 3, target),
				measurement(100, 10, 2, target),
				measurement(400, 10, 1, target),
			},
			score: 66.67, risk: RiskHigh, trend: TrendDegrading, count: 3,
		},
		{
			name: "low score but latest passed",
			measurements: []*Measurement{
				measurement(400, 10, 4, target),
				measurement(400, 10, 3, target),
				measurement(100, 10, 2, target),
				measurement(100, 10, 1, target),
			},
			score: 50, risk: RiskMedium, trend: TrendImproving, count: 4,
		},
		{
			name: "small change is stable",
			measurements: []*Measurement{
				measurement(100, 0, 2, target),
				measurement(104, 0, 1, target),
			},
			score: 100, risk: RiskLow, trend: TrendStable, count: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := Compute(target, tt.measurements, testNow)
			assert.Equal(t, tt.score, tm.ComplianceScore)
			assert.Equal(t, tt.risk, tm.RiskLevel)
			assert.Equal(t, tt.trend, tm.Trend)
			assert.Equal(t, tt.count, tm.MeasurementCount)
		})
	}
}

func TestCompute_CurrentAndAverages(t *testing.T) {
	target := Target{ID: "orders", RtoSeconds: 300, RpoSeconds: 60}
	ms := []*Measurement{
		measurement(200, 20, 1, target),
		measurement(100, 40, 5, target),
		measurement(900, 900, 40, target),
	}

	tm := Compute(target, ms, testNow)
	require.NotNil(t, tm.CurrentRto)
	assert.Equal(t, 200.0, *tm.CurrentRto)
	assert.Equal(t, 20.0, *tm.CurrentRpo)
	assert.Equal(t, 150.0, tm.AvgRto30d)
	assert.Equal(t, 30.0, tm.AvgRpo30d)
	assert.Equal(t, testNow.Add(-24*time.Hour), *tm.LastMeasuredAt)
}

func TestComputeTrend_UsesLastTen(t *testing.T) {
	target := Target{ID: "orders", RtoSeconds: 300, RpoSeconds: 60}
	var ms []*Measurement
	// an old slow period outside the trend window
	for i := 0; i < 5; i++ {
		ms = append(ms, measurement(1000, 0, 30-i, target))
	}
	for i := 0; i < 10; i++ {
		ms = append(ms, measurement(100, 0, 20-i, target))
	}

	assert.Equal(t, TrendStable, Compute(target, ms, testNow).Trend)
}

func TestReport(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()
	require.NoError(t, agg.RegisterTarget(ctx, Target{ID: "billing", Service: "billing", RtoSeconds: 60, RpoSeconds: 60, Criticality: CriticalityCritical}))

	_, err := agg.RecordMeasurement(ctx, MeasurementInput{TargetID: "orders", Source: SourceBackup, ActualRto: 10, ActualRpo: 10})
	require.NoError(t, err)

	report, err := agg.Report(ctx)
	require.NoError(t, err)
	require.Len(t, report.Targets, 2)
	assert.Equal(t, "billing", report.Targets[0].Target.ID)
	assert.Equal(t, RiskCritical, report.Targets[0].RiskLevel)
	assert.Equal(t, 100.0, report.Targets[1].ComplianceScore)
	assert.Equal(t, 50.0, report.OverallScore)
	assert.Equal(t, testNow, report.GeneratedAt)
}

func TestTarget_Validate(t *testing.T) {
	valid := Target{ID: "t", Service: "s", RtoSeconds: 60, RpoSeconds: 0, Criticality: CriticalityMedium}
	assert.NoError(t, valid.Validate())

	invalid := []Target{
		{Service: "s", RtoSeconds: 60, Criticality: CriticalityLow},
		{ID: "t", RtoSeconds: 60, Criticality: CriticalityLow},
		{ID: "t", Service: "s", Criticality: CriticalityLow},
		{ID: "t", Service: "s", RtoSeconds: 60, Criticality: "extreme"},
	}
	for _, target := range invalid {
		assert.Error(t, target.Validate())
	}
}
