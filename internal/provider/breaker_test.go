package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-resilience/internal/metrics"
)

type flakyProvider struct {
	fail  bool
	calls int
}

func (f *flakyProvider) CreateSnapshot(ctx context.Context, name string, tags map[string]string, expiresAt time.Time) (*SnapshotInfo, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("provider down")
	}
	return &SnapshotInfo{ID: "snap", Name: name, Status: SnapshotStatusAvailable}, nil
}

func (f *flakyProvider) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("provider down")
	}
	return []SnapshotInfo{{ID: "snap", Status: SnapshotStatusAvailable}}, nil
}

func (f *flakyProvider) RestoreSnapshot(ctx context.Context, id, targetRef string) (*RestoreResult, error) {
	f.calls++
	return &RestoreResult{SnapshotID: id, TargetRef: targetRef}, nil
}

func (f *flakyProvider) DeleteSnapshot(ctx context.Context, id string) (bool, error) {
	f.calls++
	return true, nil
}

func TestBreakerProvider_PassesThrough(t *testing.T) {
	inner := &flakyProvider{}
	b := NewBreakerProvider(inner, DefaultBreakerConfig("test"), nil, nil)
	ctx := context.Background()

	info, err := b.CreateSnapshot(ctx, "nightly", nil, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "nightly", info.Name)

	list, err := b.ListSnapshots(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	deleted, err := b.DeleteSnapshot(ctx, "snap")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = b.VerifySnapshot(ctx, "snap")
	assert.ErrorContains(t, err, "cannot verify")
	assert.NoError(t, b.RemoveTarget(ctx, "target"))
	assert.Equal(t, "closed", b.State())
}

func TestBreakerProvider_OpensAfterFailures(t *testing.T) {
	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	inner := &flakyProvider{fail: true}

	cfg := DefaultBreakerConfig("rds")
	cfg.MinRequests = 3
	cfg.FailureRatio = 0.5
	b := NewBreakerProvider(inner, cfg, nil, recorder)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.ListSnapshots(ctx)
		assert.Error(t, err)
	}
	assert.Equal(t, "open", b.State())
	assert.Equal(t, 2.0, testutil.ToFloat64(recorder.CircuitBreakerState.WithLabelValues("rds")))

	_, err := b.ListSnapshots(ctx)
	assert.ErrorContains(t, err, "unavailable")
	assert.Equal(t, 3, inner.calls)
	assert.Error(t, b.HealthCheck(ctx))

	assert.Equal(t, 3.0, testutil.ToFloat64(recorder.CircuitBreakerRequests.WithLabelValues("rds", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.CircuitBreakerRequests.WithLabelValues("rds", "rejected")))
}

func TestLatestAndFind(t *testing.T) {
	now := time.Now()
	snapshots := []SnapshotInfo{
		{ID: "old", Status: SnapshotStatusAvailable, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "failed", Status: SnapshotStatusFailed, CreatedAt: now},
		{ID: "new", Status: SnapshotStatusAvailable, CreatedAt: now.Add(-time.Hour)},
	}

	latest, ok := Latest(snapshots)
	require.True(t, ok)
	assert.Equal(t, "new", latest.ID)

	_, ok = Latest(nil)
	assert.False(t, ok)

	found, ok := Find(snapshots, "failed")
	require.True(t, ok)
	assert.Equal(t, SnapshotStatusFailed, found.Status)

	_, ok = Find(snapshots, "missing")
	assert.False(t, ok)
}
