package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArtifactProvider(t *testing.T, sealer *Sealer, restore RestoreFunc) (*ArtifactProvider, string) {
	t.Helper()

	dir := t.TempDir()
	store, err := NewLocalStore(dir, 0)
	require.NoError(t, err)

	dump := func(ctx context.Context) ([]byte, error) {
		return []byte(`{"tables":{"users":{}}}`), nil
	}

	p, err := NewArtifactProvider(store, dump, restore, sealer, ArtifactConfig{Prefix: "snapshots"})
	require.NoError(t, err)
	return p, dir
}

func TestArtifactProvider_CreateAndList(t *testing.T) {
	p, _ := newTestArtifactProvider(t, nil, nil)
	ctx := context.Background()

	expires := time.Now().Add(24 * time.Hour)
	first, err := p.CreateSnapshot(ctx, "nightly", map[string]string{"env": "test"}, expires)
	require.NoError(t, err)
	assert.Equal(t, SnapshotStatusAvailable, first.Status)
	assert.NotEmpty(t, first.Checksum)
	require.NotNil(t, first.ExpiresAt)

	p.now = func() time.Time { return time.Now().Add(time.Minute) }
	second, err := p.CreateSnapshot(ctx, "nightly", nil, time.Time{})
	require.NoError(t, err)
	assert.Nil(t, second.ExpiresAt)

	snapshots, err := p.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, second.ID, snapshots[0].ID)
	assert.Equal(t, "test", snapshots[1].Tags["env"])

	latest, ok := Latest(snapshots)
	require.True(t, ok)
	assert.Equal(t, second.ID, latest.ID)
}

func TestArtifactProvider_RestoreWithEncryption(t *testing.T) {
	sealer, err := NewSealerWithKey(testKey())
	require.NoError(t, err)

	var restored []byte
	var target string
	restore := func(ctx context.Context, data []byte, targetRef string) error {
		restored = data
		target = targetRef
		return nil
	}

	p, _ := newTestArtifactProvider(t, sealer, restore)
	ctx := context.Background()

	info, err := p.CreateSnapshot(ctx, "nightly", nil, time.Time{})
	require.NoError(t, err)

	result, err := p.RestoreSnapshot(ctx, info.ID, "drill-target")
	require.NoError(t, err)
	assert.Equal(t, "restored", result.Status)
	assert.Equal(t, "drill-target", target)
	assert.JSONEq(t, `{"tables":{"users":{}}}`, string(restored))
	assert.GreaterOrEqual(t, result.Duration(), time.Duration(0))
}

func TestArtifactProvider_RestoreFailure(t *testing.T) {
	restore := func(ctx context.Context, data []byte, targetRef string) error {
		return errors.New("target unreachable")
	}
	p, _ := newTestArtifactProvider(t, nil, restore)
	ctx := context.Background()

	info, err := p.CreateSnapshot(ctx, "nightly", nil, time.Time{})
	require.NoError(t, err)

	_, err = p.RestoreSnapshot(ctx, info.ID, "drill-target")
	assert.ErrorContains(t, err, "target unreachable")
}

func TestArtifactProvider_VerifyDetectsCorruption(t *testing.T) {
	p, dir := newTestArtifactProvider(t, nil, nil)
	ctx := context.Background()

	info, err := p.CreateSnapshot(ctx, "nightly", nil, time.Time{})
	require.NoError(t, err)

	result, err := p.VerifySnapshot(ctx, info.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	artifact := filepath.Join(dir, "snapshots", info.ID, artifactFile)
	require.NoError(t, os.WriteFile(artifact, []byte("garbage"), 0640))

	result, err = p.VerifySnapshot(ctx, info.ID)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Message, "checksum mismatch")
}

func TestArtifactProvider_Delete(t *testing.T) {
	p, _ := newTestArtifactProvider(t, nil, nil)
	ctx := context.Background()

	info, err := p.CreateSnapshot(ctx, "nightly", nil, time.Time{})
	require.NoError(t, err)

	deleted, err := p.DeleteSnapshot(ctx, info.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = p.DeleteSnapshot(ctx, info.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	snapshots, err := p.ListSnapshots(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestArtifactProvider_DumpFailure(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), 0)
	require.NoError(t, err)

	p, err := NewArtifactProvider(store, func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("connection refused")
	}, nil, nil, ArtifactConfig{})
	require.NoError(t, err)

	_, err = p.CreateSnapshot(context.Background(), "nightly", nil, time.Time{})
	assert.ErrorContains(t, err, "connection refused")
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), 0)
	require.NoError(t, err)

	for _, key := range []string{"", "../outside", "/etc/passwd"} {
		err := store.Put(context.Background(), key, []byte("x"), nil)
		assert.Error(t, err, "key %q", key)
	}

	_, err = store.Get(context.Background(), "missing/object")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.NoError(t, store.HealthCheck(context.Background()))
}
