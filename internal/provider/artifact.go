package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	artifactFile = "artifact.bin"
	manifestFile = "manifest.json"
)

// DumpFunc produces the bytes to snapshot, such as a logical dump or a
// serialized schema
type DumpFunc func(ctx context.Context) ([]byte, error)

// RestoreFunc loads previously dumped bytes into the named target
type RestoreFunc func(ctx context.Context, data []byte, targetRef string) error

// ArtifactManifest is stored next to each artifact
type ArtifactManifest struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Compression  CompressionType   `json:"compression"`
	Encryption   string            `json:"encryption"`
	Checksum     string            `json:"checksum"`
	OriginalSize int64             `json:"original_size"`
	StoredSize   int64             `json:"stored_size"`
}

// ArtifactConfig configures an ArtifactProvider
type ArtifactConfig struct {
	Prefix           string
	Compression      CompressionType
	CompressionLevel int
}

// ArtifactProvider keeps snapshots as compressed, optionally encrypted
// objects in an ObjectStore. Layout: <prefix>/<id>/artifact.bin and
// <prefix>/<id>/manifest.json.
type ArtifactProvider struct {
	store   ObjectStore
	dump    DumpFunc
	restore RestoreFunc
	codec   *Codec
	sealer  *Sealer
	cfg     ArtifactConfig
	now     func() time.Time
}

// NewArtifactProvider wires an object store to a dump source. restore may
// be nil, in which case RestoreSnapshot only verifies the artifact.
func NewArtifactProvider(store ObjectStore, dump DumpFunc, restore RestoreFunc, sealer *Sealer, cfg ArtifactConfig) (*ArtifactProvider, error) {
	if store == nil {
		return nil, fmt.Errorf("artifact provider requires an object store")
	}
	if dump == nil {
		return nil, fmt.Errorf("artifact provider requires a dump source")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "snapshots"
	}
	if cfg.Compression == "" {
		cfg.Compression = CompressionZstd
	}

	return &ArtifactProvider{
		store:   store,
		dump:    dump,
		restore: restore,
		codec:   NewCodec(),
		sealer:  sealer,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

// CreateSnapshot dumps, compresses, seals and uploads a new artifact
func (p *ArtifactProvider) CreateSnapshot(ctx context.Context, name string, tags map[string]string, expiresAt time.Time) (*SnapshotInfo, error) {
	raw, err := p.dump(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to dump artifact: %w", err)
	}

	compressed, err := p.codec.Compress(raw, p.cfg.Compression, p.cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}
	sealed, err := p.sealer.Seal(compressed)
	if err != nil {
		return nil, err
	}

	manifest := ArtifactManifest{
		ID:           uuid.New().String(),
		Name:         name,
		CreatedAt:    p.now().UTC(),
		Tags:         tags,
		Compression:  p.cfg.Compression,
		Encryption:   p.sealer.Algorithm(),
		Checksum:     checksum(sealed),
		OriginalSize: int64(len(raw)),
		StoredSize:   int64(len(sealed)),
	}
	if !expiresAt.IsZero() {
		exp := expiresAt.UTC()
		manifest.ExpiresAt = &exp
	}

	if err := p.store.Put(ctx, p.key(manifest.ID, artifactFile), sealed, map[string]string{
		"snapshot-id": manifest.ID,
		"checksum":    manifest.Checksum,
	}); err != nil {
		return nil, err
	}

	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := p.store.Put(ctx, p.key(manifest.ID, manifestFile), body, nil); err != nil {
		return nil, err
	}

	info := manifest.info()
	return &info, nil
}

// ListSnapshots reads every manifest under the prefix, newest first.
// Artifacts without a readable manifest are reported as failed.
func (p *ArtifactProvider) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	objects, err := p.store.List(ctx, p.cfg.Prefix+"/")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var snapshots []SnapshotInfo
	for _, obj := range objects {
		id := p.idFromKey(obj.Key)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		manifest, err := p.manifest(ctx, id)
		if err != nil {
			snapshots = append(snapshots, SnapshotInfo{ID: id, Status: SnapshotStatusFailed, CreatedAt: obj.ModifiedAt})
			continue
		}
		snapshots = append(snapshots, manifest.info())
	}

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt) })
	return snapshots, nil
}

// RestoreSnapshot verifies and unpacks the artifact, then hands it to the
// restore function
func (p *ArtifactProvider) RestoreSnapshot(ctx context.Context, id, targetRef string) (*RestoreResult, error) {
	started := p.now()

	data, _, err := p.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.restore != nil {
		if err := p.restore(ctx, data, targetRef); err != nil {
			return nil, fmt.Errorf("failed to restore snapshot %s into %s: %w", id, targetRef, err)
		}
	}

	return &RestoreResult{
		SnapshotID:  id,
		TargetRef:   targetRef,
		Status:      "restored",
		Endpoint:    p.store.Location(p.key(id, artifactFile)),
		StartedAt:   started,
		CompletedAt: p.now(),
	}, nil
}

// DeleteSnapshot removes the artifact and its manifest. It reports false
// when nothing was stored under id.
func (p *ArtifactProvider) DeleteSnapshot(ctx context.Context, id string) (bool, error) {
	if _, err := p.manifest(ctx, id); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := p.store.Delete(ctx, p.key(id, artifactFile)); err != nil {
		return false, err
	}
	if err := p.store.Delete(ctx, p.key(id, manifestFile)); err != nil {
		return false, err
	}
	return true, nil
}

// VerifySnapshot checks the stored checksum and that the artifact unpacks
func (p *ArtifactProvider) VerifySnapshot(ctx context.Context, id string) (*VerificationResult, error) {
	result := &VerificationResult{SnapshotID: id, CheckedAt: p.now()}

	data, manifest, err := p.load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, err
		}
		result.Message = err.Error()
		return result, nil
	}

	result.Valid = true
	result.SizeBytes = int64(len(data))
	result.Message = fmt.Sprintf("checksum %s verified", shortChecksum(manifest.Checksum))
	return result, nil
}

// RemoveTarget is a no-op for artifacts; restore targets belong to the
// restore function
func (p *ArtifactProvider) RemoveTarget(ctx context.Context, targetRef string) error {
	return nil
}

// HealthCheck delegates to the object store
func (p *ArtifactProvider) HealthCheck(ctx context.Context) error {
	return p.store.HealthCheck(ctx)
}

func (p *ArtifactProvider) load(ctx context.Context, id string) ([]byte, *ArtifactManifest, error) {
	manifest, err := p.manifest(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	sealed, err := p.store.Get(ctx, p.key(id, artifactFile))
	if err != nil {
		return nil, nil, err
	}
	if got := checksum(sealed); got != manifest.Checksum {
		return nil, nil, fmt.Errorf("checksum mismatch for snapshot %s: expected %s, got %s", id, shortChecksum(manifest.Checksum), shortChecksum(got))
	}

	compressed, err := p.sealer.Open(sealed)
	if err != nil {
		return nil, nil, err
	}
	data, err := p.codec.Decompress(compressed, manifest.Compression)
	if err != nil {
		return nil, nil, err
	}
	return data, manifest, nil
}

func (p *ArtifactProvider) manifest(ctx context.Context, id string) (*ArtifactManifest, error) {
	body, err := p.store.Get(ctx, p.key(id, manifestFile))
	if err != nil {
		return nil, err
	}

	var manifest ArtifactManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest for %s: %w", id, err)
	}
	return &manifest, nil
}

func (p *ArtifactProvider) key(id, file string) string {
	return path.Join(p.cfg.Prefix, id, file)
}

func (p *ArtifactProvider) idFromKey(key string) string {
	rest := strings.TrimPrefix(key, p.cfg.Prefix+"/")
	if rest == key {
		return ""
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return ""
	}
	return parts[0]
}

func (m ArtifactManifest) info() SnapshotInfo {
	return SnapshotInfo{
		ID:        m.ID,
		Name:      m.Name,
		Status:    SnapshotStatusAvailable,
		SizeBytes: m.StoredSize,
		Checksum:  m.Checksum,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
		Tags:      m.Tags,
	}
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
