// Package provider holds the snapshot provider contract and its adapters:
// managed RDS snapshots, schema artifacts in object storage, and a circuit
// breaker decorator.
package provider

import (
	"context"
	"time"
)

// SnapshotStatus is the provider-reported state of a snapshot
type SnapshotStatus string

const (
	SnapshotStatusCreating  SnapshotStatus = "creating"
	SnapshotStatusAvailable SnapshotStatus = "available"
	SnapshotStatusFailed    SnapshotStatus = "failed"
	SnapshotStatusDeleting  SnapshotStatus = "deleting"
	SnapshotStatusUnknown   SnapshotStatus = "unknown"
)

// SnapshotInfo describes one provider snapshot. ID is provider-assigned and
// treated as opaque.
type SnapshotInfo struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Status    SnapshotStatus    `json:"status"`
	SizeBytes int64             `json:"size_bytes"`
	Checksum  string            `json:"checksum,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Available reports whether the snapshot can be restored
func (s SnapshotInfo) Available() bool {
	return s.Status == SnapshotStatusAvailable
}

// RestoreResult describes a restore of a snapshot into a target
type RestoreResult struct {
	SnapshotID  string    `json:"snapshot_id"`
	TargetRef   string    `json:"target_ref"`
	Status      string    `json:"status"`
	Endpoint    string    `json:"endpoint,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Duration is the wall-clock time the restore took
func (r RestoreResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// SnapshotProvider is the external backup API
type SnapshotProvider interface {
	CreateSnapshot(ctx context.Context, name string, tags map[string]string, expiresAt time.Time) (*SnapshotInfo, error)
	ListSnapshots(ctx context.Context) ([]SnapshotInfo, error)
	RestoreSnapshot(ctx context.Context, id, targetRef string) (*RestoreResult, error)
	DeleteSnapshot(ctx context.Context, id string) (bool, error)
}

// VerificationResult is the outcome of a provider-side integrity check
type VerificationResult struct {
	SnapshotID string    `json:"snapshot_id"`
	Valid      bool      `json:"valid"`
	Message    string    `json:"message"`
	SizeBytes  int64     `json:"size_bytes"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Verifier is implemented by providers that can check a snapshot's
// integrity beyond listing it
type Verifier interface {
	VerifySnapshot(ctx context.Context, id string) (*VerificationResult, error)
}

// Failoverer is implemented by providers that can force a failover of the
// protected resource or a restore target
type Failoverer interface {
	Failover(ctx context.Context, targetRef string) error
}

// TargetRemover is implemented by providers that can tear down a restore
// target created by RestoreSnapshot
type TargetRemover interface {
	RemoveTarget(ctx context.Context, targetRef string) error
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Latest returns the most recently created available snapshot
func Latest(snapshots []SnapshotInfo) (SnapshotInfo, bool) {
	var latest SnapshotInfo
	found := false
	for _, s := range snapshots {
		if !s.Available() {
			continue
		}
		if !found || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
			found = true
		}
	}
	return latest, found
}

// Find returns the snapshot with the given id
func Find(snapshots []SnapshotInfo, id string) (SnapshotInfo, bool) {
	for _, s := range snapshots {
		if s.ID == id {
			return s, true
		}
	}
	return SnapshotInfo{}, false
}
