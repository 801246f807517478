package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRDS struct {
	snapshotPages [][]rdstypes.DBSnapshot
	createInput   *rds.CreateDBSnapshotInput
	rebootInput   *rds.RebootDBInstanceInput
	deleteErr     error
	deletedTarget string
	instanceState string
}

func (f *fakeRDS) CreateDBSnapshot(ctx context.Context, in *rds.CreateDBSnapshotInput, _ ...func(*rds.Options)) (*rds.CreateDBSnapshotOutput, error) {
	f.createInput = in
	return &rds.CreateDBSnapshotOutput{DBSnapshot: &rdstypes.DBSnapshot{
		DBSnapshotIdentifier: in.DBSnapshotIdentifier,
		Status:               aws.String("creating"),
		AllocatedStorage:     aws.Int32(20),
		SnapshotCreateTime:   aws.Time(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
		TagList:              in.Tags,
	}}, nil
}

func (f *fakeRDS) DescribeDBSnapshots(ctx context.Context, in *rds.DescribeDBSnapshotsInput, _ ...func(*rds.Options)) (*rds.DescribeDBSnapshotsOutput, error) {
	page := 0
	if in.Marker != nil {
		page = 1
	}
	out := &rds.DescribeDBSnapshotsOutput{DBSnapshots: f.snapshotPages[page]}
	if page+1 < len(f.snapshotPages) {
		out.Marker = aws.String("next")
	}
	return out, nil
}

func (f *fakeRDS) RestoreDBInstanceFromDBSnapshot(ctx context.Context, in *rds.RestoreDBInstanceFromDBSnapshotInput, _ ...func(*rds.Options)) (*rds.RestoreDBInstanceFromDBSnapshotOutput, error) {
	return &rds.RestoreDBInstanceFromDBSnapshotOutput{DBInstance: &rdstypes.DBInstance{
		DBInstanceIdentifier: in.DBInstanceIdentifier,
		DBInstanceStatus:     aws.String("creating"),
	}}, nil
}

func (f *fakeRDS) DeleteDBSnapshot(ctx context.Context, in *rds.DeleteDBSnapshotInput, _ ...func(*rds.Options)) (*rds.DeleteDBSnapshotOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &rds.DeleteDBSnapshotOutput{}, nil
}

func (f *fakeRDS) DeleteDBInstance(ctx context.Context, in *rds.DeleteDBInstanceInput, _ ...func(*rds.Options)) (*rds.DeleteDBInstanceOutput, error) {
	f.deletedTarget = aws.ToString(in.DBInstanceIdentifier)
	return &rds.DeleteDBInstanceOutput{}, nil
}

func (f *fakeRDS) RebootDBInstance(ctx context.Context, in *rds.RebootDBInstanceInput, _ ...func(*rds.Options)) (*rds.RebootDBInstanceOutput, error) {
	f.rebootInput = in
	return &rds.RebootDBInstanceOutput{}, nil
}

func (f *fakeRDS) DescribeDBInstances(ctx context.Context, in *rds.DescribeDBInstancesInput, _ ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	return &rds.DescribeDBInstancesOutput{DBInstances: []rdstypes.DBInstance{{
		DBInstanceIdentifier: in.DBInstanceIdentifier,
		DBInstanceStatus:     aws.String(f.instanceState),
	}}}, nil
}

func TestRDSProvider_CreateSnapshotTagsExpiry(t *testing.T) {
	api := &fakeRDS{}
	p := NewRDSProviderWithClient(api, RDSConfig{InstanceIdentifier: "orders-db"})
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	expires := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	info, err := p.CreateSnapshot(context.Background(), "dbr-full", map[string]string{"owner": "dba"}, expires)
	require.NoError(t, err)

	assert.Equal(t, "orders-db", aws.ToString(api.createInput.DBInstanceIdentifier))
	assert.Equal(t, "dbr-full-20260102-030405", info.ID)
	assert.Equal(t, SnapshotStatusCreating, info.Status)
	assert.Equal(t, int64(20)<<30, info.SizeBytes)
	assert.Equal(t, "dba", info.Tags["owner"])
	require.NotNil(t, info.ExpiresAt)
	assert.True(t, expires.Equal(*info.ExpiresAt))
}

func TestRDSProvider_ListSnapshotsPaginates(t *testing.T) {
	api := &fakeRDS{snapshotPages: [][]rdstypes.DBSnapshot{
		{{DBSnapshotIdentifier: aws.String("a"), Status: aws.String("available")}},
		{{DBSnapshotIdentifier: aws.String("b"), Status: aws.String("failed")}},
	}}
	p := NewRDSProviderWithClient(api, RDSConfig{InstanceIdentifier: "orders-db"})

	snapshots, err := p.ListSnapshots(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, SnapshotStatusAvailable, snapshots[0].Status)
	assert.Equal(t, SnapshotStatusFailed, snapshots[1].Status)
}

func TestRDSProvider_DeleteMissingSnapshot(t *testing.T) {
	api := &fakeRDS{deleteErr: &smithy.GenericAPIError{Code: "DBSnapshotNotFound", Message: "not found"}}
	p := NewRDSProviderWithClient(api, RDSConfig{InstanceIdentifier: "orders-db"})

	deleted, err := p.DeleteSnapshot(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, deleted)

	api.deleteErr = errors.New("throttled")
	_, err = p.DeleteSnapshot(context.Background(), "gone")
	assert.Error(t, err)
}

func TestRDSProvider_FailoverAndTargets(t *testing.T) {
	api := &fakeRDS{instanceState: "available"}
	p := NewRDSProviderWithClient(api, RDSConfig{InstanceIdentifier: "orders-db"})
	ctx := context.Background()

	require.NoError(t, p.Failover(ctx, ""))
	assert.Equal(t, "orders-db", aws.ToString(api.rebootInput.DBInstanceIdentifier))
	assert.True(t, aws.ToBool(api.rebootInput.ForceFailover))

	assert.Error(t, p.RemoveTarget(ctx, "orders-db"))
	require.NoError(t, p.RemoveTarget(ctx, "orders-db-drill"))
	assert.Equal(t, "orders-db-drill", api.deletedTarget)

	result, err := p.RestoreSnapshot(ctx, "snap-1", "orders-db-drill")
	require.NoError(t, err)
	assert.Equal(t, "creating", result.Status)

	assert.NoError(t, p.HealthCheck(ctx))
	api.instanceState = "stopped"
	assert.Error(t, p.HealthCheck(ctx))
}
