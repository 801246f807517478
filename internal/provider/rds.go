package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/smithy-go"
)

// expiresTag carries the snapshot expiry since RDS has no native field
const expiresTag = "dbr:expires-at"

// RDSAPI is the subset of the RDS client the provider calls
type RDSAPI interface {
	CreateDBSnapshot(ctx context.Context, params *rds.CreateDBSnapshotInput, optFns ...func(*rds.Options)) (*rds.CreateDBSnapshotOutput, error)
	DescribeDBSnapshots(ctx context.Context, params *rds.DescribeDBSnapshotsInput, optFns ...func(*rds.Options)) (*rds.DescribeDBSnapshotsOutput, error)
	RestoreDBInstanceFromDBSnapshot(ctx context.Context, params *rds.RestoreDBInstanceFromDBSnapshotInput, optFns ...func(*rds.Options)) (*rds.RestoreDBInstanceFromDBSnapshotOutput, error)
	DeleteDBSnapshot(ctx context.Context, params *rds.DeleteDBSnapshotInput, optFns ...func(*rds.Options)) (*rds.DeleteDBSnapshotOutput, error)
	DeleteDBInstance(ctx context.Context, params *rds.DeleteDBInstanceInput, optFns ...func(*rds.Options)) (*rds.DeleteDBInstanceOutput, error)
	RebootDBInstance(ctx context.Context, params *rds.RebootDBInstanceInput, optFns ...func(*rds.Options)) (*rds.RebootDBInstanceOutput, error)
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

// RDSConfig configures the managed-snapshot provider for one DB instance
type RDSConfig struct {
	Region             string        `yaml:"region" mapstructure:"region"`
	Profile            string        `yaml:"profile" mapstructure:"profile"`
	InstanceIdentifier string        `yaml:"instance_identifier" mapstructure:"instance_identifier"`
	InstanceClass      string        `yaml:"instance_class" mapstructure:"instance_class"`
	SubnetGroup        string        `yaml:"subnet_group" mapstructure:"subnet_group"`
	MaxRetries         int           `yaml:"max_retries" mapstructure:"max_retries"`
	WaitTimeout        time.Duration `yaml:"wait_timeout" mapstructure:"wait_timeout"`
}

// RDSProvider implements SnapshotProvider with manual RDS DB snapshots
type RDSProvider struct {
	client RDSAPI
	cfg    RDSConfig
	now    func() time.Time
}

// NewRDSProvider loads the default AWS config chain and creates a client
func NewRDSProvider(ctx context.Context, cfg RDSConfig) (*RDSProvider, error) {
	if cfg.InstanceIdentifier == "" {
		return nil, fmt.Errorf("rds instance_identifier is required")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	opts = append(opts, config.WithRetryer(func() aws.Retryer {
		return retry.AddWithMaxAttempts(retry.NewStandard(), cfg.MaxRetries)
	}))

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewRDSProviderWithClient(rds.NewFromConfig(awsCfg), cfg), nil
}

// NewRDSProviderWithClient uses a pre-built client
func NewRDSProviderWithClient(client RDSAPI, cfg RDSConfig) *RDSProvider {
	return &RDSProvider{client: client, cfg: cfg, now: time.Now}
}

func (p *RDSProvider) CreateSnapshot(ctx context.Context, name string, tags map[string]string, expiresAt time.Time) (*SnapshotInfo, error) {
	identifier := fmt.Sprintf("%s-%s", name, p.now().UTC().Format("20060102-150405"))

	allTags := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		allTags[k] = v
	}
	if !expiresAt.IsZero() {
		allTags[expiresTag] = expiresAt.UTC().Format(time.RFC3339)
	}

	out, err := p.client.CreateDBSnapshot(ctx, &rds.CreateDBSnapshotInput{
		DBInstanceIdentifier: aws.String(p.cfg.InstanceIdentifier),
		DBSnapshotIdentifier: aws.String(identifier),
		Tags:                 toRDSTags(allTags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create RDS snapshot: %w", err)
	}
	if out.DBSnapshot == nil {
		return nil, fmt.Errorf("RDS returned no snapshot for %s", identifier)
	}

	info := snapshotInfo(*out.DBSnapshot)
	if info.Tags == nil {
		info.Tags = allTags
		info.ExpiresAt = parseExpiry(allTags)
	}
	return &info, nil
}

// ListSnapshots pages through the instance's manual snapshots
func (p *RDSProvider) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	var snapshots []SnapshotInfo
	var marker *string

	for {
		input := &rds.DescribeDBSnapshotsInput{
			DBInstanceIdentifier: aws.String(p.cfg.InstanceIdentifier),
			SnapshotType:         aws.String("manual"),
		}
		if marker != nil {
			input.Marker = marker
		}

		out, err := p.client.DescribeDBSnapshots(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to describe RDS snapshots: %w", err)
		}

		for _, s := range out.DBSnapshots {
			snapshots = append(snapshots, snapshotInfo(s))
		}

		marker = out.Marker
		if marker == nil {
			break
		}
	}

	return snapshots, nil
}

// RestoreSnapshot restores into a new instance named targetRef and, when a
// wait timeout is configured, blocks until it is available
func (p *RDSProvider) RestoreSnapshot(ctx context.Context, id, targetRef string) (*RestoreResult, error) {
	started := p.now()

	input := &rds.RestoreDBInstanceFromDBSnapshotInput{
		DBInstanceIdentifier: aws.String(targetRef),
		DBSnapshotIdentifier: aws.String(id),
		PubliclyAccessible:   aws.Bool(false),
		Tags:                 toRDSTags(map[string]string{"dbr:restored-from": id}),
	}
	if p.cfg.InstanceClass != "" {
		input.DBInstanceClass = aws.String(p.cfg.InstanceClass)
	}
	if p.cfg.SubnetGroup != "" {
		input.DBSubnetGroupName = aws.String(p.cfg.SubnetGroup)
	}

	out, err := p.client.RestoreDBInstanceFromDBSnapshot(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to restore RDS snapshot %s: %w", id, err)
	}

	result := &RestoreResult{SnapshotID: id, TargetRef: targetRef, Status: "creating", StartedAt: started}
	if out.DBInstance != nil {
		result.Status = aws.ToString(out.DBInstance.DBInstanceStatus)
	}

	if p.cfg.WaitTimeout > 0 {
		waiter := rds.NewDBInstanceAvailableWaiter(p.client)
		if err := waiter.Wait(ctx, &rds.DescribeDBInstancesInput{DBInstanceIdentifier: aws.String(targetRef)}, p.cfg.WaitTimeout); err != nil {
			return nil, fmt.Errorf("restored instance %s did not become available: %w", targetRef, err)
		}
		result.Status = "available"
		result.Endpoint = p.endpoint(ctx, targetRef)
	}

	result.CompletedAt = p.now()
	return result, nil
}

// DeleteSnapshot reports false when the snapshot does not exist
func (p *RDSProvider) DeleteSnapshot(ctx context.Context, id string) (bool, error) {
	_, err := p.client.DeleteDBSnapshot(ctx, &rds.DeleteDBSnapshotInput{DBSnapshotIdentifier: aws.String(id)})
	if err != nil {
		if isAPIError(err, "DBSnapshotNotFound") {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete RDS snapshot %s: %w", id, err)
	}
	return true, nil
}

// VerifySnapshot checks that RDS reports the snapshot available
func (p *RDSProvider) VerifySnapshot(ctx context.Context, id string) (*VerificationResult, error) {
	out, err := p.client.DescribeDBSnapshots(ctx, &rds.DescribeDBSnapshotsInput{DBSnapshotIdentifier: aws.String(id)})
	if err != nil {
		return nil, fmt.Errorf("failed to describe RDS snapshot %s: %w", id, err)
	}

	result := &VerificationResult{SnapshotID: id, CheckedAt: p.now()}
	if len(out.DBSnapshots) == 0 {
		result.Message = "snapshot not found"
		return result, nil
	}

	info := snapshotInfo(out.DBSnapshots[0])
	result.SizeBytes = info.SizeBytes
	result.Valid = info.Available()
	result.Message = fmt.Sprintf("snapshot status %s", info.Status)
	return result, nil
}

// Failover forces a Multi-AZ failover by rebooting the target instance
func (p *RDSProvider) Failover(ctx context.Context, targetRef string) error {
	if targetRef == "" {
		targetRef = p.cfg.InstanceIdentifier
	}
	_, err := p.client.RebootDBInstance(ctx, &rds.RebootDBInstanceInput{
		DBInstanceIdentifier: aws.String(targetRef),
		ForceFailover:        aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to fail over %s: %w", targetRef, err)
	}
	return nil
}

// RemoveTarget deletes a restored instance without a final snapshot. It
// refuses to touch the protected instance.
func (p *RDSProvider) RemoveTarget(ctx context.Context, targetRef string) error {
	if targetRef == p.cfg.InstanceIdentifier {
		return fmt.Errorf("refusing to delete protected instance %s", targetRef)
	}
	_, err := p.client.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
		DBInstanceIdentifier: aws.String(targetRef),
		SkipFinalSnapshot:    aws.Bool(true),
	})
	if err != nil && !isAPIError(err, "DBInstanceNotFound") {
		return fmt.Errorf("failed to delete restore target %s: %w", targetRef, err)
	}
	return nil
}

// HealthCheck describes the protected instance
func (p *RDSProvider) HealthCheck(ctx context.Context) error {
	out, err := p.client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(p.cfg.InstanceIdentifier),
	})
	if err != nil {
		return fmt.Errorf("failed to describe RDS instance: %w", err)
	}
	if len(out.DBInstances) == 0 {
		return fmt.Errorf("RDS instance %s not found", p.cfg.InstanceIdentifier)
	}
	if status := aws.ToString(out.DBInstances[0].DBInstanceStatus); status != "available" {
		return fmt.Errorf("RDS instance %s is %s", p.cfg.InstanceIdentifier, status)
	}
	return nil
}

func (p *RDSProvider) endpoint(ctx context.Context, identifier string) string {
	out, err := p.client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{DBInstanceIdentifier: aws.String(identifier)})
	if err != nil || len(out.DBInstances) == 0 || out.DBInstances[0].Endpoint == nil {
		return ""
	}
	ep := out.DBInstances[0].Endpoint
	return fmt.Sprintf("%s:%d", aws.ToString(ep.Address), aws.ToInt32(ep.Port))
}

func snapshotInfo(s rdstypes.DBSnapshot) SnapshotInfo {
	info := SnapshotInfo{
		ID:        aws.ToString(s.DBSnapshotIdentifier),
		Name:      aws.ToString(s.DBSnapshotIdentifier),
		Status:    snapshotStatus(aws.ToString(s.Status)),
		SizeBytes: int64(aws.ToInt32(s.AllocatedStorage)) << 30,
		CreatedAt: aws.ToTime(s.SnapshotCreateTime),
	}

	if len(s.TagList) > 0 {
		info.Tags = make(map[string]string, len(s.TagList))
		for _, tag := range s.TagList {
			if tag.Key != nil && tag.Value != nil {
				info.Tags[*tag.Key] = *tag.Value
			}
		}
		info.ExpiresAt = parseExpiry(info.Tags)
	}
	return info
}

func snapshotStatus(raw string) SnapshotStatus {
	switch raw {
	case "available":
		return SnapshotStatusAvailable
	case "creating", "copying", "pending":
		return SnapshotStatusCreating
	case "deleting":
		return SnapshotStatusDeleting
	case "failed", "incompatible-restore", "incompatible-parameters":
		return SnapshotStatusFailed
	default:
		return SnapshotStatusUnknown
	}
}

func parseExpiry(tags map[string]string) *time.Time {
	raw, ok := tags[expiresTag]
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

func toRDSTags(tags map[string]string) []rdstypes.Tag {
	out := make([]rdstypes.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, rdstypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func isAPIError(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
