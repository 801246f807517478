package provider

import (
	"context"
	"fmt"

	"db-resilience/internal/logging"
	"db-resilience/internal/metrics"
)

// Type selects a SnapshotProvider implementation
type Type string

const (
	TypeRDS      Type = "rds"
	TypeArtifact Type = "artifact"
)

// StoreType selects an ObjectStore implementation
type StoreType string

const (
	StoreLocal StoreType = "local"
	StoreS3    StoreType = "s3"
	StoreGCS   StoreType = "gcs"
	StoreAzure StoreType = "azure"
)

// StoreConfig configures the object store behind artifact snapshots
type StoreConfig struct {
	Type      StoreType   `yaml:"type" mapstructure:"type"`
	LocalPath string      `yaml:"local_path" mapstructure:"local_path"`
	S3        S3Config    `yaml:"s3" mapstructure:"s3"`
	GCS       GCSConfig   `yaml:"gcs" mapstructure:"gcs"`
	Azure     AzureConfig `yaml:"azure" mapstructure:"azure"`
}

// ArtifactSettings configures artifact snapshots
type ArtifactSettings struct {
	Store            StoreConfig      `yaml:"store" mapstructure:"store"`
	Prefix           string           `yaml:"prefix" mapstructure:"prefix"`
	Compression      string           `yaml:"compression" mapstructure:"compression"`
	CompressionLevel int              `yaml:"compression_level" mapstructure:"compression_level"`
	Encryption       EncryptionConfig `yaml:"encryption" mapstructure:"encryption"`
}

// Config selects and configures the snapshot provider
type Config struct {
	Type     Type             `yaml:"type" mapstructure:"type"`
	RDS      RDSConfig        `yaml:"rds" mapstructure:"rds"`
	Artifact ArtifactSettings `yaml:"artifact" mapstructure:"artifact"`
	Breaker  BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
}

// Validate checks the selected provider's required fields
func (c Config) Validate() error {
	switch c.Type {
	case TypeRDS:
		if c.RDS.InstanceIdentifier == "" {
			return fmt.Errorf("provider.rds.instance_identifier is required")
		}
	case TypeArtifact:
		if err := c.Artifact.Store.Validate(); err != nil {
			return err
		}
		if _, err := ParseCompressionType(c.Artifact.Compression); err != nil {
			return err
		}
		if err := c.Artifact.Encryption.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported provider type: %q", c.Type)
	}
	return nil
}

// Validate checks the selected store's required fields
func (c StoreConfig) Validate() error {
	switch c.Type {
	case StoreLocal:
		if c.LocalPath == "" {
			return fmt.Errorf("local_path is required for the local store")
		}
	case StoreS3:
		if c.S3.Bucket == "" || c.S3.Region == "" {
			return fmt.Errorf("s3 bucket and region are required")
		}
	case StoreGCS:
		if c.GCS.Bucket == "" {
			return fmt.Errorf("gcs bucket is required")
		}
	case StoreAzure:
		if c.Azure.AccountName == "" || c.Azure.ContainerName == "" {
			return fmt.Errorf("azure account_name and container_name are required")
		}
	default:
		return fmt.Errorf("unsupported store type: %q", c.Type)
	}
	return nil
}

// NewObjectStore creates the configured object store
func NewObjectStore(ctx context.Context, cfg StoreConfig) (ObjectStore, error) {
	switch cfg.Type {
	case StoreLocal:
		return NewLocalStore(cfg.LocalPath, 0)
	case StoreS3:
		return NewS3Store(cfg.S3)
	case StoreGCS:
		return NewGCSStore(ctx, cfg.GCS)
	case StoreAzure:
		return NewAzureStore(cfg.Azure)
	default:
		return nil, fmt.Errorf("unsupported store type: %q", cfg.Type)
	}
}

// Sources supplies the dump and restore functions artifact snapshots need
type Sources struct {
	Dump    DumpFunc
	Restore RestoreFunc
}

// New builds the configured provider wrapped in a circuit breaker
func New(ctx context.Context, cfg Config, sources Sources, logger *logging.Logger, recorder *metrics.Recorder) (*BreakerProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var inner SnapshotProvider
	switch cfg.Type {
	case TypeRDS:
		p, err := NewRDSProvider(ctx, cfg.RDS)
		if err != nil {
			return nil, err
		}
		inner = p

	case TypeArtifact:
		store, err := NewObjectStore(ctx, cfg.Artifact.Store)
		if err != nil {
			return nil, err
		}
		sealer, err := NewSealer(cfg.Artifact.Encryption)
		if err != nil {
			return nil, err
		}
		compression, _ := ParseCompressionType(cfg.Artifact.Compression)
		p, err := NewArtifactProvider(store, sources.Dump, sources.Restore, sealer, ArtifactConfig{
			Prefix:           cfg.Artifact.Prefix,
			Compression:      compression,
			CompressionLevel: cfg.Artifact.CompressionLevel,
		})
		if err != nil {
			return nil, err
		}
		inner = p
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.MaxRequests == 0 {
		breakerCfg = DefaultBreakerConfig(string(cfg.Type))
	}
	return NewBreakerProvider(inner, breakerCfg, logger, recorder), nil
}
