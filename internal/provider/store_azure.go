package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureConfig configures an Azure Blob Storage object store
type AzureConfig struct {
	AccountName   string `yaml:"account_name" mapstructure:"account_name"`
	AccountKey    string `yaml:"account_key" mapstructure:"account_key"`
	ContainerName string `yaml:"container_name" mapstructure:"container_name"`
}

// AzureStore implements ObjectStore on Azure Blob Storage
type AzureStore struct {
	container azblob.ContainerURL
	name      string
}

// NewAzureStore authenticates with a shared key
func NewAzureStore(cfg AzureConfig) (*AzureStore, error) {
	if cfg.AccountName == "" || cfg.AccountKey == "" || cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure account name, key and container are required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credentials: %w", err)
	}

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Azure service URL: %w", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	service := azblob.NewServiceURL(*serviceURL, pipeline)

	return &AzureStore{container: service.NewContainerURL(cfg.ContainerName), name: cfg.ContainerName}, nil
}

func (a *AzureStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	_, err := azblob.UploadBufferToBlockBlob(ctx, data, a.container.NewBlockBlobURL(key), azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		Metadata:    azblob.Metadata(metadata),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to Azure: %w", key, err)
	}
	return nil
}

func (a *AzureStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := a.container.NewBlockBlobURL(key).Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		var serr azblob.StorageError
		if errors.As(err, &serr) && serr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to download %s from Azure: %w", key, err)
	}

	body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (a *AzureStore) Delete(ctx context.Context, key string) error {
	_, err := a.container.NewBlockBlobURL(key).Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		var serr azblob.StorageError
		if errors.As(err, &serr) && serr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete %s from Azure: %w", key, err)
	}
	return nil
}

func (a *AzureStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := a.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{Prefix: prefix})
		if err != nil {
			return nil, fmt.Errorf("failed to list Azure blobs: %w", err)
		}

		for _, blob := range resp.Segment.BlobItems {
			info := ObjectInfo{Key: blob.Name, ModifiedAt: blob.Properties.LastModified}
			if blob.Properties.ContentLength != nil {
				info.Size = *blob.Properties.ContentLength
			}
			objects = append(objects, info)
		}
		marker = resp.NextMarker
	}
	return objects, nil
}

func (a *AzureStore) HealthCheck(ctx context.Context) error {
	if _, err := a.container.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return fmt.Errorf("Azure container %s not accessible: %w", a.name, err)
	}
	return nil
}

func (a *AzureStore) Location(key string) string {
	return fmt.Sprintf("azure://%s/%s", a.name, key)
}
