package persist

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/rescale/modelbench/internal/http"
)

// BlobAPI is the subset of *azblob.Client used by AzureBackend.
type BlobAPI interface {
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
	DownloadStream(ctx context.Context, containerName, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
}

// AzureBackend stores datastacks as blobs. Paths are "container/blob".
type AzureBackend struct {
	client BlobAPI
	retry  http.RetryConfig
}

// NewAzureBackend wraps an existing client.
func NewAzureBackend(client BlobAPI) *AzureBackend {
	return &AzureBackend{client: client, retry: http.DefaultRetryConfig()}
}

// NewAzureBackendFromURL builds a client for an account URL carrying a SAS
// token. httpClient keeps the connection pool shared with the rest of the
// workbench.
func NewAzureBackendFromURL(sasURL string, httpClient *nethttp.Client) (*AzureBackend, error) {
	opts := &azblob.ClientOptions{}
	if httpClient != nil {
		opts.ClientOptions = azcore.ClientOptions{Transport: httpClient}
	}
	client, err := azblob.NewClientWithNoCredential(sasURL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}
	return NewAzureBackend(client), nil
}

// Write uploads data to container/blob.
func (b *AzureBackend) Write(ctx context.Context, path string, data []byte) error {
	container, name, err := splitObjectPath(path)
	if err != nil {
		return err
	}
	contentType := contentTypeFor(name)
	err = http.ExecuteWithRetry(ctx, b.retry, func() error {
		_, err := b.client.UploadBuffer(ctx, container, name, data, &azblob.UploadBufferOptions{
			HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload az://%s/%s: %w", container, name, err)
	}
	return nil
}

// Read downloads container/blob.
func (b *AzureBackend) Read(ctx context.Context, path string) ([]byte, error) {
	container, name, err := splitObjectPath(path)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = http.ExecuteWithRetry(ctx, b.retry, func() error {
		resp, err := b.client.DownloadStream(ctx, container, name, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download az://%s/%s: %w", container, name, err)
	}
	return data, nil
}
