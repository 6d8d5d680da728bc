package persist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rescale/modelbench/internal/http"
)

// S3API is the subset of *s3.Client used by S3Backend.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Backend stores datastacks as S3 objects. Paths are "bucket/key".
type S3Backend struct {
	client S3API
	retry  http.RetryConfig
}

// NewS3Backend wraps an existing client.
func NewS3Backend(client S3API) *S3Backend {
	return &S3Backend{client: client, retry: http.DefaultRetryConfig()}
}

// NewS3BackendFromConfig builds a client from the default AWS credential
// chain. An empty region leaves the SDK's own resolution in place.
func NewS3BackendFromConfig(ctx context.Context, region string, httpClient *nethttp.Client) (*S3Backend, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if httpClient != nil {
		opts = append(opts, config.WithHTTPClient(httpClient))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3Backend(s3.NewFromConfig(cfg)), nil
}

// Write uploads data to bucket/key.
func (b *S3Backend) Write(ctx context.Context, path string, data []byte) error {
	bucket, key, err := splitObjectPath(path)
	if err != nil {
		return err
	}
	err = http.ExecuteWithRetry(ctx, b.retry, func() error {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(contentTypeFor(key)),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// Read downloads bucket/key.
func (b *S3Backend) Read(ctx context.Context, path string) ([]byte, error) {
	bucket, key, err := splitObjectPath(path)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = http.ExecuteWithRetry(ctx, b.retry, func() error {
		resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// splitObjectPath splits "container/some/key" at the first slash.
func splitObjectPath(path string) (container, key string, err error) {
	container, key, ok := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if !ok || container == "" || key == "" {
		return "", "", fmt.Errorf("invalid object path %q: want container/key", path)
	}
	return container, key, nil
}

func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".py"):
		return "text/x-python"
	}
	return "application/octet-stream"
}
