// Package s3 provides an S3-compatible storage backend (AWS, MinIO).
package s3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/fruitsalade/lfs/internal/logging"
	"github.com/fruitsalade/lfs/internal/metrics"
)

// BackendConfig is the JSON config for an S3 backend. Empty credentials
// fall back to the default AWS credential chain.
type BackendConfig struct {
	Endpoint     string `json:"endpoint,omitempty"`
	Bucket       string `json:"bucket"`
	Prefix       string `json:"prefix,omitempty"`
	AccessKey    string `json:"access_key,omitempty"`
	SecretKey    string `json:"secret_key,omitempty"`
	Region       string `json:"region,omitempty"`
	CreateBucket bool   `json:"create_bucket,omitempty"`
}

// ParseURL turns s3://bucket/prefix into a BackendConfig.
func ParseURL(raw string) (BackendConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return BackendConfig{}, fmt.Errorf("parse s3 url: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return BackendConfig{}, fmt.Errorf("s3 url %q must look like s3://bucket/prefix", raw)
	}
	return BackendConfig{
		Bucket: u.Host,
		Prefix: strings.Trim(u.Path, "/"),
	}, nil
}

// Backend implements storage.Backend using S3.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
	log    *zap.Logger
}

// NewBackend creates a new S3 backend from a BackendConfig.
func NewBackend(ctx context.Context, cfg BackendConfig) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	b := &Backend{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    logging.Named("storage.s3"),
	}
	if cfg.CreateBucket {
		if err := b.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// NewBackendFromJSON creates a Backend from raw JSON config.
func NewBackendFromJSON(ctx context.Context, raw json.RawMessage) (*Backend, error) {
	var cfg BackendConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse s3 config: %w", err)
	}
	return NewBackend(ctx, cfg)
}

func (b *Backend) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

func (b *Backend) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}
	_, err = b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.bucket)})
	metrics.RecordStorageOperation("s3", "create_bucket", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, err)
	}
	b.log.Info("created S3 bucket", zap.String("bucket", b.bucket))
	return nil
}

// PutObject uploads content to S3.
func (b *Backend) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	start := time.Now()
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.objectKey(key)),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	metrics.RecordStorageOperation("s3", "put_object", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	b.log.Debug("put object", zap.String("key", key), zap.Int64("size", size))
	return nil
}

// DeleteObject removes an object from S3.
func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	start := time.Now()
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	metrics.RecordStorageOperation("s3", "delete_object", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	b.log.Debug("delete object", zap.String("key", key))
	return nil
}

// ObjectExists checks if an object exists in S3.
func (b *Backend) ObjectExists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			metrics.RecordStorageOperation("s3", "head_object", time.Since(start), true)
			return false, nil
		}
		metrics.RecordStorageOperation("s3", "head_object", time.Since(start), false)
		return false, fmt.Errorf("head object %s: %w", key, err)
	}
	metrics.RecordStorageOperation("s3", "head_object", time.Since(start), true)
	return true, nil
}

// ListObjects pages through every key under prefix and returns them
// relative to the backend prefix.
func (b *Backend) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	full := b.objectKey(prefix)

	var keys []string
	pager := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(full),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			metrics.RecordStorageOperation("s3", "list_objects", time.Since(start), false)
			return nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if b.prefix != "" {
				key = strings.TrimPrefix(key, b.prefix+"/")
			}
			keys = append(keys, key)
		}
	}
	metrics.RecordStorageOperation("s3", "list_objects", time.Since(start), true)
	return keys, nil
}

// Type returns "s3".
func (b *Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *Backend) Close() error { return nil }
