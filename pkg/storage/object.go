package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const s3Scheme = "s3://"

// objectClient is the subset of *minio.Client the backend uses.
type objectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// ObjectBackend stores files in an S3-compatible bucket.
type ObjectBackend struct {
	client objectClient
	bucket string
}

// NewObjectBackend connects to the configured endpoint and, when
// S3CreateBucket is set, creates the bucket if it does not exist.
func NewObjectBackend(ctx context.Context, cfg *StorageConfig) (*ObjectBackend, error) {
	if cfg.S3Endpoint == "" || cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 storage requires an endpoint and a bucket")
	}
	cli, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	b := &ObjectBackend{client: cli, bucket: cfg.S3Bucket}
	if cfg.S3CreateBucket {
		if err := b.ensureBucket(ctx, cfg.S3Region); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *ObjectBackend) ensureBucket(ctx context.Context, region string) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", b.bucket, err)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", b.bucket, err)
	}
	return nil
}

// Put uploads data and returns s3://<bucket>/<key>.
func (b *ObjectBackend) Put(ctx context.Context, name string, data []byte) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	key, err := availableName(ctx, name, b.exists)
	if err != nil {
		return "", err
	}
	_, err = b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s3Scheme + b.bucket + "/" + key, nil
}

// Get downloads an s3:// reference from the backend's bucket.
func (b *ObjectBackend) Get(ctx context.Context, ref string) ([]byte, error) {
	prefix := s3Scheme + b.bucket + "/"
	if !strings.HasPrefix(ref, prefix) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRef, ref)
	}
	key := strings.TrimPrefix(ref, prefix)
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

func (b *ObjectBackend) exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(key), ".csv"):
		return "text/csv"
	case strings.HasSuffix(strings.ToLower(key), ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
