package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Mirror copies hourly snapshots to an S3-compatible bucket. It implements
// Mirror and is only wired when an endpoint and bucket are configured.
type S3Mirror struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Mirror connects to the object store and ensures the bucket exists.
func NewS3Mirror(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*S3Mirror, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: connect object store: %w", err)
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("snapshot: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("snapshot: create bucket: %w", err)
		}
	}
	return &S3Mirror{client: client, bucket: bucket, prefix: "hourly/"}, nil
}

func (m *S3Mirror) Upload(name string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := m.client.PutObject(ctx, m.bucket, m.prefix+name,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("snapshot: upload %s: %w", name, err)
	}
	return nil
}
