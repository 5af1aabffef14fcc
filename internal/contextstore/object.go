package contextstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/Iron-Ham/concord/internal/config"
	"github.com/Iron-Ham/concord/internal/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore keeps artifacts in a MinIO (or S3-compatible) bucket.
type ObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObjectStore connects to the bucket described by cfg, creating it when
// it does not exist.
func NewObjectStore(ctx context.Context, cfg config.MinioConfig) (*ObjectStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("contextstore: minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("contextstore: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("contextstore: create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &ObjectStore{client: cli, bucket: cfg.Bucket, prefix: "debates"}, nil
}

func (s *ObjectStore) objectKey(key string) string {
	return path.Join(s.prefix, key)
}

// Put uploads data under key.
func (s *ObjectStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectKey(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

// Get downloads the object stored under key.
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr(key, err)
	}
	return data, nil
}

func (s *ObjectStore) mapErr(key string, err error) error {
	if isNoSuchKey(err) {
		return errors.NewNotFoundError("artifact", key)
	}
	return err
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
