package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
)

// MinioMirror stores artifact payloads in an S3-compatible bucket,
// keyed artifacts/<fingerprint>.
type MinioMirror struct {
	client *minio.Client
	bucket string
}

func NewMinioMirror(client *minio.Client, bucket string) (*MinioMirror, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &MinioMirror{client: client, bucket: bucket}, nil
}

func objectKey(fp string) string {
	return "artifacts/" + fp
}

func (m *MinioMirror) Push(ctx context.Context, fp string, payload []byte) error {
	if m == nil || m.client == nil {
		return errors.New("minio mirror not initialized")
	}
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	_, err := m.client.PutObject(ctx, m.bucket, objectKey(fp), bytes.NewReader(payload), int64(len(payload)), opts)
	return err
}

func (m *MinioMirror) Pull(ctx context.Context, fp string) ([]byte, error) {
	if m == nil || m.client == nil {
		return nil, errors.New("minio mirror not initialized")
	}
	obj, err := m.client.GetObject(ctx, m.bucket, objectKey(fp), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = obj.Close() }()
	payload, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fp)
		}
		return nil, err
	}
	return payload, nil
}

func (m *MinioMirror) Exists(ctx context.Context, fp string) (bool, error) {
	if m == nil || m.client == nil {
		return false, errors.New("minio mirror not initialized")
	}
	_, err := m.client.StatObject(ctx, m.bucket, objectKey(fp), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
