//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSConfig addresses a Cloud Storage bucket.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// GCSStore keeps blobs in Cloud Storage using application default credentials.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("artifacts: gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: client.Bucket(cfg.Bucket), prefix: cfg.Prefix}, nil
}

func (s *GCSStore) Put(ctx context.Context, data []byte) (string, error) {
	ref := Ref(data)
	digest, _ := parseRef(ref)
	obj := s.bucket.Object(objectKey(s.prefix, digest))

	// DoesNotExist makes concurrent writers of the same blob race safely.
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = map[string]string{"digest": ref}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("artifacts: gcs write %s: %w", ref, err)
	}
	if err := w.Close(); err != nil {
		if exists, _ := s.Exists(ctx, ref); exists {
			return ref, nil
		}
		return "", fmt.Errorf("artifacts: gcs commit %s: %w", ref, err)
	}
	return ref, nil
}

func (s *GCSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	r, err := s.bucket.Object(objectKey(s.prefix, digest)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs read %s: %w", ref, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (s *GCSStore) Exists(ctx context.Context, ref string) (bool, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	_, err = s.bucket.Object(objectKey(s.prefix, digest)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("artifacts: gcs attrs %s: %w", ref, err)
	}
	return true, nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
