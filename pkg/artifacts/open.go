package artifacts

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendFS     = "fs"
	BackendMemory = "memory"
	BackendS3     = "s3"
	BackendGCS    = "gcs"
)

// Config selects and addresses a backend.
type Config struct {
	Backend string
	DataDir string
	S3      S3Config
	GCS     GCSOptions
}

// GCSOptions is the build-independent form of GCSConfig.
type GCSOptions struct {
	Bucket string
	Prefix string
}

// Open builds the configured store. The filesystem store lives under
// <DataDir>/artifacts.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFS:
		dir := cfg.DataDir
		if dir == "" {
			dir = "data"
		}
		return NewFileStore(filepath.Join(dir, "artifacts"))
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendS3:
		if cfg.S3.Region == "" {
			cfg.S3.Region = "us-east-1"
		}
		return NewS3Store(ctx, cfg.S3)
	case BackendGCS:
		return openGCS(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("artifacts: unsupported backend %q", cfg.Backend)
	}
}
