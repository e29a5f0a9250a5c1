package blob

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// BackendType selects the blob storage backend.
type BackendType string

const (
	BackendLocal BackendType = "local"
	BackendS3    BackendType = "s3"
	BackendGCS   BackendType = "gcs"
)

// NewStoreFromEnv creates a blob store based on environment variables.
//
// Environment variables:
//   - STORAGE_BACKEND: "local" (default), "s3", or "gcs"
//   - STORAGE_PATH: base directory for the local store (default: "data/blobs")
//
// For S3:
//   - S3_BUCKET (required)
//   - S3_REGION or AWS_REGION (default: us-east-1)
//   - S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - S3_PREFIX (optional)
//
// For GCS (requires the gcp build tag):
//   - GCS_BUCKET (required)
//   - GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	backend := BackendType(os.Getenv("STORAGE_BACKEND"))
	if backend == "" {
		backend = BackendLocal
	}

	switch backend {
	case BackendLocal:
		path := os.Getenv("STORAGE_PATH")
		if path == "" {
			path = "data/blobs"
		}
		return NewFileStore(path)
	case BackendS3:
		bucket := os.Getenv("S3_BUCKET")
		if bucket == "" {
			return nil, fmt.Errorf("blob: S3_BUCKET is required for s3 storage")
		}
		region := os.Getenv("S3_REGION")
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{
			Bucket:   bucket,
			Region:   region,
			Endpoint: os.Getenv("S3_ENDPOINT"),
			Prefix:   os.Getenv("S3_PREFIX"),
		})
	case BackendGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("blob: unsupported storage backend %q", backend)
	}
}

var (
	defaultMu    sync.Mutex
	defaultStore Store
)

// Default returns the process-wide blob store, creating it from the
// environment on first use.
func Default(ctx context.Context) (Store, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultStore != nil {
		return defaultStore, nil
	}
	s, err := NewStoreFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	defaultStore = s
	return s, nil
}

// SetDefault replaces the process-wide store. Tests use it to inject a
// temporary FileStore; Reset restores factory behavior.
func SetDefault(s Store) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultStore = s
}

// Reset clears the process-wide store so the next Default call re-reads
// the environment.
func Reset() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultStore = nil
}
