package storage

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendFS     = "fs"
	BackendMemory = "memory"
	BackendS3     = "s3"
	BackendMinio  = "minio"
)

// Config selects and configures a storage backend.
type Config struct {
	// Backend is one of fs, memory, s3, minio (default fs).
	Backend string
	// Path is the root directory (fs) or "bucket/prefix" (s3, minio).
	Path string
	// Region is the AWS region (s3).
	Region string
	// Endpoint is a custom endpoint (s3) or the MinIO host:port (minio).
	Endpoint string
	// UsePathStyle forces path-style addressing (s3).
	UsePathStyle bool
	// AccessKey and SecretKey are static credentials (minio).
	AccessKey string
	SecretKey string
	// UseSSL enables TLS to the MinIO endpoint.
	UseSSL bool
}

// Open builds the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendFS, "":
		return NewFSStore(cfg.Path)
	case BackendMemory:
		return NewLodeMemoryStore(), nil
	case BackendS3:
		bucket, prefix := ParseS3Path(cfg.Path)
		return NewS3Store(ctx, S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.UsePathStyle,
		})
	case BackendMinio:
		bucket, _ := ParseS3Path(cfg.Path)
		st, err := NewMinioStore(MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    bucket,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := st.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (must be fs, memory, s3 or minio)", cfg.Backend)
	}
}
