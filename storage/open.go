package storage

import (
	"context"
	"fmt"
)

type Options struct {
	Backend string

	B2KeyID      string
	B2AppKey     string
	B2BucketName string

	S3 S3Config

	LocalDir string
}

// Open builds the backend named by opts.Backend: b2, s3, local or memory.
func Open(ctx context.Context, opts Options) (Storage, error) {
	switch opts.Backend {
	case "b2":
		return NewB2Storage(ctx, opts.B2KeyID, opts.B2AppKey, opts.B2BucketName)
	case "s3":
		return NewS3Storage(ctx, opts.S3)
	case "local":
		return NewLocalStorage(opts.LocalDir)
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
