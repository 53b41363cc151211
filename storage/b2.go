package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/kurin/blazer/b2"
)

// B2Storage keeps objects in a Backblaze B2 bucket.
type B2Storage struct {
	client     *b2.Client
	bucket     *b2.Bucket
	bucketName string

	newWriter func(ctx context.Context, key string) io.WriteCloser
}

func NewB2Storage(ctx context.Context, keyID, applicationKey, bucketName string) (*B2Storage, error) {
	client, err := b2.NewClient(ctx, keyID, applicationKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create B2 client: %w", err)
	}

	bucket, err := client.Bucket(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket %s: %w", bucketName, err)
	}

	s := &B2Storage{
		client:     client,
		bucket:     bucket,
		bucketName: bucketName,
	}
	s.newWriter = func(ctx context.Context, key string) io.WriteCloser {
		return bucket.Object(key).NewWriter(ctx)
	}
	return s, nil
}

func (s *B2Storage) Save(ctx context.Context, r io.Reader, ownerRef string) (string, error) {
	key := NewObjectKey(ownerRef)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := s.newWriter(ctx, key)

	if _, err := io.Copy(w, r); err != nil {
		// cancelling first makes Close abort the upload instead of
		// committing a partial object
		cancel()
		_ = w.Close()
		return "", ioError("b2 upload", key, err)
	}
	if err := w.Close(); err != nil {
		return "", ioError("b2 upload", key, err)
	}
	return key, nil
}

func (s *B2Storage) Read(ctx context.Context, ref string) (io.ReadCloser, error) {
	obj := s.bucket.Object(ref)
	if _, err := obj.Attrs(ctx); err != nil {
		if b2.IsNotExist(err) {
			return nil, missing(ref)
		}
		return nil, ioError("b2 stat", ref, err)
	}
	return obj.NewReader(ctx), nil
}

func (s *B2Storage) Delete(ctx context.Context, ref string) error {
	if err := s.bucket.Object(ref).Delete(ctx); err != nil {
		if b2.IsNotExist(err) {
			return missing(ref)
		}
		return ioError("b2 delete", ref, err)
	}
	return nil
}
