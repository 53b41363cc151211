package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"minidrive/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket behind the s3API subset.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	buckets []string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets = append(f.buckets, aws.ToString(in.Bucket))
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Storage(t *testing.T) {
	fake := newFakeS3()
	s := &S3Storage{client: fake, bucket: "drive"}
	ctx := context.Background()

	// a plain reader is buffered so the SDK can sign it
	ref, err := s.Save(ctx, io.LimitReader(strings.NewReader("payload"), 100), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"drive"}, fake.buckets)
	assert.Equal(t, "payload", readAll(t, s, ref))

	require.NoError(t, s.Delete(ctx, ref))
	_, err = s.Read(ctx, ref)
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.NoError(t, s.Delete(ctx, ref), "S3 deletes are idempotent")

	fake.putErr = errors.New("503 slow down")
	_, err = s.Save(ctx, strings.NewReader("x"), "u1")
	assert.ErrorIs(t, err, models.ErrStorageIO)
}
