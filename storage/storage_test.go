package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"minidrive/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, s Storage, ref string) string {
	t.Helper()
	rc, err := s.Read(context.Background(), ref)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func testRoundTrip(t *testing.T, s Storage) {
	ctx := context.Background()

	ref, err := s.Save(ctx, strings.NewReader("hello"), "u1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "users/u1/"), ref)
	assert.Equal(t, "hello", readAll(t, s, ref))

	other, err := s.Save(ctx, strings.NewReader("hello"), "u1")
	require.NoError(t, err)
	assert.NotEqual(t, ref, other, "every save gets a fresh key")

	require.NoError(t, s.Delete(ctx, ref))
	_, err = s.Read(ctx, ref)
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.ErrorIs(t, s.Delete(ctx, ref), ErrObjectNotFound)

	assert.Equal(t, "hello", readAll(t, s, other))
}

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()
	testRoundTrip(t, s)
	assert.Len(t, s.Keys(), 1)
}

func TestLocalStorage(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(filepath.Join(root, "blobs"))
	require.NoError(t, err)
	testRoundTrip(t, s)
}

func TestLocalStorage_RejectsEscapingRefs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret"), []byte("x"), 0o600))
	s, err := NewLocalStorage(filepath.Join(root, "blobs"))
	require.NoError(t, err)

	_, err = s.Read(context.Background(), "../secret")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.ErrorIs(t, s.Delete(context.Background(), "../secret"), ErrObjectNotFound)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("client went away") }

func TestSaveReadFailureIsStorageIO(t *testing.T) {
	s := NewMemoryStorage()
	_, err := s.Save(context.Background(), failingReader{}, "u1")
	assert.ErrorIs(t, err, models.ErrStorageIO)

	local, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	_, err = local.Save(context.Background(), failingReader{}, "u1")
	assert.ErrorIs(t, err, models.ErrStorageIO)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)

	s, err = Open(ctx, Options{Backend: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = Open(ctx, Options{Backend: "ftp"})
	assert.Error(t, err)
}

func TestNewObjectKey(t *testing.T) {
	key := NewObjectKey("owner-1")
	parts := strings.Split(key, "/")
	require.Len(t, parts, 6)
	assert.Equal(t, "users", parts[0])
	assert.Equal(t, "owner-1", parts[1])
	assert.Len(t, parts[5], 36)
}
