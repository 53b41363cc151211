package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStorage keeps objects as files below a root directory.
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", root, err)
	}
	return &LocalStorage{root: root}, nil
}

func (s *LocalStorage) path(ref string) (string, error) {
	rel := filepath.FromSlash(ref)
	if !filepath.IsLocal(rel) {
		return "", missing(ref)
	}
	return filepath.Join(s.root, rel), nil
}

func (s *LocalStorage) Save(_ context.Context, r io.Reader, ownerRef string) (string, error) {
	key := NewObjectKey(ownerRef)
	dst, err := s.path(key)
	if err != nil {
		return "", ioError("local write", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", ioError("local write", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", ioError("local write", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", ioError("local write", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", ioError("local write", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", ioError("local write", key, err)
	}
	return key, nil
}

func (s *LocalStorage) Read(_ context.Context, ref string) (io.ReadCloser, error) {
	p, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, missing(ref)
		}
		return nil, ioError("local read", ref, err)
	}
	return f, nil
}

func (s *LocalStorage) Delete(_ context.Context, ref string) error {
	p, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return missing(ref)
		}
		return ioError("local delete", ref, err)
	}
	return nil
}
