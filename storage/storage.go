// Package storage holds file bytes. Nodes and archive jobs keep only the
// opaque reference returned by Save.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"minidrive/models"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned by Read and Delete for an unknown reference.
var ErrObjectNotFound = errors.New("object not found")

type Storage interface {
	// Save stores r under a fresh key scoped to ownerRef and returns the key.
	Save(ctx context.Context, r io.Reader, ownerRef string) (string, error)
	Read(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}

// NewObjectKey builds users/<owner>/<yyyy>/<mm>/<dd>/<uuid>.
func NewObjectKey(ownerRef string) string {
	return fmt.Sprintf("users/%s/%s/%s", ownerRef, time.Now().UTC().Format("2006/01/02"), uuid.NewString())
}

func ioError(op, ref string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", models.ErrStorageIO, op, ref, err)
}

func missing(ref string) error {
	return fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
}
