// Package blob stores immutable named objects, used for index snapshots.
// Backends: the local filesystem, MinIO/S3, and memory for tests.
package blob

import (
	"context"
	"os"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = os.ErrNotExist

// Store is a flat namespace of whole-object blobs. Put must be atomic: a
// reader either sees the previous object or the complete new one.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	// List returns the names starting with prefix in ascending order.
	List(ctx context.Context, prefix string) ([]string, error)
}
