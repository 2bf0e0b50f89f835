package storage

import (
	"context"
	"io"
)

// Store is a key-addressable blob store.
//
// Implementations must be safe for concurrent use on disjoint keys.
// Put overwrites an existing key; Delete of a missing key is not an error.
// Get of a missing key returns an error matching ErrNotFound.
type Store interface {
	// Put writes data at key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte) error
	// Get opens the object at key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether an object is stored at key (a HEAD check).
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
	// List returns every key beginning with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
