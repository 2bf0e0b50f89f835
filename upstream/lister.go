// Package upstream discovers Unicode versions and crawls their file trees
// from an HTTP directory index.
package upstream

import (
	"context"
	"fmt"

	"github.com/pithecene-io/ucdsync/types"
)

// Lister fetches and parses one directory listing.
type Lister interface {
	// List returns the entries of the directory at url.
	List(ctx context.Context, url string) ([]types.DirectoryEntry, error)
}

// ListerFunc adapts a function to Lister.
type ListerFunc func(ctx context.Context, url string) ([]types.DirectoryEntry, error)

// List implements Lister.
func (f ListerFunc) List(ctx context.Context, url string) ([]types.DirectoryEntry, error) {
	return f(ctx, url)
}

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: GET %s returned status %d", e.URL, e.StatusCode)
}
