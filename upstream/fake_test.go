package upstream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/ucdsync/types"
)

const testBase = "https://www.unicode.org/Public/"

// fakeTree is a Lister over an in-memory directory tree keyed by URL.
type fakeTree struct {
	mu       sync.Mutex
	listings map[string][]types.DirectoryEntry
	failures map[string]error
	calls    []string

	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newFakeTree() *fakeTree {
	return &fakeTree{
		listings: make(map[string][]types.DirectoryEntry),
		failures: make(map[string]error),
	}
}

// dir registers a listing at /Public/{rel} containing the given children.
// Children ending in "/" are directories.
func (f *fakeTree) dir(rel string, children ...string) {
	dirPath := "/Public/" + rel
	var entries []types.DirectoryEntry
	for _, c := range children {
		if name, ok := strings.CutSuffix(c, "/"); ok {
			entries = append(entries, types.Directory{Name: name, Path: dirPath + c})
		} else {
			entries = append(entries, types.File{Name: c, Path: dirPath + c})
		}
	}
	f.listings["https://www.unicode.org"+dirPath] = entries
}

func (f *fakeTree) fail(rel string, err error) {
	f.failures["https://www.unicode.org/Public/"+rel] = err
}

func (f *fakeTree) List(ctx context.Context, url string) ([]types.DirectoryEntry, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.failures[url]; ok {
		return nil, err
	}
	entries, ok := f.listings[url]
	if !ok {
		return nil, &StatusError{URL: url, StatusCode: 404}
	}
	return entries, nil
}

var errBoom = errors.New("connection reset by peer")

func dirEntry(name, path string) types.DirectoryEntry {
	return types.Directory{Name: name, Path: path}
}
