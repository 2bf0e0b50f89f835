package workflow

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/pithecene-io/ucdsync/adapter"
	"github.com/pithecene-io/ucdsync/storage"
)

type tarEntry struct {
	name string
	body string
	dir  bool
}

func buildTar(t *testing.T, entries ...tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if e.dir {
			hdr = &tar.Header{Name: e.name, Mode: 0o755, Typeflag: tar.TypeDir}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", e.name, err)
		}
		if !e.dir {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("write body %s: %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

var errReset = errors.New("connection reset by peer")

// faultyStore wraps storage.Memory with injectable failures.
type faultyStore struct {
	*storage.Memory

	mu          sync.Mutex
	putFailures map[string]int
	dropPuts    map[string]bool
	dropFirst   map[string]int
	deleteErr   error
	onPut       func(key string)
	onExists    func(key string) error
	puts        map[string]int
	gets        map[string]int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		Memory:      storage.NewMemory(),
		putFailures: make(map[string]int),
		dropPuts:    make(map[string]bool),
		dropFirst:   make(map[string]int),
		puts:        make(map[string]int),
		gets:        make(map[string]int),
	}
}

func (s *faultyStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	s.puts[key]++
	hook := s.onPut
	fail := s.putFailures[key] > 0
	if fail {
		s.putFailures[key]--
	}
	drop := s.dropPuts[key]
	if !drop && s.dropFirst[key] > 0 {
		s.dropFirst[key]--
		drop = true
	}
	s.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	if fail {
		return storage.NewStorageError(storage.ErrNetwork, "put", key, errReset)
	}
	if drop {
		return nil
	}
	return s.Memory.Put(ctx, key, data)
}

func (s *faultyStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	s.gets[key]++
	s.mu.Unlock()
	return s.Memory.Get(ctx, key)
}

func (s *faultyStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	hook := s.onExists
	s.mu.Unlock()
	if hook != nil {
		if err := hook(key); err != nil {
			return false, err
		}
	}
	return s.Memory.Exists(ctx, key)
}

func (s *faultyStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	err := s.deleteErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Memory.Delete(ctx, key)
}

func (s *faultyStore) putCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts[key]
}

func (s *faultyStore) getCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[key]
}

// recordingAdapter keeps published events.
type recordingAdapter struct {
	mu     sync.Mutex
	events []*adapter.UploadCompletedEvent
	err    error
}

func (a *recordingAdapter) Publish(_ context.Context, event *adapter.UploadCompletedEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return a.err
}

func (a *recordingAdapter) Close() error { return nil }

func fastConfig() Config {
	fast := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, Timeout: 5 * time.Second}
	return Config{
		Extract:  fast,
		Upload:   fast,
		Validate: fast,
		Cleanup:  fast,
	}
}
