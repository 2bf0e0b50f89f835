package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/justapithecus/lode/lode"
)

// writeOnceStore is a lode.Store that refuses to overwrite existing paths
// and returns configurable errors.
type writeOnceStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	ListErr   error
	DeleteErr error
	// PutHook, when set, runs before each Put with the 1-based call number.
	PutHook func(call int) error

	PutCalls    int
	DeleteCalls int
}

func newWriteOnceStore() *writeOnceStore {
	return &writeOnceStore{objects: make(map[string][]byte)}
}

func (s *writeOnceStore) Put(_ context.Context, path string, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PutCalls++
	if s.PutHook != nil {
		if err := s.PutHook(s.PutCalls); err != nil {
			return err
		}
	}
	if _, ok := s.objects[path]; ok {
		return errors.New("path already exists")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[path] = b
	return nil
}

func (s *writeOnceStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[path]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *writeOnceStore) Exists(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[path]
	return ok, nil
}

func (s *writeOnceStore) List(_ context.Context, _ string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *writeOnceStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteCalls++
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.objects, path)
	return nil
}

func (s *writeOnceStore) ReadRange(_ context.Context, _ string, _, _ int64) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *writeOnceStore) ReaderAt(_ context.Context, _ string) (io.ReaderAt, error) {
	return nil, errors.New("not implemented")
}

var _ lode.Store = (*writeOnceStore)(nil)

func factoryFor(st lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return st, nil }
}

func TestLodeStore_OverwriteReplacesExisting(t *testing.T) {
	ctx := t.Context()
	backing := newWriteOnceStore()
	s := NewLodeStore(factoryFor(backing))

	if err := s.Put(ctx, "manifest/16.0.0/manifest.json", []byte("old")); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := s.Put(ctx, "manifest/16.0.0/manifest.json", []byte("new")); err != nil {
		t.Fatalf("overwrite Put: %v", err)
	}
	if got := readKey(t, s, "manifest/16.0.0/manifest.json"); got != "new" {
		t.Errorf("content = %q, want new", got)
	}
	if backing.DeleteCalls != 1 {
		t.Errorf("DeleteCalls = %d, want 1", backing.DeleteCalls)
	}
}

func TestLodeStore_OverwriteDeleteFails(t *testing.T) {
	ctx := t.Context()
	backing := newWriteOnceStore()
	s := NewLodeStore(factoryFor(backing))
	_ = s.Put(ctx, "k", []byte("v"))

	backing.DeleteErr = errors.New("AccessDenied")
	err := s.Put(ctx, "k", []byte("v2"))
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestLodeStore_GetMissingIsNotFound(t *testing.T) {
	s := NewLodeStore(factoryFor(newWriteOnceStore()))
	_, err := s.Get(t.Context(), "manifest/1.0.0/manifest.json")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "get" {
		t.Errorf("expected StorageError with op get, got %v", err)
	}
}

func TestLodeStore_DeleteMissingIsNoop(t *testing.T) {
	backing := newWriteOnceStore()
	s := NewLodeStore(factoryFor(backing))
	if err := s.Delete(t.Context(), "manifest-tars/1.0.0/wf.tar"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if backing.DeleteCalls != 0 {
		t.Errorf("DeleteCalls = %d, want 0", backing.DeleteCalls)
	}
}

func TestLodeStore_ListSortedAndNotFoundEmpty(t *testing.T) {
	ctx := t.Context()
	backing := newWriteOnceStore()
	s := NewLodeStore(factoryFor(backing))
	for _, k := range []string{"b", "c", "a"} {
		_ = s.Put(ctx, k, nil)
	}

	keys, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Errorf("List = %v, want [a b c]", keys)
	}

	backing.ListErr = errors.New("prefix does not exist")
	keys, err = s.List(ctx, "manifest/")
	if err != nil || len(keys) != 0 {
		t.Errorf("List on missing prefix = %v, %v; want empty, nil", keys, err)
	}
}

func TestLodeStore_FactoryFailure(t *testing.T) {
	calls := 0
	s := NewLodeStore(func() (lode.Store, error) {
		calls++
		return nil, errors.New("NoCredentialProviders: no valid providers")
	})

	for i := 0; i < 2; i++ {
		err := s.Put(t.Context(), "k", []byte("v"))
		if !errors.Is(err, ErrAuth) {
			t.Fatalf("expected ErrAuth, got %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("factory called %d times, want 1", calls)
	}
}

func TestLodeStore_Memory(t *testing.T) {
	ctx := t.Context()
	s := NewLodeMemoryStore()

	if err := s.Put(ctx, "manifest/15.1.0/UnicodeData.txt", []byte("0041;LATIN CAPITAL LETTER A")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err := s.Exists(ctx, "manifest/15.1.0/UnicodeData.txt")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	if got := readKey(t, s, "manifest/15.1.0/UnicodeData.txt"); got != "0041;LATIN CAPITAL LETTER A" {
		t.Errorf("content = %q", got)
	}
}

func TestNewFSStore_RequiresRoot(t *testing.T) {
	if _, err := NewFSStore(""); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestLodeStore_FailedRewriteRestoresPrevious(t *testing.T) {
	ctx := t.Context()
	backing := newWriteOnceStore()
	s := NewLodeStore(factoryFor(backing))
	if err := s.Put(ctx, "manifest/16.0.0/manifest.json", []byte("old")); err != nil {
		t.Fatalf("first Put: %v", err)
	}

	// Call 2 is the refused overwrite, call 3 the rewrite after delete.
	backing.PutHook = func(call int) error {
		if call == 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	}
	if err := s.Put(ctx, "manifest/16.0.0/manifest.json", []byte("new")); err == nil {
		t.Fatal("expected rewrite error")
	}
	if got := readKey(t, s, "manifest/16.0.0/manifest.json"); got != "old" {
		t.Errorf("content = %q, want previous object restored", got)
	}
}

// overwriteWhileReading rewrites key while readers fetch it, and fails the
// test if a reader ever sees a missing, failed or partial object.
func overwriteWhileReading(t *testing.T, s Store, key string) {
	t.Helper()
	ctx := t.Context()
	docs := [][]byte{
		bytes.Repeat([]byte("a"), 64<<10),
		bytes.Repeat([]byte("b"), 48<<10),
	}
	if err := s.Put(ctx, key, docs[0]); err != nil {
		t.Fatalf("first Put: %v", err)
	}

	var (
		done  atomic.Bool
		reads atomic.Int64
		wg    sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !done.Load() {
				rc, err := s.Get(ctx, key)
				if err != nil {
					t.Errorf("Get during overwrite: %v", err)
					return
				}
				body, err := io.ReadAll(rc)
				_ = rc.Close()
				if err != nil {
					t.Errorf("read during overwrite: %v", err)
					return
				}
				if !bytes.Equal(body, docs[0]) && !bytes.Equal(body, docs[1]) {
					t.Errorf("read partial object of %d bytes", len(body))
					return
				}
				reads.Add(1)
			}
		}()
	}

	for i := range 200 {
		if err := s.Put(ctx, key, docs[(i+1)%2]); err != nil {
			t.Errorf("Put %d: %v", i, err)
			break
		}
	}
	done.Store(true)
	wg.Wait()

	if reads.Load() == 0 {
		t.Error("readers never completed a read")
	}
}

func TestFSStore_OverwriteIsAtomicForReaders(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	overwriteWhileReading(t, s, "manifest/16.0.0/manifest.json")
}

func TestLodeMemoryStore_OverwriteIsAtomicForReaders(t *testing.T) {
	overwriteWhileReading(t, NewLodeMemoryStore(), "workflows/wf-1/instance.json")
}

func TestFSStore_ListHidesStagingFiles(t *testing.T) {
	ctx := t.Context()
	root := t.TempDir()
	s, err := NewFSStore(root)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	if err := s.Put(ctx, "manifest/16.0.0/UnicodeData.txt", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// A write interrupted before its rename leaves a staging file behind.
	if err := os.WriteFile(filepath.Join(root, stagingDir, "put-123"), []byte("partial"), 0o600); err != nil {
		t.Fatal(err)
	}

	keys, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0] != "manifest/16.0.0/UnicodeData.txt" {
		t.Errorf("List = %v, want only the stored object", keys)
	}
}

func TestFSStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	for _, key := range []string{"", "../outside", "/etc/passwd", stagingDir + "/put-1"} {
		if err := s.Put(t.Context(), key, []byte("x")); err == nil {
			t.Errorf("Put(%q) succeeded, want error", key)
		}
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, key, want string
		wantErr           bool
	}{
		{"", "manifest/16.0.0/manifest.json", "manifest/16.0.0/manifest.json", false},
		{"ucd", "manifest/16.0.0/manifest.json", "ucd/manifest/16.0.0/manifest.json", false},
		{"ucd/", "/workflows/wf-1/instance.json", "ucd/workflows/wf-1/instance.json", false},
		{"ucd", "../x", "", true},
		{"ucd", "", "", true},
	}
	for _, tt := range tests {
		got, err := objectKey(tt.prefix, tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("objectKey(%q, %q) error = %v, wantErr %v", tt.prefix, tt.key, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("objectKey(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
		}
	}
}
