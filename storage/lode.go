package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"
)

// stagingDir holds in-flight filesystem writes. It lives under the store
// root so a rename into place never crosses filesystems.
const stagingDir = ".staging"

// replaceFunc writes data at key in one step: readers observe either the
// previous object or the complete new one, never a gap or a partial write.
type replaceFunc func(ctx context.Context, key string, data []byte) error

// LodeStore adapts a Lode store (filesystem, memory or S3) to Store.
// The underlying store is created lazily from its factory on first use.
//
// Lode refuses to overwrite a path. Backends that can replace an object in
// place (filesystem rename, S3 PutObject) do so through replace; the rest
// delete and rewrite while holding mu, which readers share.
type LodeStore struct {
	factory lode.StoreFactory
	replace replaceFunc
	hidden  string

	mu sync.RWMutex

	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// NewLodeStore creates a Store over a Lode store factory.
func NewLodeStore(factory lode.StoreFactory) *LodeStore {
	return &LodeStore{factory: factory}
}

// NewFSStore creates a filesystem-backed Store rooted at root.
// The root directory is created if missing.
func NewFSStore(root string) (*LodeStore, error) {
	if root == "" {
		return nil, errors.New("filesystem storage requires a root path")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, Wrap(err, "init", root)
	}
	s := NewLodeStore(lode.NewFSFactory(root))
	s.replace = fsReplace(root)
	s.hidden = stagingDir + "/"
	return s, nil
}

// fsReplace writes each object to a staging file and renames it over the
// target.
func fsReplace(root string) replaceFunc {
	return func(_ context.Context, key string, data []byte) error {
		cleaned := filepath.Clean(filepath.FromSlash(key))
		if key == "" || cleaned == "." || filepath.IsAbs(cleaned) ||
			cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%w: %q", lode.ErrInvalidPath, key)
		}
		if first, _, _ := strings.Cut(filepath.ToSlash(cleaned), "/"); first == stagingDir {
			return fmt.Errorf("%w: %q is reserved", lode.ErrInvalidPath, key)
		}
		target := filepath.Join(root, cleaned)

		staging := filepath.Join(root, stagingDir)
		if err := os.MkdirAll(staging, 0o755); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		tmp, err := os.CreateTemp(staging, "put-*")
		if err != nil {
			return err
		}
		tmpName := tmp.Name()
		committed := false
		defer func() {
			if !committed {
				_ = os.Remove(tmpName)
			}
		}()

		if _, err := tmp.Write(data); err != nil {
			_ = tmp.Close()
			return err
		}
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			return err
		}
		if err := tmp.Close(); err != nil {
			return err
		}
		if err := os.Rename(tmpName, target); err != nil {
			return err
		}
		committed = true
		return nil
	}
}

// objectKey joins a key prefix and key the way Lode's S3 store does.
func objectKey(prefix, key string) (string, error) {
	cleaned := strings.TrimPrefix(path.Clean(key), "/")
	if key == "" || cleaned == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", lode.ErrInvalidPath, key)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + cleaned, nil
}

// NewLodeMemoryStore creates a Store over Lode's in-memory backend.
func NewLodeMemoryStore() *LodeStore {
	return NewLodeStore(lode.NewMemoryFactory())
}

// getOrCreateStore lazily initializes the Store from the factory.
func (s *LodeStore) getOrCreateStore() (lode.Store, error) {
	s.storeOnce.Do(func() {
		s.store, s.storeErr = s.factory()
	})
	return s.store, s.storeErr
}

// Put implements Store. Overwrites are atomic for readers of this store:
// a failed rewrite restores the previous object.
func (s *LodeStore) Put(ctx context.Context, key string, data []byte) error {
	if s.replace != nil {
		return Wrap(s.replace(ctx, key, data), "put", key)
	}

	st, err := s.getOrCreateStore()
	if err != nil {
		return Wrap(err, "init", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = st.Put(ctx, key, bytes.NewReader(data))
	if err == nil {
		return nil
	}

	exists, existsErr := st.Exists(ctx, key)
	if existsErr != nil || !exists {
		return Wrap(err, "put", key)
	}
	previous, err := readObject(ctx, st, key)
	if err != nil {
		return Wrap(err, "put", key)
	}
	if err := st.Delete(ctx, key); err != nil {
		return Wrap(err, "put", key)
	}
	if err := st.Put(ctx, key, bytes.NewReader(data)); err != nil {
		if restoreErr := st.Put(ctx, key, bytes.NewReader(previous)); restoreErr != nil {
			return Wrap(errors.Join(err, fmt.Errorf("restore previous object: %w", restoreErr)), "put", key)
		}
		return Wrap(err, "put", key)
	}
	return nil
}

func readObject(ctx context.Context, st lode.Store, key string) ([]byte, error) {
	rc, err := st.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

// Get implements Store.
func (s *LodeStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	st, err := s.getOrCreateStore()
	if err != nil {
		return nil, Wrap(err, "init", key)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, err := st.Get(ctx, key)
	if err != nil {
		return nil, Wrap(err, "get", key)
	}
	return rc, nil
}

// Exists implements Store.
func (s *LodeStore) Exists(ctx context.Context, key string) (bool, error) {
	st, err := s.getOrCreateStore()
	if err != nil {
		return false, Wrap(err, "init", key)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok, err := st.Exists(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, Wrap(err, "exists", key)
	}
	return ok, nil
}

// Delete implements Store. Missing keys are not an error.
func (s *LodeStore) Delete(ctx context.Context, key string) error {
	st, err := s.getOrCreateStore()
	if err != nil {
		return Wrap(err, "init", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exists, err := st.Exists(ctx, key)
	if err != nil && !IsNotFound(err) {
		return Wrap(err, "delete", key)
	}
	if !exists {
		return nil
	}
	if err := st.Delete(ctx, key); err != nil && !IsNotFound(err) {
		return Wrap(err, "delete", key)
	}
	return nil
}

// List implements Store. Keys are returned sorted.
func (s *LodeStore) List(ctx context.Context, prefix string) ([]string, error) {
	st, err := s.getOrCreateStore()
	if err != nil {
		return nil, Wrap(err, "init", prefix)
	}
	s.mu.RLock()
	keys, err := st.List(ctx, prefix)
	s.mu.RUnlock()
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, Wrap(err, "list", prefix)
	}
	if s.hidden != "" {
		visible := keys[:0]
		for _, k := range keys {
			if !strings.HasPrefix(k, s.hidden) {
				visible = append(visible, k)
			}
		}
		keys = visible
	}
	sort.Strings(keys)
	return keys, nil
}

// Verify LodeStore implements Store.
var _ Store = (*LodeStore)(nil)
