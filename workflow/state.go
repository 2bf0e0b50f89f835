package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/ucdsync/iox"
	"github.com/pithecene-io/ucdsync/storage"
)

// StateStore persists workflow instances and their step records.
type StateStore interface {
	// Create stores inst if no instance with its ID exists. It reports
	// whether inst was stored.
	Create(ctx context.Context, inst *Instance) (bool, error)
	// Load returns the instance, or ErrInstanceNotFound.
	Load(ctx context.Context, id string) (*Instance, error)
	// Save replaces the stored instance.
	Save(ctx context.Context, inst *Instance) error
	// SaveStep records a step result unless one exists already; the first
	// recorded result wins. It reports whether data was stored.
	SaveStep(ctx context.Context, id, step string, data []byte) (bool, error)
	// LoadStep returns a recorded step result.
	LoadStep(ctx context.Context, id, step string) ([]byte, bool, error)
	// List returns every instance ID, sorted.
	List(ctx context.Context) ([]string, error)
}

// maxStateBytes bounds one instance or step record read back from storage.
// Extraction records carry file data, bounded by the archive limit.
const maxStateBytes = 256 << 20

// statePrefix holds workflow state in a blob store.
const statePrefix = "workflows/"

// BlobStateStore keeps instances and step records in a blob store:
// workflows/{id}/instance.json and workflows/{id}/steps/{step}.msgpack.
//
// Create and SaveStep are atomic within one process only; run a single
// engine per blob store or use RedisStateStore.
type BlobStateStore struct {
	store storage.Store
	mu    sync.Mutex
}

// NewBlobStateStore creates a state store over a blob store.
func NewBlobStateStore(store storage.Store) *BlobStateStore {
	return &BlobStateStore{store: store}
}

func instanceKey(id string) string {
	return statePrefix + id + "/instance.json"
}

func stepKey(id, step string) string {
	return statePrefix + id + "/steps/" + step + ".msgpack"
}

// Create implements StateStore.
func (s *BlobStateStore) Create(ctx context.Context, inst *Instance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.store.Exists(ctx, instanceKey(inst.ID))
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	return true, s.put(ctx, inst)
}

// Load implements StateStore.
func (s *BlobStateStore) Load(ctx context.Context, id string) (*Instance, error) {
	data, found, err := s.read(ctx, instanceKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("decode instance %s: %w", id, err)
	}
	return &inst, nil
}

// Save implements StateStore.
func (s *BlobStateStore) Save(ctx context.Context, inst *Instance) error {
	return s.put(ctx, inst)
}

// SaveStep implements StateStore.
func (s *BlobStateStore) SaveStep(ctx context.Context, id, step string, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stepKey(id, step)
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.store.Put(ctx, key, data); err != nil {
		return false, err
	}
	return true, nil
}

// LoadStep implements StateStore.
func (s *BlobStateStore) LoadStep(ctx context.Context, id, step string) ([]byte, bool, error) {
	return s.read(ctx, stepKey(id, step))
}

// List implements StateStore.
func (s *BlobStateStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.store.List(ctx, statePrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0)
	for _, k := range keys {
		rest := strings.TrimPrefix(k, statePrefix)
		id, file, ok := strings.Cut(rest, "/")
		if ok && file == "instance.json" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *BlobStateStore) put(ctx context.Context, inst *Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("encode instance %s: %w", inst.ID, err)
	}
	return s.store.Put(ctx, instanceKey(inst.ID), data)
}

func (s *BlobStateStore) read(ctx context.Context, key string) ([]byte, bool, error) {
	rc, err := s.store.Get(ctx, key)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer iox.DiscardClose(rc)

	data, err := iox.ReadAllLimit(rc, maxStateBytes)
	if err != nil {
		return nil, false, storage.Wrap(err, "get", key)
	}
	return data, true, nil
}

// encodeStep serializes a step result with msgpack.
func encodeStep(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode step result: %w", err)
	}
	return data, nil
}

// decodeStep deserializes a step result recorded by encodeStep.
func decodeStep(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode step result: %w", err)
	}
	return nil
}

// Verify BlobStateStore implements StateStore.
var _ StateStore = (*BlobStateStore)(nil)
