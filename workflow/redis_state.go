package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisStatePrefix namespaces workflow keys in Redis.
const DefaultRedisStatePrefix = "ucd:workflow:"

// RedisStateStore keeps instances as JSON strings at {prefix}{id} and step
// records in a hash at {prefix}{id}:steps. Creation uses SETNX and step
// records use HSETNX, so both are atomic across processes.
type RedisStateStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewRedisStateStore creates a state store over a Redis client. An empty
// prefix selects DefaultRedisStatePrefix.
func NewRedisStateStore(client goredis.UniversalClient, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = DefaultRedisStatePrefix
	}
	return &RedisStateStore{client: client, prefix: prefix}
}

// NewRedisStateStoreFromURL parses a redis:// URL and creates a state store.
func NewRedisStateStoreFromURL(url, prefix string) (*RedisStateStore, error) {
	if url == "" {
		return nil, errors.New("redis state store requires a URL")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis state store: invalid URL: %w", err)
	}
	return NewRedisStateStore(goredis.NewClient(opts), prefix), nil
}

func (s *RedisStateStore) instanceKey(id string) string { return s.prefix + id }

func (s *RedisStateStore) stepsKey(id string) string { return s.prefix + id + ":steps" }

// Create implements StateStore.
func (s *RedisStateStore) Create(ctx context.Context, inst *Instance) (bool, error) {
	data, err := json.Marshal(inst)
	if err != nil {
		return false, fmt.Errorf("encode instance %s: %w", inst.ID, err)
	}
	ok, err := s.client.SetNX(ctx, s.instanceKey(inst.ID), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis: create instance %s: %w", inst.ID, err)
	}
	return ok, nil
}

// Load implements StateStore.
func (s *RedisStateStore) Load(ctx context.Context, id string) (*Instance, error) {
	data, err := s.client.Get(ctx, s.instanceKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load instance %s: %w", id, err)
	}
	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("decode instance %s: %w", id, err)
	}
	return &inst, nil
}

// Save implements StateStore.
func (s *RedisStateStore) Save(ctx context.Context, inst *Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("encode instance %s: %w", inst.ID, err)
	}
	if err := s.client.Set(ctx, s.instanceKey(inst.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: save instance %s: %w", inst.ID, err)
	}
	return nil
}

// SaveStep implements StateStore.
func (s *RedisStateStore) SaveStep(ctx context.Context, id, step string, data []byte) (bool, error) {
	ok, err := s.client.HSetNX(ctx, s.stepsKey(id), step, data).Result()
	if err != nil {
		return false, fmt.Errorf("redis: save step %s/%s: %w", id, step, err)
	}
	return ok, nil
}

// LoadStep implements StateStore.
func (s *RedisStateStore) LoadStep(ctx context.Context, id, step string) ([]byte, bool, error) {
	data, err := s.client.HGet(ctx, s.stepsKey(id), step).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: load step %s/%s: %w", id, step, err)
	}
	return data, true, nil
}

// List implements StateStore.
func (s *RedisStateStore) List(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), s.prefix)
		if strings.Contains(id, ":") {
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan instances: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close releases the Redis client.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

// Verify RedisStateStore implements StateStore.
var _ StateStore = (*RedisStateStore)(nil)
