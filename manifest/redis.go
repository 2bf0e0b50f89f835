package manifest

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/ucdsync/types"
)

// DefaultRedisPrefix namespaces manifest keys in Redis.
const DefaultRedisPrefix = "ucd:"

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 200

// RedisStore keeps manifests as Redis string values under
// {prefix}manifest/{version}/manifest.json.
type RedisStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewRedisStore creates a manifest store over a Redis client. An empty
// prefix selects DefaultRedisPrefix.
func NewRedisStore(client goredis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisStoreFromURL parses a redis:// URL and creates a manifest store.
func NewRedisStoreFromURL(url, prefix string) (*RedisStore, error) {
	if url == "" {
		return nil, errors.New("redis manifest store requires a URL")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis manifest store: invalid URL: %w", err)
	}
	return NewRedisStore(goredis.NewClient(opts), prefix), nil
}

func (s *RedisStore) key(version string) string {
	return s.prefix + types.ManifestKey(version)
}

// Put implements Store. SET replaces the whole document.
func (s *RedisStore) Put(ctx context.Context, version string, m types.Manifest) error {
	if err := types.ValidateVersion(version); err != nil {
		return err
	}
	data, err := encode(m)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(version), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: put manifest %s: %w", version, err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, version string) (types.Manifest, bool, error) {
	if err := types.ValidateVersion(version); err != nil {
		return types.Manifest{}, false, err
	}
	data, err := s.client.Get(ctx, s.key(version)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return types.Manifest{}, false, nil
	}
	if err != nil {
		return types.Manifest{}, false, fmt.Errorf("redis: get manifest %s: %w", version, err)
	}
	m, err := decode(version, data)
	if err != nil {
		return types.Manifest{}, false, err
	}
	return m, true, nil
}

// List implements Store using SCAN MATCH over the manifest namespace.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	prefix := s.prefix + types.ManifestPrefix
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan manifests: %w", err)
	}
	return versionsFromKeys(prefix, keys), nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Verify RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
