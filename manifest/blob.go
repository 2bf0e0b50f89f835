package manifest

import (
	"context"
	"strings"

	"github.com/pithecene-io/ucdsync/iox"
	"github.com/pithecene-io/ucdsync/storage"
	"github.com/pithecene-io/ucdsync/types"
)

// BlobStore keeps manifests at manifest/{version}/manifest.json in a blob
// store, next to the version's uploaded files.
type BlobStore struct {
	store storage.Store
}

// NewBlobStore creates a manifest store over a blob store.
func NewBlobStore(store storage.Store) *BlobStore {
	return &BlobStore{store: store}
}

// Put implements Store.
func (s *BlobStore) Put(ctx context.Context, version string, m types.Manifest) error {
	if err := types.ValidateVersion(version); err != nil {
		return err
	}
	data, err := encode(m)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, types.ManifestKey(version), data)
}

// Get implements Store.
func (s *BlobStore) Get(ctx context.Context, version string) (types.Manifest, bool, error) {
	if err := types.ValidateVersion(version); err != nil {
		return types.Manifest{}, false, err
	}
	rc, err := s.store.Get(ctx, types.ManifestKey(version))
	if err != nil {
		if storage.IsNotFound(err) {
			return types.Manifest{}, false, nil
		}
		return types.Manifest{}, false, err
	}
	defer iox.DiscardClose(rc)

	data, err := iox.ReadAllLimit(rc, MaxDocumentBytes)
	if err != nil {
		return types.Manifest{}, false, storage.Wrap(err, "get", types.ManifestKey(version))
	}
	m, err := decode(version, data)
	if err != nil {
		return types.Manifest{}, false, err
	}
	return m, true, nil
}

// List implements Store. Only versions with a manifest document are
// reported; a prefix holding uploaded files alone has no manifest yet.
func (s *BlobStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.store.List(ctx, types.ManifestPrefix)
	if err != nil {
		return nil, err
	}
	docs := keys[:0:0]
	for _, k := range keys {
		rest, _ := strings.CutPrefix(k, types.ManifestPrefix)
		v, _, _ := strings.Cut(rest, "/")
		if k == types.ManifestKey(v) {
			docs = append(docs, k)
		}
	}
	return versionsFromKeys(types.ManifestPrefix, docs), nil
}

// Verify BlobStore implements Store.
var _ Store = (*BlobStore)(nil)
