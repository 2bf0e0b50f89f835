// Package manifest persists the per-version manifest documents read by the
// serving layer.
//
// A manifest is written as one JSON document per version; readers never see
// a partially written manifest. There is no locking: concurrent writes to the
// same version are last-write-wins.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pithecene-io/ucdsync/types"
)

// MaxDocumentBytes bounds a manifest document read back from storage.
const MaxDocumentBytes = 16 << 20

// Store maps a version to its manifest.
type Store interface {
	// Put atomically replaces the manifest for version.
	Put(ctx context.Context, version string, m types.Manifest) error
	// Get returns the manifest for version; found is false when none exists.
	Get(ctx context.Context, version string) (m types.Manifest, found bool, err error)
	// List returns every version with stored data, sorted.
	List(ctx context.Context) ([]string, error)
}

// encode renders a manifest document. A nil file list is written as [].
func encode(m types.Manifest) ([]byte, error) {
	if m.ExpectedFiles == nil {
		m.ExpectedFiles = []string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return data, nil
}

func decode(version string, data []byte) (types.Manifest, error) {
	var m types.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return types.Manifest{}, fmt.Errorf("decode manifest for %s: %w", version, err)
	}
	if m.ExpectedFiles == nil {
		m.ExpectedFiles = []string{}
	}
	return m, nil
}

// versionsFromKeys extracts the version segment following prefix from each
// key. Segments that are not Unicode versions are ignored.
func versionsFromKeys(prefix string, keys []string) []string {
	seen := make(map[string]struct{})
	versions := make([]string, 0)
	for _, k := range keys {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		v, _, _ := strings.Cut(rest, "/")
		if !types.IsUnicodeVersion(v) {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}
