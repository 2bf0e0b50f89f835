package upstream

import (
	"context"
	"fmt"

	"github.com/pithecene-io/ucdsync/types"
)

// DefaultBaseURL is the public Unicode file tree.
const DefaultBaseURL = "https://unicode.org/Public/"

// Discoverer finds the Unicode versions published under the upstream root.
type Discoverer struct {
	lister  Lister
	rootURL string
}

// NewDiscoverer creates a Discoverer listing rootURL.
func NewDiscoverer(lister Lister, rootURL string) *Discoverer {
	return &Discoverer{lister: lister, rootURL: rootURL}
}

// Discover returns the version directory names of the root listing, in
// listing order. A failed root fetch is returned as is; retrying the whole
// discovery is left to the caller.
func (d *Discoverer) Discover(ctx context.Context) ([]string, error) {
	entries, err := d.lister.List(ctx, d.rootURL)
	if err != nil {
		return nil, fmt.Errorf("discover versions at %s: %w", d.rootURL, err)
	}

	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		name := types.NormalizeVersionName(e.EntryName())
		if types.IsUnicodeVersion(name) {
			versions = append(versions, name)
		}
	}
	return versions, nil
}
