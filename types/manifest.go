package types

import (
	"sort"
	"strings"
)

// Manifest lists every file expected to exist for one Unicode version.
// Paths are relative to the version root and carry no leading slash.
type Manifest struct {
	ExpectedFiles []string `json:"expectedFiles"`
}

// NewManifest builds a manifest from paths, trimming leading slashes,
// dropping empties and duplicates, and sorting the result.
func NewManifest(paths []string) Manifest {
	seen := make(map[string]struct{}, len(paths))
	files := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimLeft(p, "/")
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		files = append(files, p)
	}
	sort.Strings(files)
	return Manifest{ExpectedFiles: files}
}
