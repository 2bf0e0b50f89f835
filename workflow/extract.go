package workflow

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/pithecene-io/ucdsync/iox"
	"github.com/pithecene-io/ucdsync/types"
)

// DefaultMaxArchiveBytes is the largest accepted archive (10 MiB).
const DefaultMaxArchiveBytes = 10 << 20

// DefaultMaxExtractedBytes caps the total size of extracted file data.
const DefaultMaxExtractedBytes = 512 << 20

// Reasons reported for dropped archive entries.
const (
	dropReserved = "reserved name"
	dropUnsafe   = "unsafe path"
)

var gzipMagic = []byte{0x1f, 0x8b}

// ExtractOptions tunes ExtractArchive.
type ExtractOptions struct {
	// MaxExtractedBytes caps the summed size of kept entries; zero means
	// DefaultMaxExtractedBytes.
	MaxExtractedBytes int64
	// OnDrop, when set, is called for each entry skipped for its name.
	OnDrop func(name, reason string)
}

// ExtractArchive parses a TAR archive, gunzipping it first when it starts
// with the gzip magic bytes. Directories, entries without data, unsafe paths
// and a top-level manifest.json are dropped. When a name repeats, the later
// entry wins. Results are sorted by name.
//
// Parse failures are permanent (ErrCorruptArchive), as is an archive without
// usable entries (ErrNoUsableEntries) or one whose entries add up to more
// than MaxExtractedBytes (ErrArchiveTooLarge).
func ExtractArchive(data []byte, opts ExtractOptions) ([]ExtractedFile, error) {
	limit := opts.MaxExtractedBytes
	if limit <= 0 {
		limit = DefaultMaxExtractedBytes
	}

	var r io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, Permanent(fmt.Errorf("%w: %v", ErrCorruptArchive, err))
		}
		defer iox.DiscardClose(zr)
		r = zr
	}

	byName := make(map[string][]byte)
	tr := tar.NewReader(r)
	var read int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, Permanent(fmt.Errorf("%w: %v", ErrCorruptArchive, err))
		}
		if hdr.Typeflag != tar.TypeReg || hdr.Size <= 0 {
			continue
		}
		name, reason := entryName(hdr.Name)
		if reason != "" {
			if opts.OnDrop != nil {
				opts.OnDrop(hdr.Name, reason)
			}
			continue
		}
		if read+hdr.Size > limit {
			return nil, Permanent(fmt.Errorf("%w: extracted content exceeds %d bytes", ErrArchiveTooLarge, limit))
		}
		body, err := io.ReadAll(io.LimitReader(tr, hdr.Size))
		if err != nil {
			return nil, Permanent(fmt.Errorf("%w: %s: %v", ErrCorruptArchive, name, err))
		}
		read += int64(len(body))
		byName[name] = body
	}

	if len(byName) == 0 {
		return nil, Permanent(ErrNoUsableEntries)
	}

	files := make([]ExtractedFile, 0, len(byName))
	for name, body := range byName {
		files = append(files, ExtractedFile{Name: name, Data: body})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// entryName normalizes a TAR entry name. A non-empty reason means the entry
// is not usable.
func entryName(raw string) (name, reason string) {
	if strings.HasPrefix(raw, "/") {
		return "", dropUnsafe
	}
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return "", dropUnsafe
		}
	}
	name = path.Clean(strings.TrimPrefix(raw, "./"))
	switch name {
	case ".", "":
		return "", dropUnsafe
	case types.ManifestDocumentName:
		return "", dropReserved
	}
	return name, ""
}
