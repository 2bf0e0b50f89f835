package types

import "time"

// EntryType discriminates directory listing entries.
type EntryType string

const (
	// EntryTypeFile is a regular file in an upstream listing.
	EntryTypeFile EntryType = "file"
	// EntryTypeDirectory is a subdirectory in an upstream listing.
	EntryTypeDirectory EntryType = "directory"
)

// DirectoryEntry is one entry of an upstream directory listing.
// It is a closed union: the only implementations are File and Directory.
type DirectoryEntry interface {
	// Type returns the entry discriminant.
	Type() EntryType
	// EntryName returns the last path segment, without a trailing slash.
	EntryName() string
	// EntryPath returns the absolute URL path of the entry on the upstream host.
	EntryPath() string
	// Modified returns the listed last-modified time, if any.
	Modified() *time.Time

	sealed()
}

// File is a file entry in an upstream listing.
type File struct {
	Name         string     `json:"name"`
	Path         string     `json:"path"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// Directory is a subdirectory entry in an upstream listing.
type Directory struct {
	Name         string     `json:"name"`
	Path         string     `json:"path"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

func (File) Type() EntryType { return EntryTypeFile }

func (f File) EntryName() string { return f.Name }

func (f File) EntryPath() string { return f.Path }

func (f File) Modified() *time.Time { return f.LastModified }

func (File) sealed() {}

func (Directory) Type() EntryType { return EntryTypeDirectory }

func (d Directory) EntryName() string { return d.Name }

func (d Directory) EntryPath() string { return d.Path }

func (d Directory) Modified() *time.Time { return d.LastModified }

func (Directory) sealed() {}

// Verify both variants implement DirectoryEntry.
var (
	_ DirectoryEntry = File{}
	_ DirectoryEntry = Directory{}
)
