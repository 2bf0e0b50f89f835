// Package types defines core domain types for the ucdsync pipeline.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"regexp"
	"strings"
)

// Version is the canonical project version.
// The CLI, the completion event contract and the state record format share it.
const Version = "0.3.0"

// ContractVersion is the version stamped on published completion events.
const ContractVersion = Version

// unicodeVersionPattern matches upstream version directory names:
// MAJOR.MINOR.PATCH, or the legacy MAJOR.MINOR and MAJOR.MINOR-UpdateN forms.
var unicodeVersionPattern = regexp.MustCompile(`^(\d+)\.(\d+)(?:\.(\d+))?(?:-Update\d*)?$`)

// IsUnicodeVersion reports whether name is a valid Unicode version identifier.
// Versions stay opaque strings; upstream legacy naming is too irregular for a
// structured type.
func IsUnicodeVersion(name string) bool {
	return unicodeVersionPattern.MatchString(name)
}

// NormalizeVersionName trims the trailing slash that directory listings
// attach to directory names.
func NormalizeVersionName(name string) string {
	return strings.TrimSuffix(strings.TrimSpace(name), "/")
}
