package types

import (
	"errors"
	"fmt"
	"path"
	"regexp"
)

// MaxWorkflowIDLength bounds workflow instance identifiers.
const MaxWorkflowIDLength = 100

var workflowIDPattern = regexp.MustCompile(`^\w[\w-]*$`)

// ErrInvalidWorkflowID is returned for identifiers outside ^\w[\w-]*$ or
// longer than MaxWorkflowIDLength.
var ErrInvalidWorkflowID = errors.New("invalid workflow id")

// ErrInvalidVersion is returned for names that are not Unicode versions.
var ErrInvalidVersion = errors.New("invalid unicode version")

// ValidateWorkflowID checks a workflow instance identifier.
func ValidateWorkflowID(id string) error {
	if len(id) == 0 || len(id) > MaxWorkflowIDLength {
		return fmt.Errorf("%w: length %d not in 1..%d", ErrInvalidWorkflowID, len(id), MaxWorkflowIDLength)
	}
	if !workflowIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidWorkflowID, id)
	}
	return nil
}

// ValidateVersion checks a Unicode version identifier.
func ValidateVersion(version string) error {
	if !IsUnicodeVersion(version) {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	return nil
}

// WorkflowState is the lifecycle state of an upload workflow instance.
type WorkflowState string

const (
	StatePending          WorkflowState = "pending"
	StateExtractingTar    WorkflowState = "extracting_tar"
	StateUploadingFiles   WorkflowState = "uploading_files"
	StateValidatingUpload WorkflowState = "validating_upload"
	StatePurgingCaches    WorkflowState = "purging_caches"
	StateCleaningUp       WorkflowState = "cleaning_up"
	StateComplete         WorkflowState = "complete"
	StateErrored          WorkflowState = "errored"
)

// IsTerminal reports whether no further transitions are possible.
func (s WorkflowState) IsTerminal() bool {
	return s == StateComplete || s == StateErrored
}

// Storage key layout shared by the workflow, the manifest store and the
// archive upload surface.
const (
	// ManifestPrefix holds per-version file objects and manifest documents.
	ManifestPrefix = "manifest/"
	// ArchivePrefix holds caller-submitted archives awaiting ingestion.
	ArchivePrefix = "manifest-tars/"
	// ManifestDocumentName is the canonical per-version manifest document.
	ManifestDocumentName = "manifest.json"
)

// ArchiveKey returns the storage key of the archive for a workflow instance.
func ArchiveKey(version, workflowID string) string {
	return ArchivePrefix + version + "/" + workflowID + ".tar"
}

// FileKey returns the storage key of an extracted file.
func FileKey(version, name string) string {
	return ManifestPrefix + version + "/" + name
}

// ManifestKey returns the storage key of a version's manifest document.
func ManifestKey(version string) string {
	return path.Join(ManifestPrefix, version, ManifestDocumentName)
}
