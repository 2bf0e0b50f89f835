// Package workflow implements the durable upload workflow: extract a
// submitted archive, upload its files, validate them, purge caches and
// delete the archive.
//
// Every step result is recorded under (instance ID, step name) before the
// instance advances. A resumed run replays recorded steps instead of
// executing them again, so a crash leaves the instance resumable at its last
// recorded step.
package workflow

import (
	"time"

	"github.com/pithecene-io/ucdsync/types"
)

// Step names, in execution order.
const (
	StepExtract  = "extract-tar"
	StepUpload   = "upload-files"
	StepValidate = "validate-upload"
	StepPurge    = "purge-caches"
	StepCleanup  = "cleanup"
)

// Steps lists every step in execution order.
var Steps = []string{StepExtract, StepUpload, StepValidate, StepPurge, StepCleanup}

// stepStates maps each step to the state the instance is in while it runs.
var stepStates = map[string]types.WorkflowState{
	StepExtract:  types.StateExtractingTar,
	StepUpload:   types.StateUploadingFiles,
	StepValidate: types.StateValidatingUpload,
	StepPurge:    types.StatePurgingCaches,
	StepCleanup:  types.StateCleaningUp,
}

// Instance is the durable record of one workflow run.
type Instance struct {
	ID         string              `json:"id"`
	Version    string              `json:"version"`
	ArchiveKey string              `json:"archive_key"`
	State      types.WorkflowState `json:"state"`
	FailedStep string              `json:"failed_step,omitempty"`
	Error      string              `json:"error,omitempty"`
	Output     *Output             `json:"output,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Output is the summary of a completed instance.
type Output struct {
	Success       bool   `json:"success"`
	Version       string `json:"version"`
	FilesUploaded int    `json:"filesUploaded"`
	Duration      string `json:"duration"`
	WorkflowID    string `json:"workflowId"`
}

// ExtractedFile is one file taken from the archive.
type ExtractedFile struct {
	Name string `msgpack:"name"`
	Data []byte `msgpack:"data"`
}

// Recorded step results.
type (
	// UploadResult is the result of StepUpload.
	UploadResult struct {
		FilesUploaded int `msgpack:"files_uploaded"`
	}
	// ValidateResult is the result of StepValidate.
	ValidateResult struct {
		Validated bool `msgpack:"validated"`
		FileCount int  `msgpack:"file_count"`
	}
	// PurgeResult is the result of StepPurge.
	PurgeResult struct {
		Purged int `msgpack:"purged"`
		Failed int `msgpack:"failed"`
	}
	// CleanupResult is the result of StepCleanup.
	CleanupResult struct {
		ArchiveDeleted bool `msgpack:"archive_deleted"`
	}
)

// allowedTransition reports whether an instance may move from one state to
// another. Re-entering the current state happens when a step is resumed.
func allowedTransition(from, to types.WorkflowState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == types.StateErrored || from == to {
		return true
	}
	switch from {
	case types.StatePending:
		return to == types.StateExtractingTar
	case types.StateExtractingTar:
		return to == types.StateUploadingFiles
	case types.StateUploadingFiles:
		return to == types.StateValidatingUpload
	case types.StateValidatingUpload:
		return to == types.StatePurgingCaches
	case types.StatePurgingCaches:
		return to == types.StateCleaningUp
	case types.StateCleaningUp:
		return to == types.StateComplete
	default:
		return false
	}
}
