package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Permanent input errors. A step failing with one of these is not retried.
var (
	// ErrArchiveTooLarge is returned for archives above the size limit.
	ErrArchiveTooLarge = errors.New("archive exceeds size limit")
	// ErrNoUsableEntries is returned for archives without any file data.
	ErrNoUsableEntries = errors.New("archive contains no usable entries")
	// ErrCorruptArchive is returned for archives that cannot be parsed.
	ErrCorruptArchive = errors.New("corrupt archive")
)

// ErrInstanceNotFound is returned when no instance exists for an ID.
var ErrInstanceNotFound = errors.New("workflow instance not found")

// PermanentError marks an error that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that retry loops give up immediately.
// Returns nil if err is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// StepError is a step failure that exhausted its retry budget or was
// permanent. It drives the instance to errored.
type StepError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("step %s failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
	}
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// MissingFilesError lists uploaded files that are absent from storage.
type MissingFilesError struct {
	Files []string
}

func (e *MissingFilesError) Error() string {
	return fmt.Sprintf("%d file(s) missing after upload: %s", len(e.Files), strings.Join(e.Files, ", "))
}
