// Package adapter defines the completion-notification boundary.
//
// Adapters publish upload completion notifications to downstream systems
// (webhook receivers, Redis subscribers). The workflow engine publishes best
// effort: a failed publish is logged and never fails the workflow.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/ucdsync/types"
)

// EventTypeUploadCompleted is the event_type of UploadCompletedEvent.
const EventTypeUploadCompleted = "upload_completed"

// UploadCompletedEvent is the payload published when a workflow completes.
type UploadCompletedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "upload_completed"
	WorkflowID      string `json:"workflow_id"`
	Version         string `json:"version"`
	FilesUploaded   int    `json:"files_uploaded"`
	DurationMs      int64  `json:"duration_ms"`
	Timestamp       string `json:"timestamp"` // ISO 8601
}

// NewUploadCompletedEvent builds the completion event for a workflow.
func NewUploadCompletedEvent(workflowID, version string, filesUploaded int, duration time.Duration, at time.Time) *UploadCompletedEvent {
	return &UploadCompletedEvent{
		ContractVersion: types.ContractVersion,
		EventType:       EventTypeUploadCompleted,
		WorkflowID:      workflowID,
		Version:         version,
		FilesUploaded:   filesUploaded,
		DurationMs:      duration.Milliseconds(),
		Timestamp:       at.UTC().Format(time.RFC3339),
	}
}

// Adapter publishes upload completion events to a downstream system.
type Adapter interface {
	// Publish sends an upload completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *UploadCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
