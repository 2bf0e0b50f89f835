package workflow

import (
	"context"
	"fmt"
)

// StepSummary describes one step of an instance.
type StepSummary struct {
	Name     string `json:"name"`
	Recorded bool   `json:"recorded"`
	Detail   string `json:"detail,omitempty"`
}

// Inspection is an instance together with its step records.
type Inspection struct {
	Instance *Instance     `json:"instance"`
	Steps    []StepSummary `json:"steps"`
}

// Inspect loads an instance and summarizes its recorded steps.
func (e *Engine) Inspect(ctx context.Context, id string) (*Inspection, error) {
	inst, err := e.state.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &Inspection{Instance: inst, Steps: make([]StepSummary, 0, len(Steps))}
	for _, step := range Steps {
		data, found, err := e.state.LoadStep(ctx, id, step)
		if err != nil {
			return nil, fmt.Errorf("load step %s: %w", step, err)
		}
		summary := StepSummary{Name: step, Recorded: found}
		if found {
			detail, err := describeStep(step, data)
			if err != nil {
				return nil, err
			}
			summary.Detail = detail
		}
		out.Steps = append(out.Steps, summary)
	}
	return out, nil
}

func describeStep(step string, data []byte) (string, error) {
	switch step {
	case StepExtract:
		var files []ExtractedFile
		if err := decodeStep(data, &files); err != nil {
			return "", err
		}
		var size int
		for _, f := range files {
			size += len(f.Data)
		}
		return fmt.Sprintf("%d files, %d bytes", len(files), size), nil
	case StepUpload:
		var res UploadResult
		if err := decodeStep(data, &res); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d files uploaded", res.FilesUploaded), nil
	case StepValidate:
		var res ValidateResult
		if err := decodeStep(data, &res); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d files validated", res.FileCount), nil
	case StepPurge:
		var res PurgeResult
		if err := decodeStep(data, &res); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d purged, %d failed", res.Purged, res.Failed), nil
	case StepCleanup:
		var res CleanupResult
		if err := decodeStep(data, &res); err != nil {
			return "", err
		}
		if res.ArchiveDeleted {
			return "archive deleted", nil
		}
		return "archive kept", nil
	default:
		return "", fmt.Errorf("unknown step %s", step)
	}
}
