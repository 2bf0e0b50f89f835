package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ucdsync/cli/render"
	"github.com/pithecene-io/ucdsync/iox"
	"github.com/pithecene-io/ucdsync/types"
	"github.com/pithecene-io/ucdsync/workflow"
)

// RunResponse is the outcome of ingest and resume.
type RunResponse struct {
	WorkflowID    string              `json:"workflow_id"`
	Version       string              `json:"version"`
	State         types.WorkflowState `json:"state"`
	FilesUploaded int                 `json:"files_uploaded,omitempty"`
	Duration      string              `json:"duration,omitempty"`
	FailedStep    string              `json:"failed_step,omitempty"`
	Error         string              `json:"error,omitempty"`
}

func newRunResponse(inst *workflow.Instance) RunResponse {
	resp := RunResponse{
		WorkflowID: inst.ID,
		Version:    inst.Version,
		State:      inst.State,
		FailedStep: inst.FailedStep,
		Error:      inst.Error,
	}
	if inst.Output != nil {
		resp.FilesUploaded = inst.Output.FilesUploaded
		resp.Duration = inst.Output.Duration
	}
	return resp
}

// IngestCommand returns the ingest command.
func IngestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Upload a version archive and run its upload workflow",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "version",
				Usage:    "Unicode `VERSION` the archive belongs to",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "id",
				Usage: "Workflow `ID` (default: a random UUID)",
			},
			&cli.StringFlag{
				Name:  "archive",
				Usage: "Stage the tar or tar.gz `FILE` before running",
			},
		}, OutputFlags()...),
		Action: ingestAction,
	}
}

func ingestAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}

	version := c.String("version")
	id := c.String("id")
	if id == "" {
		id = uuid.NewString()
	}
	if err := types.ValidateVersion(version); err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	if err := types.ValidateWorkflowID(id); err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}

	e, err := loadEnv(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	defer e.close()

	ctx, stop := signalContext(c.Context)
	defer stop()

	engine, err := e.engine(ctx)
	if err != nil {
		return infraError(err)
	}

	if path := c.String("archive"); path != "" {
		data, err := readArchive(path, e.engineConfig().MaxArchiveBytes)
		if err != nil {
			return cli.Exit(err.Error(), exitFailed)
		}
		if err := engine.StageArchive(ctx, id, version, data); err != nil {
			return infraError(err)
		}
		e.logger.Info("archive staged", map[string]any{
			"workflow_id": id,
			"key":         types.ArchiveKey(version, id),
			"bytes":       len(data),
		})
	}

	if _, _, err := engine.Submit(ctx, id, version); err != nil {
		return runExit(err, id)
	}
	return runInstance(ctx, r, engine, id)
}

// ResumeCommand returns the resume command.
func ResumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Continue an interrupted upload workflow",
		ArgsUsage: "<workflow-id>",
		Flags:     OutputFlags(),
		Action:    resumeAction,
	}
}

func resumeAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	id, err := workflowIDArg(c)
	if err != nil {
		return err
	}

	e, err := loadEnv(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	defer e.close()

	ctx, stop := signalContext(c.Context)
	defer stop()

	engine, err := e.engine(ctx)
	if err != nil {
		return infraError(err)
	}
	return runInstance(ctx, r, engine, id)
}

func runInstance(ctx context.Context, r *render.Renderer, engine *workflow.Engine, id string) error {
	inst, err := engine.Run(ctx, id)
	if inst != nil {
		if rerr := r.Render(newRunResponse(inst)); rerr != nil && err == nil {
			return rerr
		}
	}
	return runExit(err, id)
}

// runExit maps a workflow error to an exit code.
func runExit(err error, id string) error {
	var stepErr *workflow.StepError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &stepErr):
		return cli.Exit(err.Error(), exitFailed)
	case errors.Is(err, context.Canceled):
		return cli.Exit(fmt.Sprintf("interrupted; continue with: ucdsync resume %s", id), exitFailed)
	case errors.Is(err, workflow.ErrInstanceNotFound),
		errors.Is(err, types.ErrInvalidWorkflowID),
		errors.Is(err, types.ErrInvalidVersion):
		return cli.Exit(err.Error(), exitFailed)
	default:
		return cli.Exit(err.Error(), exitInfra)
	}
}

func workflowIDArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", cli.Exit(fmt.Sprintf("%s requires exactly one workflow id", c.Command.Name), exitFailed)
	}
	id := c.Args().First()
	if err := types.ValidateWorkflowID(id); err != nil {
		return "", cli.Exit(err.Error(), exitFailed)
	}
	return id, nil
}

// readArchive reads a local archive, refusing files above limit.
func readArchive(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer iox.DiscardClose(f)

	data, err := iox.ReadAllLimit(f, limit)
	if errors.Is(err, iox.ErrTooLarge) {
		return nil, fmt.Errorf("archive %s: %w (%d bytes)", path, workflow.ErrArchiveTooLarge, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	return data, nil
}
