package cmd

import (
	"errors"
	"sort"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ucdsync/cli/render"
	"github.com/pithecene-io/ucdsync/cli/tui"
	"github.com/pithecene-io/ucdsync/types"
	"github.com/pithecene-io/ucdsync/workflow"
)

// StatusResponse is the flattened view of one workflow instance.
type StatusResponse struct {
	WorkflowID    string              `json:"workflow_id"`
	Version       string              `json:"version"`
	State         types.WorkflowState `json:"state"`
	ArchiveKey    string              `json:"archive_key"`
	StepsRecorded int                 `json:"steps_recorded"`
	FailedStep    string              `json:"failed_step,omitempty"`
	Error         string              `json:"error,omitempty"`
	FilesUploaded int                 `json:"files_uploaded,omitempty"`
	Duration      string              `json:"duration,omitempty"`
	CreatedAt     string              `json:"created_at"`
	UpdatedAt     string              `json:"updated_at"`
}

func newStatusResponse(in *workflow.Inspection) StatusResponse {
	inst := in.Instance
	resp := StatusResponse{
		WorkflowID: inst.ID,
		Version:    inst.Version,
		State:      inst.State,
		ArchiveKey: inst.ArchiveKey,
		FailedStep: inst.FailedStep,
		Error:      inst.Error,
		CreatedAt:  inst.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  inst.UpdatedAt.Format(time.RFC3339),
	}
	for _, s := range in.Steps {
		if s.Recorded {
			resp.StepsRecorded++
		}
	}
	if inst.Output != nil {
		resp.FilesUploaded = inst.Output.FilesUploaded
		resp.Duration = inst.Output.Duration
	}
	return resp
}

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show a workflow instance and its recorded steps",
		ArgsUsage: "<workflow-id>",
		Flags:     TUIOutputFlags(),
		Action:    statusAction,
	}
}

func statusAction(c *cli.Context) error {
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

	engine, err := e.engine(c.Context)
	if err != nil {
		return infraError(err)
	}
	in, err := engine.Inspect(c.Context, id)
	if errors.Is(err, workflow.ErrInstanceNotFound) {
		return cli.Exit(err.Error()+": "+id, exitFailed)
	}
	if err != nil {
		return infraError(err)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewWorkflowStatus, in)
	}
	return r.Render(newStatusResponse(in))
}

// StatsCommand returns the stats command.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Count workflow instances by state",
		Flags:  TUIOutputFlags(),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	e, err := loadEnv(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	defer e.close()

	engine, err := e.engine(c.Context)
	if err != nil {
		return infraError(err)
	}
	stats, err := engine.Stats(c.Context)
	if err != nil {
		return infraError(err)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewWorkflowStats, stats)
	}
	return r.Render(stats)
}

// ListRow is one instance in the list output.
type ListRow struct {
	WorkflowID string              `json:"workflow_id"`
	Version    string              `json:"version"`
	State      types.WorkflowState `json:"state"`
	UpdatedAt  string              `json:"updated_at"`
}

// ListCommand returns the list command.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List workflow instances",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "state",
				Usage: "Only show instances in `STATE`",
			},
			&cli.StringFlag{
				Name:  "version",
				Usage: "Only show instances for `VERSION`",
			},
		}, OutputFlags()...),
		Action: listAction,
	}
}

func listAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	e, err := loadEnv(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	defer e.close()

	engine, err := e.engine(c.Context)
	if err != nil {
		return infraError(err)
	}
	ids, err := engine.List(c.Context)
	if err != nil {
		return infraError(err)
	}

	state := types.WorkflowState(c.String("state"))
	version := c.String("version")
	rows := make([]ListRow, 0, len(ids))
	for _, id := range ids {
		inst, err := engine.Status(c.Context, id)
		if err != nil {
			return infraError(err)
		}
		if state != "" && inst.State != state {
			continue
		}
		if version != "" && inst.Version != version {
			continue
		}
		rows = append(rows, ListRow{
			WorkflowID: inst.ID,
			Version:    inst.Version,
			State:      inst.State,
			UpdatedAt:  inst.UpdatedAt.Format(time.RFC3339),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UpdatedAt != rows[j].UpdatedAt {
			return rows[i].UpdatedAt > rows[j].UpdatedAt
		}
		return rows[i].WorkflowID < rows[j].WorkflowID
	})
	return r.Render(rows)
}
