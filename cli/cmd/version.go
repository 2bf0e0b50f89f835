package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ucdsync/cli/render"
	"github.com/pithecene-io/ucdsync/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version         string `json:"version"`
	ContractVersion string `json:"contract_version"`
	Commit          string `json:"commit"`
}

// VersionCommand returns the version command. It opens no storage.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  OutputFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return cli.Exit(err.Error(), exitFailed)
		}
		return r.Render(VersionResponse{
			Version:         types.Version,
			ContractVersion: types.ContractVersion,
			Commit:          commit,
		})
	}
}

// Commands returns every ucdsync command.
func Commands(commit string) []*cli.Command {
	return []*cli.Command{
		DiscoverCommand(),
		RefreshCommand(),
		IngestCommand(),
		ResumeCommand(),
		StatusCommand(),
		StatsCommand(),
		ListCommand(),
		ManifestCommand(),
		VersionCommand(commit),
	}
}
