package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ucdsync/cli/render"
)

// DiscoverCommand returns the discover command.
func DiscoverCommand() *cli.Command {
	return &cli.Command{
		Name:   "discover",
		Usage:  "List Unicode versions published upstream",
		Flags:  OutputFlags(),
		Action: discoverAction,
	}
}

func discoverAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	e, err := loadEnv(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	defer e.close()

	versions, err := e.discoverer().Discover(c.Context)
	if err != nil {
		return infraError(err)
	}
	return r.Lines(versions)
}
