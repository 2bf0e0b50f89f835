package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ucdsync/cli/render"
	"github.com/pithecene-io/ucdsync/types"
)

// ManifestCommand returns the manifest command group.
func ManifestCommand() *cli.Command {
	return &cli.Command{
		Name:  "manifest",
		Usage: "Read stored version manifests",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print the expected files of a version",
				ArgsUsage: "<version>",
				Flags:     OutputFlags(),
				Action:    manifestGetAction,
			},
			{
				Name:   "list",
				Usage:  "List versions with a stored manifest",
				Flags:  OutputFlags(),
				Action: manifestListAction,
			},
		},
	}
}

func manifestGetAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	if c.NArg() != 1 {
		return cli.Exit("manifest get requires exactly one version", exitFailed)
	}
	version := c.Args().First()
	if err := types.ValidateVersion(version); err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}

	e, err := loadEnv(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	defer e.close()

	store, err := e.manifests(c.Context)
	if err != nil {
		return infraError(err)
	}
	m, found, err := store.Get(c.Context, version)
	if err != nil {
		return infraError(err)
	}
	if !found {
		return cli.Exit(fmt.Sprintf("no manifest stored for %s", version), exitFailed)
	}
	return r.Lines(m.ExpectedFiles)
}

func manifestListAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	e, err := loadEnv(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	defer e.close()

	store, err := e.manifests(c.Context)
	if err != nil {
		return infraError(err)
	}
	versions, err := store.List(c.Context)
	if err != nil {
		return infraError(err)
	}
	return r.Lines(versions)
}
