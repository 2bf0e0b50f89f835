// Package cmd provides CLI commands for the ucdsync binary.
package cmd

import "github.com/urfave/cli/v2"

// Exit codes.
const (
	exitSuccess = 0
	// exitFailed covers errored workflows, failed refreshes and usage errors.
	exitFailed = 1
	// exitInfra covers storage, state and network failures.
	exitInfra = 2
)

// Global flags shared by every command.
var (
	// ConfigFlag points at a ucdsync.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to ucdsync.yaml",
		EnvVars: []string{"UCDSYNC_CONFIG"},
	}

	// EnvFileFlag lists .env files loaded before the config is expanded.
	EnvFileFlag = &cli.StringSliceFlag{
		Name:  "env-file",
		Usage: "Load environment variables from `FILE` (missing files are skipped)",
		Value: cli.NewStringSlice(".env"),
	}

	// LogLevelFlag overrides log_level.
	LogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level: debug, info, warn, error",
		EnvVars: []string{"UCDSYNC_LOG_LEVEL"},
	}

	// StorageBackendFlag overrides storage.backend.
	StorageBackendFlag = &cli.StringFlag{
		Name:  "storage-backend",
		Usage: "Blob store backend: fs, memory, s3, minio",
	}

	// StoragePathFlag overrides storage.path.
	StoragePathFlag = &cli.StringFlag{
		Name:  "storage-path",
		Usage: "Blob store root directory (fs) or bucket/prefix (s3, minio)",
	}
)

// GlobalFlags returns the flags accepted before any command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		EnvFileFlag,
		LogLevelFlag,
		StorageBackendFlag,
		StoragePathFlag,
	}
}

// Output flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for status and stats.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (status, stats only)",
	}
)

// OutputFlags returns the output flags for commands without a TUI.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// TUIOutputFlags returns the output flags for commands with a TUI.
func TUIOutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}
