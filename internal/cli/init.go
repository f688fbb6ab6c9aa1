package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/exitcode"
)

func newInitCommand(app *AppContext) *cobra.Command {
	force := false

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter request document",
		Long: "init writes a commented request document to --request, or to hlsscale.yaml in the " +
			"working directory. Edit the bounding box and date range, then run `hlsscale run`.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(app.Opts.RequestPath)
			if path == "" {
				wd, err := os.Getwd()
				if err != nil {
					return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("resolve working directory: %w", err))
				}
				path = config.ProjectConfigPath(wd)
			}
			expanded, err := config.ExpandPath(path)
			if err != nil {
				return withExitCode(exitcode.RuntimeFailure, err)
			}
			path = expanded

			if _, err := os.Stat(path); err == nil && !force {
				return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("request already exists at %s (rerun with --force)", path))
			}
			if err := config.EnsureConfigDir(path); err != nil {
				return withExitCode(exitcode.RuntimeFailure, err)
			}
			if err := os.WriteFile(path, []byte(config.DefaultTemplate()), 0o644); err != nil {
				return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("write request file: %w", err))
			}

			fmt.Fprintf(app.IO.Out, "Wrote request: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing request document")
	return cmd
}
