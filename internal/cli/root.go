package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jaa/hls-scaling/internal/exitcode"
)

func Execute(build BuildInfo, streams IOStreams) int {
	if wd, err := os.Getwd(); err == nil {
		if envErr := loadDotEnvFiles(wd, os.Environ(), os.Setenv); envErr != nil {
			fmt.Fprintln(streams.ErrOut, "WARN:", envErr)
		}
	}

	app := &AppContext{Build: build, IO: streams}
	root := newRootCommand(app)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(streams.ErrOut, "ERROR:", err)
		return mapExitCode(err)
	}
	return exitcode.Success
}

func newRootCommand(app *AppContext) *cobra.Command {
	showVersion := false

	root := &cobra.Command{
		Use:   "hlsscale",
		Short: "Query, download and process HLS granules for a study area",
		Long: "hlsscale searches the HLS v2.0 catalog for a bounding box and date range, filters the results, " +
			"downloads the selected granules and runs DSWx-HLS on each of them. Every study lives in its own " +
			"job directory and can be resumed with --rerun.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(app)
				return nil
			}
			return cmd.Help()
		},
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	defaultRequestPath := os.Getenv("HLSSCALE_REQUEST")
	root.PersistentFlags().StringVarP(&app.Opts.RequestPath, "request", "r", defaultRequestPath, "Path to a request document (settings.yaml of an earlier study works too)")
	root.PersistentFlags().BoolVar(&app.Opts.JSON, "json", false, "Emit newline-delimited JSON events")
	root.PersistentFlags().BoolVarP(&app.Opts.Quiet, "quiet", "q", false, "Reduce output to errors and summary")
	root.PersistentFlags().BoolVarP(&app.Opts.Verbose, "verbose", "v", false, "Stream processing stderr and debug diagnostics")
	root.Flags().BoolVar(&showVersion, "version", false, "Print version info")
	root.MarkFlagsMutuallyExclusive("quiet", "verbose")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return withExitCode(exitcode.InvalidUsage, err)
	})

	root.AddCommand(newInitCommand(app))
	root.AddCommand(newValidateCommand(app))
	root.AddCommand(newDoctorCommand(app))
	root.AddCommand(newRunCommand(app))
	root.AddCommand(newStatusCommand(app))
	root.AddCommand(newVersionCommand(app))

	return root
}
