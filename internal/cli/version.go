package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version/build metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !app.Opts.JSON {
				printVersion(app)
				return nil
			}
			return json.NewEncoder(app.IO.Out).Encode(map[string]string{
				"version":    app.buildVersion(),
				"commit":     orUnknown(app.Build.Commit),
				"build_date": orUnknown(app.Build.Date),
			})
		},
	}
}

func printVersion(app *AppContext) {
	fmt.Fprintf(app.IO.Out, "hlsscale version %s\ncommit: %s\nbuild_date: %s\n",
		app.buildVersion(), orUnknown(app.Build.Commit), orUnknown(app.Build.Date))
}

func (app *AppContext) buildVersion() string {
	if app.Build.Version == "" {
		return "dev"
	}
	return app.Build.Version
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
