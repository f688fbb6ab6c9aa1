package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/exitcode"
)

func newValidateCommand(app *AppContext) *cobra.Command {
	rerun := false

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the request document without contacting the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := loadRequest(app)
			if err != nil {
				return withExitCode(exitcode.InvalidConfig, err)
			}

			if err := config.Validate(req, config.ValidateOptions{Rerun: rerun}); err != nil {
				return withExitCode(exitcode.InvalidConfig, err)
			}

			if app.Opts.JSON {
				payload := map[string]any{"valid": true, "job_name": req.JobName, "root_dir": req.RootDir}
				encoded, _ := json.Marshal(payload)
				fmt.Fprintln(app.IO.Out, string(encoded))
			} else {
				fmt.Fprintln(app.IO.Out, "Request is valid.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&rerun, "rerun", false, "Validate for a resume, which needs no query fields")
	return cmd
}
