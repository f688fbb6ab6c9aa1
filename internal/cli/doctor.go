package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jaa/hls-scaling/internal/doctor"
	"github.com/jaa/hls-scaling/internal/exitcode"
)

var severityRank = map[doctor.Severity]int{
	doctor.SeverityError: 0,
	doctor.SeverityWarn:  1,
	doctor.SeverityInfo:  2,
}

func newDoctorCommand(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the processing binary, ancillary files, credentials and root directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := loadRequest(app)
			if err != nil {
				return withExitCode(exitcode.InvalidConfig, err)
			}

			report := doctor.NewChecker().Check(cmd.Context(), req, adapterRegistry()[req.Processing.Kind])

			if app.Opts.JSON {
				if err := json.NewEncoder(app.IO.Out).Encode(report); err != nil {
					return withExitCode(exitcode.RuntimeFailure, err)
				}
			} else {
				printDoctorReport(app.IO.Out, report)
			}

			if report.HasErrors() {
				return withExitCode(exitcode.MissingDependency, fmt.Errorf("doctor found %d error(s)", report.ErrorCount()))
			}
			return nil
		},
	}
}

// printDoctorReport lists errors first, then warnings, then info lines.
func printDoctorReport(w io.Writer, report doctor.Report) {
	checks := append([]doctor.Check{}, report.Checks...)
	sort.SliceStable(checks, func(i, j int) bool {
		if severityRank[checks[i].Severity] != severityRank[checks[j].Severity] {
			return severityRank[checks[i].Severity] < severityRank[checks[j].Severity]
		}
		return checks[i].Name < checks[j].Name
	})
	warnings := 0
	for _, check := range checks {
		if check.Severity == doctor.SeverityWarn {
			warnings++
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", check.Severity, check.Name, check.Message)
	}
	fmt.Fprintf(w, "%d error(s), %d warning(s)\n", report.ErrorCount(), warnings)
}
