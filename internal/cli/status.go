package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jaa/hls-scaling/internal/config"
	"github.com/jaa/hls-scaling/internal/exitcode"
	"github.com/jaa/hls-scaling/internal/study"
)

type statusGranule struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Error   string `json:"error,omitempty"`
	LogPath string `json:"log_path,omitempty"`
}

type statusPayload struct {
	JobDir   string          `json:"job_dir"`
	JobName  string          `json:"job_name"`
	Runs     int             `json:"runs"`
	Summary  study.Summary   `json:"summary"`
	Granules []statusGranule `json:"granules,omitempty"`
}

func newStatusCommand(app *AppContext) *cobra.Command {
	all := false

	cmd := &cobra.Command{
		Use:   "status <job-dir>",
		Short: "Summarize the persisted state of a study",
		Long:  "status reads study_state.json without modifying it, so it is safe to run next to a live study.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobDir, err := config.ExpandPath(args[0])
			if err != nil {
				return withExitCode(exitcode.InvalidUsage, err)
			}
			state, err := study.Inspect(jobDir)
			if err != nil {
				var corrupt *study.CorruptionError
				if errors.As(err, &corrupt) {
					return withExitCode(exitcode.StateCorrupt, err)
				}
				if errors.Is(err, study.ErrStateNotFound) || errors.Is(err, os.ErrNotExist) {
					return withExitCode(exitcode.InvalidUsage, err)
				}
				return withExitCode(exitcode.RuntimeFailure, err)
			}

			payload := statusPayload{
				JobDir:  jobDir,
				JobName: state.Request.JobName,
				Runs:    len(state.Runs),
				Summary: state.Summary(),
			}
			for _, record := range state.Granules {
				progress := state.Progress[record.ID]
				failed := progress.DownloadFailed() || progress.State == study.GranuleProcessingFailed
				if !all && !failed {
					continue
				}
				entry := statusGranule{ID: record.ID, State: string(progress.State), LogPath: progress.LogPath}
				switch {
				case progress.DownloadFailed():
					entry.State = "download_failed"
					entry.Error = failedAssetSummary(progress)
				case failed:
					entry.Error = progress.Error
				}
				payload.Granules = append(payload.Granules, entry)
			}

			if app.Opts.JSON {
				return json.NewEncoder(app.IO.Out).Encode(payload)
			}
			printStatus(app.IO.Out, payload)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "List every granule, not only failed ones")
	return cmd
}

func printStatus(w io.Writer, payload statusPayload) {
	sum := payload.Summary
	fmt.Fprintf(w, "Study %s (%s), %d run(s)\n", payload.JobName, payload.JobDir, payload.Runs)
	fmt.Fprintf(w, "granules=%d queued=%d downloaded=%d download_failed=%d processed=%d process_failed=%d\n",
		sum.Granules, sum.Queued, sum.Downloaded, sum.DownloadFailed, sum.Processed, sum.ProcessFailed)
	fmt.Fprintf(w, "assets: done=%d pending=%d failed=%d\n", sum.AssetsDone, sum.AssetsPending, sum.AssetsFailed)
	for _, entry := range payload.Granules {
		line := fmt.Sprintf("  %s %s", entry.ID, entry.State)
		if entry.Error != "" {
			line += ": " + entry.Error
		}
		if entry.LogPath != "" {
			line += " (log: " + entry.LogPath + ")"
		}
		fmt.Fprintln(w, line)
	}
}

func failedAssetSummary(progress study.GranuleProgress) string {
	failed := 0
	first := ""
	for id, asset := range progress.Assets {
		if asset.State != study.AssetFailed {
			continue
		}
		failed++
		if first == "" || id < first {
			first = id
		}
	}
	if failed == 0 {
		return ""
	}
	msg := first + ": " + progress.Assets[first].Error
	if failed > 1 {
		msg += fmt.Sprintf(" (+%d more)", failed-1)
	}
	return msg
}
