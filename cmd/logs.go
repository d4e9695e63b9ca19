package cmd

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/smazurov/spagmon/internal/api/models"
	"github.com/smazurov/spagmon/internal/logging"
	"github.com/spf13/cobra"
)

const followInterval = time.Second

// CreateLogsCmd creates the logs command, which prints the daemon's buffered
// log lines, including worker output.
func CreateLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "logs [job-id]",
		Short:   "Show recent supervisor and worker log lines",
		Example: "  spagmon logs web\n  spagmon logs web --module workers --follow",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if len(args) == 1 {
				query.Set("job", args[0])
			}
			if module, _ := cmd.Flags().GetString("module"); module != "" {
				query.Set("module", module)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			query.Set("limit", strconv.Itoa(limit))
			follow, _ := cmd.Flags().GetBool("follow")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := clientFromFlags(cmd)
			out := cmd.OutOrStdout()
			var after uint64
			for {
				if after > 0 {
					query.Set("after", strconv.FormatUint(after, 10))
				}
				var resp models.LogListData
				if err := client.Get(ctx, "/api/logs?"+query.Encode(), &resp); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				after = printLogs(out, resp.Entries, after)
				if !follow {
					return nil
				}

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(followInterval):
				}
			}
		},
	}
	addClientFlags(cmd)
	cmd.Flags().String("module", "", "Only lines from this logging module (jobs, workers, daemon, ...)")
	cmd.Flags().Int("limit", 200, "Maximum lines per request")
	cmd.Flags().BoolP("follow", "f", false, "Keep polling for new lines")
	return cmd
}

// printLogs writes entries and returns the highest sequence number seen.
func printLogs(w io.Writer, entries []models.LogEntryData, after uint64) uint64 {
	for _, e := range entries {
		fmt.Fprintln(w, logging.FormatLogLine(logging.LogEntry{
			Seq:        e.Seq,
			Timestamp:  e.Timestamp,
			Level:      e.Level,
			Module:     e.Module,
			Message:    e.Message,
			Job:        e.Job,
			Slot:       e.Slot,
			PID:        e.PID,
			Attributes: e.Attributes,
		}))
		after = max(after, e.Seq)
	}
	return after
}
