package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strings"
	"syscall"

	"github.com/smazurov/spagmon/internal/logging"
	"github.com/smazurov/spagmon/internal/nats"
	"github.com/spf13/cobra"
)

const defaultNATS = "nats://127.0.0.1:4222"

// CreateWatchCmd creates the watch command, which follows job events over NATS.
func CreateWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow job events from a running daemon",
		Long: `Prints job events as they happen. The daemon must run with NATS enabled.

Events: process-started, process-lost, process-stopping, process-stopped,
trigger-fired, desired-count-changed, jobs-reloaded`,
		Example: "  spagmon watch\n  spagmon watch --event process-lost --event trigger-fired",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, _ := cmd.Flags().GetString("nats")
			only, _ := cmd.Flags().GetStringSlice("event")

			client, err := nats.Connect(url, logging.GetLogger("cli"))
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			lines := make(chan string, 64)
			unsubscribe, err := client.SubscribeEvents(func(name string, data []byte) {
				if len(only) > 0 && !slices.Contains(only, name) {
					return
				}
				select {
				case lines <- formatEvent(name, data):
				default:
				}
			})
			if err != nil {
				return err
			}
			defer unsubscribe()

			fmt.Fprintf(cmd.ErrOrStderr(), "Watching events on %s\n", url)
			for {
				select {
				case <-ctx.Done():
					return nil
				case line := <-lines:
					fmt.Fprintln(out, line)
				}
			}
		},
	}
	cmd.Flags().String("nats", envOr("SPAGMON_NATS", defaultNATS), "NATS server URL of the daemon")
	cmd.Flags().StringSlice("event", nil, "Only print these event names (repeatable)")
	return cmd
}

// formatEvent renders an event as "timestamp name key=value ...".
func formatEvent(name string, data []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return name + " " + string(data)
	}

	var b strings.Builder
	if ts, ok := fields["timestamp"].(string); ok {
		b.WriteString(ts)
		b.WriteByte(' ')
		delete(fields, "timestamp")
	}
	b.WriteString(name)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, formatValue(fields[k]))
	}
	return b.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if strings.ContainsAny(val, " \t") {
			return fmt.Sprintf("%q", val)
		}
		return val
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = fmt.Sprint(item)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case nil:
		return "-"
	default:
		return fmt.Sprint(val)
	}
}
