package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/smazurov/spagmon/internal/config"
	"github.com/smazurov/spagmon/internal/supervisor"
	"github.com/spf13/cobra"
)

// CreateValidateCmd creates the validate command, which checks a jobs file
// without contacting the daemon.
func CreateValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [jobs-file]",
		Short: "Check a jobs file",
		Long:  "Parses and validates a jobs file and prints the resulting jobs. Exits non-zero on the first invalid file.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "jobs.toml"
			if len(args) == 1 {
				path = args[0]
			}
			specs, err := config.LoadJobs(path)
			if err != nil {
				return err
			}
			return describeJobs(cmd.OutOrStdout(), path, specs)
		},
	}
}

func describeJobs(w io.Writer, path string, specs []config.JobSpec) error {
	fmt.Fprintf(w, "%s: %d jobs\n", path, len(specs))
	for _, spec := range specs {
		allowed, err := spec.AllowedRange()
		if err != nil {
			return err
		}
		mode, err := spec.KillMode()
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "\n%s (%s)\n", spec.ID, spec.Name)
		fmt.Fprintf(w, "  command:  %s\n", spec.Command)
		if spec.Directory != "" {
			fmt.Fprintf(w, "  dir:      %s\n", spec.Directory)
		}
		fmt.Fprintf(w, "  count:    %d (allowed %d-%d)\n", spec.InitialCount(), allowed.Min, allowed.Max)
		fmt.Fprintf(w, "  kill:     %s\n", mode)

		if len(spec.Triggers) == 0 {
			continue
		}
		descs := make([]string, 0, len(spec.Triggers))
		for _, cfg := range spec.Triggers {
			trigger, err := supervisor.NewTrigger(cfg)
			if err != nil {
				return err
			}
			descs = append(descs, trigger.Describe())
		}
		fmt.Fprintf(w, "  triggers: %s\n", strings.Join(descs, "; "))
	}
	return nil
}
