package cmd

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/smazurov/spagmon/internal/api/models"
	"github.com/spf13/cobra"
)

// CreateJobCmd creates the job command, which sends a control instruction.
func CreateJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job <id> <instruction...>",
		Short: "Send a control instruction to a job",
		Long: `Changes the process count of a running job. Instructions:

  N           run exactly N processes
  [N] more    run N more processes (default 1)
  [N] less    run N fewer processes (default 1)
  max | min   run the maximum or minimum allowed
  restart     replace every process`,
		Example: "  spagmon job web 3 more\n  spagmon job web max",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"instruction": strings.Join(args[1:], " ")}
			var resp models.MessageData
			path := "/api/jobs/" + url.PathEscape(args[0]) + "/instructions"
			if err := clientFromFlags(cmd).Post(cmd.Context(), path, body, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

// CreateJobsCmd creates the jobs command, which lists every job.
func CreateJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List supervised jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp models.JobListData
			if err := clientFromFlags(cmd).Get(cmd.Context(), "/api/jobs", &resp); err != nil {
				return err
			}
			printJobs(cmd.OutOrStdout(), resp.Jobs)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

// CreatePsCmd creates the ps command, which samples the processes of a job.
func CreatePsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ps <job-id>",
		Short: "Show the processes of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp models.ProcessListData
			path := "/api/jobs/" + url.PathEscape(args[0]) + "/processes"
			if err := clientFromFlags(cmd).Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			printProcesses(cmd.OutOrStdout(), resp.Processes)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

// CreateRestartCmd creates the restart command, which replaces one process.
func CreateRestartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart <pid>",
		Short: "Replace a supervised process with a fresh one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil || pid <= 0 {
				return fmt.Errorf("invalid pid %q", args[0])
			}
			var resp models.MessageData
			if err := clientFromFlags(cmd).Post(cmd.Context(), fmt.Sprintf("/api/processes/%d/restart", pid), nil, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func printJobs(w io.Writer, jobs []models.JobData) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tALLOWED\tDESIRED\tRUNNING\tSTOPPING\tKILL")
	for _, j := range jobs {
		id := j.ID
		if j.Draining {
			id += " (removed)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d-%d\t%d\t%d\t%d\t%s\n",
			id, j.Name, j.Allowed.Min, j.Allowed.Max, j.Desired, j.Running, j.Terminating, j.KillMode)
	}
	tw.Flush()
}

func printProcesses(w io.Writer, procs []models.ProcessData) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tUSER\t%CPU\t%MEM\tRSS\tVSZ\tUPTIME\tCOMMAND")
	for _, p := range procs {
		fmt.Fprintf(tw, "%d\t%s\t%.1f\t%.1f\t%s\t%s\t%s\t%s\n",
			p.PID, p.User, p.CPUPercent, p.MemoryPercent,
			units.BytesSize(float64(p.ResidentBytes)),
			units.BytesSize(float64(p.VirtualBytes)),
			units.HumanDuration(time.Duration(p.UptimeSeconds*float64(time.Second))),
			p.Command)
	}
	tw.Flush()
}
