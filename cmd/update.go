package cmd

import (
	"fmt"

	"github.com/smazurov/spagmon/internal/updater"
	"github.com/smazurov/spagmon/internal/version"
	"github.com/spf13/cobra"
)

// CreateUpdateCmd creates the update command, which replaces the local
// binary with the latest release.
func CreateUpdateCmd() *cobra.Command {
	var checkOnly, prerelease bool
	var repository string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update spagmon to the latest release",
		Long:  "Downloads the latest GitHub release and replaces this binary. A running daemon keeps the old version until it is restarted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := updater.NewService(&updater.Options{
				Repository: repository,
				Prerelease: prerelease,
			})
			if err != nil {
				return err
			}
			if !svc.IsEnabled() {
				return fmt.Errorf("cannot update: %s", svc.DisabledReason())
			}

			out := cmd.OutOrStdout()
			info, err := svc.CheckForUpdate(cmd.Context())
			if updater.IsError(err, updater.ErrCodeNotFound) {
				return fmt.Errorf("no releases published in %s", repository)
			}
			if err != nil {
				return err
			}
			if !info.UpdateAvailable {
				fmt.Fprintf(out, "spagmon %s is up to date\n", version.String())
				return nil
			}
			fmt.Fprintf(out, "Update available: %s -> %s\n", info.CurrentVersion, info.LatestVersion)
			if checkOnly {
				return nil
			}

			if err := svc.ApplyUpdate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "Updated to %s. Restart the spagmon service to run it.\n", info.LatestVersion)
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only report whether an update is available")
	cmd.Flags().BoolVar(&prerelease, "prerelease", false, "Include prereleases")
	cmd.Flags().StringVar(&repository, "repository", updater.DefaultRepository, "GitHub repository to update from")
	return cmd
}
