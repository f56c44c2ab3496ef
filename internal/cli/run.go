package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stakewatch/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler with all background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var onceJob string

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single job immediately and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !validJob(onceJob) {
			return fmt.Errorf("--job must be one of %s", strings.Join(service.JobNames, ", "))
		}
		return getApp().Once(cmd.Context(), onceJob)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}

func validJob(name string) bool {
	for _, job := range service.JobNames {
		if job == name {
			return true
		}
	}
	return false
}

func init() {
	onceCmd.Flags().StringVar(&onceJob, "job", service.JobSnapshot, "Job to run (snapshot, apy, positions)")
}
