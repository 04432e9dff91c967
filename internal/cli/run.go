package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler and a queue worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a queue worker without the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Worker(cmd.Context())
	},
}
