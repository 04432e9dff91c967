package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"offer-sync-alerts/internal/app"
)

var (
	enqueueStartPage   int
	enqueueMaxPages    int
	enqueueConcurrency int
)

var enqueueCmd = &cobra.Command{
	Use:       "enqueue [active|full]",
	Short:     "Add sweep jobs to the queue",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"active", "full"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if enqueueStartPage < 1 {
			return fmt.Errorf("--start-page must be at least 1")
		}
		return getApp().Enqueue(cmd.Context(), app.EnqueueOptions{
			Full:        args[0] == "full",
			StartPage:   enqueueStartPage,
			MaxPages:    enqueueMaxPages,
			Concurrency: enqueueConcurrency,
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth by state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Status(cmd.Context())
	},
}

func init() {
	enqueueCmd.Flags().IntVar(&enqueueStartPage, "start-page", 1, "First catalog page of a full sweep")
	enqueueCmd.Flags().IntVar(&enqueueMaxPages, "max-pages", 0, "Number of pages to sweep (0 = to the last page)")
	enqueueCmd.Flags().IntVar(&enqueueConcurrency, "concurrency", 0, "Requests in flight per job (defaults to config)")
}
