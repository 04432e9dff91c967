package cli

import (
	"github.com/spf13/cobra"

	"offer-sync-alerts/internal/app"
)

var (
	syncStartPage   int
	syncEndPage     int
	syncConcurrency int
)

var syncCmd = &cobra.Command{
	Use:       "sync [active|full]",
	Short:     "Run one sweep in this process, bypassing the queue",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"active", "full"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sync(cmd.Context(), app.SyncOptions{
			Full:        args[0] == "full",
			StartPage:   syncStartPage,
			EndPage:     syncEndPage,
			Concurrency: syncConcurrency,
		})
	},
}

func init() {
	syncCmd.Flags().IntVar(&syncStartPage, "start-page", 1, "First catalog page")
	syncCmd.Flags().IntVar(&syncEndPage, "end-page", 0, "Last catalog page, inclusive (0 = last page)")
	syncCmd.Flags().IntVar(&syncConcurrency, "concurrency", 0, "Requests in flight (defaults to config)")
}
