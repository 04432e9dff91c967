package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"offer-sync-alerts/internal/app"
)

var (
	showLimit    int
	showAlerts   bool
	showPriority string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display tracked offers or recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Alerts:   showAlerts,
			Priority: showPriority,
			Limit:    showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show recent alerts instead of offers")
	showCmd.Flags().StringVar(&showPriority, "priority", "", "Only offers of this priority (high or low)")
}
