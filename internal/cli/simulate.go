package cli

import (
	"github.com/spf13/cobra"

	"offer-sync-alerts/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Evaluate the alert rules on a synthetic change and send the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), simulateOpts)
	},
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simulateOpts.OfferID, "offer", "simulated", "Offer id shown in the alert")
	f.StringVar(&simulateOpts.OfferName, "name", "Simulated offer", "Offer name shown in the alert")
	f.StringVar(&simulateOpts.PreviousActivity, "prev", "", "Previous last-activity value, e.g. \"< 1m\" (empty = none)")
	f.StringVar(&simulateOpts.PreviousStatus, "prev-status", "Active", "Previous status")
	f.StringVar(&simulateOpts.CurrentActivity, "cur", "", "Current last-activity value, e.g. \"2h15min\" (empty = none)")
	f.StringVar(&simulateOpts.CurrentStatus, "cur-status", "Active", "Current status")
}
