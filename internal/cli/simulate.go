package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"meterseed/internal/app"
)

var (
	simulateSerial int64
	simulateFrom   int
	simulateTo     int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic tier escalation through the configured alert channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateTo <= simulateFrom {
			return errors.New("--to-tier must be greater than --from-tier")
		}
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Serial:    simulateSerial,
			FromLevel: simulateFrom,
			ToLevel:   simulateTo,
		})
	},
}

func init() {
	simulateCmd.Flags().Int64Var(&simulateSerial, "serial", 1, "Device serial number shown in the notice")
	simulateCmd.Flags().IntVar(&simulateFrom, "from-tier", 1, "Tier level before the escalation")
	simulateCmd.Flags().IntVar(&simulateTo, "to-tier", 2, "Tier level after the escalation")
}
