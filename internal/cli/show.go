package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"meterseed/internal/app"
)

var (
	showSerial int64
	showLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display a device's billing state and recent tier samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Serial: showSerial,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().Int64Var(&showSerial, "serial", 0, "Device serial number")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of tier samples to display")
	_ = showCmd.MarkFlagRequired("serial")
}
