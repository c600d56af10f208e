package cli

import (
	"time"

	"github.com/spf13/cobra"

	"meterseed/internal/app"
	"meterseed/internal/datagen"
)

var (
	runSerial     int64
	runChannels   []string
	runResolution time.Duration
	runEnergyUse  string
	runMaxTicks   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream live readings for one device on the scheduler interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		use, err := datagen.ParseEnergyUse(runEnergyUse)
		if err != nil {
			return err
		}
		return getApp().Run(cmd.Context(), app.RunOptions{
			Serial:     runSerial,
			Channels:   runChannels,
			Resolution: runResolution,
			EnergyUse:  use,
			MaxTicks:   runMaxTicks,
		})
	},
}

func init() {
	runCmd.Flags().Int64Var(&runSerial, "serial", 0, "Device serial number")
	runCmd.Flags().StringSliceVar(&runChannels, "channel", nil, "Circuit type to simulate (repeatable)")
	runCmd.Flags().DurationVar(&runResolution, "resolution", time.Second, "Spacing between samples; must divide scheduler.interval")
	runCmd.Flags().StringVar(&runEnergyUse, "energy-use", "normal", "normal, greedy or conserve")
	runCmd.Flags().IntVar(&runMaxTicks, "max-ticks", 0, "Stop after this many intervals (0 runs until interrupted)")
	_ = runCmd.MarkFlagRequired("serial")
	_ = runCmd.MarkFlagRequired("channel")
}
