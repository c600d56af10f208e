package cli

import (
	"github.com/spf13/cobra"
)

var reconcileSerial int64

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Drop and reinstall the rollup rules of one device",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Reconcile(cmd.Context(), reconcileSerial)
	},
}

func init() {
	reconcileCmd.Flags().Int64Var(&reconcileSerial, "serial", 0, "Device serial number")
	_ = reconcileCmd.MarkFlagRequired("serial")
}
