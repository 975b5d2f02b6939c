package cli

import (
	"github.com/spf13/cobra"
)

var latestAsset string

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Fetch and print the current price of an asset",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Latest(cmd.Context(), latestAsset, cmd.OutOrStdout())
	},
}

func init() {
	latestCmd.Flags().StringVar(&latestAsset, "asset", "ethereum", "Asset id to query")
}
