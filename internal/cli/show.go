package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var (
	showAsset   string
	showLimit   int
	showFirings bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent price samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Asset:   showAsset,
			Limit:   showLimit,
			Firings: showFirings,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showAsset, "asset", "", "Asset id to display (defaults to all)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of samples to display")
	showCmd.Flags().BoolVar(&showFirings, "firings", false, "Also list recent alert firings")
}
