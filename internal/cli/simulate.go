package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var (
	simulateAsset       string
	simulatePrices      []float64
	simulateTarget      float64
	simulateDestination string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "推送一组价格并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(simulatePrices) == 0 {
			return errors.New("--prices 至少需要一个价格")
		}
		for _, p := range simulatePrices {
			if p <= 0 {
				return errors.New("--prices 必须全部大于 0")
			}
		}

		opts := app.SimulateOptions{
			Asset:       simulateAsset,
			Prices:      simulatePrices,
			TargetPrice: simulateTarget,
			Destination: simulateDestination,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "ethereum", "资产 id")
	simulateCmd.Flags().Float64SliceVar(&simulatePrices, "prices", nil, "按顺序推入的价格，逗号分隔")
	simulateCmd.Flags().Float64Var(&simulateTarget, "target", 0, "可选的目标价规则")
	simulateCmd.Flags().StringVar(&simulateDestination, "destination", "", "目标价规则的通知地址（默认 operator）")
}
