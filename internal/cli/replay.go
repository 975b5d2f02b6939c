package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pricewatch/internal/app"
)

var (
	replayAsset    string
	replayFrom     string
	replayTo       string
	replayDispatch bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay stored samples through the alert engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayFrom == "" || replayTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		opts := app.ReplayOptions{
			Asset:    replayAsset,
			From:     from,
			To:       to,
			Dispatch: replayDispatch,
		}

		return getApp().Replay(cmd.Context(), opts)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayAsset, "asset", "ethereum", "Asset id to replay")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "End timestamp (RFC3339, exclusive)")
	replayCmd.Flags().BoolVar(&replayDispatch, "dispatch", false, "Send the replayed alerts instead of only printing them")
}
