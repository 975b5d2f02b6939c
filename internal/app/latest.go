package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"pricewatch/internal/model"
	"pricewatch/internal/service"
)

// Latest fetches one sample of asset immediately and prints it.
func (a *App) Latest(ctx context.Context, asset string, out io.Writer) error {
	if _, ok := a.Config.Asset(asset); !ok {
		return fmt.Errorf("asset %q is not configured", asset)
	}

	feed, closeFeed := a.newFeed()
	defer closeFeed()

	svc := a.newService(feed, nil, nil, nil)
	if err := svc.ProcessAsset(ctx, asset); err != nil {
		a.Logger.Debug().Err(err).Str("asset", asset).Msg("latest fetch failed")
	}

	sample, err := svc.GetLatest(asset)
	if errors.Is(err, service.ErrNotAvailable) {
		fmt.Fprintln(out, "Price information not available")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(out, formatLatest(sample, a.Config.Feed.VsCurrency))
	return nil
}

func formatLatest(sample model.Sample, currency string) string {
	return fmt.Sprintf("%s 1 %s = %s %s",
		sample.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		strings.ToUpper(sample.AssetID),
		decimal.NewFromFloat(sample.Price).String(),
		strings.ToUpper(currency),
	)
}
