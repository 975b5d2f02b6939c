package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/model"
	"pricewatch/internal/storage"
)

// Show prints recent samples from PostgreSQL, or from the redis mirror when no
// database is configured.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	if store == nil {
		return a.showFromRedis(ctx, opts)
	}

	assets, err := a.showAssets(ctx, store, opts.Asset)
	if err != nil {
		return err
	}

	for _, asset := range assets {
		samples, err := store.ListRecentSamples(ctx, asset, opts.Limit)
		if err != nil {
			return err
		}
		printSamples(os.Stdout, asset, samples)
	}

	if opts.Firings {
		firings, err := store.ListRecentFirings(ctx, opts.Limit)
		if err != nil {
			return err
		}
		printFirings(os.Stdout, firings)
	}
	return nil
}

func (a *App) showFromRedis(ctx context.Context, opts ShowOptions) error {
	mirror, err := a.openRedis(ctx)
	if err != nil {
		return err
	}
	if mirror == nil {
		return errors.New("neither database nor redis configured; cannot show samples")
	}
	defer mirror.Close()

	assets := []string{opts.Asset}
	if opts.Asset == "" {
		assets = a.configuredAssets()
	}
	for _, asset := range assets {
		samples, err := mirror.Recent(ctx, asset, opts.Limit)
		if err != nil {
			return err
		}
		printSamples(os.Stdout, asset, samples)
	}
	return nil
}

func (a *App) showAssets(ctx context.Context, store storage.SampleReader, asset string) ([]string, error) {
	if asset != "" {
		return []string{asset}, nil
	}
	assets, err := store.ListAssets(ctx)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return a.configuredAssets(), nil
	}
	return assets, nil
}

func (a *App) configuredAssets() []string {
	ids := make([]string, 0, len(a.Config.Assets))
	for _, asset := range a.Config.Assets {
		ids = append(ids, asset.ID)
	}
	return ids
}

func printSamples(out io.Writer, asset string, samples []model.Sample) {
	if len(samples) == 0 {
		fmt.Fprintf(out, "%s: no samples found\n", asset)
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "%s\n", strings.ToUpper(asset))
	fmt.Fprintln(writer, "Time (UTC)\tPrice")
	for _, sample := range samples {
		fmt.Fprintf(writer, "%s\t%s\n",
			sample.Timestamp.UTC().Format(time.RFC3339),
			decimal.NewFromFloat(sample.Price).String(),
		)
	}
	writer.Flush()
}

func printFirings(out io.Writer, firings []storage.FiringRecord) {
	if len(firings) == 0 {
		fmt.Fprintln(out, "no alert firings found")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fired (UTC)\tKind\tAsset\tCurrent\tReference\tChange%\tDestination\tDelivered\tError")
	for _, rec := range firings {
		errMsg := ""
		if rec.Error != nil {
			errMsg = sanitizeInline(*rec.Error)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			rec.FiredAt.UTC().Format(time.RFC3339),
			rec.Kind,
			rec.AssetID,
			rec.CurrentPrice.String(),
			rec.Reference.String(),
			rec.ChangePct.StringFixed(3),
			rec.Destination,
			rec.Delivered,
			errMsg,
		)
	}
	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
