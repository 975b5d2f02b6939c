package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pricewatch/internal/fetcher"
	"pricewatch/internal/model"
)

// Options tune sampling.
type Options struct {
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Sampler turns one feed call into a timestamped sample.
type Sampler struct {
	feed   fetcher.PriceFeed
	opts   Options
	logger zerolog.Logger
}

// New constructs a Sampler over feed.
func New(feed fetcher.PriceFeed, opts Options, logger zerolog.Logger) *Sampler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sampler{feed: feed, opts: opts, logger: logger.With().Str("component", "sampler").Logger()}
}

// FetchSample calls the feed for assetID under the request timeout. Errors are
// classified as fetcher.ErrFeedUnavailable or fetcher.ErrFeedDataMissing.
func (s *Sampler) FetchSample(ctx context.Context, assetID string) (model.Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	started := s.opts.Now()
	price, err := s.feed.Fetch(ctx, assetID)
	if err != nil {
		if !fetcher.IsUnavailable(err) && !fetcher.IsDataMissing(err) {
			err = fmt.Errorf("%w: %v", fetcher.ErrFeedUnavailable, err)
		}
		return model.Sample{}, fmt.Errorf("fetch %s: %w", assetID, err)
	}

	sample, err := model.NewSample(assetID, price, s.opts.Now())
	if err != nil {
		return model.Sample{}, fmt.Errorf("fetch %s: %w: %v", assetID, fetcher.ErrFeedDataMissing, err)
	}

	s.logger.Debug().Str("asset", assetID).
		Float64("price", price).
		Dur("latency", s.opts.Now().Sub(started)).
		Msg("sample fetched")
	return sample, nil
}
