package fetcher

import (
	"context"
	"errors"
)

var (
	// ErrFeedUnavailable covers transport failures reaching the price source:
	// timeouts, refused connections and non-2xx responses.
	ErrFeedUnavailable = errors.New("price feed unavailable")
	// ErrFeedDataMissing covers malformed or incomplete upstream payloads.
	ErrFeedDataMissing = errors.New("price feed data missing")
)

// PriceFeed retrieves the current price of one asset by its feed identifier.
type PriceFeed interface {
	Fetch(ctx context.Context, feedID string) (float64, error)
}

// IsUnavailable reports whether err is a transport-level feed failure.
func IsUnavailable(err error) bool { return errors.Is(err, ErrFeedUnavailable) }

// IsDataMissing reports whether err is a malformed-payload feed failure.
func IsDataMissing(err error) bool { return errors.Is(err, ErrFeedDataMissing) }

// Kind returns a short label for logging.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsUnavailable(err):
		return "feed_unavailable"
	case IsDataMissing(err):
		return "feed_data_missing"
	default:
		return "unknown"
	}
}
