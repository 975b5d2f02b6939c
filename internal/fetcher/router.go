package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errNoSource = errors.New("no price source configured")

// Source names a concrete price feed implementation.
type Source string

const (
	SourceCoinGecko Source = "coingecko"
	SourceChainlink Source = "chainlink"
)

// Route binds a tracked asset to a source and the identifier that source expects.
type Route struct {
	AssetID string
	Source  Source
	FeedID  string
}

// Router resolves assets to their configured source. It satisfies PriceFeed with
// the asset id as the lookup key.
type Router struct {
	mu       sync.RWMutex
	sources  map[Source]PriceFeed
	routes   map[string]Route
	fallback Source
}

// NewRouter builds a router whose unrouted assets go to fallback.
func NewRouter(fallback Source) *Router {
	return &Router{
		sources:  make(map[Source]PriceFeed),
		routes:   make(map[string]Route),
		fallback: fallback,
	}
}

// Register makes feed available under name.
func (r *Router) Register(name Source, feed PriceFeed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = feed
}

// AddRoute pins an asset to a source and feed id.
func (r *Router) AddRoute(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if route.FeedID == "" {
		route.FeedID = route.AssetID
	}
	if route.Source == "" {
		route.Source = r.fallback
	}
	r.routes[route.AssetID] = route
}

// Resolve returns the route for assetID, defaulting to the fallback source with
// the asset id as feed id.
func (r *Router) Resolve(assetID string) Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if route, ok := r.routes[assetID]; ok {
		return route
	}
	return Route{AssetID: assetID, Source: r.fallback, FeedID: assetID}
}

// Fetch resolves assetID and queries its source.
func (r *Router) Fetch(ctx context.Context, assetID string) (float64, error) {
	route := r.Resolve(assetID)

	r.mu.RLock()
	feed, ok := r.sources[route.Source]
	r.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s for %s: %v", ErrFeedUnavailable, route.Source, assetID, errNoSource)
	}
	return feed.Fetch(ctx, route.FeedID)
}

var _ PriceFeed = (*Router)(nil)
