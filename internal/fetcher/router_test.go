package fetcher

import (
	"context"
	"testing"
)

type staticFeed struct {
	prices map[string]float64
	seen   []string
}

func (s *staticFeed) Fetch(ctx context.Context, feedID string) (float64, error) {
	s.seen = append(s.seen, feedID)
	return s.prices[feedID], nil
}

func TestRouterResolvesConfiguredRoute(t *testing.T) {
	gecko := &staticFeed{prices: map[string]float64{"matic-network": 0.5}}
	chain := &staticFeed{prices: map[string]float64{"0xabc": 2000}}

	r := NewRouter(SourceCoinGecko)
	r.Register(SourceCoinGecko, gecko)
	r.Register(SourceChainlink, chain)
	r.AddRoute(Route{AssetID: "ethereum", Source: SourceChainlink, FeedID: "0xabc"})
	r.AddRoute(Route{AssetID: "polygon", FeedID: "matic-network"})

	price, err := r.Fetch(context.Background(), "ethereum")
	if err != nil || price != 2000 {
		t.Fatalf("ethereum 应走 chainlink: price=%v err=%v", price, err)
	}
	price, err = r.Fetch(context.Background(), "polygon")
	if err != nil || price != 0.5 {
		t.Fatalf("polygon 应走 coingecko: price=%v err=%v", price, err)
	}
	if len(gecko.seen) != 1 || gecko.seen[0] != "matic-network" {
		t.Fatalf("coingecko 应收到 feed id matic-network: %v", gecko.seen)
	}
}

func TestRouterFallbackUsesAssetID(t *testing.T) {
	gecko := &staticFeed{prices: map[string]float64{"bitcoin": 60000}}
	r := NewRouter(SourceCoinGecko)
	r.Register(SourceCoinGecko, gecko)

	route := r.Resolve("bitcoin")
	if route.Source != SourceCoinGecko || route.FeedID != "bitcoin" {
		t.Fatalf("未配置路由应回落到默认源: %+v", route)
	}
	if price, _ := r.Fetch(context.Background(), "bitcoin"); price != 60000 {
		t.Fatalf("期望 60000, 实际 %v", price)
	}
}

func TestRouterMissingSource(t *testing.T) {
	r := NewRouter(SourceCoinGecko)
	if _, err := r.Fetch(context.Background(), "ethereum"); !IsUnavailable(err) {
		t.Fatalf("未注册源应返回 ErrFeedUnavailable, 实际 %v", err)
	}
}

func TestChainlinkMissingConfig(t *testing.T) {
	cl := NewChainlink(ChainlinkOptions{}, noopLogger())
	if _, err := cl.Fetch(context.Background(), "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"); !IsUnavailable(err) {
		t.Fatalf("未配置 RPC 时应返回 ErrFeedUnavailable, 实际 %v", err)
	}

	cl = NewChainlink(ChainlinkOptions{RPCURL: "http://localhost"}, noopLogger())
	if _, err := cl.Fetch(context.Background(), "not-an-address"); !IsDataMissing(err) {
		t.Fatalf("非法合约地址应返回 ErrFeedDataMissing, 实际 %v", err)
	}
}
