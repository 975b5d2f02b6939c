package sampler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pricewatch/internal/fetcher"
)

type feedFunc func(ctx context.Context, feedID string) (float64, error)

func (f feedFunc) Fetch(ctx context.Context, feedID string) (float64, error) { return f(ctx, feedID) }

func TestFetchSampleSuccess(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New(feedFunc(func(ctx context.Context, id string) (float64, error) {
		return 2000, nil
	}), Options{Now: func() time.Time { return at }}, zerolog.Nop())

	sample, err := s.FetchSample(context.Background(), "ethereum")
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if sample.AssetID != "ethereum" || sample.Price != 2000 || !sample.Timestamp.Equal(at) {
		t.Fatalf("样本不正确: %+v", sample)
	}
}

func TestFetchSampleClassifiesUnknownErrors(t *testing.T) {
	s := New(feedFunc(func(ctx context.Context, id string) (float64, error) {
		return 0, errors.New("boom")
	}), Options{}, zerolog.Nop())

	if _, err := s.FetchSample(context.Background(), "ethereum"); !fetcher.IsUnavailable(err) {
		t.Fatalf("未分类错误应归为 ErrFeedUnavailable, 实际 %v", err)
	}
}

func TestFetchSamplePreservesDataMissing(t *testing.T) {
	s := New(feedFunc(func(ctx context.Context, id string) (float64, error) {
		return 0, fetcher.ErrFeedDataMissing
	}), Options{}, zerolog.Nop())

	_, err := s.FetchSample(context.Background(), "ethereum")
	if !fetcher.IsDataMissing(err) || fetcher.IsUnavailable(err) {
		t.Fatalf("应保持 ErrFeedDataMissing, 实际 %v", err)
	}
}

func TestFetchSampleRejectsNonPositive(t *testing.T) {
	s := New(feedFunc(func(ctx context.Context, id string) (float64, error) {
		return -1, nil
	}), Options{}, zerolog.Nop())

	if _, err := s.FetchSample(context.Background(), "ethereum"); !fetcher.IsDataMissing(err) {
		t.Fatalf("负价格应归为 ErrFeedDataMissing, 实际 %v", err)
	}
}

func TestFetchSampleTimeout(t *testing.T) {
	s := New(feedFunc(func(ctx context.Context, id string) (float64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}), Options{RequestTimeout: 20 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	_, err := s.FetchSample(context.Background(), "ethereum")
	if !fetcher.IsUnavailable(err) {
		t.Fatalf("超时应归为 ErrFeedUnavailable, 实际 %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("请求超时未生效")
	}
}
