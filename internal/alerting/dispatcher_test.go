package alerting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/model"
)

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []string
	fail  map[string]bool
	delay time.Duration
}

func (r *recordingNotifier) Send(ctx context.Context, destination, subject, body string) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, destination)
	if r.fail[destination] {
		return errors.New("smtp 550 mailbox unavailable")
	}
	return nil
}

func TestDispatchWrapsFailure(t *testing.T) {
	notifier := &recordingNotifier{fail: map[string]bool{"bad@x.io": true}}
	d := NewDispatcher(notifier, time.Second, testLogger())

	err := d.Dispatch(context.Background(), model.FiringEvent{Kind: model.TargetReached, AssetID: "ethereum", Destination: "bad@x.io"})
	require.ErrorIs(t, err, ErrDispatchFailed)
	assert.Contains(t, err.Error(), "bad@x.io")
}

func TestDispatchAllIsolatesFailures(t *testing.T) {
	notifier := &recordingNotifier{fail: map[string]bool{"bad@x.io": true}}
	d := NewDispatcher(notifier, time.Second, testLogger())

	events := []model.FiringEvent{
		{Kind: model.PercentJump, AssetID: "ethereum", Destination: "log:operator"},
		{Kind: model.TargetReached, AssetID: "ethereum", Destination: "bad@x.io"},
		{Kind: model.TargetReached, AssetID: "ethereum", Destination: "good@x.io"},
	}

	failed := d.DispatchAll(context.Background(), events)
	assert.Equal(t, 1, failed)
	assert.ElementsMatch(t, []string{"log:operator", "bad@x.io", "good@x.io"}, notifier.sent)
}

func TestDispatchAllRunsConcurrently(t *testing.T) {
	notifier := &recordingNotifier{delay: 100 * time.Millisecond}
	d := NewDispatcher(notifier, time.Second, testLogger())

	events := make([]model.FiringEvent, 5)
	for i := range events {
		events[i] = model.FiringEvent{Kind: model.TargetReached, AssetID: "ethereum", Destination: "a@b.com"}
	}

	start := time.Now()
	assert.Zero(t, d.DispatchAll(context.Background(), events))
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Len(t, notifier.sent, 5)
}

func TestDispatchWithoutNotifier(t *testing.T) {
	d := NewDispatcher(nil, time.Second, testLogger())
	err := d.Dispatch(context.Background(), model.FiringEvent{Destination: "a@b.com"})
	assert.ErrorIs(t, err, ErrDispatchFailed)
}

func TestDispatchAppliesTimeout(t *testing.T) {
	var deadline time.Time
	notifier := NotifierFunc(func(ctx context.Context, destination, subject, body string) error {
		deadline, _ = ctx.Deadline()
		return nil
	})
	d := NewDispatcher(notifier, 2*time.Second, testLogger())

	require.NoError(t, d.Dispatch(context.Background(), model.FiringEvent{Destination: "log:x"}))
	assert.False(t, deadline.IsZero())
	assert.WithinDuration(t, time.Now().Add(2*time.Second), deadline, time.Second)
}

func TestRenderMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	subject, body := RenderMessage(model.FiringEvent{
		Kind: model.PercentJump, AssetID: "ethereum", CurrentPrice: 104, Reference: 100, ChangePct: 4, Timestamp: at,
	})
	assert.Equal(t, "[pricewatch] ETHEREUM jumped 4.00%", subject)
	assert.Contains(t, body, "Previous: 100")
	assert.Contains(t, body, "Current: 104")
	assert.Contains(t, body, "2024-05-01T12:00:00Z")

	subject, body = RenderMessage(model.FiringEvent{
		Kind: model.TargetReached, AssetID: "ethereum", CurrentPrice: 2001, Reference: 2000, RuleID: "r1", Timestamp: at,
	})
	assert.Equal(t, "[pricewatch] ETHEREUM reached 2000", subject)
	assert.True(t, strings.Contains(body, "Target: 2000") && strings.Contains(body, "Rule: r1"))
}

func TestDispatchEachAlignsResults(t *testing.T) {
	notifier := &recordingNotifier{fail: map[string]bool{"bad@x.io": true}}
	d := NewDispatcher(notifier, time.Second, testLogger())

	results := d.DispatchEach(context.Background(), []model.FiringEvent{
		{Kind: model.TargetReached, AssetID: "ethereum", Destination: "good@x.io"},
		{Kind: model.TargetReached, AssetID: "ethereum", Destination: "bad@x.io"},
	})
	require.Len(t, results, 2)
	assert.NoError(t, results[0])
	assert.ErrorIs(t, results[1], ErrDispatchFailed)
}
