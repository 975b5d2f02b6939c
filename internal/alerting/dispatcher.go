package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/model"
)

// ErrDispatchFailed wraps every notifier failure returned by Dispatch.
var ErrDispatchFailed = errors.New("dispatch failed")

// Dispatcher renders firing events and hands each to the notifier exactly once.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewDispatcher constructs a dispatcher. timeout bounds each send.
func NewDispatcher(notifier Notifier, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		notifier: notifier,
		timeout:  timeout,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch sends ev without retrying. Failures are logged and returned wrapped
// in ErrDispatchFailed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.FiringEvent) error {
	if d.notifier == nil {
		return fmt.Errorf("%w: no notifier configured", ErrDispatchFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	subject, body := RenderMessage(ev)
	if err := d.notifier.Send(ctx, ev.Destination, subject, body); err != nil {
		d.logger.Error().Err(err).
			Str("kind", string(ev.Kind)).
			Str("asset", ev.AssetID).
			Str("destination", ev.Destination).
			Msg("failed to dispatch alert")
		return fmt.Errorf("%w: %s to %s: %v", ErrDispatchFailed, ev.Kind, ev.Destination, err)
	}

	d.logger.Info().
		Str("kind", string(ev.Kind)).
		Str("asset", ev.AssetID).
		Str("destination", ev.Destination).
		Msg("alert dispatched")
	return nil
}

// DispatchAll sends every event concurrently and returns how many failed.
// One failure never prevents the other sends.
func (d *Dispatcher) DispatchAll(ctx context.Context, events []model.FiringEvent) int {
	failed := 0
	for _, err := range d.DispatchEach(ctx, events) {
		if err != nil {
			failed++
		}
	}
	return failed
}

// DispatchEach sends every event concurrently and returns the outcome of each,
// index-aligned with events.
func (d *Dispatcher) DispatchEach(ctx context.Context, events []model.FiringEvent) []error {
	results := make([]error, len(events))
	if len(events) == 0 {
		return results
	}

	var wg sync.WaitGroup
	for i, ev := range events {
		wg.Add(1)
		go func(i int, ev model.FiringEvent) {
			defer wg.Done()
			results[i] = d.Dispatch(ctx, ev)
		}(i, ev)
	}
	wg.Wait()
	return results
}

// RenderMessage builds the subject and body for ev.
func RenderMessage(ev model.FiringEvent) (string, string) {
	current := decimal.NewFromFloat(ev.CurrentPrice)
	reference := decimal.NewFromFloat(ev.Reference)
	asset := strings.ToUpper(ev.AssetID)

	builder := strings.Builder{}
	var subject string
	switch ev.Kind {
	case model.PercentJump:
		change := decimal.NewFromFloat(ev.ChangePct)
		subject = fmt.Sprintf("[pricewatch] %s jumped %s%%", asset, change.StringFixed(2))
		builder.WriteString(fmt.Sprintf("Asset: %s\n", ev.AssetID))
		builder.WriteString(fmt.Sprintf("Previous: %s\n", reference.String()))
		builder.WriteString(fmt.Sprintf("Current: %s\n", current.String()))
		builder.WriteString(fmt.Sprintf("Change: %s%%\n", change.StringFixed(3)))
	case model.TargetReached:
		subject = fmt.Sprintf("[pricewatch] %s reached %s", asset, reference.String())
		builder.WriteString(fmt.Sprintf("Asset: %s\n", ev.AssetID))
		builder.WriteString(fmt.Sprintf("Target: %s\n", reference.String()))
		builder.WriteString(fmt.Sprintf("Current: %s\n", current.String()))
		if ev.RuleID != "" {
			builder.WriteString(fmt.Sprintf("Rule: %s\n", ev.RuleID))
		}
	default:
		subject = fmt.Sprintf("[pricewatch] %s alert", asset)
		builder.WriteString(fmt.Sprintf("Asset: %s\nCurrent: %s\n", ev.AssetID, current.String()))
	}
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", ev.Timestamp.UTC().Format(time.RFC3339)))
	return subject, builder.String()
}
