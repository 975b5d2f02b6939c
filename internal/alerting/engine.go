package alerting

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/history"
	"pricewatch/internal/model"
)

var hundred = decimal.NewFromInt(100)

// EngineOptions configure the percent-jump rule.
type EngineOptions struct {
	// ThresholdPct disables the percent-jump rule when zero.
	ThresholdPct        float64
	OperatorDestination string
}

// Engine evaluates each accepted sample against the percent-jump rule and the
// registered target rules, then commits the sample to history.
type Engine struct {
	history  *history.Store
	registry *Registry
	logger   zerolog.Logger

	threshold decimal.Decimal
	operator  string
}

// NewEngine wires an engine over the shared history and registry.
func NewEngine(store *history.Store, registry *Registry, opts EngineOptions, logger zerolog.Logger) *Engine {
	threshold := decimal.Zero
	if opts.ThresholdPct > 0 {
		threshold = decimal.NewFromFloat(opts.ThresholdPct)
	}
	return &Engine{
		history:   store,
		registry:  registry,
		logger:    logger.With().Str("component", "alert_engine").Logger(),
		threshold: threshold,
		operator:  opts.OperatorDestination,
	}
}

// Evaluate runs both rule kinds against sample using the previous sample as it
// was before this call, then records sample as the new previous and appends it.
// The only error is an invalid sample, which leaves history untouched.
func (e *Engine) Evaluate(sample model.Sample) ([]model.FiringEvent, error) {
	var events []model.FiringEvent

	err := e.history.Commit(sample, func(previous model.Sample, ok bool) {
		if !ok {
			e.logger.Debug().Str("asset", sample.AssetID).Msg("first sample recorded; nothing to compare")
			return
		}
		if ev, fired := e.percentJump(previous, sample); fired {
			events = append(events, ev)
		}
		events = append(events, e.targets(sample)...)
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Threshold returns the configured percent-jump threshold.
func (e *Engine) Threshold() decimal.Decimal { return e.threshold }

func (e *Engine) percentJump(previous, current model.Sample) (model.FiringEvent, bool) {
	if e.threshold.IsZero() {
		return model.FiringEvent{}, false
	}

	change := ChangePct(previous.Price, current.Price)
	if !change.GreaterThan(e.threshold) {
		return model.FiringEvent{}, false
	}

	return model.FiringEvent{
		Kind:         model.PercentJump,
		AssetID:      current.AssetID,
		CurrentPrice: current.Price,
		Reference:    previous.Price,
		ChangePct:    change.InexactFloat64(),
		Destination:  e.operator,
		Timestamp:    current.Timestamp,
	}, true
}

func (e *Engine) targets(current model.Sample) []model.FiringEvent {
	var events []model.FiringEvent
	for _, rule := range e.registry.ForAsset(current.AssetID) {
		if !rule.Satisfied(current.Price) {
			continue
		}
		events = append(events, model.FiringEvent{
			Kind:         model.TargetReached,
			AssetID:      current.AssetID,
			CurrentPrice: current.Price,
			Reference:    rule.TargetPrice,
			Destination:  rule.Destination,
			RuleID:       rule.ID,
			Timestamp:    current.Timestamp,
		})
	}
	return events
}

// ChangePct computes (current - previous) / previous * 100. previous must be positive.
func ChangePct(previous, current float64) decimal.Decimal {
	prev := decimal.NewFromFloat(previous)
	cur := decimal.NewFromFloat(current)
	return cur.Sub(prev).Div(prev).Mul(hundred)
}
