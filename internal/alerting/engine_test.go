package alerting

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/history"
	"pricewatch/internal/model"
)

const operator = "log:operator"

func newTestEngine(threshold float64, capacity int) (*Engine, *Registry, *history.Store) {
	store := history.NewStore(capacity)
	registry := NewRegistry()
	engine := NewEngine(store, registry, EngineOptions{ThresholdPct: threshold, OperatorDestination: operator}, testLogger())
	return engine, registry, store
}

func sample(asset string, price float64, i int) model.Sample {
	return model.Sample{AssetID: asset, Price: price, Timestamp: time.Unix(1700000000+int64(i)*60, 0).UTC()}
}

func kinds(events []model.FiringEvent, kind model.EventKind) []model.FiringEvent {
	var out []model.FiringEvent
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestEngineFirstSampleNeverFires(t *testing.T) {
	engine, registry, store := newTestEngine(3, 24)
	registry.Register("ethereum", 1, "a@b.com")

	events, err := engine.Evaluate(sample("ethereum", 5000, 0))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, history.HasHistory, store.State("ethereum"))
	assert.Len(t, store.Recent("ethereum"), 1)
}

func TestEnginePercentJumpAboveThreshold(t *testing.T) {
	engine, _, _ := newTestEngine(3, 24)

	_, err := engine.Evaluate(sample("ethereum", 100, 0))
	require.NoError(t, err)
	events, err := engine.Evaluate(sample("ethereum", 104, 1))
	require.NoError(t, err)

	jumps := kinds(events, model.PercentJump)
	require.Len(t, jumps, 1)
	assert.Equal(t, operator, jumps[0].Destination)
	assert.Equal(t, 100.0, jumps[0].Reference)
	assert.Equal(t, 104.0, jumps[0].CurrentPrice)
	assert.InDelta(t, 4.0, jumps[0].ChangePct, 1e-9)
}

func TestEnginePercentJumpBelowThreshold(t *testing.T) {
	engine, _, _ := newTestEngine(3, 24)

	_, _ = engine.Evaluate(sample("ethereum", 100, 0))
	events, err := engine.Evaluate(sample("ethereum", 102, 1))
	require.NoError(t, err)
	assert.Empty(t, kinds(events, model.PercentJump))
}

func TestEnginePercentJumpExactThresholdDoesNotFire(t *testing.T) {
	engine, _, _ := newTestEngine(3, 24)

	_, _ = engine.Evaluate(sample("ethereum", 100, 0))
	events, _ := engine.Evaluate(sample("ethereum", 103, 1))
	assert.Empty(t, kinds(events, model.PercentJump))
}

func TestEnginePercentJumpIgnoresDrops(t *testing.T) {
	engine, _, _ := newTestEngine(3, 24)

	_, _ = engine.Evaluate(sample("ethereum", 100, 0))
	events, _ := engine.Evaluate(sample("ethereum", 90, 1))
	assert.Empty(t, events)
}

func TestEnginePercentJumpComparesImmediatePredecessor(t *testing.T) {
	engine, _, _ := newTestEngine(3, 24)

	// 100 -> 102 -> 104: each step is below 3% even though 100 -> 104 is not.
	for i, price := range []float64{100, 102, 104} {
		events, err := engine.Evaluate(sample("ethereum", price, i))
		require.NoError(t, err)
		assert.Empty(t, events, "price %v", price)
	}
}

func TestEngineZeroThresholdDisablesPercentJump(t *testing.T) {
	engine, _, _ := newTestEngine(0, 24)

	_, _ = engine.Evaluate(sample("ethereum", 100, 0))
	events, _ := engine.Evaluate(sample("ethereum", 200, 1))
	assert.Empty(t, events)
}

func TestEngineTargetReachedSequence(t *testing.T) {
	engine, registry, _ := newTestEngine(3, 24)
	rule := registry.Register("ethereum", 2000, "a@b.com")

	var fired []model.FiringEvent
	var firedAt []int
	for i, price := range []float64{1990, 1999, 2001} {
		events, err := engine.Evaluate(sample("ethereum", price, i))
		require.NoError(t, err)
		targets := kinds(events, model.TargetReached)
		for range targets {
			firedAt = append(firedAt, i)
		}
		fired = append(fired, targets...)
	}

	require.Len(t, fired, 1)
	assert.Equal(t, []int{2}, firedAt)
	assert.Equal(t, "a@b.com", fired[0].Destination)
	assert.Equal(t, rule.ID, fired[0].RuleID)
	assert.Equal(t, 2000.0, fired[0].Reference)
	assert.Equal(t, 2001.0, fired[0].CurrentPrice)
}

func TestEngineTargetRulesInRegistrationOrder(t *testing.T) {
	engine, registry, _ := newTestEngine(0, 24)
	registry.Register("ethereum", 1500, "first@x.io")
	registry.Register("polygon", 1, "other@x.io")
	registry.Register("ethereum", 1000, "second@x.io")
	registry.Register("ethereum", 5000, "never@x.io")

	_, _ = engine.Evaluate(sample("ethereum", 1900, 0))
	events, err := engine.Evaluate(sample("ethereum", 2000, 1))
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "first@x.io", events[0].Destination)
	assert.Equal(t, "second@x.io", events[1].Destination)
}

func TestEngineSatisfiedRuleRefires(t *testing.T) {
	engine, registry, _ := newTestEngine(0, 24)
	registry.Register("ethereum", 2000, "a@b.com")

	total := 0
	for i, price := range []float64{1900, 2001, 2002, 1999, 2100} {
		events, _ := engine.Evaluate(sample("ethereum", price, i))
		total += len(events)
	}
	assert.Equal(t, 3, total)
}

func TestEngineTargetNeverFiresForDrop(t *testing.T) {
	engine, registry, _ := newTestEngine(0, 24)
	registry.Register("ethereum", 1500, "a@b.com")

	_, _ = engine.Evaluate(sample("ethereum", 1400, 0))
	events, _ := engine.Evaluate(sample("ethereum", 1300, 1))
	assert.Empty(t, events)
}

func TestEngineBothKindsOnSameSample(t *testing.T) {
	engine, registry, _ := newTestEngine(3, 24)
	registry.Register("ethereum", 2000, "a@b.com")

	_, _ = engine.Evaluate(sample("ethereum", 1900, 0))
	events, _ := engine.Evaluate(sample("ethereum", 2050, 1))

	assert.Len(t, kinds(events, model.PercentJump), 1)
	assert.Len(t, kinds(events, model.TargetReached), 1)
}

func TestEngineRegistrationVisibleNextEvaluation(t *testing.T) {
	engine, registry, _ := newTestEngine(0, 24)

	_, _ = engine.Evaluate(sample("ethereum", 2100, 0))
	events, _ := engine.Evaluate(sample("ethereum", 2100, 1))
	assert.Empty(t, events)

	registry.Register("ethereum", 2000, "late@x.io")
	events, _ = engine.Evaluate(sample("ethereum", 2100, 2))
	require.Len(t, events, 1)
	assert.Equal(t, "late@x.io", events[0].Destination)
}

func TestEngineInvalidSampleLeavesHistory(t *testing.T) {
	engine, _, store := newTestEngine(3, 24)
	_, _ = engine.Evaluate(sample("ethereum", 100, 0))

	_, err := engine.Evaluate(model.Sample{AssetID: "ethereum", Price: -5})
	require.ErrorIs(t, err, model.ErrInvalidSample)

	latest, ok := store.Latest("ethereum")
	require.True(t, ok)
	assert.Equal(t, 100.0, latest.Price)
	assert.Len(t, store.Recent("ethereum"), 1)
}

func TestEngineHistoryBounded(t *testing.T) {
	engine, _, store := newTestEngine(3, 5)
	for i := 1; i <= 12; i++ {
		_, err := engine.Evaluate(sample("ethereum", float64(100+i), i))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(store.Recent("ethereum")), 5)
	}
	recent := store.Recent("ethereum")
	assert.Equal(t, 108.0, recent[0].Price)
	assert.Equal(t, 112.0, recent[4].Price)
}

func TestEngineConcurrentSameAssetSerialised(t *testing.T) {
	engine, _, store := newTestEngine(0, 1000)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = engine.Evaluate(sample("ethereum", float64(1+g), g*50+i))
			}
		}(g)
	}
	wg.Wait()
	assert.Len(t, store.Recent("ethereum"), 400)
}

func TestChangePct(t *testing.T) {
	assert.True(t, ChangePct(100, 104).Equal(ChangePct(50, 52)))
	assert.Equal(t, "4", ChangePct(100, 104).String())
	assert.Equal(t, "-10", ChangePct(100, 90).String())
}
