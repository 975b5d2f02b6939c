package alerting

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"pricewatch/internal/model"
)

// Registry holds user target-price rules in registration order. Rules are never
// removed or mutated.
type Registry struct {
	mu    sync.RWMutex
	rules []model.AlertRule
	now   func() time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{now: time.Now}
}

// Register appends a rule unconditionally and returns it.
func (r *Registry) Register(assetID string, targetPrice float64, destination string) model.AlertRule {
	rule := model.AlertRule{
		ID:          uuid.NewString(),
		AssetID:     assetID,
		TargetPrice: targetPrice,
		Destination: destination,
		CreatedAt:   r.now().UTC(),
	}

	r.mu.Lock()
	r.rules = append(r.rules, rule)
	r.mu.Unlock()
	return rule
}

// ForAsset returns a snapshot of the rules for assetID in insertion order.
func (r *Registry) ForAsset(assetID string) []model.AlertRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(r.rules, func(rule model.AlertRule, _ int) bool {
		return rule.AssetID == assetID
	})
}

// All returns a snapshot of every registered rule.
func (r *Registry) All() []model.AlertRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.AlertRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}
