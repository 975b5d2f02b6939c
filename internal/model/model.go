package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidSample reports a sample that must not enter history or evaluation.
var ErrInvalidSample = errors.New("invalid sample")

// Sample is one timestamped price observation for an asset.
type Sample struct {
	AssetID   string
	Price     float64
	Timestamp time.Time
}

// NewSample stamps a price observation with the supplied time in UTC.
func NewSample(assetID string, price float64, at time.Time) (Sample, error) {
	s := Sample{AssetID: assetID, Price: price, Timestamp: at.UTC()}
	if err := s.Validate(); err != nil {
		return Sample{}, err
	}
	return s, nil
}

// Validate enforces a non-empty asset and a strictly positive price.
func (s Sample) Validate() error {
	if strings.TrimSpace(s.AssetID) == "" {
		return fmt.Errorf("%w: asset id is empty", ErrInvalidSample)
	}
	if !(s.Price > 0) {
		return fmt.Errorf("%w: price %v for %s must be positive", ErrInvalidSample, s.Price, s.AssetID)
	}
	return nil
}

// AlertRule is a user-registered target price condition.
type AlertRule struct {
	ID          string
	AssetID     string
	TargetPrice float64
	Destination string
	CreatedAt   time.Time
}

// Satisfied reports whether price meets the rule. Only upward crossings count.
func (r AlertRule) Satisfied(price float64) bool {
	return price >= r.TargetPrice
}

// EventKind distinguishes the two alert conditions.
type EventKind string

const (
	PercentJump   EventKind = "percent_jump"
	TargetReached EventKind = "target_reached"
)

// FiringEvent is produced by the engine and consumed once by the dispatcher.
type FiringEvent struct {
	Kind         EventKind
	AssetID      string
	CurrentPrice float64
	// Reference holds the previous price for PercentJump and the target for TargetReached.
	Reference   float64
	ChangePct   float64
	Destination string
	RuleID      string
	Timestamp   time.Time
}
