package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/model"
)

// FiringRecord captures a dispatched alert for auditing.
type FiringRecord struct {
	ID           int64
	Kind         model.EventKind
	AssetID      string
	CurrentPrice decimal.Decimal
	Reference    decimal.Decimal
	ChangePct    decimal.Decimal
	Destination  string
	RuleID       *string
	Delivered    bool
	Error        *string
	FiredAt      time.Time
	CreatedAt    time.Time
}

// NewFiringRecord converts a firing event and its dispatch outcome into a record.
func NewFiringRecord(ev model.FiringEvent, dispatchErr error) FiringRecord {
	rec := FiringRecord{
		Kind:         ev.Kind,
		AssetID:      ev.AssetID,
		CurrentPrice: decimal.NewFromFloat(ev.CurrentPrice),
		Reference:    decimal.NewFromFloat(ev.Reference),
		ChangePct:    decimal.NewFromFloat(ev.ChangePct),
		Destination:  ev.Destination,
		Delivered:    dispatchErr == nil,
		FiredAt:      ev.Timestamp,
	}
	if ev.RuleID != "" {
		id := ev.RuleID
		rec.RuleID = &id
	}
	if dispatchErr != nil {
		msg := dispatchErr.Error()
		rec.Error = &msg
	}
	return rec
}
