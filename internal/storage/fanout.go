package storage

import (
	"context"
	"errors"

	"pricewatch/internal/model"
)

// Fanout appends every sample to each underlying store. A failing store does
// not stop the others; their errors are joined.
type Fanout []SampleStore

// Append writes sample to all stores.
func (f Fanout) Append(ctx context.Context, sample model.Sample) error {
	var errs []error
	for _, store := range f {
		if store == nil {
			continue
		}
		if err := store.Append(ctx, sample); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ SampleStore = Fanout(nil)
