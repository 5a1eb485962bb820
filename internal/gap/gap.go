// Package gap finds the holes in stored observation history that a fill
// run must close.
package gap

import (
	"context"
	"fmt"

	"github.com/excessus1/openweather-pub/internal/store"
	"github.com/excessus1/openweather-pub/internal/timekey"
)

// Detector answers which keys of a history window still need fetching for
// one location at one granularity.
type Detector struct {
	Store       store.Store
	Granularity timekey.Granularity
	LocationID  int64
}

// Missing returns the window's keys with no stored observation, oldest
// first. A window nothing has been stored for comes back whole.
func (d Detector) Missing(ctx context.Context, w timekey.Window) ([]timekey.Key, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	stop, start := w.Stop.Unix(), w.Start.Unix()

	var (
		raw []int64
		err error
	)
	switch d.Granularity {
	case timekey.Hourly:
		raw, err = d.Store.MissingHourly(ctx, d.LocationID, stop, start)
	case timekey.Daily:
		raw, err = d.Store.MissingDaily(ctx, d.LocationID, stop, start)
	default:
		err = fmt.Errorf("unknown granularity %q", d.Granularity)
	}
	if err != nil {
		return nil, err
	}

	keys := make([]timekey.Key, 0, len(raw))
	for _, v := range raw {
		keys = append(keys, timekey.Key(v))
	}
	return keys, nil
}
