// Package loadhistory provides a naive household-consumption forecast
// built from historical measured samples, bucketed by weekday and
// time-of-day. Household load has no equivalent device to poll ahead
// of time (unlike prices or solar), so the forecast is an average over
// what was actually measured at the same point in past weeks.
package loadhistory

import (
	"context"
	"time"

	"github.com/rszemeti/solarbat-planner/internal/ports"
	"github.com/rszemeti/solarbat-planner/internal/slotgrid"
	"github.com/rszemeti/solarbat-planner/internal/store"
)

// PortAdapter implements ports.LoadForecast over historical load
// samples recorded by the controller's accuracy tracker.
type PortAdapter struct {
	Store         *store.Store
	LookbackWeeks int
	DefaultLoadKW float64 // used for buckets with no history yet
}

func NewPortAdapter(st *store.Store, lookbackWeeks int, defaultLoadKW float64) *PortAdapter {
	if lookbackWeeks <= 0 {
		lookbackWeeks = 8
	}
	return &PortAdapter{Store: st, LookbackWeeks: lookbackWeeks, DefaultLoadKW: defaultLoadKW}
}

// bucketKey identifies a recurring weekly time-of-day slot.
type bucketKey struct {
	weekday time.Weekday
	minute  int // minutes since midnight, truncated to the slot grid
}

func (a *PortAdapter) GetForecast(ctx context.Context, from, to time.Time) ([]slotgrid.LoadPoint, error) {
	buckets := make(map[bucketKey][]float64)
	if a.Store != nil {
		since := from.AddDate(0, 0, -7*a.LookbackWeeks)
		samples, err := a.Store.LoadSamplesSince(ctx, since)
		if err != nil {
			return nil, ports.NewError(ports.ForecastUnavailable, "loadhistory.GetForecast", "loading historical samples", err)
		}
		for _, s := range samples {
			k := keyFor(s.Slot.Start)
			buckets[k] = append(buckets[k], s.LoadKW)
		}
	}

	var points []slotgrid.LoadPoint
	for t := slotgrid.NewIndex(from); t.Start.Before(to); t = t.Next() {
		k := keyFor(t.Start)
		kw := a.DefaultLoadKW
		if vals, ok := buckets[k]; ok && len(vals) > 0 {
			kw = average(vals)
		}
		points = append(points, slotgrid.LoadPoint{Slot: t, KW: kw})
	}
	return points, nil
}

func keyFor(t time.Time) bucketKey {
	minute := t.Hour()*60 + t.Minute()
	minute -= minute % int(slotgrid.SlotDuration.Minutes())
	return bucketKey{weekday: t.Weekday(), minute: minute}
}

func average(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
