package ports

import (
	"context"
	"time"

	"github.com/rszemeti/solarbat-planner/internal/slotgrid"
)

// PriceSource supplies import and export electricity prices for a
// time window. Implementations may mix real day-ahead data with
// predicted/extrapolated tail slots; callers distinguish the two via
// Price.IsPredicted.
type PriceSource interface {
	GetPrices(ctx context.Context, from, to time.Time) ([]slotgrid.Price, []slotgrid.Price, error)
}

// SolarForecast supplies generation forecasts for a time window.
type SolarForecast interface {
	GetForecast(ctx context.Context, from, to time.Time) ([]slotgrid.SolarPoint, error)
}

// LoadForecast supplies household consumption forecasts for a time
// window.
type LoadForecast interface {
	GetForecast(ctx context.Context, from, to time.Time) ([]slotgrid.LoadPoint, error)
}

// InverterState is a point-in-time snapshot read back from the
// physical inverter, used by the Plan Executor to decide whether a
// write is actually needed.
type InverterState struct {
	Timestamp            time.Time
	Mode                 slotgrid.Mode
	BatterySOCPercent    float64
	ActiveChargeSlots    []slotgrid.Index
	ActiveDischargeSlots []slotgrid.Index
}

// InverterStateReader reads the inverter's current state.
type InverterStateReader interface {
	Read(ctx context.Context) (InverterState, error)
}

// InverterCommander issues control writes to the inverter. Every
// method returns (true, nil) on a confirmed write, (false, nil) when
// the command was a deliberate no-op (e.g. dry-run), and a non-nil
// error (Kind DeviceIOFailure) on any I/O failure.
type InverterCommander interface {
	ForceCharge(ctx context.Context, slot slotgrid.Index, rateKW float64) (bool, error)
	ForceDischarge(ctx context.Context, slot slotgrid.Index, rateKW float64) (bool, error)
	ClearChargeSlots(ctx context.Context) (bool, error)
	ClearDischargeSlots(ctx context.Context) (bool, error)
	SetMode(ctx context.Context, mode slotgrid.Mode) (bool, error)
}
