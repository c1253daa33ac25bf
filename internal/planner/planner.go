// Package planner holds the contract every concrete planner
// (rule-based, LP/MILP, ML) implements, plus the validation and
// confidence-derivation logic common to all three. Grounded on the
// original BasePlanner: shared defaults, input validation, and a
// get_planner_info()-equivalent descriptor.
package planner

import (
	"context"
	"time"

	"github.com/rszemeti/solarbat-planner/internal/ports"
	"github.com/rszemeti/solarbat-planner/internal/slotgrid"
)

// Default efficiencies and profit margin, mirrored from the original
// BasePlanner class constants.
const (
	DefaultChargeEfficiency     = 0.95
	DefaultDischargeEfficiency  = 0.95
	DefaultMinProfitMarginPence = 2.0
)

// Inputs bundles everything a planner needs to build a Plan for a
// horizon. All slices must be the same length and in slot order;
// Validate enforces this.
type Inputs struct {
	Horizon      []slotgrid.Index
	ImportPrices []slotgrid.Price
	ExportPrices []slotgrid.Price
	Solar        []slotgrid.SolarPoint
	Load         []slotgrid.LoadPoint
	Battery      slotgrid.BatteryState
	Caps         slotgrid.Capabilities
}

// Validate mirrors BasePlanner.validate_inputs: every forecast slice
// must be non-empty and match the horizon length, and capabilities
// must carry positive capacity/rate figures.
func (in Inputs) Validate() error {
	n := len(in.Horizon)
	if n == 0 {
		return ports.NewError(ports.InvalidInput, "planner.Validate", "horizon is empty", nil)
	}
	for name, l := range map[string]int{
		"import prices":  len(in.ImportPrices),
		"export prices":  len(in.ExportPrices),
		"solar forecast": len(in.Solar),
		"load forecast":  len(in.Load),
	} {
		if l != n {
			return ports.NewError(ports.InvalidInput, "planner.Validate", name+" length does not match horizon", nil)
		}
	}
	if in.Caps.BatteryCapacityKWh <= 0 {
		return ports.NewError(ports.InvalidInput, "planner.Validate", "battery_capacity must be positive", nil)
	}
	if in.Caps.MaxChargeRateKW <= 0 || in.Caps.MaxDischargeRateKW <= 0 {
		return ports.NewError(ports.InvalidInput, "planner.Validate", "max charge/discharge rate must be positive", nil)
	}
	if in.Battery.SOCPercent < 0 || in.Battery.SOCPercent > 100 {
		return ports.NewError(ports.InvalidInput, "planner.Validate", "battery_soc out of range", nil)
	}
	return nil
}

// Info describes a planner implementation, mirroring
// BasePlanner.get_planner_info().
type Info struct {
	Name        string
	Type        string
	Version     string
	Description string
}

// Planner is the contract every concrete planner satisfies.
type Planner interface {
	Info() Info
	CreatePlan(ctx context.Context, in Inputs) (*slotgrid.Plan, error)
}

// Config carries the efficiency/margin knobs BasePlanner.__init__
// accepted, defaulted per the constants above.
type Config struct {
	ChargeEfficiency     float64
	DischargeEfficiency  float64
	MinProfitMarginPence float64
}

// DefaultConfig returns the original BasePlanner defaults.
func DefaultConfig() Config {
	return Config{
		ChargeEfficiency:     DefaultChargeEfficiency,
		DischargeEfficiency:  DefaultDischargeEfficiency,
		MinProfitMarginPence: DefaultMinProfitMarginPence,
	}
}

// RoundTripEfficiency is ChargeEfficiency * DischargeEfficiency.
func (c Config) RoundTripEfficiency() float64 {
	return c.ChargeEfficiency * c.DischargeEfficiency
}

// NewPlan is a small constructor shared by every concrete planner so
// GeneratedAt/PlannerName/Confidence are always set consistently.
// Confidence is derived from the count of predicted (as opposed to
// sourced) import-price slots, not the horizon length.
func NewPlan(now time.Time, plannerName string, slots []slotgrid.PlanSlot) *slotgrid.Plan {
	total := 0.0
	predicted := 0
	for _, s := range slots {
		total += s.Result.CostPence
		if s.ImportPrice.IsPredicted {
			predicted++
		}
	}
	return &slotgrid.Plan{
		GeneratedAt:    now,
		PlannerName:    plannerName,
		Slots:          slots,
		TotalCostPence: total,
		Confidence:     slotgrid.DeriveConfidence(predicted),
	}
}
