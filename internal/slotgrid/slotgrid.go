// Package slotgrid defines the half-hour time grid and the core value
// types every planner and the executor share: prices, forecasts,
// battery state, operating modes, and the resulting plan.
package slotgrid

import (
	"fmt"
	"time"
)

// SlotDuration is the fixed width of a planning slot.
const SlotDuration = 30 * time.Minute

// SlotHours is SlotDuration expressed in hours, used throughout the
// physics and planner arithmetic (kW * SlotHours == kWh).
const SlotHours = 0.5

// Index identifies a slot by its start time, truncated to the slot
// boundary. Two Index values compare equal iff they denote the same
// half-hour window.
type Index struct {
	Start time.Time
}

// NewIndex truncates t down to its enclosing half-hour boundary.
func NewIndex(t time.Time) Index {
	t = t.UTC()
	minute := 0
	if t.Minute() >= 30 {
		minute = 30
	}
	return Index{Start: time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, time.UTC)}
}

// End returns the exclusive end boundary of the slot.
func (i Index) End() time.Time { return i.Start.Add(SlotDuration) }

// Contains reports whether t falls within [Start, End).
func (i Index) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(i.Start) && t.Before(i.End())
}

// Next returns the index of the following slot.
func (i Index) Next() Index { return Index{Start: i.Start.Add(SlotDuration)} }

func (i Index) String() string { return i.Start.Format("2006-01-02T15:04Z") }

// Price is an import or export price for one slot, in pence per kWh.
// IsPredicted distinguishes a forecast/extrapolated price (e.g. today's
// price repeated for a slot beyond the day-ahead publication horizon)
// from one taken directly from the source feed.
type Price struct {
	Slot        Index
	PencePerKWh float64
	IsPredicted bool
}

// SolarPoint is a forecast generation estimate for one slot, in kW.
type SolarPoint struct {
	Slot Index
	KW   float64
}

// LoadPoint is a forecast household consumption estimate for one slot,
// in kW.
type LoadPoint struct {
	Slot Index
	KW   float64
}

// Capabilities describes the physical limits of the battery/inverter
// pairing. These are configuration, not state: they do not change
// slot to slot.
type Capabilities struct {
	BatteryCapacityKWh  float64
	MaxChargeRateKW     float64
	MaxDischargeRateKW  float64
	ChargeEfficiency    float64 // (0,1]
	DischargeEfficiency float64 // (0,1]
	ExportLimitKW       float64
	MinSOCPercent       float64
	MaxSOCPercent       float64

	// Optional thermal-preheat refinement (see SPEC_FULL.md §4). Zero
	// values mean preheat never activates.
	PreHeatPowerKW              float64
	PreHeatTempThresholdCelsius float64
	ThermalTimeConstantHours    float64
}

// RoundTripEfficiency is ChargeEfficiency * DischargeEfficiency.
func (c Capabilities) RoundTripEfficiency() float64 {
	return c.ChargeEfficiency * c.DischargeEfficiency
}

// BatteryState is the battery's live, time-varying state.
type BatteryState struct {
	SOCPercent  float64
	TempCelsius float64 // 0 means "unknown/not reported"
}

// Mode is the operating mode the inverter is asked to run a slot in.
type Mode string

const (
	SelfUse        Mode = "self_use"
	FeedInPriority Mode = "feed_in_priority"
	ForceCharge    Mode = "force_charge"
	ForceDischarge Mode = "force_discharge"
)

// SlotResult is the energy-balance outcome of simulating one slot
// under a chosen Mode. All quantities are kWh for the slot.
//
// Invariant: GridImportKWh + DischargeEfficiency*BatteryDischargeKWh + SolarUsedKWh
// == LoadKWh + BatteryChargeKWh + GridExportKWh + ClippedKWh, within 1e-6 kWh.
type SlotResult struct {
	Slot                Index
	Mode                Mode
	GridImportKWh       float64
	GridExportKWh       float64
	BatteryChargeKWh    float64
	BatteryDischargeKWh float64
	SolarUsedKWh        float64
	ClippedKWh          float64
	CostPence           float64
	SOCBeforePercent    float64
	SOCAfterPercent     float64
	PreHeatActive       bool
}

// balanceTolerance is the slack allowed when checking the slot energy
// balance invariant, in kWh.
const balanceTolerance = 1e-6

// CheckBalance validates the SlotResult's invariant, given the
// discharge efficiency and load/solar inputs used to produce it.
func (r SlotResult) CheckBalance(dischargeEfficiency, loadKWh, solarKWh float64) error {
	lhs := r.GridImportKWh + dischargeEfficiency*r.BatteryDischargeKWh + r.SolarUsedKWh
	rhs := loadKWh + r.BatteryChargeKWh + r.GridExportKWh + r.ClippedKWh
	diff := lhs - rhs
	if diff < 0 {
		diff = -diff
	}
	if diff > balanceTolerance {
		return fmt.Errorf("slot %s: energy balance violated: lhs=%.9f rhs=%.9f diff=%.9f", r.Slot, lhs, rhs, diff)
	}
	if r.SolarUsedKWh+r.ClippedKWh > solarKWh+balanceTolerance {
		return fmt.Errorf("slot %s: used+clipped solar %.9f exceeds available %.9f", r.Slot, r.SolarUsedKWh+r.ClippedKWh, solarKWh)
	}
	return nil
}

// PlanSlot pairs a slot's chosen mode and simulated result with the
// forecast inputs it was computed from, so the executor and accuracy
// tracker can later compare plan to reality.
type PlanSlot struct {
	Slot        Index
	Mode        Mode
	Result      SlotResult
	ImportPrice Price
	ExportPrice Price
	Solar       SolarPoint
	Load        LoadPoint
}

// Confidence summarises how trustworthy a Plan is, derived from how
// far into the future (and therefore how forecast-dependent) it reaches.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// DeriveConfidence implements the predicted-price-count -> confidence
// mapping shared by every planner: fewer than 10 predicted-price slots
// is high, fewer than 20 is medium, anything else is low. A plan built
// entirely from sourced (non-predicted) prices is always high
// confidence regardless of horizon length.
func DeriveConfidence(numPredictedSlots int) Confidence {
	switch {
	case numPredictedSlots < 10:
		return ConfidenceHigh
	case numPredictedSlots < 20:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Plan is the full output of a planner run: one PlanSlot per slot in
// the horizon plus summary metadata.
type Plan struct {
	GeneratedAt    time.Time
	PlannerName    string
	Slots          []PlanSlot
	TotalCostPence float64
	Confidence     Confidence
}

// SlotAt returns the PlanSlot covering t, if any.
func (p *Plan) SlotAt(t time.Time) (PlanSlot, bool) {
	for _, s := range p.Slots {
		if s.Slot.Contains(t) {
			return s, true
		}
	}
	return PlanSlot{}, false
}
