// Package physics simulates, slot by slot, how the inverter actually
// routes energy (solar, battery, grid) under a chosen operating mode.
// It is grounded on the original Python InverterPhysics model: four
// simulation functions, one per slotgrid.Mode.
package physics

import (
	"github.com/shopspring/decimal"

	"github.com/rszemeti/solarbat-planner/internal/ports"
	"github.com/rszemeti/solarbat-planner/internal/slotgrid"
)

// Model wraps a Capabilities set and exposes the four mode
// simulations plus the shared SOC<->kWh helpers they all use.
type Model struct {
	Caps slotgrid.Capabilities
}

func New(caps slotgrid.Capabilities) *Model { return &Model{Caps: caps} }

func (m *Model) socHeadroomKWh(socPercent float64) float64 {
	return (m.Caps.MaxSOCPercent - socPercent) / 100 * m.Caps.BatteryCapacityKWh
}

func (m *Model) socAvailableKWh(socPercent float64) float64 {
	return (socPercent - m.Caps.MinSOCPercent) / 100 * m.Caps.BatteryCapacityKWh
}

func (m *Model) kwhToSOCDelta(kwh float64) float64 {
	if m.Caps.BatteryCapacityKWh <= 0 {
		return 0
	}
	return kwh / m.Caps.BatteryCapacityKWh * 100
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Simulate runs the mode-appropriate simulation for one slot and
// returns the resulting SlotResult, with Mode/Slot/prices/SOC already
// populated. solarKW and loadKW are the forecast inputs for the slot;
// importPence/exportPence price the resulting grid flows. targetSOC,
// when non-nil, bounds a ForceDischarge so it never drives SOC below
// the given percentage; it is ignored by every other mode.
func (m *Model) Simulate(slot slotgrid.Index, mode slotgrid.Mode, solarKW, loadKW, importPence, exportPence float64, battery slotgrid.BatteryState, chargeRateKW, dischargeRateKW float64, targetSOC *float64) (slotgrid.SlotResult, error) {
	switch mode {
	case slotgrid.SelfUse:
		return m.simulateSelfUse(slot, solarKW, loadKW, importPence, exportPence, battery), nil
	case slotgrid.FeedInPriority:
		return m.simulateFeedInPriority(slot, solarKW, loadKW, importPence, exportPence, battery), nil
	case slotgrid.ForceCharge:
		return m.simulateForceCharge(slot, solarKW, loadKW, importPence, exportPence, battery, chargeRateKW), nil
	case slotgrid.ForceDischarge:
		return m.simulateForceDischarge(slot, solarKW, loadKW, importPence, exportPence, battery, dischargeRateKW, targetSOC), nil
	default:
		return slotgrid.SlotResult{}, ports.NewError(ports.InvalidInput, "physics.Simulate", "unknown mode: "+string(mode), nil)
	}
}

func solarKWh(solarKW float64) float64 { return solarKW * slotgrid.SlotHours }
func loadKWh(loadKW float64) float64   { return loadKW * slotgrid.SlotHours }

// simulateSelfUse: solar serves load first, surplus charges the
// battery, further surplus exports (capped), remainder clips;
// deficit is drawn from the battery, then the grid.
func (m *Model) simulateSelfUse(slot slotgrid.Index, solarKW, loadKW, importPence, exportPence float64, battery slotgrid.BatteryState) slotgrid.SlotResult {
	solar := solarKWh(solarKW)
	load := loadKWh(loadKW)
	r := slotgrid.SlotResult{Slot: slot, Mode: slotgrid.SelfUse, SOCBeforePercent: battery.SOCPercent}

	if solar >= load {
		r.SolarUsedKWh = load
		surplus := solar - load
		headroom := m.socHeadroomKWh(battery.SOCPercent)
		chargeCap := m.Caps.MaxChargeRateKW * slotgrid.SlotHours
		charge := clamp(surplus, 0, minF(headroom/m.Caps.ChargeEfficiency, chargeCap))
		r.BatteryChargeKWh = charge
		remaining := surplus - charge
		export := clamp(remaining, 0, m.Caps.ExportLimitKW*slotgrid.SlotHours)
		r.GridExportKWh = export
		r.ClippedKWh = remaining - export
	} else {
		deficit := load - solar
		r.SolarUsedKWh = solar
		available := m.socAvailableKWh(battery.SOCPercent)
		dischargeCap := m.Caps.MaxDischargeRateKW * slotgrid.SlotHours
		maxDischargeAC := minF(available*m.Caps.DischargeEfficiency, dischargeCap*m.Caps.DischargeEfficiency)
		dischargeAC := clamp(deficit, 0, maxDischargeAC)
		dischargeDC := 0.0
		if m.Caps.DischargeEfficiency > 0 {
			dischargeDC = dischargeAC / m.Caps.DischargeEfficiency
		}
		r.BatteryDischargeKWh = dischargeDC
		r.GridImportKWh = deficit - dischargeAC
	}

	m.finalizeSOC(&r, battery)
	m.cost(&r, importPence, exportPence)
	return r
}

// simulateFeedInPriority: solar goes to the grid first (up to the
// export limit), then to load, then charges the battery, remainder
// clips. Deficit still falls back to battery then grid.
func (m *Model) simulateFeedInPriority(slot slotgrid.Index, solarKW, loadKW, importPence, exportPence float64, battery slotgrid.BatteryState) slotgrid.SlotResult {
	solar := solarKWh(solarKW)
	load := loadKWh(loadKW)
	r := slotgrid.SlotResult{Slot: slot, Mode: slotgrid.FeedInPriority, SOCBeforePercent: battery.SOCPercent}

	exportCap := m.Caps.ExportLimitKW * slotgrid.SlotHours
	export := minF(solar, exportCap)
	remainderAfterExport := solar - export

	toLoad := minF(remainderAfterExport, load)
	r.SolarUsedKWh = toLoad
	remainderAfterLoad := remainderAfterExport - toLoad

	headroom := m.socHeadroomKWh(battery.SOCPercent)
	chargeCap := m.Caps.MaxChargeRateKW * slotgrid.SlotHours
	charge := clamp(remainderAfterLoad, 0, minF(headroom/m.Caps.ChargeEfficiency, chargeCap))
	r.BatteryChargeKWh = charge
	r.ClippedKWh = remainderAfterLoad - charge
	r.GridExportKWh = export

	deficit := load - toLoad
	if deficit > 0 {
		available := m.socAvailableKWh(battery.SOCPercent)
		dischargeCap := m.Caps.MaxDischargeRateKW * slotgrid.SlotHours
		maxDischargeAC := minF(available*m.Caps.DischargeEfficiency, dischargeCap*m.Caps.DischargeEfficiency)
		dischargeAC := clamp(deficit, 0, maxDischargeAC)
		dischargeDC := 0.0
		if m.Caps.DischargeEfficiency > 0 {
			dischargeDC = dischargeAC / m.Caps.DischargeEfficiency
		}
		r.BatteryDischargeKWh = dischargeDC
		r.GridImportKWh = deficit - dischargeAC
	}

	m.finalizeSOC(&r, battery)
	m.cost(&r, importPence, exportPence)
	return r
}

// simulateForceCharge: the battery is charged from the grid at
// rateKW, plus any available solar surplus; if the battery is below
// its preheat threshold, PreHeatPowerKW of the charge budget is
// reserved for preheat rather than contributing SOC delta.
func (m *Model) simulateForceCharge(slot slotgrid.Index, solarKW, loadKW, importPence, exportPence float64, battery slotgrid.BatteryState, rateKW float64) slotgrid.SlotResult {
	solar := solarKWh(solarKW)
	load := loadKWh(loadKW)
	r := slotgrid.SlotResult{Slot: slot, Mode: slotgrid.ForceCharge, SOCBeforePercent: battery.SOCPercent}

	r.SolarUsedKWh = minF(solar, load)
	deficit := load - r.SolarUsedKWh
	solarSurplus := solar - r.SolarUsedKWh

	preheat := 0.0
	if m.Caps.PreHeatPowerKW > 0 && battery.TempCelsius != 0 && battery.TempCelsius < m.Caps.PreHeatTempThresholdCelsius {
		preheat = minF(m.Caps.PreHeatPowerKW*slotgrid.SlotHours, rateKW*slotgrid.SlotHours)
		r.PreHeatActive = true
	}

	headroom := m.socHeadroomKWh(battery.SOCPercent)
	chargeCap := m.Caps.MaxChargeRateKW * slotgrid.SlotHours
	gridChargeTarget := clamp(rateKW*slotgrid.SlotHours-preheat, 0, chargeCap)
	gridCharge := minF(gridChargeTarget, headroom/m.Caps.ChargeEfficiency)
	solarCharge := minF(solarSurplus, (headroom-gridCharge*m.Caps.ChargeEfficiency)/m.Caps.ChargeEfficiency)
	if solarCharge < 0 {
		solarCharge = 0
	}

	r.BatteryChargeKWh = gridCharge + solarCharge
	r.GridImportKWh = deficit + gridCharge + preheat
	r.GridExportKWh = 0
	r.ClippedKWh = maxF(solarSurplus-solarCharge, 0)

	m.finalizeSOC(&r, battery)
	// The preheat draw is booked on the battery side of the balance
	// only after the SOC update, so it adds no SOC delta.
	r.BatteryChargeKWh += preheat
	m.cost(&r, importPence, exportPence)
	return r
}

// simulateForceDischarge: the battery discharges at rateKW, bounded
// by available energy and, when targetSOC is given, by
// (soc_start - targetSOC)*capacity/100 so the slot never discharges
// past the requested floor; AC-side output serves load first, surplus
// exports.
func (m *Model) simulateForceDischarge(slot slotgrid.Index, solarKW, loadKW, importPence, exportPence float64, battery slotgrid.BatteryState, rateKW float64, targetSOC *float64) slotgrid.SlotResult {
	solar := solarKWh(solarKW)
	load := loadKWh(loadKW)
	r := slotgrid.SlotResult{Slot: slot, Mode: slotgrid.ForceDischarge, SOCBeforePercent: battery.SOCPercent}

	r.SolarUsedKWh = minF(solar, load)
	remainingLoad := load - r.SolarUsedKWh
	solarSurplus := solar - r.SolarUsedKWh

	available := m.socAvailableKWh(battery.SOCPercent)
	if targetSOC != nil {
		boundedAvailable := (battery.SOCPercent - *targetSOC) / 100 * m.Caps.BatteryCapacityKWh
		available = minF(available, maxF(boundedAvailable, 0))
	}
	dischargeCap := m.Caps.MaxDischargeRateKW * slotgrid.SlotHours
	dischargeDC := clamp(rateKW*slotgrid.SlotHours, 0, minF(available, dischargeCap))
	dischargeAC := dischargeDC * m.Caps.DischargeEfficiency
	r.BatteryDischargeKWh = dischargeDC

	toLoad := minF(dischargeAC, remainingLoad)
	r.GridImportKWh = remainingLoad - toLoad
	exportFromDischarge := dischargeAC - toLoad
	exportCap := m.Caps.ExportLimitKW * slotgrid.SlotHours
	export := minF(solarSurplus+exportFromDischarge, exportCap)
	r.GridExportKWh = export
	r.ClippedKWh = maxF(solarSurplus+exportFromDischarge-export, 0)

	m.finalizeSOC(&r, battery)
	m.cost(&r, importPence, exportPence)
	return r
}

func (m *Model) finalizeSOC(r *slotgrid.SlotResult, battery slotgrid.BatteryState) {
	delta := m.kwhToSOCDelta(r.BatteryChargeKWh) - m.kwhToSOCDelta(r.BatteryDischargeKWh)
	r.SOCAfterPercent = clamp(battery.SOCPercent+delta, m.Caps.MinSOCPercent, m.Caps.MaxSOCPercent)
}

// cost prices the slot in decimal pence rather than float64, so that
// import/export charges rounded to the hundredth of a penny don't
// silently drift across a plan's worth of slot-by-slot summation.
func (m *Model) cost(r *slotgrid.SlotResult, importPence, exportPence float64) {
	imported := decimal.NewFromFloat(r.GridImportKWh).Mul(decimal.NewFromFloat(importPence))
	exported := decimal.NewFromFloat(r.GridExportKWh).Mul(decimal.NewFromFloat(exportPence))
	net := imported.Sub(exported).Round(2)
	r.CostPence, _ = net.Float64()
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
