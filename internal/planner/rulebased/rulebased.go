// Package rulebased implements the rule-based planner: two strategic
// passes computed once per horizon (a feed-in-priority window found by
// backward simulation, and a pre-sunrise discharge window sized to the
// day's solar surplus) followed by a seven-rule per-slot decision
// ladder, grounded on the original rule_based_planner.py.
package rulebased

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rszemeti/solarbat-planner/internal/physics"
	"github.com/rszemeti/solarbat-planner/internal/planner"
	"github.com/rszemeti/solarbat-planner/internal/slotgrid"
)

// Thresholds groups every tunable the two strategic passes and the
// seven-rule ladder use. Defaults mirror the original planner's
// hard-coded constants.
type Thresholds struct {
	DaylightSolarKW               float64 // marks the start/end of the daylight window
	SurplusSafetyMarginKWh        float64 // 4.3.1 quick-check headroom slack, also the 4.3.2 target-SOC safety margin
	EODTargetSOCPercent           float64 // 4.3.1 backward-simulation target end-of-day SOC
	PreSunriseShortfallKWh        float64 // 4.3.2 minimum space_shortfall before a pre-sunrise discharge is worth it
	PreSunriseMinTargetSOCPercent float64 // 4.3.2 floor under which target_soc never drops
	ArbitrageSOCCeilingPercent    float64 // rule 3: force-charge only below this SOC
	LowSOCPercent                 float64 // rule 4: top-up threshold
	LowSOCFutureDeficitKWh        float64 // rule 4: minimum projected future deficit
	LowSOCPriceToleranceFactor    float64 // rule 4: import price must be within this factor of the future minimum
	HighSOCPercent                float64 // rule 5: wastage-avoidance threshold
	WastageFutureSurplusKWh       float64 // rule 5: minimum projected future solar surplus
	DischargeSOCFloorPercent      float64 // rule 6: discharge only above this SOC
	DischargeMarginPence          float64 // rule 6: required export-over-import margin
}

// DefaultThresholds mirrors the constants baked into the original
// rule-based planner.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DaylightSolarKW:               0.5,
		SurplusSafetyMarginKWh:        2.0,
		EODTargetSOCPercent:           15.0,
		PreSunriseShortfallKWh:        1.0,
		PreSunriseMinTargetSOCPercent: 15.0,
		ArbitrageSOCCeilingPercent:    92.0,
		LowSOCPercent:                 30.0,
		LowSOCFutureDeficitKWh:        0.5,
		LowSOCPriceToleranceFactor:    1.1,
		HighSOCPercent:                80.0,
		WastageFutureSurplusKWh:       2.0,
		DischargeSOCFloorPercent:      40.0,
		DischargeMarginPence:          2.0,
	}
}

// Planner is the rule-based implementation of planner.Planner.
type Planner struct {
	Config     planner.Config
	Thresholds Thresholds
	Physics    *physics.Model
	SunriseAt  func(day time.Time) time.Time // injected, grounded on suncalc-backed solar adapter
}

func New(cfg planner.Config, th Thresholds, caps slotgrid.Capabilities, sunriseAt func(time.Time) time.Time) *Planner {
	return &Planner{Config: cfg, Thresholds: th, Physics: physics.New(caps), SunriseAt: sunriseAt}
}

func (p *Planner) Info() planner.Info {
	return planner.Info{
		Name:        "rule_based",
		Type:        "heuristic",
		Version:     "1.0",
		Description: "Strategic feed-in/pre-sunrise windows plus a seven-rule per-slot decision ladder",
	}
}

// strategy is the pair of strategic passes computed once per horizon
// before the per-slot ladder runs.
type strategy struct {
	feedInStart, feedInEnd int // inclusive slot indices, or -1 if unused
	preSunStart, preSunEnd int // inclusive slot indices, or -1 if unused
	preSunTargetSOC        float64
}

func (p *Planner) CreatePlan(ctx context.Context, in planner.Inputs) (*slotgrid.Plan, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if p.Physics == nil {
		p.Physics = physics.New(in.Caps)
	} else {
		p.Physics.Caps = in.Caps
	}

	strat := p.buildStrategy(in)

	n := len(in.Horizon)
	slots := make([]slotgrid.PlanSlot, 0, n)
	battery := in.Battery

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		slot := in.Horizon[i]
		imp := in.ImportPrices[i]
		exp := in.ExportPrices[i]
		solar := in.Solar[i]
		load := in.Load[i]

		mode, rateKW, targetSOC := p.decideMode(i, imp, exp, solar, battery, in, strat)

		res, err := p.Physics.Simulate(slot, mode, solar.KW, load.KW, imp.PencePerKWh, exp.PencePerKWh, battery, rateKW, rateKW, targetSOC)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slotgrid.PlanSlot{
			Slot: slot, Mode: mode, Result: res,
			ImportPrice: imp, ExportPrice: exp, Solar: solar, Load: load,
		})
		battery.SOCPercent = res.SOCAfterPercent
	}

	return planner.NewPlan(time.Now(), p.Info().Name, slots), nil
}

// decideMode applies, in priority order: the pre-sunrise discharge
// window (4.3.2, rule 1), the feed-in-priority window (4.3.1, rule 2),
// then the remaining five rules of the 4.3.3 ladder.
func (p *Planner) decideMode(i int, imp, exp slotgrid.Price, solar slotgrid.SolarPoint, battery slotgrid.BatteryState, in planner.Inputs, strat strategy) (slotgrid.Mode, float64, *float64) {
	if strat.preSunStart >= 0 && i >= strat.preSunStart && i <= strat.preSunEnd {
		target := strat.preSunTargetSOC
		return slotgrid.ForceDischarge, in.Caps.MaxDischargeRateKW, &target
	}
	if strat.feedInStart >= 0 && i >= strat.feedInStart && i <= strat.feedInEnd {
		return slotgrid.FeedInPriority, 0, nil
	}
	mode, rate := p.ladder(i, imp, exp, solar, battery, in)
	return mode, rate, nil
}

// buildStrategy runs the two strategic passes (4.3.1, 4.3.2) once,
// before any per-slot decision is made.
func (p *Planner) buildStrategy(in planner.Inputs) strategy {
	strat := strategy{feedInStart: -1, feedInEnd: -1, preSunStart: -1, preSunEnd: -1}
	start, end := p.daylightWindow(in)
	strat.feedInStart, strat.feedInEnd = p.feedInWindow(in, start, end)
	strat.preSunStart, strat.preSunEnd, strat.preSunTargetSOC = p.preSunriseWindow(in, strat.feedInStart, strat.feedInEnd)
	return strat
}

// daylightWindow returns the first and last slot index whose forecast
// solar exceeds the daylight threshold, or (-1,-1) if none do.
func (p *Planner) daylightWindow(in planner.Inputs) (int, int) {
	start, end := -1, -1
	for i, s := range in.Solar {
		if s.KW > p.Thresholds.DaylightSolarKW {
			if start < 0 {
				start = i
			}
			end = i
		}
	}
	return start, end
}

// feedInWindow implements 4.3.1: the quick-exit check, then a backward
// simulation from a 15% end-of-day SOC target that finds the latest
// slot at which Self-Use would already have overflowed max_soc — the
// transition point. Feed-in-Priority runs from the start of daylight
// up to (not including) that transition.
func (p *Planner) feedInWindow(in planner.Inputs, daylightStart, daylightEnd int) (int, int) {
	if daylightStart < 0 {
		return -1, -1
	}
	th := p.Thresholds
	caps := in.Caps

	netSurplusKWh := 0.0
	peakSolarKW := 0.0
	for t := daylightStart; t <= daylightEnd; t++ {
		net := in.Solar[t].KW*slotgrid.SlotHours - in.Load[t].KW*slotgrid.SlotHours
		if net > 0 {
			netSurplusKWh += net
		}
		if in.Solar[t].KW > peakSolarKW {
			peakSolarKW = in.Solar[t].KW
		}
	}
	headroomKWh := (caps.MaxSOCPercent - in.Battery.SOCPercent) / 100 * caps.BatteryCapacityKWh
	if netSurplusKWh <= headroomKWh+th.SurplusSafetyMarginKWh && peakSolarKW <= caps.ExportLimitKW {
		return -1, -1
	}

	// Backward simulation: step from the end of the horizon to the
	// start of daylight, assuming Self-Use throughout, reconstructing
	// what SOC would have had to be at the start of each slot for the
	// horizon to end at the target EOD SOC. The first (latest) slot
	// where that back-computed starting SOC would exceed max_soc is
	// the transition point.
	socAfter := th.EODTargetSOCPercent
	transition := daylightEnd + 1
	overflowed := false
	for t := len(in.Horizon) - 1; t >= daylightStart; t-- {
		netKWh := in.Solar[t].KW*slotgrid.SlotHours - in.Load[t].KW*slotgrid.SlotHours
		deltaPct := 0.0
		if caps.BatteryCapacityKWh > 0 {
			deltaPct = netKWh / caps.BatteryCapacityKWh * 100
		}
		socBefore := socAfter - deltaPct
		if socBefore > caps.MaxSOCPercent {
			transition = t
			overflowed = true
			break
		}
		socAfter = socBefore
	}
	if !overflowed || transition > daylightEnd {
		// The entire daylight window can run Self-Use without overflow.
		return -1, -1
	}
	if transition <= daylightStart {
		return -1, -1
	}
	return daylightStart, transition - 1
}

// preSunriseWindow implements 4.3.2: when full-day Feed-in-Priority
// still cannot absorb the day's solar surplus, a discharge window is
// placed immediately before sunrise, sized to reach a target SOC that
// leaves enough headroom for the day's surplus plus a safety margin.
func (p *Planner) preSunriseWindow(in planner.Inputs, feedInStart, feedInEnd int) (int, int, float64) {
	if p.SunriseAt == nil || len(in.Horizon) == 0 {
		return -1, -1, 0
	}
	th := p.Thresholds
	caps := in.Caps

	sunrise := p.SunriseAt(in.Horizon[0].Start)
	sunriseIdx := indexAtOrAfter(in.Horizon, sunrise)
	if sunriseIdx <= 0 {
		return -1, -1, 0
	}

	windowStart, windowEnd := feedInStart, feedInEnd
	if windowStart < 0 {
		windowStart, windowEnd = defaultDaytimeWindow(in.Horizon)
	}
	netSolarKWh := 0.0
	if windowStart >= 0 {
		for t := windowStart; t <= windowEnd && t < len(in.Horizon); t++ {
			net := in.Solar[t].KW*slotgrid.SlotHours - in.Load[t].KW*slotgrid.SlotHours
			if net > 0 {
				netSolarKWh += net
			}
		}
	}

	// Forward-simulate natural drain (load minus overnight solar) from
	// now to sunrise to project the SOC the battery would reach
	// unassisted.
	socAtSunrise := in.Battery.SOCPercent
	for t := 0; t < sunriseIdx; t++ {
		netKWh := in.Solar[t].KW*slotgrid.SlotHours - in.Load[t].KW*slotgrid.SlotHours
		deltaPct := 0.0
		if caps.BatteryCapacityKWh > 0 {
			deltaPct = netKWh / caps.BatteryCapacityKWh * 100
		}
		socAtSunrise = clampPercent(socAtSunrise+deltaPct, caps.MinSOCPercent, caps.MaxSOCPercent)
	}
	headroomAtSunriseKWh := (caps.MaxSOCPercent - socAtSunrise) / 100 * caps.BatteryCapacityKWh

	spaceShortfallKWh := netSolarKWh - headroomAtSunriseKWh
	if spaceShortfallKWh <= th.PreSunriseShortfallKWh {
		return -1, -1, 0
	}

	targetSOC := caps.MaxSOCPercent - (netSolarKWh+th.SurplusSafetyMarginKWh)/caps.BatteryCapacityKWh*100
	if targetSOC < th.PreSunriseMinTargetSOCPercent {
		targetSOC = th.PreSunriseMinTargetSOCPercent
	}

	energyToShedKWh := (in.Battery.SOCPercent - targetSOC) / 100 * caps.BatteryCapacityKWh
	if energyToShedKWh <= 0 || caps.MaxDischargeRateKW <= 0 {
		return -1, -1, 0
	}
	durationHours := energyToShedKWh / caps.MaxDischargeRateKW
	numSlots := int(math.Ceil(durationHours / slotgrid.SlotHours))
	if numSlots <= 0 {
		return -1, -1, 0
	}

	endIdx := sunriseIdx - 1
	startIdx := endIdx - numSlots + 1
	if startIdx < 0 {
		startIdx = 0
	}
	if startIdx > endIdx {
		return -1, -1, 0
	}
	return startIdx, endIdx, targetSOC
}

// ladder implements the remaining five rules of 4.3.3's seven-rule
// table (rules 1 and 2, the pre-sunrise and feed-in windows, are
// applied by decideMode before this runs), evaluated in priority
// order: the first matching rule wins.
func (p *Planner) ladder(i int, imp, exp slotgrid.Price, solar slotgrid.SolarPoint, battery slotgrid.BatteryState, in planner.Inputs) (slotgrid.Mode, float64) {
	th := p.Thresholds
	caps := in.Caps

	// Rule 3: arbitrage — export beats import by more than the
	// round-trip-loss margin and the battery has room left.
	if exp.PencePerKWh > imp.PencePerKWh+p.Config.MinProfitMarginPence && battery.SOCPercent < th.ArbitrageSOCCeilingPercent {
		return slotgrid.ForceCharge, caps.MaxChargeRateKW
	}

	futureDeficitKWh, futureMinImportPence, futureSurplusKWh := futureOutlook(i, in)

	// Rule 4: low SOC with a real future deficit and a currently
	// favourable price relative to what's still to come — top up now
	// rather than risk paying more later.
	if battery.SOCPercent < th.LowSOCPercent && futureDeficitKWh > th.LowSOCFutureDeficitKWh &&
		imp.PencePerKWh <= futureMinImportPence*th.LowSOCPriceToleranceFactor {
		return slotgrid.ForceCharge, caps.MaxChargeRateKW
	}

	// Rule 5: battery already well charged and more solar surplus is
	// still coming — avoid forcing further charge that would only
	// clip later.
	if battery.SOCPercent > th.HighSOCPercent && futureSurplusKWh > th.WastageFutureSurplusKWh {
		return slotgrid.SelfUse, 0
	}

	// Rule 6: profitable discharge — export still beats import by the
	// (smaller) discharge margin and there's charge to spare.
	if exp.PencePerKWh > imp.PencePerKWh+th.DischargeMarginPence && battery.SOCPercent > th.DischargeSOCFloorPercent {
		return slotgrid.ForceDischarge, caps.MaxDischargeRateKW
	}

	// Rule 7: default.
	return slotgrid.SelfUse, 0
}

// futureOutlook scans the remaining slots after i (exclusive) and
// returns the projected energy deficit (load exceeding solar), the
// lowest import price still to come, and the projected solar surplus
// (solar exceeding load), all used by rules 4 and 5.
func futureOutlook(i int, in planner.Inputs) (deficitKWh, minImportPence, surplusKWh float64) {
	minImportPence = math.Inf(1)
	for t := i + 1; t < len(in.Horizon); t++ {
		net := in.Solar[t].KW*slotgrid.SlotHours - in.Load[t].KW*slotgrid.SlotHours
		if net < 0 {
			deficitKWh += -net
		} else {
			surplusKWh += net
		}
		if in.ImportPrices[t].PencePerKWh < minImportPence {
			minImportPence = in.ImportPrices[t].PencePerKWh
		}
	}
	if math.IsInf(minImportPence, 1) {
		minImportPence = 0
	}
	return deficitKWh, minImportPence, surplusKWh
}

// defaultDaytimeWindow returns the slot indices spanning 06:00-18:00
// (UTC) of the horizon's first day, used by 4.3.2 step 1 when no
// feed-in window was found.
func defaultDaytimeWindow(horizon []slotgrid.Index) (int, int) {
	if len(horizon) == 0 {
		return -1, -1
	}
	day := horizon[0].Start
	from := time.Date(day.Year(), day.Month(), day.Day(), 6, 0, 0, 0, time.UTC)
	to := time.Date(day.Year(), day.Month(), day.Day(), 18, 0, 0, 0, time.UTC)
	start := indexAtOrAfter(horizon, from)
	end := indexAtOrAfter(horizon, to) - 1
	if start >= len(horizon) {
		return -1, -1
	}
	if end >= len(horizon) {
		end = len(horizon) - 1
	}
	if end < start {
		return -1, -1
	}
	return start, end
}

// indexAtOrAfter returns the index of the first slot starting at or
// after t, or len(horizon) if none does. Horizon is in slot order.
func indexAtOrAfter(horizon []slotgrid.Index, t time.Time) int {
	return sort.Search(len(horizon), func(i int) bool { return !horizon[i].Start.Before(t) })
}

func clampPercent(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
