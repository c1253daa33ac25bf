// Package lp implements the LP/MILP planner: a linear program over the
// whole horizon that chooses battery charge/discharge/grid flows to
// minimize total cost, subject to state-of-charge and rate limits.
// Grounded on the original LinearProgrammingPlanner (PuLP/CBC), solved
// here with gonum's simplex solver.
//
// The original formulation uses two binary variables per slot
// (is_charging, use_grid_first) to enforce charge/discharge mutual
// exclusion and grid-first export gating. Those are dropped from the
// LP itself here: under efficiency < 1, simultaneous charge and
// discharge in the same slot always wastes energy to round-trip loss,
// so the continuous relaxation never chooses to do both at once —
// mutual exclusion falls out of the objective rather than needing a
// Big-M constraint (documented in DESIGN.md). The grid-first gating
// and per-slot Mode label are instead decided by a post-solve decode
// step that mirrors the original's decode rules.
package lp

import (
	"context"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/rszemeti/solarbat-planner/internal/physics"
	"github.com/rszemeti/solarbat-planner/internal/planner"
	"github.com/rszemeti/solarbat-planner/internal/ports"
	"github.com/rszemeti/solarbat-planner/internal/slotgrid"
)

// ClippingPenaltyPence mirrors the original planner's clipping_penalty
// constant: a per-kWh pseudo-cost added for forecast solar the plan
// would have to clip, so the solver prefers charging/exporting it
// instead whenever that's feasible.
const ClippingPenaltyPence = 50.0

// MinFinalSOCPercent mirrors the original's soft terminal-SOC target,
// enforced here as a hard lower bound on the last slot's SOC (a
// simplification of the original's soft shortfall penalty term).
const MinFinalSOCPercent = 40.0

// SolverWallClockCap is the maximum time the LP solve is allowed to
// run, per the concurrency/resource model.
const SolverWallClockCap = 30 * time.Second

// Planner is the LP/MILP implementation of planner.Planner.
type Planner struct {
	Config  planner.Config
	Physics *physics.Model
}

func New(cfg planner.Config, caps slotgrid.Capabilities) *Planner {
	return &Planner{Config: cfg, Physics: physics.New(caps)}
}

func (p *Planner) Info() planner.Info {
	return planner.Info{
		Name:        "lp_milp",
		Type:        "optimization",
		Version:     "1.0",
		Description: "Whole-horizon linear program minimizing grid cost plus solar-clipping penalty",
	}
}

// variable layout, 5 per slot: [charge, discharge, grid_import, grid_export, clipped]
const varsPerSlot = 5

func (p *Planner) CreatePlan(ctx context.Context, in planner.Inputs) (*slotgrid.Plan, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if p.Physics == nil {
		p.Physics = physics.New(in.Caps)
	} else {
		p.Physics.Caps = in.Caps
	}

	ctx, cancel := context.WithTimeout(ctx, SolverWallClockCap)
	defer cancel()

	n := len(in.Horizon)
	caps := in.Caps

	c, A, b, err := p.buildProblem(in)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	var optX []float64
	var solveErr error
	go func() {
		defer close(done)
		_, optX, solveErr = lp.Simplex(nil, c, A, b, 0)
	}()

	select {
	case <-ctx.Done():
		return p.fallbackPlan(in), nil
	case <-done:
	}

	if solveErr != nil {
		return p.fallbackPlan(in), nil
	}

	slots := make([]slotgrid.PlanSlot, 0, n)
	battery := in.Battery
	for t := 0; t < n; t++ {
		base := t * varsPerSlot
		charge := optX[base+0]
		discharge := optX[base+1]

		mode, rateKW := p.decodeMode(in, t, charge, discharge, caps)

		res, err := p.Physics.Simulate(in.Horizon[t], mode, in.Solar[t].KW, in.Load[t].KW, in.ImportPrices[t].PencePerKWh, in.ExportPrices[t].PencePerKWh, battery, rateKW, rateKW, nil)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slotgrid.PlanSlot{
			Slot: in.Horizon[t], Mode: mode, Result: res,
			ImportPrice: in.ImportPrices[t], ExportPrice: in.ExportPrices[t], Solar: in.Solar[t], Load: in.Load[t],
		})
		battery.SOCPercent = res.SOCAfterPercent
	}

	return planner.NewPlan(time.Now(), p.Info().Name, slots), nil
}

// decodeMode mirrors the original's post-solve mode decode: grid-first
// when export clearly dominates the slot's flow, force-charge when the
// LP chose to charge, force-discharge when it chose to discharge,
// otherwise self-use.
func (p *Planner) decodeMode(in planner.Inputs, t int, charge, discharge float64, caps slotgrid.Capabilities) (slotgrid.Mode, float64) {
	const epsilon = 1e-6
	solarKW := in.Solar[t].KW

	switch {
	case solarKW < 3.0 && in.ExportPrices[t].PencePerKWh >= in.ImportPrices[t].PencePerKWh:
		return slotgrid.FeedInPriority, 0
	case charge > epsilon:
		return slotgrid.ForceCharge, charge / slotgrid.SlotHours
	case discharge > epsilon:
		return slotgrid.ForceDischarge, discharge / slotgrid.SlotHours
	default:
		return slotgrid.SelfUse, 0
	}
}

// fallbackPlan mirrors the original's non-Optimal fallback: an
// all-self-use plan with low confidence, used when the solver times
// out or fails to find a feasible solution.
func (p *Planner) fallbackPlan(in planner.Inputs) *slotgrid.Plan {
	battery := in.Battery
	slots := make([]slotgrid.PlanSlot, 0, len(in.Horizon))
	for t := range in.Horizon {
		res, err := p.Physics.Simulate(in.Horizon[t], slotgrid.SelfUse, in.Solar[t].KW, in.Load[t].KW, in.ImportPrices[t].PencePerKWh, in.ExportPrices[t].PencePerKWh, battery, 0, 0, nil)
		if err != nil {
			continue
		}
		slots = append(slots, slotgrid.PlanSlot{
			Slot: in.Horizon[t], Mode: slotgrid.SelfUse, Result: res,
			ImportPrice: in.ImportPrices[t], ExportPrice: in.ExportPrices[t], Solar: in.Solar[t], Load: in.Load[t],
		})
		battery.SOCPercent = res.SOCAfterPercent
	}
	plan := planner.NewPlan(time.Now(), p.Info().Name, slots)
	plan.Confidence = slotgrid.ConfidenceLow
	return plan
}

// buildProblem assembles the standard-form LP (min c'x s.t. Ax=b,
// x>=0). soc[1..n] is tracked explicitly as a per-slot bounded state
// variable (substituted as u[t] = soc[t]-min_soc, 0 <= u[t] <=
// max_soc-min_soc, via an upper-bound slack row) rather than collapsed
// into a single whole-horizon cumulative constraint: every slot's SOC,
// not just the last one, is kept within [min_soc, max_soc] by
// construction, so the decoded plan can never ask the solver for a
// trajectory the physics model would have to clamp mid-day.
func (p *Planner) buildProblem(in planner.Inputs) (c []float64, A *mat.Dense, b []float64, err error) {
	n := len(in.Horizon)
	caps := in.Caps
	maxChargeKWh := caps.MaxChargeRateKW * slotgrid.SlotHours
	maxDischargeKWh := caps.MaxDischargeRateKW * slotgrid.SlotHours
	exportCapKWh := caps.ExportLimitKW * slotgrid.SlotHours
	minSOC, maxSOC := caps.MinSOCPercent, caps.MaxSOCPercent
	socRange := maxSOC - minSOC
	if socRange < 0 {
		socRange = 0
	}
	capFactor := 0.0
	if caps.BatteryCapacityKWh > 0 {
		capFactor = 100 / caps.BatteryCapacityKWh
	}

	nDecision := n * varsPerSlot
	nSlackCap := n * 4 // charge-cap, discharge-cap, export-cap, clip-cap
	uBase := nDecision + nSlackCap
	slackUBase := uBase + n
	finalFloorSOC := MinFinalSOCPercent
	if finalFloorSOC < minSOC {
		finalFloorSOC = minSOC
	}
	needsFinalSlack := finalFloorSOC > minSOC
	finalSlackIdx := slackUBase + n
	nVars := finalSlackIdx
	if needsFinalSlack {
		nVars++
	}

	// rows: balance(n) + charge-cap(n) + discharge-cap(n) + export-cap(n)
	// + clip-cap(n) + soc-balance(n) + soc-upper-bound(n) [+ terminal-floor(1)]
	nRows := n * 7
	if needsFinalSlack {
		nRows++
	}

	c = make([]float64, nVars)
	rows := make([][]float64, nRows)
	for i := range rows {
		rows[i] = make([]float64, nVars)
	}
	b = make([]float64, nRows)

	uIdx := func(t int) int { return uBase + t - 1 }           // u[t] for t=1..n
	slackUIdx := func(t int) int { return slackUBase + t - 1 } // for t=1..n

	for t := 0; t < n; t++ {
		base := t * varsPerSlot
		chargeIdx, dischargeIdx, gridImportIdx, gridExportIdx, clippedIdx := base, base+1, base+2, base+3, base+4

		solarKWh := in.Solar[t].KW * slotgrid.SlotHours
		loadKWh := in.Load[t].KW * slotgrid.SlotHours

		// objective: minimize import cost - export revenue + clipping penalty
		c[gridImportIdx] = in.ImportPrices[t].PencePerKWh
		c[gridExportIdx] = -in.ExportPrices[t].PencePerKWh
		c[clippedIdx] = ClippingPenaltyPence

		// balance: grid_import + eff_d*discharge - charge - grid_export - clipped = load - solar
		row := rows[t]
		row[gridImportIdx] = 1
		row[dischargeIdx] = caps.DischargeEfficiency
		row[chargeIdx] = -1
		row[gridExportIdx] = -1
		row[clippedIdx] = -1
		b[t] = loadKWh - solarKWh

		// charge cap: charge + slack = maxChargeKWh
		capRow := rows[n+t]
		slackBase := nDecision + t*4
		capRow[chargeIdx] = 1
		capRow[slackBase+0] = 1
		b[n+t] = maxChargeKWh

		// discharge cap
		dRow := rows[2*n+t]
		dRow[dischargeIdx] = 1
		dRow[slackBase+1] = 1
		b[2*n+t] = maxDischargeKWh

		// export cap
		eRow := rows[3*n+t]
		eRow[gridExportIdx] = 1
		eRow[slackBase+2] = 1
		b[3*n+t] = exportCapKWh

		// clip cap: clipped <= solar available
		clRow := rows[4*n+t]
		clRow[clippedIdx] = 1
		clRow[slackBase+3] = 1
		b[4*n+t] = solarKWh

		// soc balance: soc[t+1] - soc[t] = capFactor*(charge[t]*eta_c - discharge[t]).
		// soc[0] is the constant soc_start; soc[1..n] are u[t]+minSOC.
		socRow := rows[5*n+t]
		socRow[uIdx(t+1)] = 1
		socRow[chargeIdx] = -capFactor * caps.ChargeEfficiency
		socRow[dischargeIdx] = capFactor
		if t == 0 {
			b[5*n+t] = in.Battery.SOCPercent - minSOC
		} else {
			socRow[uIdx(t)] = -1
			b[5*n+t] = 0
		}

		// soc upper bound: u[t+1] + slackU[t+1] = socRange
		ubRow := rows[6*n+t]
		ubRow[uIdx(t+1)] = 1
		ubRow[slackUIdx(t+1)] = 1
		b[6*n+t] = socRange
	}

	if needsFinalSlack {
		// Terminal SOC floor: u[n] - slack = floor-minSOC, slack>=0, so
		// soc[n] = minSOC + u[n] >= finalFloorSOC.
		finalRow := rows[nRows-1]
		finalRow[uIdx(n)] = 1
		finalRow[finalSlackIdx] = -1
		b[nRows-1] = finalFloorSOC - minSOC
	}

	flat := make([]float64, 0, nRows*nVars)
	for _, row := range rows {
		flat = append(flat, row...)
	}
	A = mat.NewDense(nRows, nVars, flat)

	if len(c) != nVars {
		return nil, nil, nil, ports.NewError(ports.InvalidInput, "lp.buildProblem", "objective/variable count mismatch", nil)
	}
	return c, A, b, nil
}
