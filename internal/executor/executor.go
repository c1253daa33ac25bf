// Package executor implements the Plan Executor: given the current
// Plan and the inverter's live state, it decides whether the inverter
// actually needs a command this tick and, if so, issues it. Grounded
// on the original PlanExecutor.execute()/_needs_inverter_update() and
// on the teacher's idempotent runMPCExecution()/executeMPCDecision()
// re-attempt pattern (skip the write when the last executed decision
// for this slot already matches).
package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rszemeti/solarbat-planner/internal/ports"
	"github.com/rszemeti/solarbat-planner/internal/slotgrid"
)

// MatchWindow bounds how far from "now" a plan slot may be to still be
// considered "current", mirroring the original's 1800s (30 minute)
// matching tolerance.
const MatchWindow = 30 * time.Minute

// DeviceIOTimeout bounds every inverter read/write per the concurrency
// & resource model.
const DeviceIOTimeout = 10 * time.Second

// Outcome is the result of one Execute call.
type Outcome struct {
	Executed    bool
	ActionTaken string
	CurrentSlot slotgrid.Index
	Reason      string
}

// Executor reconciles a Plan against live inverter state.
type Executor struct {
	Reader    ports.InverterStateReader
	Commander ports.InverterCommander
	DryRun    bool
	Logger    *log.Logger

	lastExecuted map[slotgrid.Index]slotgrid.Mode
}

func New(reader ports.InverterStateReader, commander ports.InverterCommander, dryRun bool, logger *log.Logger) *Executor {
	return &Executor{
		Reader: reader, Commander: commander, DryRun: dryRun, Logger: logger,
		lastExecuted: make(map[slotgrid.Index]slotgrid.Mode),
	}
}

// Execute finds the plan slot current at now, checks whether the
// inverter's live state already matches it, and issues a command only
// if it does not. It never panics on bad input; every failure path
// returns a wrapped *ports.Error.
func (e *Executor) Execute(ctx context.Context, plan *slotgrid.Plan, now time.Time) (Outcome, error) {
	if plan == nil || len(plan.Slots) == 0 {
		return Outcome{}, ports.NewError(ports.InvalidInput, "executor.Execute", "plan has no slots", nil)
	}

	current, ok := e.currentSlot(plan, now)
	if !ok {
		return Outcome{Reason: "no slot within match window and no future slot found"}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, DeviceIOTimeout)
	defer cancel()

	state, readErr := e.Reader.Read(ctx)
	if readErr != nil {
		// Fail-safe: an unreadable inverter state beats writing nothing.
		// A known-good command is applied unconditionally rather than
		// skipped, per the documented failure semantics.
		e.logf("failed to read inverter state, applying plan anyway: %v", readErr)
		action, err := e.apply(ctx, current)
		if err != nil {
			return Outcome{}, err
		}
		e.lastExecuted[current.Slot] = current.Mode
		return Outcome{Executed: true, ActionTaken: action, CurrentSlot: current.Slot, Reason: "applied without live state: " + readErr.Error()}, nil
	}

	needsUpdate, reason := e.needsUpdate(current, state)
	if !needsUpdate {
		e.logf("slot %s already matches inverter state (%s); skipping", current.Slot, reason)
		return Outcome{Executed: false, CurrentSlot: current.Slot, Reason: reason}, nil
	}

	// Idempotence guard: if we already issued this exact mode for this
	// exact slot, don't re-issue it just because the inverter hasn't
	// reported the change back yet.
	if last, seen := e.lastExecuted[current.Slot]; seen && last == current.Mode {
		return Outcome{Executed: false, CurrentSlot: current.Slot, Reason: "already executed this slot's decision"}, nil
	}

	action, err := e.apply(ctx, current)
	if err != nil {
		return Outcome{}, err
	}
	e.lastExecuted[current.Slot] = current.Mode

	return Outcome{Executed: true, ActionTaken: action, CurrentSlot: current.Slot, Reason: reason}, nil
}

// currentSlot mirrors _get_current_slot: the slot containing now, else
// the nearest slot within MatchWindow, else the earliest future slot.
func (e *Executor) currentSlot(plan *slotgrid.Plan, now time.Time) (slotgrid.PlanSlot, bool) {
	if s, ok := plan.SlotAt(now); ok {
		return s, true
	}

	var best slotgrid.PlanSlot
	bestDiff := MatchWindow + time.Second
	found := false
	for _, s := range plan.Slots {
		diff := now.Sub(s.Slot.Start)
		if diff < 0 {
			diff = -diff
		}
		if diff <= MatchWindow && diff < bestDiff {
			best, bestDiff, found = s, diff, true
		}
	}
	if found {
		return best, true
	}

	var earliestFuture slotgrid.PlanSlot
	haveFuture := false
	for _, s := range plan.Slots {
		if s.Slot.Start.After(now) && (!haveFuture || s.Slot.Start.Before(earliestFuture.Slot.Start)) {
			earliestFuture, haveFuture = s, true
		}
	}
	return earliestFuture, haveFuture
}

// needsUpdate mirrors _needs_inverter_update: Feed-in Priority only
// checks the mode switch; Force Charge/Discharge check the active
// slot sets; Self Use needs both forced-slot sets cleared.
func (e *Executor) needsUpdate(planned slotgrid.PlanSlot, state ports.InverterState) (bool, string) {
	switch planned.Mode {
	case slotgrid.FeedInPriority:
		if state.Mode == slotgrid.FeedInPriority && len(state.ActiveChargeSlots) == 0 && len(state.ActiveDischargeSlots) == 0 {
			return false, "mode already feed_in_priority with no timed slots"
		}
		return true, "mode switch or stale timed slots need clearing for feed_in_priority"
	case slotgrid.ForceCharge:
		if containsSlot(state.ActiveChargeSlots, planned.Slot) {
			return false, "charge slot already active"
		}
		return true, "charge slot not active for current period"
	case slotgrid.ForceDischarge:
		if containsSlot(state.ActiveDischargeSlots, planned.Slot) {
			return false, "discharge slot already active"
		}
		return true, "discharge slot not active for current period"
	default: // SelfUse
		if len(state.ActiveChargeSlots) == 0 && len(state.ActiveDischargeSlots) == 0 && state.Mode != slotgrid.FeedInPriority {
			return false, "no forced slots active"
		}
		return true, "forced slots still active, clearing for self_use"
	}
}

func containsSlot(slots []slotgrid.Index, target slotgrid.Index) bool {
	for _, s := range slots {
		if s.Start.Equal(target.Start) {
			return true
		}
	}
	return false
}

// apply issues the inverter commands for the planned slot, clearing
// the opposite forced-slot set first so the inverter never has both
// charge and discharge slots active at once.
func (e *Executor) apply(ctx context.Context, planned slotgrid.PlanSlot) (string, error) {
	if e.DryRun {
		e.logf("dry-run: would apply %s for slot %s (rate implied by plan)", planned.Mode, planned.Slot)
		return fmt.Sprintf("dry_run:%s", planned.Mode), nil
	}

	switch planned.Mode {
	case slotgrid.ForceCharge:
		if _, err := e.Commander.ClearDischargeSlots(ctx); err != nil {
			return "", ports.NewError(ports.DeviceIOFailure, "executor.apply", "clearing discharge slots", err)
		}
		rateKW := planned.Result.BatteryChargeKWh / slotgrid.SlotHours
		if _, err := e.Commander.ForceCharge(ctx, planned.Slot, rateKW); err != nil {
			return "", ports.NewError(ports.DeviceIOFailure, "executor.apply", "setting force charge", err)
		}
		return "force_charge", nil
	case slotgrid.ForceDischarge:
		if _, err := e.Commander.ClearChargeSlots(ctx); err != nil {
			return "", ports.NewError(ports.DeviceIOFailure, "executor.apply", "clearing charge slots", err)
		}
		rateKW := planned.Result.BatteryDischargeKWh / slotgrid.SlotHours
		if _, err := e.Commander.ForceDischarge(ctx, planned.Slot, rateKW); err != nil {
			return "", ports.NewError(ports.DeviceIOFailure, "executor.apply", "setting force discharge", err)
		}
		return "force_discharge", nil
	case slotgrid.FeedInPriority:
		// required_state has no timed charge/discharge slots active;
		// clear any left over from a previous ForceCharge/ForceDischarge
		// slot before switching the mode.
		if _, err := e.Commander.ClearChargeSlots(ctx); err != nil {
			return "", ports.NewError(ports.DeviceIOFailure, "executor.apply", "clearing charge slots", err)
		}
		if _, err := e.Commander.ClearDischargeSlots(ctx); err != nil {
			return "", ports.NewError(ports.DeviceIOFailure, "executor.apply", "clearing discharge slots", err)
		}
		if _, err := e.Commander.SetMode(ctx, slotgrid.FeedInPriority); err != nil {
			return "", ports.NewError(ports.DeviceIOFailure, "executor.apply", "setting feed-in priority mode", err)
		}
		return "feed_in_priority", nil
	default: // SelfUse
		if _, err := e.Commander.ClearChargeSlots(ctx); err != nil {
			return "", ports.NewError(ports.DeviceIOFailure, "executor.apply", "clearing charge slots", err)
		}
		if _, err := e.Commander.ClearDischargeSlots(ctx); err != nil {
			return "", ports.NewError(ports.DeviceIOFailure, "executor.apply", "clearing discharge slots", err)
		}
		if _, err := e.Commander.SetMode(ctx, slotgrid.SelfUse); err != nil {
			return "", ports.NewError(ports.DeviceIOFailure, "executor.apply", "setting self-use mode", err)
		}
		return "self_use", nil
	}
}

func (e *Executor) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}
