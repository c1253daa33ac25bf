package lp

import (
	"testing"
	"time"

	"github.com/rszemeti/solarbat-planner/internal/planner"
	"github.com/rszemeti/solarbat-planner/internal/slotgrid"
)

func testInputs(n int) planner.Inputs {
	caps := slotgrid.Capabilities{
		BatteryCapacityKWh: 10, MaxChargeRateKW: 5, MaxDischargeRateKW: 5,
		ChargeEfficiency: 0.95, DischargeEfficiency: 0.95, ExportLimitKW: 5,
		MinSOCPercent: 10, MaxSOCPercent: 100,
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := planner.Inputs{Battery: slotgrid.BatteryState{SOCPercent: 50}, Caps: caps}
	for i := 0; i < n; i++ {
		slot := slotgrid.NewIndex(start.Add(time.Duration(i) * slotgrid.SlotDuration))
		in.Horizon = append(in.Horizon, slot)
		in.ImportPrices = append(in.ImportPrices, slotgrid.Price{Slot: slot, PencePerKWh: 20})
		in.ExportPrices = append(in.ExportPrices, slotgrid.Price{Slot: slot, PencePerKWh: 5})
		in.Solar = append(in.Solar, slotgrid.SolarPoint{Slot: slot, KW: 0})
		in.Load = append(in.Load, slotgrid.LoadPoint{Slot: slot, KW: 1})
	}
	return in
}

func TestBuildProblemDimensionsAreConsistent(t *testing.T) {
	in := testInputs(4)
	p := New(planner.DefaultConfig(), in.Caps)
	c, A, b, err := p.buildProblem(in)
	if err != nil {
		t.Fatalf("buildProblem error: %v", err)
	}
	rows, cols := A.Dims()
	if len(c) != cols {
		t.Errorf("len(c) = %d, want %d (cols)", len(c), cols)
	}
	if len(b) != rows {
		t.Errorf("len(b) = %d, want %d (rows)", len(b), rows)
	}
	// 4 slots * 5 decision vars + 4*4 cap slack + 4 soc state vars (u[1..4])
	// + 4 soc upper-bound slacks + 1 terminal-floor slack
	n := 4
	wantCols := n*varsPerSlot + n*4 + n + n + 1
	if cols != wantCols {
		t.Errorf("cols = %d, want %d", cols, wantCols)
	}
	// balance(n) + charge-cap(n) + discharge-cap(n) + export-cap(n) +
	// clip-cap(n) + soc-balance(n) + soc-upper-bound(n) + terminal-floor(1)
	wantRows := n*7 + 1
	if rows != wantRows {
		t.Errorf("rows = %d, want %d", rows, wantRows)
	}
}

func TestDecodeModeChargeWhenLPChargesBattery(t *testing.T) {
	in := testInputs(1)
	p := New(planner.DefaultConfig(), in.Caps)
	mode, rate := p.decodeMode(in, 0, 2.0, 0, in.Caps)
	if mode != slotgrid.ForceCharge {
		t.Errorf("mode = %v, want ForceCharge", mode)
	}
	if rate <= 0 {
		t.Errorf("rate = %v, want > 0", rate)
	}
}

func TestDecodeModeFeedInPriorityWhenSolarLowAndExportFavourable(t *testing.T) {
	in := testInputs(1)
	in.Solar[0].KW = 1.0
	in.ExportPrices[0].PencePerKWh = 30
	in.ImportPrices[0].PencePerKWh = 20
	p := New(planner.DefaultConfig(), in.Caps)
	mode, _ := p.decodeMode(in, 0, 0, 0, in.Caps)
	if mode != slotgrid.FeedInPriority {
		t.Errorf("mode = %v, want FeedInPriority", mode)
	}
}

func TestFallbackPlanIsLowConfidenceSelfUse(t *testing.T) {
	in := testInputs(12)
	p := New(planner.DefaultConfig(), in.Caps)
	plan := p.fallbackPlan(in)
	if plan.Confidence != slotgrid.ConfidenceLow {
		t.Errorf("Confidence = %v, want low", plan.Confidence)
	}
	for _, s := range plan.Slots {
		if s.Mode != slotgrid.SelfUse {
			t.Errorf("slot %s mode = %v, want SelfUse", s.Slot, s.Mode)
		}
	}
}
