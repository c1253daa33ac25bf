// Package store persists generated plans and their executed/realised
// outcomes to PostgreSQL, grounded on the teacher's
// scheduler/mpc_persistence.go: a transactional delete-then-insert
// upsert keyed on slot timestamp, plus a query for the latest rows.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/rszemeti/solarbat-planner/internal/slotgrid"
)

// Store wraps a *sql.DB with the planner's persistence operations.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL using connString. Schema migration is
// out of scope; the tables below are expected to already exist.
func Open(connString string) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SavePlan persists every slot of a plan, upserting on slot timestamp
// so a regenerated plan for the same horizon overwrites the prior one.
func (s *Store) SavePlan(ctx context.Context, plan *slotgrid.Plan) error {
	if len(plan.Slots) == 0 {
		return nil
	}
	minTimestamp := plan.Slots[0].Slot.Start

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_slots WHERE slot_timestamp >= $1`, minTimestamp); err != nil {
		return fmt.Errorf("failed to delete existing plan slots: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO plan_slots (
			slot_timestamp, planner_name, mode,
			grid_import_kwh, grid_export_kwh, battery_charge_kwh, battery_discharge_kwh,
			solar_used_kwh, clipped_kwh, cost_pence, soc_before_percent, soc_after_percent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (slot_timestamp) DO UPDATE SET
			planner_name = EXCLUDED.planner_name,
			mode = EXCLUDED.mode,
			grid_import_kwh = EXCLUDED.grid_import_kwh,
			grid_export_kwh = EXCLUDED.grid_export_kwh,
			battery_charge_kwh = EXCLUDED.battery_charge_kwh,
			battery_discharge_kwh = EXCLUDED.battery_discharge_kwh,
			solar_used_kwh = EXCLUDED.solar_used_kwh,
			clipped_kwh = EXCLUDED.clipped_kwh,
			cost_pence = EXCLUDED.cost_pence,
			soc_before_percent = EXCLUDED.soc_before_percent,
			soc_after_percent = EXCLUDED.soc_after_percent
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, slot := range plan.Slots {
		r := slot.Result
		if _, err := stmt.ExecContext(ctx,
			slot.Slot.Start, plan.PlannerName, string(slot.Mode),
			r.GridImportKWh, r.GridExportKWh, r.BatteryChargeKWh, r.BatteryDischargeKWh,
			r.SolarUsedKWh, r.ClippedKWh, r.CostPence, r.SOCBeforePercent, r.SOCAfterPercent,
		); err != nil {
			return fmt.Errorf("failed to insert plan slot %s: %w", slot.Slot, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadPlanSlotsSince loads the most recently persisted plan slots from
// timestamp onward, ordered by slot time.
func (s *Store) LoadPlanSlotsSince(ctx context.Context, since time.Time) ([]slotgrid.PlanSlot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slot_timestamp, mode,
			grid_import_kwh, grid_export_kwh, battery_charge_kwh, battery_discharge_kwh,
			solar_used_kwh, clipped_kwh, cost_pence, soc_before_percent, soc_after_percent
		FROM plan_slots
		WHERE slot_timestamp >= $1
		ORDER BY slot_timestamp ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan slots: %w", err)
	}
	defer rows.Close()

	var slots []slotgrid.PlanSlot
	for rows.Next() {
		var ts time.Time
		var mode string
		var r slotgrid.SlotResult
		if err := rows.Scan(&ts, &mode,
			&r.GridImportKWh, &r.GridExportKWh, &r.BatteryChargeKWh, &r.BatteryDischargeKWh,
			&r.SolarUsedKWh, &r.ClippedKWh, &r.CostPence, &r.SOCBeforePercent, &r.SOCAfterPercent,
		); err != nil {
			return nil, fmt.Errorf("failed to scan plan slot: %w", err)
		}
		idx := slotgrid.NewIndex(ts)
		r.Slot = idx
		r.Mode = slotgrid.Mode(mode)
		slots = append(slots, slotgrid.PlanSlot{Slot: idx, Mode: slotgrid.Mode(mode), Result: r})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plan slots: %w", err)
	}
	return slots, nil
}

// RecordAccuracy persists one slot's forecast-vs-realised comparison,
// used by the daily accuracy tracker task. realised may carry zero
// values for fields the adapters could not sample for a past slot.
func (s *Store) RecordAccuracy(ctx context.Context, slot slotgrid.Index, planned, realised slotgrid.SlotResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plan_accuracy (
			slot_timestamp,
			planned_grid_import_kwh, realised_grid_import_kwh,
			planned_cost_pence, realised_cost_pence
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slot_timestamp) DO UPDATE SET
			planned_grid_import_kwh = EXCLUDED.planned_grid_import_kwh,
			realised_grid_import_kwh = EXCLUDED.realised_grid_import_kwh,
			planned_cost_pence = EXCLUDED.planned_cost_pence,
			realised_cost_pence = EXCLUDED.realised_cost_pence
	`, slot.Start, planned.GridImportKWh, realised.GridImportKWh, planned.CostPence, realised.CostPence)
	if err != nil {
		return fmt.Errorf("failed to record accuracy for slot %s: %w", slot, err)
	}
	return nil
}

// LoadSample is one historical, measured household-consumption reading.
type LoadSample struct {
	Slot   slotgrid.Index
	LoadKW float64
}

// RecordLoadSample persists one measured consumption reading, sampled
// by the controller alongside the accuracy tracker. These accumulate
// into the historical window the naive load forecaster averages over.
func (s *Store) RecordLoadSample(ctx context.Context, slot slotgrid.Index, loadKW float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO load_samples (slot_timestamp, load_kw)
		VALUES ($1, $2)
		ON CONFLICT (slot_timestamp) DO UPDATE SET load_kw = EXCLUDED.load_kw
	`, slot.Start, loadKW)
	if err != nil {
		return fmt.Errorf("failed to record load sample for slot %s: %w", slot, err)
	}
	return nil
}

// LoadSamplesSince returns every recorded load sample from timestamp
// onward, ordered by slot time.
func (s *Store) LoadSamplesSince(ctx context.Context, since time.Time) ([]LoadSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slot_timestamp, load_kw FROM load_samples
		WHERE slot_timestamp >= $1
		ORDER BY slot_timestamp ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query load samples: %w", err)
	}
	defer rows.Close()

	var samples []LoadSample
	for rows.Next() {
		var ts time.Time
		var kw float64
		if err := rows.Scan(&ts, &kw); err != nil {
			return nil, fmt.Errorf("failed to scan load sample: %w", err)
		}
		samples = append(samples, LoadSample{Slot: slotgrid.NewIndex(ts), LoadKW: kw})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating load samples: %w", err)
	}
	return samples, nil
}
