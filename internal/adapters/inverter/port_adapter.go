package inverter

import (
	"context"
	"sync"

	"github.com/rszemeti/solarbat-planner/internal/ports"
	"github.com/rszemeti/solarbat-planner/internal/slotgrid"
)

// PortAdapter implements ports.InverterStateReader and
// ports.InverterCommander over a SigenModbusClient. The vendor
// register layout for per-slot scheduling is out of scope (per the
// spec's Non-goals), so the "active slots" the executor reconciles
// against are tracked here in memory, set each time a command
// succeeds and cleared by the corresponding Clear* call.
type PortAdapter struct {
	client *SigenModbusClient

	mu              sync.Mutex
	mode            slotgrid.Mode
	activeCharge    []slotgrid.Index
	activeDischarge []slotgrid.Index
}

func NewPortAdapter(client *SigenModbusClient) *PortAdapter {
	return &PortAdapter{client: client, mode: slotgrid.SelfUse}
}

func (a *PortAdapter) Read(ctx context.Context) (ports.InverterState, error) {
	info, err := a.client.ReadPlantRunningInfo()
	if err != nil {
		return ports.InverterState{}, ports.NewError(ports.DeviceIOFailure, "inverter.Read", "reading plant running info", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return ports.InverterState{
		Mode:                 a.mode,
		BatterySOCPercent:    info.ESSSOC,
		ActiveChargeSlots:    append([]slotgrid.Index(nil), a.activeCharge...),
		ActiveDischargeSlots: append([]slotgrid.Index(nil), a.activeDischarge...),
	}, nil
}

func (a *PortAdapter) ForceCharge(ctx context.Context, slot slotgrid.Index, rateKW float64) (bool, error) {
	if err := a.client.SetActivePowerFixed(-rateKW); err != nil {
		return false, ports.NewError(ports.DeviceIOFailure, "inverter.ForceCharge", "setting charge power", err)
	}
	a.mu.Lock()
	a.mode = slotgrid.ForceCharge
	a.activeCharge = []slotgrid.Index{slot}
	a.mu.Unlock()
	return true, nil
}

func (a *PortAdapter) ForceDischarge(ctx context.Context, slot slotgrid.Index, rateKW float64) (bool, error) {
	if err := a.client.SetActivePowerFixed(rateKW); err != nil {
		return false, ports.NewError(ports.DeviceIOFailure, "inverter.ForceDischarge", "setting discharge power", err)
	}
	a.mu.Lock()
	a.mode = slotgrid.ForceDischarge
	a.activeDischarge = []slotgrid.Index{slot}
	a.mu.Unlock()
	return true, nil
}

func (a *PortAdapter) ClearChargeSlots(ctx context.Context) (bool, error) {
	a.mu.Lock()
	a.activeCharge = nil
	a.mu.Unlock()
	return true, nil
}

func (a *PortAdapter) ClearDischargeSlots(ctx context.Context) (bool, error) {
	a.mu.Lock()
	a.activeDischarge = nil
	a.mu.Unlock()
	return true, nil
}

func (a *PortAdapter) SetMode(ctx context.Context, mode slotgrid.Mode) (bool, error) {
	if mode == slotgrid.SelfUse {
		if err := a.client.SetActivePowerFixed(0); err != nil {
			return false, ports.NewError(ports.DeviceIOFailure, "inverter.SetMode", "resetting active power to self-use", err)
		}
	}
	a.mu.Lock()
	a.mode = mode
	a.mu.Unlock()
	return true, nil
}
