package port

import (
	"context"
	"time"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/pkg/srne_modbus"
)

// ChargeController is the register-level view of the charge controller used by
// the slot routines. *srne_modbus.Driver implements it.
type ChargeController interface {
	GetLoadInfo() (*srne_modbus.LoadInfo, error)
	GetSolarInfo() (*srne_modbus.SolarInfo, error)
	GetBatteryInfo() (*srne_modbus.BatteryInfo, error)
	GetChargeWh() (uint32, error)
	GetLoadWh() (uint32, error)
	GetAhTotals() (*srne_modbus.AhTotals, error)
	SetMaxChargeCurrent(amps float64) error
	SetMaxLoadCurrent(amps float64) error
	ClearAccumulators() error
}

// Clock returns an error when the time source cannot be trusted.
type Clock interface {
	Now() (domain.TimeSnapshot, error)
}

// AdjustableClock can be set by an operator command.
type AdjustableClock interface {
	Clock
	Set(t time.Time) error
}

type TelemetryPublisher interface {
	Publish(ctx context.Context, record domain.TelemetryRecord, topic string) error
}

type FlagStore interface {
	LoadFlag(key string, defaultValue int) int
	SaveFlag(key string, value int) error
	EraseAll() error
}

type MetricsRecorder interface {
	RecordTelemetry(state domain.SupervisorState)
}

var _ ChargeController = (*srne_modbus.Driver)(nil)
