package srne_modbus

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	COMMAND_INTERVAL = 150 * time.Millisecond
	WRITE_INTERVAL   = 50 * time.Millisecond
)

type DriverConfig struct {
	Retry         RetryPolicy
	ReadInterval  time.Duration
	WriteInterval time.Duration
}

func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Retry:         DefaultRetryPolicy(),
		ReadInterval:  COMMAND_INTERVAL,
		WriteInterval: WRITE_INTERVAL,
	}
}

// Driver exposes typed access to the controller registers. Every operation goes
// through a bounded retry and fails closed.
type Driver struct {
	transport Transport
	config    DriverConfig
	logger    *zap.Logger
}

func NewDriver(transport Transport, config DriverConfig, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		transport: transport,
		config:    config,
		logger:    logger,
	}
}

func (d *Driver) Close() error {
	return d.transport.Close()
}

func (d *Driver) onRetry(op string, addr uint16) func(error, time.Duration) {
	return func(err error, next time.Duration) {
		d.logger.Debug("srne retry", zap.String("op", op), zap.String("register", fmt.Sprintf("0x%04X", addr)),
			zap.Duration("next", next), zap.Error(err))
	}
}

func (d *Driver) pace(interval time.Duration) {
	if interval > 0 {
		time.Sleep(interval)
	}
}

func (d *Driver) ReadRegisters(addr uint16, count uint16) ([]uint16, error) {
	values, err := WithRetry(d.config.Retry, func() ([]uint16, error) {
		return d.transport.ReadHoldingRegisters(addr, count)
	}, d.onRetry("read", addr))
	if err != nil {
		return nil, fmt.Errorf("read 0x%04X: %w", addr, err)
	}
	d.pace(d.config.ReadInterval)
	return values, nil
}

func (d *Driver) ReadRegister16(addr uint16) (uint16, error) {
	values, err := d.ReadRegisters(addr, 1)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

func (d *Driver) ReadRegister32(addr uint16) (uint32, error) {
	values, err := d.ReadRegisters(addr, 2)
	if err != nil {
		return 0, err
	}
	return Uint32FromRegisters(values), nil
}

func (d *Driver) WriteRegister16(addr uint16, value uint16) error {
	_, err := WithRetry(d.config.Retry, func() (struct{}, error) {
		return struct{}{}, d.transport.WriteSingleRegister(addr, value)
	}, d.onRetry("write", addr))
	if err != nil {
		return fmt.Errorf("write 0x%04X: %w", addr, err)
	}
	d.pace(d.config.WriteInterval)
	return nil
}

func (d *Driver) WriteRegisters(addr uint16, values []uint16) error {
	_, err := WithRetry(d.config.Retry, func() (struct{}, error) {
		return struct{}{}, d.transport.WriteMultipleRegisters(addr, values)
	}, d.onRetry("write_multiple", addr))
	if err != nil {
		return fmt.Errorf("write 0x%04X+%d: %w", addr, len(values), err)
	}
	d.pace(d.config.WriteInterval)
	return nil
}

// writeIfDifferent skips the write when the register already holds value. A failed
// read falls through to the write.
func (d *Driver) writeIfDifferent(addr uint16, value uint16) (bool, error) {
	current, err := d.ReadRegister16(addr)
	if err == nil && current == value {
		return false, nil
	}
	if err := d.WriteRegister16(addr, value); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Driver) writeRegistersIfDifferent(addr uint16, values []uint16) (bool, error) {
	current, err := d.ReadRegisters(addr, uint16(len(values)))
	if err == nil && slices.Equal(current, values) {
		return false, nil
	}
	if err := d.WriteRegisters(addr, values); err != nil {
		return false, err
	}
	return true, nil
}

func scaled(value float64, scale float64) uint16 {
	return uint16(math.Round(value * scale))
}

// Telemetry

func (d *Driver) GetLoadInfo() (*LoadInfo, error) {
	voltage, err := d.ReadRegister16(REG_LOAD_VOLTAGE)
	if err != nil {
		return nil, err
	}
	current, err := d.ReadRegister16(REG_LOAD_CURRENT)
	if err != nil {
		return nil, err
	}
	power, err := d.ReadRegister16(REG_LOAD_POWER)
	if err != nil {
		return nil, err
	}
	return &LoadInfo{
		Voltage: float64(voltage) / 10,
		Current: float64(current) / 100,
		Power:   int(power),
	}, nil
}

func (d *Driver) GetSolarInfo() (*SolarInfo, error) {
	voltage, err := d.ReadRegister16(REG_SOLAR_VOLTAGE)
	if err != nil {
		return nil, err
	}
	current, err := d.ReadRegister16(REG_SOLAR_CURRENT)
	if err != nil {
		return nil, err
	}
	power, err := d.ReadRegister16(REG_SOLAR_POWER)
	if err != nil {
		return nil, err
	}
	return &SolarInfo{
		Voltage: float64(voltage) / 10,
		Current: float64(current) / 100,
		Power:   int(power),
	}, nil
}

func (d *Driver) GetBatteryInfo() (*BatteryInfo, error) {
	soc, err := d.ReadRegister16(REG_BATTERY_SOC)
	if err != nil {
		return nil, err
	}
	voltage, err := d.ReadRegister16(REG_BATTERY_VOLTAGE)
	if err != nil {
		return nil, err
	}
	current, err := d.ReadRegister16(REG_BATTERY_CURRENT)
	if err != nil {
		return nil, err
	}
	temperature, err := d.ReadRegister16(REG_TEMPERATURE)
	if err != nil {
		return nil, err
	}
	return &BatteryInfo{
		SOC:         int(soc),
		Voltage:     float64(voltage) / 10,
		Current:     float64(current) / 100,
		Temperature: int(int8(temperature & 0xFF)),
	}, nil
}

func (d *Driver) GetChargeWh() (uint32, error) {
	return d.ReadRegister32(REG_TOTAL_CHARGE_WH)
}

func (d *Driver) GetLoadWh() (uint32, error) {
	return d.ReadRegister32(REG_TOTAL_LOAD_WH)
}

func (d *Driver) GetAhTotals() (*AhTotals, error) {
	charge, err := d.ReadRegister32(REG_TOTAL_CHARGE_AH)
	if err != nil {
		return nil, err
	}
	discharge, err := d.ReadRegister32(REG_TOTAL_DISCHARGE_AH)
	if err != nil {
		return nil, err
	}
	return &AhTotals{ChargeAh: charge, DischargeAh: discharge}, nil
}

// Probe checks that the controller answers on the bus.
func (d *Driver) Probe() error {
	_, err := d.ReadRegister16(REG_DEVICE_RATING)
	return err
}

func (d *Driver) GetDeviceInfo() (*DeviceInfo, error) {
	rating, err := d.ReadRegister16(REG_DEVICE_RATING)
	if err != nil {
		return nil, err
	}
	model, err := d.ReadRegisters(REG_DEVICE_MODEL, 8)
	if err != nil {
		return nil, err
	}
	version, err := d.ReadRegister32(REG_SOFTWARE_VERSION)
	if err != nil {
		return nil, err
	}
	return &DeviceInfo{
		RatedVoltage:    uint8(rating >> 8),
		RatedCurrent:    uint8(rating & 0xFF),
		Model:           registersToString(model),
		SoftwareVersion: fmt.Sprintf("%d.%d.%d", (version>>16)&0xFF, (version>>8)&0xFF, version&0xFF),
	}, nil
}

func registersToString(regs []uint16) string {
	raw := make([]byte, 0, 2*len(regs))
	for _, r := range regs {
		raw = append(raw, byte(r>>8), byte(r&0xFF))
	}
	if i := slices.Index(raw, 0x00); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(string(raw))
}

// Setpoints

func (d *Driver) SetMaxChargeCurrent(amps float64) error {
	amps = lo.Clamp(amps, 0, MAX_CHARGE_CURRENT_CEILING)
	_, err := d.writeIfDifferent(REG_MAX_CHARGE_CURRENT, scaled(amps, 100))
	return err
}

func (d *Driver) SetMaxLoadCurrent(amps float64) error {
	_, err := d.writeIfDifferent(REG_MAX_LOAD_CURRENT, scaled(math.Max(amps, 0), 100))
	return err
}

func (d *Driver) SetLoadPercentage(percentage int) error {
	_, err := d.writeIfDifferent(REG_LOAD_PERCENTAGE, uint16(lo.Clamp(percentage, 0, 100)))
	return err
}

func (d *Driver) SetManualMode() error {
	if _, err := d.writeIfDifferent(REG_LOAD_MODE, LOAD_MODE_MANUAL); err != nil {
		return err
	}
	if _, err := d.writeIfDifferent(REG_LOAD_PERCENTAGE, 0); err != nil {
		return err
	}
	_, err := d.writeIfDifferent(REG_LOAD_MODE_OPTIONS, LOAD_MODE_MANUAL_OPTIONS)
	return err
}

func (d *Driver) SetLoadSchedules(schedules []LoadSchedule) error {
	for _, s := range schedules {
		if s.Slot < 1 || s.Slot > LOAD_SCHEDULE_SLOTS {
			return fmt.Errorf("%w: load schedule slot %d", ErrInvalidRequest, s.Slot)
		}
		values := []uint16{s.DurationSeconds, uint16(s.AttendedPower), uint16(s.UnattendedPower)}
		if _, err := d.writeRegistersIfDifferent(loadScheduleRegister(s.Slot), values); err != nil {
			return fmt.Errorf("load schedule %d: %w", s.Slot, err)
		}
	}
	return nil
}

func (d *Driver) SetLithiumBattery(settings DeviceSettings) error {
	writes := []struct {
		reg   uint16
		value uint16
	}{
		{REG_SYSTEM_VOLTAGE, uint16(settings.SystemVoltage)},
		{REG_OVER_CHARGE, scaled(settings.OverChargeVoltage, 10)},
		{REG_OVER_CHARGE_RETURN, scaled(settings.OverChargeReturnVoltage, 10)},
		{REG_OVER_DISCHARGE, scaled(settings.OverDischargeVoltage, 10)},
		{REG_OVER_DISCH_RETURN, scaled(settings.OverDischargeReturnVoltage, 10)},
		{REG_NOMINAL_CAPACITY, uint16(settings.NominalCapacity)},
		{REG_BATTERY_TYPE, BATTERY_TYPE_LITHIUM},
	}
	for _, w := range writes {
		if _, err := d.writeIfDifferent(w.reg, w.value); err != nil {
			return err
		}
	}
	return nil
}

// ClearAccumulators resets the controller's energy and Ah counters.
func (d *Driver) ClearAccumulators() error {
	return d.WriteRegister16(REG_CLEAR_HISTORY, 1)
}

// FactoryReset attempts every reset command even if an earlier one fails.
func (d *Driver) FactoryReset() error {
	return errors.Join(
		d.WriteRegister16(REG_FACTORY_RESET, 1),
		d.WriteRegister16(REG_CLEAR_HISTORY, 1),
		d.WriteRegister16(REG_RESTART, 1),
	)
}

// Provision pushes the full static configuration. The first failure aborts.
func (d *Driver) Provision(chargeCurrent float64, settings DeviceSettings, schedules []LoadSchedule) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"max charge current", func() error { return d.SetMaxChargeCurrent(chargeCurrent) }},
		{"max load current", func() error { return d.SetMaxLoadCurrent(settings.MaxLoadCurrent) }},
		{"load percentage", func() error { return d.SetLoadPercentage(settings.LoadPercentage) }},
		{"manual mode", d.SetManualMode},
		{"load schedules", func() error { return d.SetLoadSchedules(schedules) }},
		{"lithium battery", func() error { return d.SetLithiumBattery(settings) }},
	}
	for i, step := range steps {
		d.logger.Info("srne provisioning", zap.Int("step", i+1), zap.String("name", step.name))
		if err := step.fn(); err != nil {
			return fmt.Errorf("provision %s: %w", step.name, err)
		}
	}
	return nil
}
