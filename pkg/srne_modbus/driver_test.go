package srne_modbus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testDriver(t *testing.T) (*Driver, *SimulatedDevice) {
	dev := NewSimulatedDevice(0x01)
	transport := NewRTUTransport(dev, 0x01, 10*time.Millisecond, zap.Must(zap.NewDevelopment()), nil)
	driver := NewDriver(transport, DriverConfig{
		Retry: RetryPolicy{Attempts: MAX_RETRY, Interval: time.Millisecond},
	}, zap.Must(zap.NewDevelopment()))
	t.Cleanup(func() { driver.Close() })
	return driver, dev
}

type failingTransport struct {
	calls int
	err   error
}

func (f *failingTransport) ReadHoldingRegisters(uint16, uint16) ([]uint16, error) {
	f.calls++
	return nil, f.err
}

func (f *failingTransport) WriteSingleRegister(uint16, uint16) error {
	f.calls++
	return f.err
}

func (f *failingTransport) WriteMultipleRegisters(uint16, []uint16) error {
	f.calls++
	return f.err
}

func (f *failingTransport) Close() error {
	return nil
}

func TestRetryMakesExactlyMaxAttempts(t *testing.T) {

	assert := assert.New(t)

	transport := &failingTransport{err: ErrTimeout}
	driver := NewDriver(transport, DriverConfig{
		Retry: RetryPolicy{Attempts: MAX_RETRY, Interval: time.Millisecond},
	}, nil)

	_, err := driver.ReadRegister16(REG_BATTERY_VOLTAGE)
	assert.ErrorIs(err, ErrRetryExhausted)
	assert.ErrorIs(err, ErrTimeout)
	assert.Equal(MAX_RETRY, transport.calls, "read attempts")

	transport.calls = 0
	err = driver.WriteRegister16(REG_MAX_CHARGE_CURRENT, 300)
	assert.ErrorIs(err, ErrRetryExhausted)
	assert.Equal(MAX_RETRY, transport.calls, "write attempts")
}

func TestRetryStopsOnSuccess(t *testing.T) {

	assert := assert.New(t)

	calls := 0
	value, err := WithRetry(RetryPolicy{Attempts: 3, Interval: time.Millisecond}, func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}, nil)
	assert.NoError(err)
	assert.Equal(42, value)
	assert.Equal(2, calls)
}

func TestReadRegisters(t *testing.T) {

	assert := assert.New(t)
	driver, dev := testDriver(t)

	dev.SetUint32(REG_TOTAL_CHARGE_WH, 70000)

	v16, err := driver.ReadRegister16(REG_BATTERY_SOC)
	assert.NoError(err)
	assert.Equal(uint16(80), v16)

	v32, err := driver.ReadRegister32(REG_TOTAL_CHARGE_WH)
	assert.NoError(err)
	assert.Equal(uint32(70000), v32)
}

func TestGetBatteryInfoScaling(t *testing.T) {

	assert := assert.New(t)
	driver, dev := testDriver(t)

	dev.SetRegister(REG_BATTERY_VOLTAGE, 122)
	dev.SetRegister(REG_BATTERY_CURRENT, 253)
	dev.SetRegister(REG_TEMPERATURE, 0x19F6) // low byte -10

	info, err := driver.GetBatteryInfo()
	require.NoError(t, err)
	assert.Equal(12.2, info.Voltage)
	assert.InDelta(2.53, info.Current, 1e-9)
	assert.Equal(-10, info.Temperature)
	assert.Equal(80, info.SOC)
}

func TestGetLoadAndSolarInfo(t *testing.T) {

	assert := assert.New(t)
	driver, dev := testDriver(t)

	dev.SetRegister(REG_LOAD_CURRENT, 45)
	dev.SetRegister(REG_LOAD_POWER, 6)

	load, err := driver.GetLoadInfo()
	require.NoError(t, err)
	assert.Equal(13.1, load.Voltage)
	assert.InDelta(0.45, load.Current, 1e-9)
	assert.Equal(6, load.Power)

	solar, err := driver.GetSolarInfo()
	require.NoError(t, err)
	assert.Equal(18.2, solar.Voltage)
	assert.Equal(20, solar.Power)
}

func TestReadFailsClosedOnTimeout(t *testing.T) {

	assert := assert.New(t)
	driver, dev := testDriver(t)

	dev.DropResponses(MAX_RETRY)
	info, err := driver.GetLoadInfo()
	assert.Nil(info)
	assert.ErrorIs(err, ErrRetryExhausted)
	assert.ErrorIs(err, ErrTimeout)
	assert.Equal(MAX_RETRY, dev.Requests())
}

func TestReadRecoversFromBadCRC(t *testing.T) {

	assert := assert.New(t)
	driver, dev := testDriver(t)

	dev.CorruptCRC(2)
	v, err := driver.ReadRegister16(REG_BATTERY_SOC)
	assert.NoError(err)
	assert.Equal(uint16(80), v)
	assert.Equal(3, dev.Requests())
}

func TestWriteEchoMismatchFailsAfterAllRetries(t *testing.T) {

	assert := assert.New(t)
	driver, dev := testDriver(t)

	dev.CorruptEcho(MAX_RETRY)
	err := driver.WriteRegister16(REG_LOAD_PERCENTAGE, 50)
	assert.ErrorIs(err, ErrRetryExhausted)
	assert.ErrorIs(err, ErrProtocol)
	assert.Equal(MAX_RETRY, dev.Requests())
}

func TestWriteIfDifferentSkipsEqualValue(t *testing.T) {

	assert := assert.New(t)
	driver, dev := testDriver(t)

	// register already holds 3.00 A
	assert.NoError(driver.SetMaxChargeCurrent(3.0))
	assert.Equal(1, dev.Requests(), "only the compare read")

	assert.NoError(driver.SetMaxChargeCurrent(3.2))
	assert.Equal(uint16(320), dev.Register(REG_MAX_CHARGE_CURRENT))
	assert.Equal(3, dev.Requests())
}

func TestSetMaxChargeCurrentCeiling(t *testing.T) {

	driver, dev := testDriver(t)

	assert.NoError(t, driver.SetMaxChargeCurrent(5))
	assert.Equal(t, uint16(385), dev.Register(REG_MAX_CHARGE_CURRENT))

	assert.NoError(t, driver.SetMaxChargeCurrent(0))
	assert.Equal(t, uint16(0), dev.Register(REG_MAX_CHARGE_CURRENT))
}

func TestProvision(t *testing.T) {

	assert := assert.New(t)
	driver, dev := testDriver(t)

	settings := DefaultDeviceSettings()
	err := driver.Provision(3.4, settings, DefaultLoadSchedules())
	require.NoError(t, err)

	assert.Equal(uint16(340), dev.Register(REG_MAX_CHARGE_CURRENT))
	assert.Equal(uint16(115), dev.Register(REG_MAX_LOAD_CURRENT))
	assert.Equal(LOAD_MODE_MANUAL, dev.Register(REG_LOAD_MODE))
	assert.Equal(LOAD_MODE_MANUAL_OPTIONS, dev.Register(REG_LOAD_MODE_OPTIONS))
	assert.Equal(uint16(10800), dev.Register(REG_LOAD_SCHEDULE_BASE))
	assert.Equal(uint16(56), dev.Register(REG_LOAD_SCHEDULE_BASE+4))
	assert.Equal(uint16(144), dev.Register(REG_OVER_CHARGE))
	assert.Equal(uint16(108), dev.Register(REG_OVER_DISCH_RETURN))
	assert.Equal(uint16(310), dev.Register(REG_NOMINAL_CAPACITY))
	assert.Equal(BATTERY_TYPE_LITHIUM, dev.Register(REG_BATTERY_TYPE))
}

func TestProvisionAbortsOnFailure(t *testing.T) {

	driver, dev := testDriver(t)

	// compare read and every write attempt of the first step fail
	dev.DropResponses(MAX_RETRY * 2)
	err := driver.Provision(3.4, DefaultDeviceSettings(), DefaultLoadSchedules())
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, uint16(0), dev.Register(REG_MAX_LOAD_CURRENT))
}

func TestClearAccumulators(t *testing.T) {

	driver, dev := testDriver(t)

	dev.SetUint32(REG_TOTAL_CHARGE_WH, 1234)
	dev.SetUint32(REG_TOTAL_LOAD_WH, 567)
	require.NoError(t, driver.ClearAccumulators())

	charge, err := driver.GetChargeWh()
	require.NoError(t, err)
	load, err := driver.GetLoadWh()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), charge)
	assert.Equal(t, uint32(0), load)
}

func TestFactoryResetAttemptsAllCommands(t *testing.T) {

	driver, dev := testDriver(t)

	dev.DropResponses(MAX_RETRY)
	err := driver.FactoryReset()
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, uint16(1), dev.Register(REG_RESTART), "restart still sent")
}

func TestGetDeviceInfo(t *testing.T) {

	assert := assert.New(t)
	driver, _ := testDriver(t)

	info, err := driver.GetDeviceInfo()
	require.NoError(t, err)
	assert.Equal("ML2420", info.Model)
	assert.Equal(uint8(12), info.RatedVoltage)
	assert.Equal(uint8(10), info.RatedCurrent)
	assert.Equal("4.1.6", info.SoftwareVersion)
	assert.NoError(driver.Probe())
}
