package service

import (
	"context"
	"errors"
	"testing"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/pkg/srne_modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errWrite = errors.New("write failed")

type fakeController struct {
	load          srne_modbus.LoadInfo
	solar         srne_modbus.SolarInfo
	battery       srne_modbus.BatteryInfo
	chargeWh      uint32
	loadWh        uint32
	failReads     bool
	readFailure   error
	reads         int
	failWrites    bool
	chargeWrites  []float64
	loadWrites    []float64
	clearRequests int
}

func (c *fakeController) readErr() error {
	c.reads++
	if c.failReads {
		if c.readFailure != nil {
			return c.readFailure
		}
		return srne_modbus.ErrTimeout
	}
	return nil
}

func (c *fakeController) GetLoadInfo() (*srne_modbus.LoadInfo, error) {
	if err := c.readErr(); err != nil {
		return nil, err
	}
	v := c.load
	return &v, nil
}

func (c *fakeController) GetSolarInfo() (*srne_modbus.SolarInfo, error) {
	if err := c.readErr(); err != nil {
		return nil, err
	}
	v := c.solar
	return &v, nil
}

func (c *fakeController) GetBatteryInfo() (*srne_modbus.BatteryInfo, error) {
	if err := c.readErr(); err != nil {
		return nil, err
	}
	v := c.battery
	return &v, nil
}

func (c *fakeController) GetChargeWh() (uint32, error) {
	return c.chargeWh, c.readErr()
}

func (c *fakeController) GetLoadWh() (uint32, error) {
	return c.loadWh, c.readErr()
}

func (c *fakeController) GetAhTotals() (*srne_modbus.AhTotals, error) {
	return &srne_modbus.AhTotals{ChargeAh: 10, DischargeAh: 8}, c.readErr()
}

func (c *fakeController) SetMaxChargeCurrent(amps float64) error {
	c.chargeWrites = append(c.chargeWrites, amps)
	if c.failWrites {
		return errWrite
	}
	return nil
}

func (c *fakeController) SetMaxLoadCurrent(amps float64) error {
	c.loadWrites = append(c.loadWrites, amps)
	if c.failWrites {
		return errWrite
	}
	return nil
}

func (c *fakeController) ClearAccumulators() error {
	c.clearRequests++
	return nil
}

type fakeClock struct {
	now domain.TimeSnapshot
	err error
}

func (c *fakeClock) Now() (domain.TimeSnapshot, error) {
	return c.now, c.err
}

func (c *fakeClock) at(day, hour, minute int) {
	c.now = domain.TimeSnapshot{Year: 2025, Month: 4, Day: day, Hour: hour, Minute: minute}
}

type memStore struct {
	flags map[string]int
}

func newMemStore() *memStore {
	return &memStore{flags: map[string]int{}}
}

func (s *memStore) LoadFlag(key string, defaultValue int) int {
	if v, ok := s.flags[key]; ok {
		return v
	}
	return defaultValue
}

func (s *memStore) SaveFlag(key string, value int) error {
	s.flags[key] = value
	return nil
}

func (s *memStore) EraseAll() error {
	s.flags = map[string]int{}
	return nil
}

type fakePublisher struct {
	records []domain.TelemetryRecord
	topics  []string
	err     error
}

func (p *fakePublisher) Publish(ctx context.Context, record domain.TelemetryRecord, topic string) error {
	p.records = append(p.records, record)
	p.topics = append(p.topics, topic)
	return p.err
}

type fixture struct {
	controller *fakeController
	clock      *fakeClock
	store      *memStore
	publisher  *fakePublisher
	supervisor *Supervisor
}

func newFixture(t *testing.T, config SupervisorConfig, flags map[string]int) *fixture {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	f := &fixture{
		controller: &fakeController{
			load:    srne_modbus.LoadInfo{Voltage: 13.1, Current: 0.5, Power: 6},
			solar:   srne_modbus.SolarInfo{Voltage: 18.2, Current: 1.1, Power: 20},
			battery: srne_modbus.BatteryInfo{SOC: 60, Voltage: 12.2, Current: 1.5, Temperature: 25},
		},
		clock:     &fakeClock{},
		store:     newMemStore(),
		publisher: &fakePublisher{},
	}
	for k, v := range flags {
		f.store.flags[k] = v
	}
	f.clock.at(2, 10, 0)
	f.supervisor = NewSupervisor(f.controller, f.clock, f.publisher, f.store, nil, config, logger)
	f.supervisor.SetProfile(domain.SummerProfile(), domain.TimeSnapshot{})
	return f
}

func TestRefreshTelemetryEstimatesSOC(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, DefaultSupervisorConfig(), nil)

	require.NoError(t, f.supervisor.RunSlot(context.Background(), SLOT_TELEMETRY))
	state := f.supervisor.State()
	assert.Equal(12.2, state.Battery.Voltage)
	assert.Equal(12.5, state.Battery.SOCEstimated)
	assert.Equal(uint32(10), state.Battery.ChargeAh)
	assert.Equal(0.5, f.supervisor.LoadCurrent())
}

func TestRefreshTelemetryFailsClosed(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, DefaultSupervisorConfig(), nil)

	f.supervisor.RefreshTelemetry()
	f.controller.failReads = true
	f.controller.battery.Voltage = 13.6
	f.supervisor.RefreshTelemetry()

	// previous values survive a failed read
	assert.Equal(12.2, f.supervisor.State().Battery.Voltage)
	assert.Equal(12.5, f.supervisor.State().Battery.SOCEstimated)
}

func TestRefreshTelemetryStopsOnSilentBus(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, DefaultSupervisorConfig(), nil)

	f.controller.failReads = true
	f.controller.reads = 0
	f.supervisor.RefreshTelemetry()
	assert.Equal(1, f.controller.reads, "a timeout skips the rest of the batch")

	// other errors do not stop the batch
	f.controller.readFailure = srne_modbus.ErrProtocol
	f.controller.reads = 0
	f.supervisor.RefreshTelemetry()
	assert.Equal(6, f.controller.reads)
}

func TestProfileSelectionWindow(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, DefaultSupervisorConfig(), nil)
	f.supervisor.SetProfile(domain.ChargingProfile{}, domain.TimeSnapshot{})

	f.clock.now = domain.TimeSnapshot{Year: 2025, Month: 7, Day: 3, Hour: 5, Minute: 31}
	f.supervisor.RefreshTelemetry()
	assert.Equal(domain.PROFILE_RAINY, f.supervisor.Profile().Number)
	assert.Equal([]float64{3.3}, f.controller.chargeWrites)

	// once per day
	f.clock.now.Minute = 33
	f.supervisor.RefreshTelemetry()
	assert.Len(f.controller.chargeWrites, 1)
}

func TestProfileSelectionWithoutIntegration(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, DefaultSupervisorConfig(), map[string]int{FLAG_INTEGRATED: 0})

	f.clock.now = domain.TimeSnapshot{Year: 2025, Month: 12, Day: 3, Hour: 5, Minute: 30}
	f.supervisor.RefreshTelemetry()
	assert.Equal(domain.PROFILE_WINTER, f.supervisor.Profile().Number)
	assert.Empty(f.controller.chargeWrites)
}

func TestForecastCaptureCycle(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, DefaultSupervisorConfig(), nil)
	s := f.supervisor

	night := func(day int, chargeWh uint32) {
		f.clock.at(day, 22, 0)
		f.controller.load.Current = 0.5
		f.controller.chargeWh = chargeWh
		s.RefreshTelemetry()
		s.ForecastAndThermal()
	}
	morning := func(day int, loadWh uint32) {
		f.clock.at(day, 8, 0)
		f.controller.load.Current = 0
		f.controller.loadWh = loadWh
		s.RefreshTelemetry()
		s.ForecastAndThermal()
	}

	// first cycle only seeds the forecaster
	night(1, 400)
	assert.Equal(0, f.controller.clearRequests)
	morning(2, 450)
	assert.Equal(1, f.controller.clearRequests)
	assert.Empty(f.controller.chargeWrites)
	assert.Equal(3.2, s.Profile().MaxChargeCurrent)

	// second cycle: forecast below load and yesterday in deficit
	night(2, 500)
	morning(3, 600)
	assert.Equal(2, f.controller.clearRequests)
	require.Len(t, f.controller.chargeWrites, 1)
	assert.InDelta(3.4, f.controller.chargeWrites[0], 1e-9)
	assert.InDelta(3.4, s.Profile().MaxChargeCurrent, 1e-9)
	assert.Less(s.State().LastForecastWh, 600.0)
}

func TestLoadCaptureWaitsForChargeCapture(t *testing.T) {
	f := newFixture(t, DefaultSupervisorConfig(), nil)
	f.clock.at(2, 9, 0)
	f.controller.load.Current = 0
	f.supervisor.RefreshTelemetry()
	f.supervisor.ForecastAndThermal()
	assert.Equal(t, 0, f.controller.clearRequests)
}

func TestFullChargeStopAndFaultThreshold(t *testing.T) {
	assert := assert.New(t)
	config := DefaultSupervisorConfig()
	config.FaultThreshold = 2
	f := newFixture(t, config, nil)

	f.clock.at(2, 14, 0)
	f.controller.battery.SOC = 96
	f.controller.failWrites = true
	f.supervisor.RefreshTelemetry()

	f.supervisor.SafetyChecks()
	assert.True(f.supervisor.Integrated())
	assert.False(f.supervisor.State().FullChargeStop)

	f.supervisor.SafetyChecks()
	assert.False(f.supervisor.Integrated())
	assert.Equal(0, f.store.flags[FLAG_INTEGRATED])

	// state keeps tracking outside integrated mode without writing
	f.supervisor.SafetyChecks()
	assert.True(f.supervisor.State().FullChargeStop)
	assert.Len(f.controller.chargeWrites, 2)
}

func TestFullChargeStopWritesZero(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, DefaultSupervisorConfig(), nil)

	f.clock.at(2, 14, 0)
	f.controller.battery.SOC = 95
	f.supervisor.RefreshTelemetry()
	f.supervisor.SafetyChecks()
	f.supervisor.SafetyChecks()
	assert.Equal([]float64{0}, f.controller.chargeWrites)
	assert.True(f.supervisor.State().FullChargeStop)
}

func TestMiddayBoostIsApplied(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, DefaultSupervisorConfig(), nil)

	f.clock.at(2, 11, 0)
	f.controller.battery.SOC = 40
	f.supervisor.RefreshTelemetry()
	f.supervisor.SafetyChecks()
	require.Len(t, f.controller.chargeWrites, 1)
	assert.InDelta(3.4, f.controller.chargeWrites[0], 1e-9)
}

func TestOverheatGuardWrites(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, DefaultSupervisorConfig(), nil)

	f.clock.at(2, 13, 0)
	f.controller.battery.SOC = 85
	f.controller.battery.Temperature = 67
	f.supervisor.RefreshTelemetry()
	f.supervisor.ForecastAndThermal()
	assert.True(f.supervisor.State().Overheated)

	f.clock.at(2, 15, 0)
	f.controller.battery.Temperature = 55
	f.supervisor.RefreshTelemetry()
	f.supervisor.ForecastAndThermal()
	assert.False(f.supervisor.State().Overheated)
	assert.Equal([]float64{OVERHEAT_CHARGE_CURRENT, 3.2}, f.controller.chargeWrites)
}

func TestIntegrationRecovery(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, DefaultSupervisorConfig(), map[string]int{FLAG_INTEGRATED: 0})
	assert.False(f.supervisor.Integrated())

	f.clock.at(2, 12, 0)
	f.controller.battery.SOC = 96
	f.supervisor.RefreshTelemetry()
	f.supervisor.IntegrationCheck()
	assert.False(f.supervisor.Integrated())

	f.clock.at(3, 6, 0)
	f.controller.battery.SOC = 50
	f.controller.load.Voltage = 0
	f.supervisor.RefreshTelemetry()
	f.supervisor.IntegrationCheck()
	assert.True(f.supervisor.Integrated())
	assert.Equal(1, f.store.flags[FLAG_INTEGRATED])
}

func TestPolicyWaitsForTrustedTime(t *testing.T) {
	f := newFixture(t, DefaultSupervisorConfig(), nil)
	f.clock.err = errors.New("clock not set")
	f.controller.battery.SOC = 99
	f.supervisor.RefreshTelemetry()
	f.supervisor.SafetyChecks()
	f.supervisor.ForecastAndThermal()
	assert.Empty(t, f.controller.chargeWrites)
}

func TestPublish(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, DefaultSupervisorConfig(), nil)
	f.clock.now = domain.TimeSnapshot{Year: 2025, Month: 4, Day: 2, Hour: 9, Minute: 5, Second: 7}

	f.supervisor.RefreshTelemetry()
	require.NoError(t, f.supervisor.RunSlot(context.Background(), SLOT_PUBLISH))
	require.Len(t, f.publisher.records, 1)
	assert.Equal("test/data/up3", f.publisher.topics[0])
	record := f.publisher.records[0]
	assert.Equal(12.2, record.BatteryVoltage)
	assert.Equal(60, record.BatterySOC)
	assert.Equal("2025-04-02T09:05:07", record.Timestamp)

	f.publisher.err = errors.New("broker down")
	assert.Error(f.supervisor.RunSlot(context.Background(), SLOT_PUBLISH))
}

func TestReservedAndUnknownSlots(t *testing.T) {
	f := newFixture(t, DefaultSupervisorConfig(), nil)
	assert.NoError(t, f.supervisor.RunSlot(context.Background(), SLOT_RESERVED))
	assert.Error(t, f.supervisor.RunSlot(context.Background(), 7))
}

func TestLoadLimit(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, DefaultSupervisorConfig(), nil)
	f.supervisor.RefreshTelemetry()

	assert.False(f.supervisor.EnforceLoadLimit(100))
	assert.Empty(f.controller.loadWrites)

	assert.False(f.supervisor.EnforceLoadLimit(2160))
	assert.False(f.supervisor.EnforceLoadLimit(2200))
	require.Len(t, f.controller.loadWrites, 1)
	assert.InDelta(0.805, f.controller.loadWrites[0], 1e-9)
	assert.True(f.supervisor.State().ReducedLoadCurrent)

	f.clock.at(3, 5, 40)
	f.supervisor.RefreshTelemetry()
	assert.True(f.supervisor.EnforceLoadLimit(0))
	assert.Equal(1.15, f.controller.loadWrites[1])
	assert.False(f.supervisor.State().ReducedLoadCurrent)
}
