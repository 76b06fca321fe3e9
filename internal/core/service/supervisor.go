package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/internal/core/port"
	"github.com/berfenger/srne2mqtt/pkg/srne_modbus"
	"go.uber.org/zap"
)

const (
	SLOT_TELEMETRY   = 1
	SLOT_SAFETY      = 2
	SLOT_FORECAST    = 3
	SLOT_INTEGRATION = 4
	SLOT_PUBLISH     = 5
	SLOT_RESERVED    = 6
	SLOT_COUNT       = 6

	FLAG_TIME_UPDATED = "tud"
	FLAG_PROVISIONED  = "pgr"
	FLAG_INTEGRATED   = "itg"
	FLAG_CLOCK_OFFSET = "clk"

	LOAD_ACTIVE_CURRENT = 0.1

	DEFAULT_TELEMETRY_TOPIC = "test/data/up3"
)

type SupervisorConfig struct {
	TelemetryTopic       string
	PublishTimeout       time.Duration
	FaultThreshold       int
	FullChargeTrigger    string
	FullChargeVoltage    float64
	MaxLoadCurrent       float64
	LoadReductionPeriods int32
	LoadReductionFactor  float64
}

func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		TelemetryTopic:       DEFAULT_TELEMETRY_TOPIC,
		PublishTimeout:       500 * time.Millisecond,
		FaultThreshold:       5,
		FullChargeTrigger:    FULL_CHARGE_TRIGGER_SOC,
		MaxLoadCurrent:       1.15,
		LoadReductionPeriods: 2160,
		LoadReductionFactor:  0.7,
	}
}

// Supervisor is the shared state of the slot routines. It is driven by a single
// goroutine; each field group below is written only by the slot noted.
type Supervisor struct {
	controller port.ChargeController
	clock      port.Clock
	publisher  port.TelemetryPublisher
	store      port.FlagStore
	metrics    port.MetricsRecorder
	soc        *SOCEstimator
	forecaster *HoltForecaster
	config     SupervisorConfig
	logger     *zap.Logger

	// slot 1
	now          domain.TimeSnapshot
	timeValid    bool
	load         domain.LoadTelemetry
	solar        domain.SolarTelemetry
	battery      domain.BatteryTelemetry
	profileLatch DailyLatch

	// slots 1, 2 and 3
	profile domain.ChargingProfile

	// slot 2
	fullCharge FullChargeStop
	boost      MiddayBoost

	// slot 3
	chargeCaptured bool
	loadCaptured   bool
	lastForecast   float64
	overheat       OverheatGuard

	// slot 4, operator commands and the write fault counter
	integrated    bool
	recharged     bool
	writeFailures int

	// load limit, checked after every slot
	reducedLoad bool
}

func NewSupervisor(controller port.ChargeController, clock port.Clock, publisher port.TelemetryPublisher,
	store port.FlagStore, metrics port.MetricsRecorder, config SupervisorConfig, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		controller: controller,
		clock:      clock,
		publisher:  publisher,
		store:      store,
		metrics:    metrics,
		soc:        DefaultSOCEstimator(),
		forecaster: NewHoltForecaster(),
		config:     config,
		logger:     logger,
		integrated: store.LoadFlag(FLAG_INTEGRATED, 1) != 0,
		fullCharge: FullChargeStop{
			Trigger:        config.FullChargeTrigger,
			TriggerVoltage: config.FullChargeVoltage,
		},
	}
}

// RunSlot executes the routine of one slot (1..6).
func (s *Supervisor) RunSlot(ctx context.Context, slot int) error {
	switch slot {
	case SLOT_TELEMETRY:
		s.RefreshTelemetry()
	case SLOT_SAFETY:
		s.SafetyChecks()
	case SLOT_FORECAST:
		s.ForecastAndThermal()
	case SLOT_INTEGRATION:
		s.IntegrationCheck()
	case SLOT_PUBLISH:
		return s.Publish(ctx)
	case SLOT_RESERVED:
	default:
		return fmt.Errorf("unknown slot %d", slot)
	}
	return nil
}

// SetProfile installs a baseline profile and marks today's selection as done.
func (s *Supervisor) SetProfile(profile domain.ChargingProfile, ts domain.TimeSnapshot) {
	s.profile = profile
	s.profileLatch.Set(ts)
}

func (s *Supervisor) Profile() domain.ChargingProfile {
	return s.profile
}

func (s *Supervisor) Integrated() bool {
	return s.integrated
}

// SetIntegrated changes the integration mode and persists it.
func (s *Supervisor) SetIntegrated(enable bool) (bool, error) {
	if s.integrated == enable {
		return false, nil
	}
	s.integrated = enable
	s.writeFailures = 0
	s.logger.Info("supervisor: integration mode changed", zap.Bool("integrated", enable))
	if err := s.store.SaveFlag(FLAG_INTEGRATED, boolToFlag(enable)); err != nil {
		return true, fmt.Errorf("could not persist integration mode: %w", err)
	}
	return true, nil
}

// LoadCurrent is the last observed load current, used by the alarm's active period counter.
func (s *Supervisor) LoadCurrent() float64 {
	return s.load.Current
}

// RefreshTelemetry reads time, load, solar and battery data, then runs the
// once-a-day baseline selection window.
// readTelemetry refreshes the cached readings. A timeout means the bus is
// silent, so the remaining reads of the batch are skipped.
func (s *Supervisor) readTelemetry() {
	reads := []struct {
		name string
		read func() error
	}{
		{"load info", func() error {
			info, err := s.controller.GetLoadInfo()
			if err == nil {
				s.load.LoadInfo = *info
			}
			return err
		}},
		{"load energy", func() error {
			wh, err := s.controller.GetLoadWh()
			if err == nil {
				s.load.Wh = wh
			}
			return err
		}},
		{"solar info", func() error {
			info, err := s.controller.GetSolarInfo()
			if err == nil {
				s.solar.SolarInfo = *info
			}
			return err
		}},
		{"battery info", func() error {
			info, err := s.controller.GetBatteryInfo()
			if err == nil {
				s.battery.BatteryInfo = *info
				s.battery.SOCEstimated = s.soc.Estimate(info.Voltage)
			}
			return err
		}},
		{"charge energy", func() error {
			wh, err := s.controller.GetChargeWh()
			if err == nil {
				s.battery.ChargeWh = wh
			}
			return err
		}},
		{"Ah totals", func() error {
			totals, err := s.controller.GetAhTotals()
			if err == nil {
				s.battery.ChargeAh = totals.ChargeAh
				s.battery.DischargeAh = totals.DischargeAh
			}
			return err
		}},
	}
	for _, r := range reads {
		err := r.read()
		if err == nil {
			continue
		}
		s.logger.Warn("supervisor@slot1: could not read "+r.name, zap.Error(err))
		if errors.Is(err, srne_modbus.ErrTimeout) {
			return
		}
	}
}

func (s *Supervisor) RefreshTelemetry() {
	now, err := s.clock.Now()
	if err != nil {
		s.timeValid = false
		s.logger.Warn("supervisor@slot1: clock is not trusted", zap.Error(err))
	} else {
		s.now = now
		s.timeValid = true
	}

	s.readTelemetry()

	s.logger.Debug("supervisor@slot1: telemetry",
		zap.String("time", s.now.String()),
		zap.Float64("load_v", s.load.Voltage),
		zap.Float64("load_a", s.load.Current),
		zap.Float64("solar_v", s.solar.Voltage),
		zap.Float64("battery_v", s.battery.Voltage),
		zap.Int("soc", s.battery.SOC),
		zap.Float64("soc_estimated", s.battery.SOCEstimated),
		zap.Int("temperature", s.battery.Temperature))

	if !s.timeValid || !InSelectionWindow(s.now) || s.profileLatch.Done(s.now) {
		return
	}
	s.profile = SelectProfile(s.now.Month)
	s.profileLatch.Set(s.now)
	s.logger.Info("supervisor@slot1: charging profile selected",
		zap.String("profile", s.profile.Name()),
		zap.Float64("max_charge_current", s.profile.MaxChargeCurrent))
	s.applyChargeCurrent(s.profile.MaxChargeCurrent)
}

// SafetyChecks runs the full-charge stop and the midday SOC boosts.
func (s *Supervisor) SafetyChecks() {
	if !s.policyReady() {
		return
	}
	if s.fullCharge.Evaluate(s.now, s.battery, s.profile) {
		if s.applyChargeCurrent(0) {
			s.fullCharge.Latch()
			s.logger.Info("supervisor@slot2: battery full, charging stopped", zap.Int("soc", s.battery.SOC))
		}
	}

	previous := s.profile.MaxChargeCurrent
	boosted, fired := s.boost.Evaluate(s.now, float64(s.battery.SOC), s.profile)
	if fired {
		s.profile.MaxChargeCurrent = boosted
		s.logger.Info("supervisor@slot2: midday SOC boost",
			zap.Float64("from", previous), zap.Float64("to", boosted))
	}
	if s.now.Daytime() && SetpointChanged(s.profile.MaxChargeCurrent, previous) {
		s.applyChargeCurrent(s.profile.MaxChargeCurrent)
	}
}

// ForecastAndThermal captures the daily energy totals, adjusts the charge
// current from the forecast and runs the overheat guard.
func (s *Supervisor) ForecastAndThermal() {
	if !s.policyReady() {
		return
	}
	night := s.now.Night()

	if night && s.load.Current > LOAD_ACTIVE_CURRENT && !s.chargeCaptured {
		if wh, err := s.controller.GetChargeWh(); err == nil {
			s.battery.ChargeWh = wh
			s.battery.LastChargeWh = wh
			s.chargeCaptured = true
			s.logger.Info("supervisor@slot3: charge energy captured", zap.Uint32("wh", wh))
		} else {
			s.logger.Warn("supervisor@slot3: could not capture charge energy", zap.Error(err))
		}
	}

	if !night && s.load.Current < LOAD_ACTIVE_CURRENT && s.chargeCaptured && !s.loadCaptured {
		if wh, err := s.controller.GetLoadWh(); err == nil {
			s.load.Wh = wh
			s.load.LastWh = wh
			s.loadCaptured = true
			s.logger.Info("supervisor@slot3: load energy captured", zap.Uint32("wh", wh))
		} else {
			s.logger.Warn("supervisor@slot3: could not capture load energy", zap.Error(err))
		}
	}

	if s.chargeCaptured && s.loadCaptured {
		seeded := s.forecaster.Initialized()
		s.lastForecast = s.forecaster.Observe(float64(s.battery.ChargeWh))
		if seeded {
			previous := s.profile.MaxChargeCurrent
			s.profile.MaxChargeCurrent = AdjustForForecast(previous, s.lastForecast,
				s.load.Wh, s.battery.LastChargeWh, s.load.LastWh)
			s.logger.Info("supervisor@slot3: charge current adjusted from forecast",
				zap.Float64("forecast_wh", s.lastForecast),
				zap.Float64("from", previous),
				zap.Float64("to", s.profile.MaxChargeCurrent))
			s.applyChargeCurrent(s.profile.MaxChargeCurrent)
		} else {
			s.logger.Info("supervisor@slot3: forecaster seeded", zap.Float64("charge_wh", s.lastForecast))
		}
		if err := s.controller.ClearAccumulators(); err != nil {
			s.logger.Warn("supervisor@slot3: could not clear accumulators", zap.Error(err))
		}
		s.chargeCaptured = false
		s.loadCaptured = false
	}

	action := s.overheat.Evaluate(s.now, float64(s.battery.SOC), s.battery.Temperature, s.profile)
	switch action {
	case OverheatTrigger:
		if s.applyChargeCurrent(OVERHEAT_CHARGE_CURRENT) {
			s.overheat.Execute(action, s.profile.MaxChargeCurrent)
			s.logger.Warn("supervisor@slot3: overheat protection triggered",
				zap.Int("temperature", s.battery.Temperature))
		}
	case OverheatRecover:
		if s.applyChargeCurrent(s.overheat.SavedCurrent()) {
			s.overheat.Execute(action, s.profile.MaxChargeCurrent)
			s.logger.Info("supervisor@slot3: temperature normal, charge current restored",
				zap.Float64("current", s.overheat.SavedCurrent()))
		}
	}
}

// IntegrationCheck re-enables integrated mode after a daytime recharge followed
// by an idle early morning.
func (s *Supervisor) IntegrationCheck() {
	if s.integrated || !s.policyReady() {
		return
	}
	soc := float64(s.battery.SOC)
	if s.now.Daytime() && soc >= s.profile.MaxSOC {
		s.recharged = true
	}
	offTime := s.now.Hour >= 5 && s.now.Hour <= 7
	if offTime && s.recharged && soc >= s.profile.MinSOC && s.load.Voltage < 10 {
		s.recharged = false
		if _, err := s.SetIntegrated(true); err != nil {
			s.logger.Warn("supervisor@slot4: integration re-enabled but not persisted", zap.Error(err))
		}
	}
}

// Publish hands the latest telemetry to the message bus and the metrics recorder.
func (s *Supervisor) Publish(ctx context.Context) error {
	if s.metrics != nil {
		s.metrics.RecordTelemetry(s.State())
	}
	if s.publisher == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, s.config.PublishTimeout)
	defer cancel()
	record := domain.NewTelemetryRecord(s.load, s.solar, s.battery, s.now)
	if err := s.publisher.Publish(pctx, record, s.config.TelemetryTopic); err != nil {
		s.logger.Warn("supervisor@slot5: publish failed", zap.String("topic", s.config.TelemetryTopic), zap.Error(err))
		return err
	}
	return nil
}

// EnforceLoadLimit reduces the max load current after a long active streak and
// restores it at 05:40. It reports whether the active counter should be reset.
func (s *Supervisor) EnforceLoadLimit(activePeriods int32) bool {
	if s.config.LoadReductionPeriods > 0 && activePeriods >= s.config.LoadReductionPeriods && !s.reducedLoad {
		reduced := s.config.MaxLoadCurrent * s.config.LoadReductionFactor
		if err := s.controller.SetMaxLoadCurrent(reduced); err == nil {
			s.reducedLoad = true
			s.logger.Info("supervisor: load current reduced after extended use", zap.Float64("current", reduced))
		} else {
			s.logger.Warn("supervisor: could not reduce load current", zap.Error(err))
		}
	}
	if !s.reducedLoad || !s.timeValid || s.now.Hour != 5 || s.now.Minute != 40 {
		return false
	}
	if err := s.controller.SetMaxLoadCurrent(s.config.MaxLoadCurrent); err != nil {
		s.logger.Warn("supervisor: could not restore load current", zap.Error(err))
		return false
	}
	s.reducedLoad = false
	s.logger.Info("supervisor: load current restored", zap.Float64("current", s.config.MaxLoadCurrent))
	return true
}

func (s *Supervisor) State() domain.SupervisorState {
	return domain.SupervisorState{
		Time:               s.now,
		Load:               s.load,
		Solar:              s.solar,
		Battery:            s.battery,
		Profile:            s.profile,
		Integrated:         s.integrated,
		Overheated:         s.overheat.Active(),
		FullChargeStop:     s.fullCharge.Latched(),
		ReducedLoadCurrent: s.reducedLoad,
		LastForecastWh:     s.lastForecast,
	}
}

func (s *Supervisor) policyReady() bool {
	return s.timeValid && s.profile.Number != domain.PROFILE_NONE
}

// applyChargeCurrent writes a charge current setpoint in integrated mode. It
// returns true when the policy may commit its state change.
func (s *Supervisor) applyChargeCurrent(amps float64) bool {
	if !s.integrated {
		return true
	}
	if err := s.controller.SetMaxChargeCurrent(amps); err != nil {
		s.writeFailures++
		s.logger.Error("supervisor: charge current write failed",
			zap.Float64("current", amps), zap.Int("failures", s.writeFailures), zap.Error(err))
		if s.config.FaultThreshold > 0 && s.writeFailures >= s.config.FaultThreshold {
			s.logger.Error("supervisor: too many failed writes, leaving integrated mode")
			if _, err := s.SetIntegrated(false); err != nil {
				s.logger.Error("supervisor: could not persist integration mode", zap.Error(err))
			}
		}
		return false
	}
	s.writeFailures = 0
	return true
}

func boolToFlag(v bool) int {
	if v {
		return 1
	}
	return 0
}
