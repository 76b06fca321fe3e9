package service

import (
	"math"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/pkg/srne_modbus"
	"github.com/samber/lo"
)

const (
	MIN_CHARGE_CURRENT      = 1.0
	MAX_CHARGE_CURRENT      = srne_modbus.MAX_CHARGE_CURRENT_CEILING
	OVERHEAT_CHARGE_CURRENT = 2.5
	OVERHEAT_TEMPERATURE    = 65
	RECOVER_TEMPERATURE     = 60
	OVERHEAT_SOC_MARGIN     = 15
	MIDDAY_BOOST_STEP       = 0.2
	SETPOINT_EPSILON        = 0.01
	FULL_CHARGE_TRIGGER_SOC = "soc"
	FULL_CHARGE_TRIGGER_V   = "voltage"
)

// SelectProfile returns the seasonal baseline for a calendar month.
func SelectProfile(month int) domain.ChargingProfile {
	switch {
	case month >= 3 && month <= 5:
		return domain.SummerProfile()
	case month >= 6 && month <= 10:
		return domain.RainyProfile()
	default:
		return domain.WinterProfile()
	}
}

// InSelectionWindow reports whether ts falls within 05:30..05:35.
func InSelectionWindow(ts domain.TimeSnapshot) bool {
	return ts.Hour == 5 && ts.Minute >= 30 && ts.Minute <= 35
}

// AdjustForForecast compares the forecast balance with the previous day's
// balance and nudges the charge current accordingly.
func AdjustForForecast(current, forecastWh float64, loadWh, lastChargeWh, lastLoadWh uint32) float64 {
	forecastBalance := forecastWh - float64(loadWh)
	previousBalance := float64(lastChargeWh) - float64(lastLoadWh)

	var next float64
	switch {
	case forecastBalance > 0 && previousBalance > 0:
		next = current - 0.05
	case forecastBalance <= 0 && previousBalance <= 0:
		next = current + 0.2
	default:
		next = current + 0.15
	}
	return ClampChargeCurrent(next)
}

func ClampChargeCurrent(amps float64) float64 {
	return lo.Clamp(amps, MIN_CHARGE_CURRENT, MAX_CHARGE_CURRENT)
}

// SetpointChanged tells whether two currents differ by more than the write threshold.
func SetpointChanged(a, b float64) bool {
	return math.Abs(a-b) > SETPOINT_EPSILON
}

// DailyLatch fires at most once per calendar day.
type DailyLatch struct {
	day int
}

func (l *DailyLatch) Done(ts domain.TimeSnapshot) bool {
	return l.day == ts.Day
}

func (l *DailyLatch) Set(ts domain.TimeSnapshot) {
	l.day = ts.Day
}

func (l *DailyLatch) Reset() {
	l.day = 0
}

// MiddayBoost holds the two once-per-day checkpoints at 11:00 and 12:00.
type MiddayBoost struct {
	firstDone  bool
	secondDone bool
}

// Evaluate returns the boosted current and whether a checkpoint fired.
func (b *MiddayBoost) Evaluate(ts domain.TimeSnapshot, soc float64, profile domain.ChargingProfile) (float64, bool) {
	if ts.Hour >= 18 {
		b.firstDone = false
		b.secondDone = false
		return profile.MaxChargeCurrent, false
	}
	var threshold float64
	switch {
	case ts.Hour == 11 && !b.firstDone:
		b.firstDone = true
		threshold = profile.SafeSOC1
	case ts.Hour == 12 && !b.secondDone:
		b.secondDone = true
		threshold = profile.SafeSOC2
	default:
		return profile.MaxChargeCurrent, false
	}
	if soc >= threshold {
		return profile.MaxChargeCurrent, false
	}
	if profile.Number == domain.PROFILE_RAINY {
		return MAX_CHARGE_CURRENT, true
	}
	return ClampChargeCurrent(profile.MaxChargeCurrent + MIDDAY_BOOST_STEP), true
}

type OverheatAction int

const (
	OverheatNone OverheatAction = iota
	OverheatTrigger
	OverheatRecover
)

// OverheatGuard is a two-state guard. Evaluate decides, Execute commits once the
// corresponding setpoint write is done (or skipped outside integrated mode).
type OverheatGuard struct {
	active       bool
	savedCurrent float64
}

func (g *OverheatGuard) Active() bool {
	return g.active
}

func (g *OverheatGuard) SavedCurrent() float64 {
	return g.savedCurrent
}

func (g *OverheatGuard) Evaluate(ts domain.TimeSnapshot, soc float64, temperature int, profile domain.ChargingProfile) OverheatAction {
	peak := ts.Hour >= 12 && ts.Hour <= 15
	if !g.active && peak && soc >= profile.MaxSOC-OVERHEAT_SOC_MARGIN && temperature >= OVERHEAT_TEMPERATURE {
		return OverheatTrigger
	}
	if g.active && !ts.Night() && temperature < RECOVER_TEMPERATURE {
		return OverheatRecover
	}
	return OverheatNone
}

// Execute applies the transition and returns the current the controller should get.
func (g *OverheatGuard) Execute(action OverheatAction, current float64) float64 {
	switch action {
	case OverheatTrigger:
		g.active = true
		g.savedCurrent = current
		return OVERHEAT_CHARGE_CURRENT
	case OverheatRecover:
		g.active = false
		return g.savedCurrent
	}
	return current
}

// FullChargeStop latches a zero charge current for the rest of the daytime window.
type FullChargeStop struct {
	Trigger        string
	TriggerVoltage float64
	latched        bool
}

func (s *FullChargeStop) Latched() bool {
	return s.latched
}

// Evaluate reports whether the stop should be written now.
func (s *FullChargeStop) Evaluate(ts domain.TimeSnapshot, battery domain.BatteryTelemetry, profile domain.ChargingProfile) bool {
	if !ts.Daytime() {
		s.latched = false
		return false
	}
	if s.latched {
		return false
	}
	if s.Trigger == FULL_CHARGE_TRIGGER_V && s.TriggerVoltage > 0 {
		return battery.Voltage >= s.TriggerVoltage
	}
	return float64(battery.SOC) >= profile.MaxSOC
}

func (s *FullChargeStop) Latch() {
	s.latched = true
}
