package service

import (
	"testing"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSOCEstimate(t *testing.T) {
	assert := assert.New(t)
	soc := DefaultSOCEstimator()

	assert.Equal(12.5, soc.Estimate(12.2))
	assert.Equal(0.0, soc.Estimate(9.0))
	assert.Equal(100.0, soc.Estimate(14.2))
	assert.InDelta(50.0, soc.Estimate(12.95), 1e-9)
	assert.InDelta(16.25, soc.Estimate(12.3), 1e-9)

	// monotonic across the whole table
	prev := -1.0
	for v := 9.5; v <= 14.0; v += 0.01 {
		e := soc.Estimate(v)
		assert.GreaterOrEqual(e, prev)
		prev = e
	}
}

func TestSOCTableValidation(t *testing.T) {
	_, err := NewSOCEstimator([]SOCBreakpoint{{12.0, 10}})
	assert.Error(t, err)
	_, err = NewSOCEstimator([]SOCBreakpoint{{12.0, 10}, {12.0, 20}})
	assert.Error(t, err)
	_, err = NewSOCEstimator([]SOCBreakpoint{{12.0, 20}, {12.5, 10}})
	assert.Error(t, err)
	e, err := NewSOCEstimator([]SOCBreakpoint{{12.0, 0}, {13.0, 100}})
	require.NoError(t, err)
	assert.InDelta(t, 50.0, e.Estimate(12.5), 1e-9)
}

func TestForecastFirstObservation(t *testing.T) {
	assert := assert.New(t)
	f := NewHoltForecaster()
	assert.False(f.Initialized())
	assert.Equal(480.0, f.Observe(480))
	assert.True(f.Initialized())
	assert.Equal(0.0, f.Trend())
}

func TestForecastReactsToIncreasingSequence(t *testing.T) {
	assert := assert.New(t)
	f := NewHoltForecaster()
	f.Observe(100)
	last := 0.0
	for i, x := range []float64{120, 140, 160, 180, 200} {
		last = f.Observe(x)
		assert.Greater(f.Trend(), 0.0, "trend must stay positive at step %d", i)
	}
	assert.Greater(last, 200.0)
}

func TestForecastFormula(t *testing.T) {
	f := NewHoltForecaster()
	f.Observe(100)
	got := f.Observe(200)
	level := HOLT_ALPHA*200 + (1-HOLT_ALPHA)*100
	trend := HOLT_BETA * (level - 100)
	assert.InDelta(t, level+trend, got, 1e-9)
}

func TestAdjustForForecast(t *testing.T) {
	assert := assert.New(t)

	// both deficit
	assert.InDelta(3.4, AdjustForForecast(3.2, 500, 600, 400, 450), 1e-9)
	// both surplus
	assert.InDelta(3.15, AdjustForForecast(3.2, 700, 600, 500, 450), 1e-9)
	// mixed
	assert.InDelta(3.35, AdjustForForecast(3.2, 700, 600, 400, 450), 1e-9)
	assert.InDelta(3.35, AdjustForForecast(3.2, 500, 600, 500, 450), 1e-9)
	// equality counts as deficit
	assert.InDelta(3.4, AdjustForForecast(3.2, 600, 600, 450, 450), 1e-9)
}

func TestAdjustForForecastClamp(t *testing.T) {
	assert := assert.New(t)

	current := 3.2
	for i := 0; i < 50; i++ {
		current = AdjustForForecast(current, 100, 600, 100, 600)
		assert.LessOrEqual(current, MAX_CHARGE_CURRENT)
	}
	assert.Equal(MAX_CHARGE_CURRENT, current)

	for i := 0; i < 100; i++ {
		current = AdjustForForecast(current, 900, 100, 900, 100)
		assert.GreaterOrEqual(current, MIN_CHARGE_CURRENT)
	}
	assert.Equal(MIN_CHARGE_CURRENT, current)
}

func TestSelectProfile(t *testing.T) {
	assert := assert.New(t)
	for month, want := range map[int]int{
		1: domain.PROFILE_WINTER, 2: domain.PROFILE_WINTER, 3: domain.PROFILE_SUMMER,
		5: domain.PROFILE_SUMMER, 6: domain.PROFILE_RAINY, 10: domain.PROFILE_RAINY,
		11: domain.PROFILE_WINTER, 12: domain.PROFILE_WINTER,
	} {
		assert.Equal(want, SelectProfile(month).Number, "month %d", month)
	}
}

func TestMiddayBoost(t *testing.T) {
	assert := assert.New(t)
	summer := domain.SummerProfile()
	var b MiddayBoost

	at := func(h int) domain.TimeSnapshot { return domain.TimeSnapshot{Year: 2025, Month: 4, Day: 2, Hour: h} }

	v, fired := b.Evaluate(at(10), 50, summer)
	assert.False(fired)
	assert.Equal(summer.MaxChargeCurrent, v)

	v, fired = b.Evaluate(at(11), 50, summer)
	assert.True(fired)
	assert.InDelta(3.4, v, 1e-9)

	// latched for the rest of the hour
	_, fired = b.Evaluate(at(11), 50, summer)
	assert.False(fired)

	// above safe_soc_2 at noon: consumed without boost
	_, fired = b.Evaluate(at(12), 80, summer)
	assert.False(fired)
	_, fired = b.Evaluate(at(12), 10, summer)
	assert.False(fired)

	// evening reset
	b.Evaluate(at(18), 50, summer)
	_, fired = b.Evaluate(at(11), 50, summer)
	assert.True(fired)

	var rainy MiddayBoost
	v, fired = rainy.Evaluate(at(12), 60, domain.RainyProfile())
	assert.True(fired)
	assert.Equal(MAX_CHARGE_CURRENT, v)
}

func TestOverheatGuard(t *testing.T) {
	assert := assert.New(t)
	profile := domain.SummerProfile()
	var g OverheatGuard

	noon := domain.TimeSnapshot{Year: 2025, Month: 4, Day: 2, Hour: 13}
	morning := domain.TimeSnapshot{Year: 2025, Month: 4, Day: 2, Hour: 10}
	night := domain.TimeSnapshot{Year: 2025, Month: 4, Day: 2, Hour: 22}

	assert.Equal(OverheatNone, g.Evaluate(morning, 90, 70, profile))
	assert.Equal(OverheatNone, g.Evaluate(noon, 70, 70, profile))
	assert.Equal(OverheatNone, g.Evaluate(noon, 90, 64, profile))

	action := g.Evaluate(noon, 80, 65, profile)
	assert.Equal(OverheatTrigger, action)
	assert.Equal(OVERHEAT_CHARGE_CURRENT, g.Execute(action, 3.3))
	assert.True(g.Active())

	assert.Equal(OverheatNone, g.Evaluate(noon, 80, 62, profile))
	assert.Equal(OverheatNone, g.Evaluate(night, 80, 40, profile))

	action = g.Evaluate(domain.TimeSnapshot{Hour: 16}, 80, 59, profile)
	assert.Equal(OverheatRecover, action)
	assert.Equal(3.3, g.Execute(action, OVERHEAT_CHARGE_CURRENT))
	assert.False(g.Active())
}

func TestFullChargeStop(t *testing.T) {
	assert := assert.New(t)
	profile := domain.SummerProfile()
	s := FullChargeStop{Trigger: FULL_CHARGE_TRIGGER_SOC}

	day := domain.TimeSnapshot{Hour: 14}
	evening := domain.TimeSnapshot{Hour: 19}
	full := domain.BatteryTelemetry{}
	full.SOC = 96

	assert.True(s.Evaluate(day, full, profile))
	s.Latch()
	assert.False(s.Evaluate(day, full, profile))
	assert.False(s.Evaluate(evening, full, profile))
	assert.False(s.Latched())
	assert.True(s.Evaluate(day, full, profile))

	volt := FullChargeStop{Trigger: FULL_CHARGE_TRIGGER_V, TriggerVoltage: 14.2}
	b := domain.BatteryTelemetry{}
	b.SOC = 99
	b.Voltage = 13.9
	assert.False(volt.Evaluate(day, b, profile))
	b.Voltage = 14.2
	assert.True(volt.Evaluate(day, b, profile))
}

func TestDailyLatch(t *testing.T) {
	assert := assert.New(t)
	var l DailyLatch
	d1 := domain.TimeSnapshot{Day: 1}
	d2 := domain.TimeSnapshot{Day: 2}
	assert.False(l.Done(d1))
	l.Set(d1)
	assert.True(l.Done(d1))
	assert.False(l.Done(d2))
	l.Reset()
	assert.False(l.Done(d1))
}
