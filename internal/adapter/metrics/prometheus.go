package metrics

import (
	"errors"
	"time"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/pkg/srne_modbus"
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exposes register transaction timings and the last telemetry
// snapshot for scraping.
type Prometheus struct {
	transactionDuration *prometheus.HistogramVec
	transactionErrors   *prometheus.CounterVec
	telemetry           *prometheus.GaugeVec
	integrated          prometheus.Gauge
	overheated          prometheus.Gauge
}

func NewPrometheus(registerer prometheus.Registerer) (*Prometheus, error) {
	m := &Prometheus{
		transactionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "srne_modbus_transaction_duration_seconds",
			Help:    "Histogram of register transaction durations by operation.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1},
		}, []string{"fn"}),
		transactionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "srne_modbus_transaction_errors_total",
			Help: "Total failed register transactions by operation and kind.",
		}, []string{"fn", "kind"}),
		telemetry: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "srne_telemetry",
			Help: "Last telemetry value read from the charge controller.",
		}, []string{"sensor"}),
		integrated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "srne_integrated",
			Help: "1 when setpoints are applied to the controller.",
		}),
		overheated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "srne_overheated",
			Help: "1 while the overheat guard limits the charge current.",
		}),
	}
	for _, c := range []prometheus.Collector{m.transactionDuration, m.transactionErrors, m.telemetry, m.integrated, m.overheated} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Prometheus) Instrument() *srne_modbus.ModbusInstrument {
	return &srne_modbus.ModbusInstrument{
		RecordTime: func(fnName string, elapsed time.Duration) {
			m.transactionDuration.WithLabelValues(fnName).Observe(elapsed.Seconds())
		},
		RecordError: func(fnName string, err error) {
			m.transactionErrors.WithLabelValues(fnName, errorKind(err)).Inc()
		},
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, srne_modbus.ErrTimeout):
		return "timeout"
	case errors.Is(err, srne_modbus.ErrProtocol):
		return "protocol"
	}
	return "other"
}

func (m *Prometheus) RecordTelemetry(state domain.SupervisorState) {
	for name, value := range telemetryValues(state) {
		m.telemetry.WithLabelValues(name).Set(value)
	}
	m.integrated.Set(boolGauge(state.Integrated))
	m.overheated.Set(boolGauge(state.Overheated))
}

func telemetryValues(state domain.SupervisorState) map[string]float64 {
	return map[string]float64{
		domain.SENSOR_ID_LOAD_VOLTAGE:          state.Load.Voltage,
		domain.SENSOR_ID_LOAD_CURRENT:          state.Load.Current,
		domain.SENSOR_ID_LOAD_POWER:            float64(state.Load.Power),
		domain.SENSOR_ID_LOAD_ENERGY:           float64(state.Load.Wh),
		domain.SENSOR_ID_SOLAR_VOLTAGE:         state.Solar.Voltage,
		domain.SENSOR_ID_SOLAR_CURRENT:         state.Solar.Current,
		domain.SENSOR_ID_SOLAR_POWER:           float64(state.Solar.Power),
		domain.SENSOR_ID_BATTERY_VOLTAGE:       state.Battery.Voltage,
		domain.SENSOR_ID_BATTERY_CURRENT:       state.Battery.Current,
		domain.SENSOR_ID_BATTERY_SOC:           float64(state.Battery.SOC),
		domain.SENSOR_ID_BATTERY_SOC_ESTIMATED: state.Battery.SOCEstimated,
		domain.SENSOR_ID_BATTERY_TEMPERATURE:   float64(state.Battery.Temperature),
		domain.SENSOR_ID_CHARGE_ENERGY:         float64(state.Battery.ChargeWh),
		domain.SENSOR_ID_MAX_CHARGE_CURRENT:    state.Profile.MaxChargeCurrent,
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
