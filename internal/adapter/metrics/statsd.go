package metrics

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/internal/core/port"
	"go.uber.org/zap"
)

// Statsd pushes telemetry gauges to a DogStatsD agent. A nil *Statsd is a
// valid no-op recorder.
type Statsd struct {
	client *statsd.Client
	logger *zap.Logger
}

func NewStatsd(addr, namespace string, tags []string, logger *zap.Logger) (*Statsd, error) {
	client, err := statsd.New(addr, statsd.WithNamespace(namespace), statsd.WithTags(tags))
	if err != nil {
		return nil, err
	}
	logger.Info("metrics: dogstatsd initialized",
		zap.String("addr", addr), zap.String("namespace", namespace), zap.Strings("tags", tags))
	return &Statsd{client: client, logger: logger}, nil
}

func (s *Statsd) Gauge(name string, value float64, tags ...string) {
	if s == nil || s.client == nil {
		return
	}
	if err := s.client.Gauge(name, value, tags, 1); err != nil {
		s.logger.Warn("metrics: failed to emit gauge", zap.String("metric", name), zap.Error(err))
	}
}

func (s *Statsd) RecordTelemetry(state domain.SupervisorState) {
	if s == nil {
		return
	}
	for name, value := range telemetryValues(state) {
		s.Gauge("telemetry", value, "sensor:"+name)
	}
	s.Gauge("integrated", boolGauge(state.Integrated))
	s.Gauge("overheated", boolGauge(state.Overheated))
	s.Gauge("profile", float64(state.Profile.Number), "profile:"+state.Profile.Name())
}

func (s *Statsd) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Recorders fans a telemetry snapshot out to several recorders.
type Recorders []port.MetricsRecorder

func (r Recorders) RecordTelemetry(state domain.SupervisorState) {
	for _, rec := range r {
		if rec != nil {
			rec.RecordTelemetry(state)
		}
	}
}
