package scheduler

import (
	"context"

	"go.uber.org/zap"
)

type SlotRunner interface {
	RunSlot(ctx context.Context, slot int) error
	LoadCurrent() float64
	EnforceLoadLimit(activePeriods int32) bool
}

// Loop dispatches at most one slot routine per alarm period.
type Loop struct {
	alarm  *Alarm
	runner SlotRunner
	logger *zap.Logger
}

func NewLoop(alarm *Alarm, runner SlotRunner, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{alarm: alarm, runner: runner, logger: logger}
}

// Poll runs the routine of the current slot if the period has not been served
// yet, then applies the load limit rule. It returns the slot that ran, or 0.
func (l *Loop) Poll(ctx context.Context) int {
	if !l.alarm.claim() {
		return 0
	}
	slot := l.alarm.Slot()
	if err := l.runner.RunSlot(ctx, slot); err != nil {
		l.logger.Warn("scheduler: slot failed", zap.Int("slot", slot), zap.Error(err))
	}
	l.alarm.ObserveLoadCurrent(l.runner.LoadCurrent())
	if l.runner.EnforceLoadLimit(l.alarm.ActivePeriods()) {
		l.alarm.ResetActivePeriods()
	}
	return slot
}

func (l *Loop) Alarm() *Alarm {
	return l.alarm
}
