package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const (
	ALARM_PERIOD  = 5 * time.Second
	ALARM_JOB_KEY = "srne-slot-alarm"
)

// QuartzAlarmSource fires an Alarm on a fixed period and notifies a listener
// after each fire.
type QuartzAlarmSource struct {
	alarm     *Alarm
	period    time.Duration
	onFire    func()
	scheduler quartz.Scheduler
	logger    *zap.Logger
}

func NewQuartzAlarmSource(alarm *Alarm, period time.Duration, onFire func(), logger *zap.Logger) *QuartzAlarmSource {
	if period <= 0 {
		period = ALARM_PERIOD
	}
	return &QuartzAlarmSource{alarm: alarm, period: period, onFire: onFire, logger: logger}
}

func (s *QuartzAlarmSource) Start(ctx context.Context) error {
	sched := quartz.NewStdScheduler()
	alarmJob := job.NewFunctionJob(func(_ context.Context) (int, error) {
		s.alarm.Fire()
		if s.onFire != nil {
			s.onFire()
		}
		return s.alarm.Slot(), nil
	})
	sched.Start(ctx)
	detail := quartz.NewJobDetail(alarmJob, quartz.NewJobKey(ALARM_JOB_KEY))
	if err := sched.ScheduleJob(detail, quartz.NewSimpleTrigger(s.period)); err != nil {
		sched.Stop()
		return fmt.Errorf("could not schedule alarm: %w", err)
	}
	s.scheduler = sched
	s.logger.Info("scheduler: alarm started", zap.Duration("period", s.period))
	return nil
}

func (s *QuartzAlarmSource) Stop() {
	if s.scheduler == nil {
		return
	}
	s.scheduler.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.scheduler.Wait(ctx)
	s.scheduler = nil
}
