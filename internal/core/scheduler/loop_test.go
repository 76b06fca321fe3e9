package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recordingRunner struct {
	slots       []int
	loadCurrent float64
	limitAt     int32
	limitCalls  []int32
}

func (r *recordingRunner) RunSlot(ctx context.Context, slot int) error {
	r.slots = append(r.slots, slot)
	if slot == 5 {
		return errors.New("publish failed")
	}
	return nil
}

func (r *recordingRunner) LoadCurrent() float64 {
	return r.loadCurrent
}

func (r *recordingRunner) EnforceLoadLimit(activePeriods int32) bool {
	r.limitCalls = append(r.limitCalls, activePeriods)
	return r.limitAt > 0 && activePeriods >= r.limitAt
}

func newTestLoop(t *testing.T, runner *recordingRunner) *Loop {
	return NewLoop(NewAlarm(), runner, zap.NewExample())
}

func TestNoSlotBeforeFirstAlarm(t *testing.T) {
	runner := &recordingRunner{}
	loop := newTestLoop(t, runner)
	assert.Equal(t, 0, loop.Poll(context.Background()))
	assert.Empty(t, runner.slots)
}

func TestSixPeriodCoverage(t *testing.T) {
	assert := assert.New(t)
	runner := &recordingRunner{}
	loop := newTestLoop(t, runner)

	for i := 0; i < 6; i++ {
		loop.Alarm().Fire()
		loop.Poll(context.Background())
		// no second run within the same period
		assert.Equal(0, loop.Poll(context.Background()))
	}
	assert.Equal([]int{1, 2, 3, 4, 5, 6}, runner.slots)

	loop.Alarm().Fire()
	assert.Equal(1, loop.Poll(context.Background()))
}

func TestMissedAlarmsCollapse(t *testing.T) {
	runner := &recordingRunner{}
	loop := newTestLoop(t, runner)

	loop.Alarm().Fire()
	loop.Alarm().Fire()
	loop.Alarm().Fire()
	assert.Equal(t, 3, loop.Poll(context.Background()))
	assert.Equal(t, 0, loop.Poll(context.Background()))
	assert.Equal(t, uint64(3), loop.Alarm().Fired())
}

func TestActivePeriods(t *testing.T) {
	assert := assert.New(t)
	runner := &recordingRunner{loadCurrent: 0.5}
	loop := newTestLoop(t, runner)

	// first period: load current is not known yet
	loop.Alarm().Fire()
	loop.Poll(context.Background())
	assert.Equal(int32(0), loop.Alarm().ActivePeriods())

	for i := 0; i < 4; i++ {
		loop.Alarm().Fire()
		loop.Poll(context.Background())
	}
	assert.Equal(int32(4), loop.Alarm().ActivePeriods())

	runner.loadCurrent = 0.05
	loop.Alarm().Fire()
	loop.Poll(context.Background())
	assert.Equal(int32(0), loop.Alarm().ActivePeriods())
}

func TestLoadLimitResetsCounter(t *testing.T) {
	runner := &recordingRunner{loadCurrent: 0.5, limitAt: 2}
	loop := newTestLoop(t, runner)
	for i := 0; i < 3; i++ {
		loop.Alarm().Fire()
		loop.Poll(context.Background())
	}
	assert.Equal(t, []int32{0, 1, 2}, runner.limitCalls)
	assert.Equal(t, int32(0), loop.Alarm().ActivePeriods())
}

func TestConcurrentFire(t *testing.T) {
	alarm := NewAlarm()
	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alarm.Fire()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(60), alarm.Fired())
	assert.Equal(t, 6, alarm.Slot())
	assert.True(t, alarm.Pending())
}
