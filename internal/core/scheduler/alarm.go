package scheduler

import (
	"math"
	"sync/atomic"
)

const (
	SLOT_COUNT          = 6
	LOAD_ACTIVE_CURRENT = 0.1
)

// Alarm is the state touched by the periodic alarm. Fire only updates atomic
// scalars and may be called from any goroutine.
type Alarm struct {
	slot        atomic.Int32
	done        atomic.Bool
	loadCurrent atomic.Uint64
	active      atomic.Int32
	fired       atomic.Uint64
}

func NewAlarm() *Alarm {
	a := &Alarm{}
	a.done.Store(true)
	return a
}

// Fire advances the slot (wrapping 6 to 1), counts load-active periods and
// hands a new period to the loop.
func (a *Alarm) Fire() {
	for {
		cur := a.slot.Load()
		next := cur%SLOT_COUNT + 1
		if a.slot.CompareAndSwap(cur, next) {
			break
		}
	}
	if a.LoadCurrent() > LOAD_ACTIVE_CURRENT {
		a.active.Add(1)
	}
	a.fired.Add(1)
	a.done.Store(false)
}

// Slot is the slot selected by the last alarm, or 0 before the first one.
func (a *Alarm) Slot() int {
	return int(a.slot.Load())
}

// claim takes ownership of the pending period, if any.
func (a *Alarm) claim() bool {
	return a.done.CompareAndSwap(false, true)
}

func (a *Alarm) Pending() bool {
	return !a.done.Load()
}

func (a *Alarm) Fired() uint64 {
	return a.fired.Load()
}

// ObserveLoadCurrent records the last load current; an idle load resets the
// active period counter.
func (a *Alarm) ObserveLoadCurrent(amps float64) {
	a.loadCurrent.Store(math.Float64bits(amps))
	if amps < LOAD_ACTIVE_CURRENT {
		a.active.Store(0)
	}
}

func (a *Alarm) LoadCurrent() float64 {
	return math.Float64frombits(a.loadCurrent.Load())
}

func (a *Alarm) ActivePeriods() int32 {
	return a.active.Load()
}

func (a *Alarm) ResetActivePeriods() {
	a.active.Store(0)
}
