package clock

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/internal/core/port"
	"go.uber.org/zap"
)

const (
	FLAG_CLOCK_OFFSET = "clk"
	MIN_VALID_YEAR    = 2020
)

var ErrClockNotSet = errors.New("clock not set")

// HostClock is the host wall clock shifted by an operator offset that survives
// restarts.
type HostClock struct {
	offset   atomic.Int64
	location *time.Location
	store    port.FlagStore
	now      func() time.Time
	logger   *zap.Logger
}

func NewHostClock(store port.FlagStore, location *time.Location, logger *zap.Logger) *HostClock {
	if location == nil {
		location = time.Local
	}
	c := &HostClock{location: location, store: store, now: time.Now, logger: logger}
	c.offset.Store(int64(store.LoadFlag(FLAG_CLOCK_OFFSET, 0)))
	return c
}

func (c *HostClock) Time() time.Time {
	return c.now().Add(time.Duration(c.offset.Load()) * time.Second).In(c.location)
}

func (c *HostClock) Now() (domain.TimeSnapshot, error) {
	t := c.Time()
	if t.Year() < MIN_VALID_YEAR {
		return domain.TimeSnapshot{}, fmt.Errorf("%w: year %d", ErrClockNotSet, t.Year())
	}
	return domain.TimeSnapshotOf(t), nil
}

// Set shifts the clock so that it reads t now, and persists the offset.
func (c *HostClock) Set(t time.Time) error {
	offset := t.Sub(c.now()).Round(time.Second) / time.Second
	c.offset.Store(int64(offset))
	c.logger.Info("clock: time set", zap.Time("time", t), zap.Int64("offset_seconds", int64(offset)))
	if err := c.store.SaveFlag(FLAG_CLOCK_OFFSET, int(offset)); err != nil {
		return fmt.Errorf("could not persist clock offset: %w", err)
	}
	return nil
}

func (c *HostClock) Offset() time.Duration {
	return time.Duration(c.offset.Load()) * time.Second
}
