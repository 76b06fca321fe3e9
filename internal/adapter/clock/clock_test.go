package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mapStore map[string]int

func (s mapStore) LoadFlag(key string, defaultValue int) int {
	if v, ok := s[key]; ok {
		return v
	}
	return defaultValue
}

func (s mapStore) SaveFlag(key string, value int) error {
	s[key] = value
	return nil
}

func (s mapStore) EraseAll() error {
	for k := range s {
		delete(s, k)
	}
	return nil
}

func fixedClock(store mapStore, at time.Time) *HostClock {
	c := NewHostClock(store, time.UTC, zap.NewExample())
	c.now = func() time.Time { return at }
	return c
}

func TestNowSnapshot(t *testing.T) {
	assert := assert.New(t)
	c := fixedClock(mapStore{}, time.Date(2025, 4, 2, 9, 5, 7, 0, time.UTC))
	ts, err := c.Now()
	require.NoError(t, err)
	assert.Equal(2025, ts.Year)
	assert.Equal(4, ts.Month)
	assert.Equal(9, ts.Hour)
	assert.Equal("2025-04-02T09:05:07", ts.String())
}

func TestUntrustedYear(t *testing.T) {
	c := fixedClock(mapStore{}, time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC))
	_, err := c.Now()
	assert.ErrorIs(t, err, ErrClockNotSet)
}

func TestSetPersistsOffset(t *testing.T) {
	assert := assert.New(t)
	store := mapStore{}
	host := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	c := fixedClock(store, host)

	want := time.Date(2025, 6, 1, 5, 30, 0, 0, time.UTC)
	require.NoError(t, c.Set(want))
	ts, err := c.Now()
	require.NoError(t, err)
	assert.Equal(5, ts.Hour)
	assert.Equal(30, ts.Minute)

	// offset is restored on the next start
	restarted := fixedClock(store, host.Add(10*time.Second))
	ts, err = restarted.Now()
	require.NoError(t, err)
	assert.Equal(10, ts.Second)
	assert.Equal(want.Sub(host), restarted.Offset())
}
