package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQuartzAlarmSourceFires(t *testing.T) {
	assert := assert.New(t)
	alarm := NewAlarm()
	var notified atomic.Int32
	source := NewQuartzAlarmSource(alarm, 20*time.Millisecond, func() { notified.Add(1) }, zap.NewExample())

	require.NoError(t, source.Start(context.Background()))
	assert.Eventually(func() bool { return alarm.Fired() >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(notified.Load(), int32(2))

	source.Stop()
	fired := alarm.Fired()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(fired, alarm.Fired(), "no fires after stop")

	// stopping twice is harmless
	source.Stop()
}
