package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vxikit/vxidash/logger"
)

func TestManager_Start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := NewManager(ctx, logger.GetLogger())

	var runs atomic.Int32
	err := mgr.Start("counter", func() bool {
		runs.Add(1)
		time.Sleep(10 * time.Millisecond)
		return runs.Load() < 3
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return mgr.TaskCount() == 0
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(3), runs.Load())
}

func TestManager_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := NewManager(ctx, logger.GetLogger())

	err := mgr.Start("spinner", func() bool {
		time.Sleep(5 * time.Millisecond)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.TaskCount())

	mgr.Stop()
	mgr.Wait()
	assert.Equal(t, 0, mgr.TaskCount())
}

func TestManager_StartInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := NewManager(ctx, logger.GetLogger())

	var ticks atomic.Int32
	ticker, err := mgr.StartInterval("tick", func() bool {
		ticks.Add(1)
		return true
	}, 10*time.Millisecond, true)
	require.NoError(t, err)
	require.NotNil(t, ticker)

	// runNow executes once synchronously
	assert.GreaterOrEqual(t, ticks.Load(), int32(1))

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, mgr.StopInterval("tick"))
	mgr.Stop()
	mgr.Wait()
}

func TestManager_StartInterval_Duplicate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := NewManager(ctx, logger.GetLogger())
	defer func() {
		mgr.Stop()
		mgr.Wait()
	}()

	_, err := mgr.StartInterval("dup", func() bool { return true }, 50*time.Millisecond, false)
	require.NoError(t, err)

	_, err = mgr.StartInterval("dup", func() bool { return true }, 50*time.Millisecond, false)
	assert.Error(t, err)
}

func TestManager_PanicRecovery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := NewManager(ctx, logger.GetLogger())

	var calls atomic.Int32
	_, err := mgr.StartInterval("panicky", func() bool {
		calls.Add(1)
		panic("boom")
	}, 10*time.Millisecond, false)
	require.NoError(t, err)

	// the panicking task keeps the process alive; a recovered panic returns
	// the zero value false, which terminates the loop after the first tick
	assert.Eventually(t, func() bool {
		return calls.Load() >= 1 && mgr.TaskCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestManager_StartAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := NewManager(ctx, logger.GetLogger())
	mgr.Stop()

	err := mgr.Start("late", func() bool { return false })
	assert.Error(t, err)
}
