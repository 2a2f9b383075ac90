package engine_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-client/engine"
)

func TestDebouncerCoalescesBursts(t *testing.T) {
	d := engine.NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var invocations atomic.Int32
	for i := 0; i < 10; i++ {
		d.Trigger(func() { invocations.Add(1) })
	}

	require.Eventually(t, func() bool {
		return invocations.Load() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int32(1), invocations.Load())
}

func TestDebouncerAllowsNewWindowAfterFiring(t *testing.T) {
	d := engine.NewDebouncer(10 * time.Millisecond)
	defer d.Stop()

	var invocations atomic.Int32
	d.Trigger(func() { invocations.Add(1) })

	require.Eventually(t, func() bool {
		return invocations.Load() == 1
	}, time.Second, time.Millisecond)

	d.Trigger(func() { invocations.Add(1) })
	require.Eventually(t, func() bool {
		return invocations.Load() == 2
	}, time.Second, time.Millisecond)
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	d := engine.NewDebouncer(10 * time.Millisecond)

	var invocations atomic.Int32
	d.Trigger(func() { invocations.Add(1) })
	d.Stop()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), invocations.Load())

	// Triggers after Stop are rejected.
	d.Trigger(func() { invocations.Add(1) })
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), invocations.Load())
}
