package util

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer(t *testing.T) {
	t.Run("fires after timeout", func(t *testing.T) {
		fired := make(chan struct{}, 1)
		d := NewDebouncer(20*time.Millisecond, func() { fired <- struct{}{} })
		defer d.Stop()

		d.Trigger()
		assert.True(t, d.Pending())

		select {
		case <-fired:
			// Expected
		case <-time.After(time.Second):
			t.Fatal("debouncer did not fire within expected time")
		}
		assert.Eventually(t, func() bool { return !d.Pending() }, time.Second, 5*time.Millisecond)
	})

	t.Run("burst fires once", func(t *testing.T) {
		var calls atomic.Int32
		d := NewDebouncer(50*time.Millisecond, func() { calls.Add(1) })
		defer d.Stop()

		// Trigger every 10ms for 100ms
		for i := 0; i < 10; i++ {
			d.Trigger()
			time.Sleep(10 * time.Millisecond)
		}
		assert.Zero(t, calls.Load(), "debouncer fired while being triggered")

		assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("stop prevents firing", func(t *testing.T) {
		var calls atomic.Int32
		d := NewDebouncer(20*time.Millisecond, func() { calls.Add(1) })

		d.Trigger()
		d.Stop()

		time.Sleep(60 * time.Millisecond)
		assert.Zero(t, calls.Load())
		assert.False(t, d.Pending())
	})

	t.Run("trigger after stop is no-op", func(t *testing.T) {
		var calls atomic.Int32
		d := NewDebouncer(20*time.Millisecond, func() { calls.Add(1) })
		d.Stop()

		// Should not panic
		d.Trigger()
		d.Stop()

		time.Sleep(60 * time.Millisecond)
		assert.Zero(t, calls.Load())
	})
}
