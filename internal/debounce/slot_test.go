package debounce_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mixxson/kidcode2/internal/debounce"
)

func TestSlot_ReplaceKeepsOnlyLatest(t *testing.T) {
	var slot debounce.Slot
	var fired atomic.Int32
	var last atomic.Value

	for i := 0; i < 5; i++ {
		v := i
		slot.Schedule(30*time.Millisecond, func() {
			fired.Add(1)
			last.Store(v)
		})
	}

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load(), "只应执行最后一次调度")
	assert.Equal(t, 4, last.Load())
	assert.False(t, slot.Pending())
}

func TestSlot_Cancel(t *testing.T) {
	var slot debounce.Slot
	var fired atomic.Bool

	assert.False(t, slot.Cancel(), "空槽取消应返回 false")

	slot.Schedule(20*time.Millisecond, func() { fired.Store(true) })
	assert.True(t, slot.Pending())
	assert.True(t, slot.Cancel())
	assert.False(t, slot.Pending())

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestSlot_Flush(t *testing.T) {
	var slot debounce.Slot
	var calls atomic.Int32

	assert.False(t, slot.Flush(func() { calls.Add(1) }))

	slot.Schedule(time.Hour, func() { calls.Add(100) })
	assert.True(t, slot.Flush(func() { calls.Add(1) }))
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, slot.Pending())
}
