package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixxson/kidcode2/internal/domain"
)

func TestSaveDebouncer_ForgetsIdleRooms(t *testing.T) {
	var flushed atomic.Int32
	d := NewSaveDebouncer(FlusherFunc(func(context.Context, domain.CodeState) error {
		flushed.Add(1)
		return nil
	}), 10*time.Millisecond).WithIdleRetention(30 * time.Millisecond)

	for id := uint(1); id <= 50; id++ {
		d.Schedule(id, "x = 1", domain.LanguagePython)
	}
	require.Eventually(t, func() bool { return flushed.Load() == 50 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return d.trackedRooms() == 0 }, time.Second, 5*time.Millisecond,
		"写完之后空闲的房间记录应被回收")

	_, ok := d.Pending(1)
	assert.False(t, ok)
}

func TestSaveDebouncer_NewEditKeepsRoomTracked(t *testing.T) {
	d := NewSaveDebouncer(FlusherFunc(func(context.Context, domain.CodeState) error { return nil }), 10*time.Millisecond).
		WithIdleRetention(40 * time.Millisecond)

	d.Schedule(7, "a", domain.LanguageJavaScript)
	time.Sleep(30 * time.Millisecond) // 已写入，回收计时中
	d.delay = time.Hour
	d.Schedule(7, "ab", domain.LanguageJavaScript)
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, 1, d.trackedRooms())
	state, ok := d.Pending(7)
	require.True(t, ok)
	assert.Equal(t, "ab", state.Code)
}

func TestSaveDebouncer_KeepsUnsavedRooms(t *testing.T) {
	d := NewSaveDebouncer(FlusherFunc(func(context.Context, domain.CodeState) error {
		return errors.New("db down")
	}), 10*time.Millisecond).WithIdleRetention(20 * time.Millisecond)

	d.Schedule(7, "unsaved", domain.LanguageJavaScript)
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, 1, d.trackedRooms(), "写入失败的状态仍作为加入快照使用")
	_, ok := d.Pending(7)
	assert.True(t, ok)
}
