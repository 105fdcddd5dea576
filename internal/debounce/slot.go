// Package debounce 提供"取消并替换"的单槽定时任务。
//
// 每个 Slot 在任意时刻最多持有一个待执行的回调：再次 Schedule 会取消旧的
// 回调，Cancel 之后旧回调即使已经被 runtime 触发也不会执行。
package debounce

import (
	"sync"
	"time"
)

// Slot 是单槽延迟任务。零值可直接使用。
type Slot struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// Schedule 取消已挂起的回调，并在 delay 之后执行 fn。
func (s *Slot) Schedule(delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if gen != s.gen {
			// 已被新的 Schedule 或 Cancel 取代
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		fn()
	})
}

// Cancel 取消挂起的回调，返回是否确实取消了一个回调。
func (s *Slot) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	s.gen++
	return true
}

// Pending 判断是否有尚未执行的回调
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Flush 取消挂起的回调并立即在当前 goroutine 执行 fn。
// 没有挂起的回调时返回 false，fn 不会被调用。
func (s *Slot) Flush(fn func()) bool {
	if !s.Cancel() {
		return false
	}
	fn()
	return true
}
