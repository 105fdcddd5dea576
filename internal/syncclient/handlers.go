package syncclient

import "sync"

// handlerSet 保存一组回调，注册时返回取消订阅函数
type handlerSet[T any] struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(T)
}

func (s *handlerSet[T]) add(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(T))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

// emit 在调用方 goroutine 中依次调用回调，调用时不持有锁
func (s *handlerSet[T]) emit(v T) {
	s.mu.RLock()
	fns := make([]func(T), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}
