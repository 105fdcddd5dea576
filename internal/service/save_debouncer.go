package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/debounce"
	"github.com/mixxson/kidcode2/internal/domain"
)

const (
	// DefaultSaveDelay 是房间代码落库前的静默期
	DefaultSaveDelay = time.Second
	// DefaultFlushTimeout 是单次落库的超时时间
	DefaultFlushTimeout = 5 * time.Second
	// DefaultIdleRetention 是房间写入完成后保留其记录的时长，过期后记录被回收
	DefaultIdleRetention = time.Minute
)

// Flusher 把房间的最新代码状态写入 Session Store（直接写库或投递队列）。
type Flusher interface {
	Flush(ctx context.Context, state domain.CodeState) error
}

// FlusherFunc 让普通函数实现 Flusher
type FlusherFunc func(ctx context.Context, state domain.CodeState) error

func (f FlusherFunc) Flush(ctx context.Context, state domain.CodeState) error { return f(ctx, state) }

// pendingSave 是单个房间的待保存状态
type pendingSave struct {
	slot     debounce.Slot
	evict    debounce.Slot     // 空闲回收
	next     *domain.CodeState // 已调度、尚未取走的最新状态
	inflight *domain.CodeState // 正在写入的状态
	unsaved  *domain.CodeState // 最近一次写入失败的状态
	last     *domain.CodeState // 最近一次成功写入的内容
	flushing bool
	again    bool // 写入期间定时器再次触发
}

// snapshot 返回房间最新的未落库状态
func (p *pendingSave) snapshot() *domain.CodeState {
	switch {
	case p.next != nil:
		return p.next
	case p.inflight != nil:
		return p.inflight
	}
	return p.unsaved
}

// SaveDebouncer 按房间合并代码编辑：每次 Schedule 取消并替换该房间的定时器，
// 定时器在静默期后触发一次写入。每个房间同一时刻最多只有一个写入在进行，
// 写入期间到达的触发会在当前写入结束后以最新状态再执行一次。
type SaveDebouncer struct {
	flusher       Flusher
	delay         time.Duration
	flushTimeout  time.Duration
	idleRetention time.Duration

	mu     sync.Mutex
	rooms  map[uint]*pendingSave
	active int           // 正在进行写入的房间数
	idle   chan struct{} // active 归零时关闭
	now    func() time.Time
}

// NewSaveDebouncer 创建 SaveDebouncer，delay <= 0 时使用 DefaultSaveDelay。
func NewSaveDebouncer(flusher Flusher, delay time.Duration) *SaveDebouncer {
	if flusher == nil {
		panic("Flusher cannot be nil for SaveDebouncer")
	}
	if delay <= 0 {
		delay = DefaultSaveDelay
	}
	return &SaveDebouncer{
		flusher:       flusher,
		delay:         delay,
		flushTimeout:  DefaultFlushTimeout,
		idleRetention: DefaultIdleRetention,
		rooms:         make(map[uint]*pendingSave),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithIdleRetention 设置空闲房间记录的保留时长，在记录内的房间可以跳过内容未变的写入
func (d *SaveDebouncer) WithIdleRetention(retention time.Duration) *SaveDebouncer {
	if retention > 0 {
		d.idleRetention = retention
	}
	return d
}

// Delay 返回静默期长度
func (d *SaveDebouncer) Delay() time.Duration { return d.delay }

// Schedule 记录房间的最新代码并重新开始计时。
func (d *SaveDebouncer) Schedule(roomID uint, code string, language domain.Language) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.rooms[roomID]
	if !ok {
		p = &pendingSave{}
		d.rooms[roomID] = p
	}
	p.evict.Cancel()
	p.next = &domain.CodeState{RoomID: roomID, Code: code, Language: language, UpdatedAt: d.now()}
	p.slot.Schedule(d.delay, func() { d.fire(roomID) })
}

// Pending 返回房间尚未成功落库的最新状态
func (d *SaveDebouncer) Pending(roomID uint) (domain.CodeState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.rooms[roomID]
	if !ok {
		return domain.CodeState{}, false
	}
	if s := p.snapshot(); s != nil {
		return *s, true
	}
	return domain.CodeState{}, false
}

// Discard 丢弃房间的待保存状态（例如房间已被删除）。正在进行的写入不受影响。
func (d *SaveDebouncer) Discard(roomID uint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.rooms[roomID]
	if !ok {
		return
	}
	p.slot.Cancel()
	p.evict.Cancel()
	p.next = nil
	p.unsaved = nil
	if !p.flushing {
		delete(d.rooms, roomID)
	}
}

// FlushAll 立即写入所有房间的待保存状态，并等待进行中的写入完成或 ctx 结束。
func (d *SaveDebouncer) FlushAll(ctx context.Context) error {
	d.mu.Lock()
	ids := make([]uint, 0, len(d.rooms))
	for id, p := range d.rooms {
		if p.slot.Cancel() || p.next != nil {
			ids = append(ids, id)
		}
	}
	d.mu.Unlock()

	for _, id := range ids {
		d.fire(id)
	}

	for {
		d.mu.Lock()
		if d.active == 0 {
			d.mu.Unlock()
			logrus.WithField("rooms", len(ids)).Info("SaveDebouncer: all pending saves flushed")
			return nil
		}
		idle := d.idle
		d.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// 以下两个方法需在持有 d.mu 时调用
func (d *SaveDebouncer) beginFlush(p *pendingSave) {
	p.flushing = true
	if d.active == 0 {
		d.idle = make(chan struct{})
	}
	d.active++
}

func (d *SaveDebouncer) endFlush(roomID uint, p *pendingSave) {
	p.flushing = false
	d.active--
	if d.active == 0 {
		close(d.idle)
	}
	if p.next == nil && p.unsaved == nil && !p.slot.Pending() {
		p.evict.Schedule(d.idleRetention, func() { d.evictIdle(roomID, p) })
	}
}

// evictIdle 回收已经没有待保存状态的房间记录
func (d *SaveDebouncer) evictIdle(roomID uint, p *pendingSave) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rooms[roomID] != p || p.flushing || p.next != nil || p.unsaved != nil || p.slot.Pending() {
		return
	}
	delete(d.rooms, roomID)
}

// trackedRooms 返回仍有记录的房间数
func (d *SaveDebouncer) trackedRooms() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

// fire 在定时器触发时运行。若该房间已有写入在进行，只做标记，由进行中的写入循环处理。
func (d *SaveDebouncer) fire(roomID uint) {
	d.mu.Lock()
	p, ok := d.rooms[roomID]
	if !ok {
		d.mu.Unlock()
		return
	}
	if p.flushing {
		p.again = true
		d.mu.Unlock()
		return
	}
	d.beginFlush(p)
	d.mu.Unlock()

	for {
		d.mu.Lock()
		state := p.next
		p.next = nil
		p.again = false
		if state == nil || (p.last != nil && state.SameContent(*p.last)) {
			if state != nil {
				logrus.WithField("room_id", roomID).Debug("SaveDebouncer: content unchanged since last flush, skipping")
				p.unsaved = nil
			}
			d.endFlush(roomID, p)
			d.mu.Unlock()
			return
		}
		p.inflight = state
		d.mu.Unlock()

		err := d.flushOne(*state)

		d.mu.Lock()
		p.inflight = nil
		if err != nil {
			p.unsaved = state
		} else {
			p.unsaved = nil
			p.last = state
		}
		// 写入期间又有新的触发且有新状态时继续；否则等待下一次定时器
		if !p.again || p.next == nil {
			d.endFlush(roomID, p)
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
	}
}

func (d *SaveDebouncer) flushOne(state domain.CodeState) error {
	logCtx := logrus.WithFields(logrus.Fields{
		"component": "save_debouncer",
		"room_id":   state.RoomID,
		"language":  state.Language,
		"code_len":  len(state.Code),
	})
	ctx, cancel := context.WithTimeout(context.Background(), d.flushTimeout)
	defer cancel()

	if err := d.flusher.Flush(ctx, state); err != nil {
		// 只记录，不重试：下一次编辑会重新触发写入
		logCtx.WithError(err).Error("SaveDebouncer: failed to flush room code")
		return err
	}
	logCtx.Debug("SaveDebouncer: room code flushed")
	return nil
}
