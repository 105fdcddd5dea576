// Package syncclient 实现实时代码房间的客户端同步控制：连接与自动重连、
// 本地编辑的防抖发送、远端更新的应用以及防止回声的来源标记。
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/debounce"
	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/dto"
)

// controlWriteWait 是写 Ping/Pong 控制帧的超时
const controlWriteWait = 10 * time.Second

// outgoing 是等待发送的本地缓冲区状态
type outgoing struct {
	code     string
	language domain.Language
}

// room 是客户端对一个房间的本地状态
type room struct {
	id       uint
	language domain.Language
	onJoined func(JoinResult)

	send     debounce.Slot // 本地编辑的发送防抖
	clear    debounce.Slot // syncing 指示的清除
	suppress debounce.Slot // 来源标记的复位

	// pending 非 nil 表示有尚未成功写出的本地编辑
	pending *outgoing
	syncing bool

	// inflight 是已写出但还没有被 Pong 确认的编辑，连接断开时重新放回 pending
	inflight    *outgoing
	inflightSeq uint64

	// remote 是本地编辑来源标记：true 表示缓冲区刚被程序写入，
	// 此时与 applied 相同的内容不会作为本地编辑发送。
	remote  bool
	applied string
}

func (r *room) cancelTimers() {
	r.send.Cancel()
	r.clear.Cancel()
	r.suppress.Cancel()
}

// Client 是一个参与者的同步控制器，所有方法都可以并发调用且不会因网络阻塞编辑。
type Client struct {
	cfg    Config
	dialer Dialer
	log    *logrus.Entry

	writeMu sync.Mutex // 串行化连接写入，锁顺序：writeMu 先于 mu

	mu       sync.Mutex
	conn     Conn
	identity domain.Identity
	status   Status
	rooms    map[uint]*room
	session  context.Context // Connect 到 Disconnect（或放弃）之间有效
	cancel   context.CancelFunc

	// sentSeq 在每次成功写出编辑后递增，Ping 携带当时的值，Pong 回来即确认到该值为止的编辑
	sentSeq  uint64
	ackedSeq uint64

	codeHandlers   handlerSet[CodeUpdate]
	cursorHandlers handlerSet[CursorUpdate]
	memberHandlers handlerSet[MemberEvent]
	statusHandlers handlerSet[Status]
}

// New 创建同步客户端，不会建立连接
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	return &Client{
		cfg:    cfg,
		dialer: dialer,
		log:    logrus.WithFields(logrus.Fields{"component": "syncclient", "server": cfg.ServerURL}),
		rooms:  make(map[uint]*room),
	}, nil
}

// Status 返回当前状态
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Identity 返回服务端确认的身份，未连接过时为零值
func (c *Client) Identity() domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// OnCodeUpdate 注册远端代码更新回调。回调在缓冲区来源标记置为远端之后调用，
// 回调中对缓冲区的写入引发的 SendCodeUpdate 会被忽略。
func (c *Client) OnCodeUpdate(fn func(CodeUpdate)) (unsubscribe func()) {
	return c.codeHandlers.add(fn)
}

func (c *Client) OnCursorUpdate(fn func(CursorUpdate)) (unsubscribe func()) {
	return c.cursorHandlers.add(fn)
}

func (c *Client) OnMemberEvent(fn func(MemberEvent)) (unsubscribe func()) {
	return c.memberHandlers.add(fn)
}

// OnStatusChange 注册状态变化回调，回调收到的是变化后的快照
func (c *Client) OnStatusChange(fn func(Status)) (unsubscribe func()) {
	return c.statusHandlers.add(fn)
}

// update 在持有 mu 时执行 fn，并在状态变化时通知回调
func (c *Client) update(fn func()) {
	c.mu.Lock()
	before := c.status
	fn()
	c.status.Syncing = c.syncingLocked()
	after := c.status
	c.mu.Unlock()
	if after != before {
		c.statusHandlers.emit(after)
	}
}

func (c *Client) syncingLocked() bool {
	for _, r := range c.rooms {
		if r.syncing {
			return true
		}
	}
	return false
}

// Connect 建立连接并完成认证握手。
// 凭据被拒绝时返回 *RejectedError；连接建立之后的断线会自动重连。
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("already connected")
	}
	session, cancel := context.WithCancel(context.Background())
	c.session, c.cancel = session, cancel
	c.mu.Unlock()

	conn, identity, err := c.dial(ctx)
	if err != nil {
		c.update(func() {
			c.status.LastError = errorReason(err)
			c.endSessionLocked(session)
		})
		return err
	}
	if !c.attach(session, conn, identity) {
		return errors.New("client disconnected during connect")
	}
	return nil
}

// Disconnect 关闭连接并停止重连。尚未发送的本地编辑被丢弃。
func (c *Client) Disconnect() {
	var conn Conn
	c.update(func() {
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		conn = c.conn
		c.conn = nil
		for id, r := range c.rooms {
			r.cancelTimers()
			delete(c.rooms, id)
		}
		c.status.Connected = false
		c.status.Reconnecting = false
	})
	if conn != nil {
		_ = conn.Close()
	}
	c.log.Info("Disconnected")
}

func (c *Client) endSessionLocked(session context.Context) {
	if c.session == session && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// JoinRoom 请求加入房间。未连接时在连接（或重连）成功后自动加入。
// onJoined 在每次收到 joined 或加入被拒绝时调用，可以为 nil。
func (c *Client) JoinRoom(roomID uint, onJoined func(JoinResult)) {
	c.mu.Lock()
	r, ok := c.rooms[roomID]
	if !ok {
		r = &room{id: roomID, language: domain.DefaultLanguage}
		c.rooms[roomID] = r
	}
	r.onJoined = onJoined
	connected := c.conn != nil
	c.mu.Unlock()

	if connected {
		if err := c.write(dto.Message{Type: dto.TypeJoin, RoomID: roomID}); err != nil {
			c.log.WithError(err).WithField("room_id", roomID).Warn("Failed to send join, will retry after reconnect")
		}
	}
}

// LeaveRoom 离开房间并丢弃该房间尚未发送的编辑
func (c *Client) LeaveRoom(roomID uint) {
	var known, connected bool
	c.update(func() {
		r, ok := c.rooms[roomID]
		if !ok {
			return
		}
		known = true
		r.cancelTimers()
		delete(c.rooms, roomID)
		connected = c.conn != nil
	})
	if known && connected {
		_ = c.write(dto.Message{Type: dto.TypeLeave, RoomID: roomID})
	}
}

// SendCodeUpdate 记录一次本地编辑，防抖之后发送整个缓冲区。language 为空时沿用房间语言。
// 缓冲区刚被远端更新写入且内容未变时，这次调用被视为回声而忽略。
func (c *Client) SendCodeUpdate(roomID uint, code string, language domain.Language) {
	logCtx := c.log.WithField("room_id", roomID)
	c.update(func() {
		r, ok := c.rooms[roomID]
		if !ok {
			logCtx.Debug("Ignoring edit for a room that was not joined")
			return
		}
		if language != "" && !language.Valid() {
			logCtx.WithField("language", language).Warn("Unknown language, keeping the room language")
			language = ""
		}
		if r.remote && code == r.applied && (language == "" || language == r.language) {
			logCtx.Debug("Ignoring buffer change caused by a remote update")
			return
		}
		if language == "" {
			language = r.language
		}
		r.language = language
		r.pending = &outgoing{code: code, language: language}
		r.syncing = true
		r.clear.Cancel()
		r.send.Schedule(c.cfg.SendDebounce, func() { c.flushRoom(roomID) })
	})
}

// SwitchLanguage 切换房间语言：缓冲区重置为该语言的占位代码并立即发送，不经过防抖。
// 返回占位代码，调用方用它重置本地缓冲区。
func (c *Client) SwitchLanguage(roomID uint, language domain.Language) (string, error) {
	if !language.Valid() {
		return "", fmt.Errorf("unsupported language %q", language)
	}
	placeholder := language.Placeholder()
	var known bool
	c.update(func() {
		r, ok := c.rooms[roomID]
		if !ok {
			return
		}
		known = true
		r.send.Cancel()
		r.clear.Cancel()
		r.language = language
		r.pending = &outgoing{code: placeholder, language: language}
		r.syncing = true
		// 调用方重置缓冲区触发的变更事件同样不应再次发送
		c.markAppliedLocked(r, placeholder)
	})
	if !known {
		return "", fmt.Errorf("room %d was not joined", roomID)
	}
	c.flushRoom(roomID)
	return placeholder, nil
}

// SendCursor 广播光标位置。未连接时直接丢弃。
func (c *Client) SendCursor(roomID uint, cursor interface{}) error {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	c.mu.Lock()
	_, joined := c.rooms[roomID]
	connected := c.conn != nil
	c.mu.Unlock()
	if !joined || !connected {
		return nil
	}
	return c.write(dto.Message{Type: dto.TypeCursorUpdate, RoomID: roomID, Cursor: raw})
}

// markAppliedLocked 把来源标记置为远端，并在 RemoteSuppressWindow 之后复位
func (c *Client) markAppliedLocked(r *room, code string) {
	r.remote = true
	r.applied = code
	r.suppress.Schedule(c.cfg.RemoteSuppressWindow, func() {
		c.mu.Lock()
		if c.rooms[r.id] == r {
			r.remote = false
		}
		c.mu.Unlock()
	})
}

// flushRoom 立即写出房间待发送的编辑
func (c *Client) flushRoom(roomID uint) {
	c.writeMu.Lock()
	c.mu.Lock()
	r, ok := c.rooms[roomID]
	if !ok || r.pending == nil {
		c.mu.Unlock()
		c.writeMu.Unlock()
		return
	}
	out := r.pending
	conn := c.conn
	c.mu.Unlock()

	err := ErrNotConnected
	if conn != nil {
		err = conn.WriteJSON(dto.Message{
			Type:     dto.TypeCodeUpdate,
			RoomID:   roomID,
			Code:     dto.String(out.code),
			Language: out.language,
		})
		if err != nil {
			_ = conn.Close()
		}
	}
	c.writeMu.Unlock()

	logCtx := c.log.WithField("room_id", roomID)
	if err != nil {
		logCtx.WithError(err).Debug("Edit not sent, keeping it for the next connection")
	}
	c.update(func() {
		r, ok := c.rooms[roomID]
		if !ok {
			return
		}
		if err != nil {
			r.syncing = false
			return
		}
		if c.conn != conn {
			// 写入期间连接已失效，编辑可能没有送达
			if r.pending == nil {
				r.pending = out
			}
			return
		}
		if r.pending == out {
			r.pending = nil
		}
		c.sentSeq++
		r.inflight = out
		r.inflightSeq = c.sentSeq
		r.clear.Schedule(c.cfg.SyncingClear, func() {
			c.update(func() {
				if c.rooms[roomID] == r && !r.send.Pending() {
					r.syncing = false
				}
			})
		})
	})
}

func (c *Client) write(msg dto.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(msg)
}

// writeLocked 写一条消息，调用方必须持有 writeMu。写失败时关闭连接，由读循环触发重连。
func (c *Client) writeLocked(msg dto.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.WriteJSON(msg); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// dial 建立连接并读取服务端的第一条消息：connected 或 connect-error
func (c *Client) dial(ctx context.Context) (Conn, domain.Identity, error) {
	endpoint, err := c.cfg.endpoint()
	if err != nil {
		return nil, domain.Identity{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(ctx, endpoint)
	if err != nil {
		return nil, domain.Identity{}, fmt.Errorf("dial %s: %w", c.cfg.ServerURL, err)
	}

	first, err := readFirst(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, domain.Identity{}, fmt.Errorf("handshake: %w", err)
	}
	switch first.Type {
	case dto.TypeConnected:
		return conn, domain.Identity{ID: first.UserID, DisplayName: first.DisplayName, Role: first.Role}, nil
	case dto.TypeConnectError:
		_ = conn.Close()
		if first.Reason == dto.ReasonServerError {
			return nil, domain.Identity{}, errors.New("server error during handshake")
		}
		return nil, domain.Identity{}, &RejectedError{Reason: first.Reason}
	default:
		_ = conn.Close()
		return nil, domain.Identity{}, fmt.Errorf("unexpected handshake message %q", first.Type)
	}
}

// readFirst 在 ctx 结束前读取一条消息，超时时关闭连接使读取返回
func readFirst(ctx context.Context, conn Conn) (dto.Message, error) {
	type result struct {
		msg dto.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		var msg dto.Message
		err := conn.ReadJSON(&msg)
		done <- result{msg, err}
	}()
	select {
	case r := <-done:
		return r.msg, r.err
	case <-ctx.Done():
		_ = conn.Close()
		return dto.Message{}, ctx.Err()
	}
}

// attach 启用新连接：更新状态，为所有房间重新发送 join，并启动读循环。
func (c *Client) attach(session context.Context, conn Conn, identity domain.Identity) bool {
	c.writeMu.Lock()
	c.mu.Lock()
	if c.session != session || session.Err() != nil {
		c.mu.Unlock()
		c.writeMu.Unlock()
		_ = conn.Close()
		return false
	}
	before := c.status
	c.conn = conn
	c.identity = identity
	c.status.Connected = true
	c.status.Reconnecting = false
	c.status.GaveUp = false
	c.status.LastError = ""
	c.status.Syncing = c.syncingLocked()
	after := c.status
	ids := make([]uint, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := c.writeLocked(dto.Message{Type: dto.TypeJoin, RoomID: id}); err != nil {
			break // 读循环会发现连接已关闭并重连
		}
	}
	c.writeMu.Unlock()

	// 回调可能再次调用客户端方法，必须在释放 writeMu 之后通知
	if after != before {
		c.statusHandlers.emit(after)
	}
	c.log.WithFields(logrus.Fields{"user_id": identity.ID, "rooms": ids}).Info("Connected")
	c.keepAlive(conn)
	go c.readLoop(session, conn)
	go c.pingLoop(session, conn)
	return true
}

// keepAlive 设置读超时：任何数据帧、Ping 或 Pong 都会把期限往后推 PongWait。
// 服务端消失而连接没有关闭时，读取会因超时失败并进入重连。
func (c *Client) keepAlive(conn Conn) {
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)) }
	extend()
	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(controlWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(data string) error {
		extend()
		if seq, err := strconv.ParseUint(data, 10, 64); err == nil {
			c.confirm(conn, seq)
		}
		return nil
	})
}

// confirm 处理 Pong：服务端按顺序读取，Pong 之前写出的编辑都已送达
func (c *Client) confirm(conn Conn, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn || seq <= c.ackedSeq {
		return
	}
	c.ackedSeq = seq
	for _, r := range c.rooms {
		if r.inflight != nil && r.inflightSeq <= seq {
			r.inflight = nil
		}
	}
}

// pingLoop 定期发送带序号的 Ping，直到连接被替换或会话结束
func (c *Client) pingLoop(session context.Context, conn Conn) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-session.Done():
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		current := c.conn == conn
		seq := c.sentSeq
		c.mu.Unlock()
		if !current {
			return
		}
		// 序号在编辑写出之后才递增，因此这个 Ping 一定排在它确认的编辑之后
		if err := conn.WriteControl(websocket.PingMessage, []byte(strconv.FormatUint(seq, 10)), time.Now().Add(controlWriteWait)); err != nil {
			c.log.WithError(err).Debug("Ping failed, closing connection")
			_ = conn.Close()
			return
		}
	}
}

func (c *Client) readLoop(session context.Context, conn Conn) {
	for {
		var msg dto.Message
		if err := conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.log.WithError(err).Debug("Dropping malformed message")
				continue
			}
			c.connectionLost(session, conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		if msg.Type == dto.TypeDisconnect {
			c.log.WithField("reason", msg.Reason).Warn("Server closed the session")
			c.connectionLost(session, conn, fmt.Errorf("server disconnect: %s", msg.Reason))
			return
		}
		c.dispatch(msg)
	}
}

// connectionLost 处理断线：标记房间为未加入并在后台重连
func (c *Client) connectionLost(session context.Context, conn Conn, cause error) {
	current := false
	restored := 0
	c.update(func() {
		if c.conn != conn {
			return // 主动断开或已被替换
		}
		current = true
		c.conn = nil
		c.status.Connected = false
		c.status.Reconnecting = true
		c.status.LastError = cause.Error()
		// 未确认的编辑可能还停留在失效连接的缓冲区里，重连后重新发送
		for _, r := range c.rooms {
			if r.inflight != nil && r.pending == nil {
				r.pending = r.inflight
				r.syncing = true
				restored++
			}
			r.inflight = nil
		}
	})
	_ = conn.Close()
	if !current {
		return
	}
	c.log.WithError(cause).WithField("unconfirmed_edits", restored).Warn("Connection lost, reconnecting")
	go c.reconnect(session)
}

func (c *Client) newBackOff(session context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectInitial
	b.MaxInterval = c.cfg.ReconnectMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxReconnectAttempts)), session)
}

// reconnect 按退避策略重连，用尽次数后进入放弃状态
func (c *Client) reconnect(session context.Context) {
	policy := c.newBackOff(session)
	for attempt := 1; ; attempt++ {
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			if session.Err() != nil {
				return
			}
			c.log.WithField("attempts", attempt-1).Error("Giving up reconnecting")
			c.update(func() {
				c.status.Reconnecting = false
				c.status.GaveUp = true
				c.status.LastError = ErrGaveUp.Error()
				c.endSessionLocked(session)
			})
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-session.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		conn, identity, err := c.dial(session)
		if err == nil {
			if c.attach(session, conn, identity) {
				c.log.WithField("attempt", attempt).Info("Reconnected")
			}
			return
		}
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			c.log.WithField("reason", rejected.Reason).Error("Reconnect rejected, credential is no longer valid")
			c.update(func() {
				c.status.Reconnecting = false
				c.status.LastError = rejected.Reason
				c.endSessionLocked(session)
			})
			return
		}
		c.log.WithError(err).WithField("attempt", attempt).Warn("Reconnect attempt failed")
		c.update(func() { c.status.LastError = err.Error() })
	}
}

func (c *Client) dispatch(msg dto.Message) {
	switch msg.Type {
	case dto.TypeJoined:
		c.handleJoined(msg)
	case dto.TypeError:
		c.handleJoinError(msg)
	case dto.TypeCodeUpdate:
		c.applyRemote(msg)
	case dto.TypeCursorUpdate:
		c.cursorHandlers.emit(CursorUpdate{RoomID: msg.RoomID, UserID: msg.UserID, Cursor: msg.Cursor})
	case dto.TypeMemberJoined, dto.TypeMemberLeft:
		c.memberHandlers.emit(MemberEvent{
			Type:   msg.Type,
			RoomID: msg.RoomID,
			Member: dto.Member{UserID: msg.UserID, DisplayName: msg.DisplayName, Role: msg.Role},
		})
	default:
		c.log.WithField("type", msg.Type).Debug("Ignoring message")
	}
}

// handleJoined 应用加入快照；本地有未发送的编辑时跳过快照，改为立即重新发送
func (c *Client) handleJoined(msg dto.Message) {
	result := JoinResult{RoomID: msg.RoomID, Members: msg.Members}
	var onJoined func(JoinResult)
	var resend, known bool
	c.update(func() {
		r, ok := c.rooms[msg.RoomID]
		if !ok {
			return
		}
		known = true
		onJoined = r.onJoined
		if r.pending != nil {
			resend = true
			r.send.Cancel()
			result.Resent = true
			result.Language = r.language
			return
		}
		if msg.Language.Valid() {
			r.language = msg.Language
		}
		result.Language = r.language
		if msg.Code != nil {
			result.Code = dto.String(*msg.Code)
			c.markAppliedLocked(r, *msg.Code)
		}
	})
	if !known {
		return
	}
	c.log.WithFields(logrus.Fields{"room_id": msg.RoomID, "members": len(msg.Members), "resent": resend}).Info("Joined room")
	if resend {
		c.flushRoom(msg.RoomID)
	}
	if onJoined != nil {
		onJoined(result)
	}
}

func (c *Client) handleJoinError(msg dto.Message) {
	var onJoined func(JoinResult)
	c.update(func() {
		c.status.LastError = msg.Reason
		r, ok := c.rooms[msg.RoomID]
		if !ok {
			return
		}
		onJoined = r.onJoined
		r.cancelTimers()
		delete(c.rooms, msg.RoomID)
	})
	c.log.WithFields(logrus.Fields{"room_id": msg.RoomID, "reason": msg.Reason}).Warn("Join rejected")
	if onJoined != nil {
		onJoined(JoinResult{RoomID: msg.RoomID, Err: msg.Reason})
	}
}

// applyRemote 应用其他成员的代码更新：置来源标记，取消本地待发送的编辑，然后通知回调
func (c *Client) applyRemote(msg dto.Message) {
	code, ok := msg.CodeValue()
	if !ok {
		return
	}
	update := CodeUpdate{RoomID: msg.RoomID, Code: code, UserID: msg.UserID}
	known := false
	c.update(func() {
		r, ok := c.rooms[msg.RoomID]
		if !ok {
			return
		}
		known = true
		if msg.Language.Valid() {
			r.language = msg.Language
		}
		update.Language = r.language
		if r.send.Cancel() {
			c.log.WithField("room_id", r.id).Debug("Remote update superseded a pending local edit")
		}
		r.pending = nil
		r.inflight = nil
		r.syncing = false
		r.clear.Cancel()
		c.markAppliedLocked(r, code)
	})
	if known {
		c.codeHandlers.emit(update)
	}
}

func errorReason(err error) string {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason
	}
	return err.Error()
}
