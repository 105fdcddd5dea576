package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/dto"
	"github.com/mixxson/kidcode2/internal/repository"
	"github.com/mixxson/kidcode2/internal/service"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024

	// snapshotTimeout 是 join 时读取房间记录的超时时间
	snapshotTimeout = 3 * time.Second
)

// 事件类型
const (
	eventRegister   = "register"
	eventUnregister = "unregister"
	eventMessage    = "message"
	eventQuery      = "query"
)

// HubMessage 是 Hub 事件循环处理的事件
type HubMessage struct {
	Type    string
	Client  *Client
	Message *dto.Message // eventMessage
	JoinErr error        // join 消息的授权检查结果
	Query   func()       // eventQuery，在事件循环内执行
}

// RoomReader 是 Hub 读取房间快照所需的 Session Store 操作
type RoomReader interface {
	FindByID(ctx context.Context, id uint) (*domain.Room, error)
}

// CodeSaver 是 Hub 使用的持久化去抖器
type CodeSaver interface {
	Schedule(roomID uint, code string, language domain.Language)
	Pending(roomID uint) (domain.CodeState, bool)
}

// Hub 维护已连接的客户端和房间成员关系，所有事件在单个 goroutine 中按序处理。
type Hub struct {
	events chan HubMessage
	done   chan struct{}
	exited chan struct{}
	stop   sync.Once

	gate    sync.RWMutex // stopped 置位之后不再有事件进入 events
	stopped bool

	registry  *Registry
	clients   map[*Client]struct{}
	languages map[uint]domain.Language // 活跃房间最近一次已知的语言

	store  RoomReader
	saver  CodeSaver
	policy service.JoinPolicy
	log    *logrus.Entry
}

// NewHub 创建 Hub。policy 为 nil 时允许所有已认证连接加入任何房间。
func NewHub(store RoomReader, saver CodeSaver, policy service.JoinPolicy) *Hub {
	if store == nil {
		panic("RoomReader cannot be nil for Hub")
	}
	if saver == nil {
		panic("CodeSaver cannot be nil for Hub")
	}
	if policy == nil {
		policy = service.AllowAll
	}
	return &Hub{
		events:    make(chan HubMessage, 512),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		registry:  NewRegistry(),
		clients:   make(map[*Client]struct{}),
		languages: make(map[uint]domain.Language),
		store:     store,
		saver:     saver,
		policy:    policy,
		log:       logrus.WithField("component", "hub"),
	}
}

// Run 启动 Hub 的主事件循环，应在单独的 goroutine 中运行。
func (h *Hub) Run() {
	h.log.Info("Hub is running...")
	defer close(h.exited)
	for {
		select {
		case ev := <-h.events:
			h.handle(ev)
		case <-h.done:
			h.shutdown()
			h.log.Info("Hub stopped")
			return
		}
	}
}

// Stop 停止事件循环并断开所有客户端，等待循环退出或 ctx 结束。
func (h *Hub) Stop(ctx context.Context) error {
	h.stop.Do(func() {
		h.gate.Lock()
		h.stopped = true
		h.gate.Unlock()
		close(h.done)
	})
	select {
	case <-h.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register 把已认证的客户端交给 Hub
func (h *Hub) Register(c *Client) bool {
	return h.enqueue(HubMessage{Type: eventRegister, Client: c})
}

// Unregister 通知 Hub 连接已断开
func (h *Hub) Unregister(c *Client) {
	h.enqueue(HubMessage{Type: eventUnregister, Client: c})
}

// enqueue 把事件放入队列；阻塞以保持每个连接的消息顺序，Hub 停止后返回 false。
func (h *Hub) enqueue(ev HubMessage) bool {
	h.gate.RLock()
	defer h.gate.RUnlock()
	if h.stopped {
		return false
	}
	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) handle(ev HubMessage) {
	switch ev.Type {
	case eventRegister:
		h.registerClient(ev.Client)
	case eventUnregister:
		h.unregisterClient(ev.Client)
	case eventMessage:
		h.handleMessage(ev)
	case eventQuery:
		ev.Query()
	default:
		h.log.Warnf("Hub: Received unknown event type: %s", ev.Type)
	}
}

func (h *Hub) registerClient(c *Client) {
	if c == nil {
		h.log.Error("Hub: Attempted to register a nil client")
		return
	}
	h.clients[c] = struct{}{}
	id := c.Identity()
	h.sendTo(c, &dto.Message{Type: dto.TypeConnected, UserID: id.ID, DisplayName: id.DisplayName, Role: id.Role})
	c.logger().Info("Client registered to Hub")
}

func (h *Hub) unregisterClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return // 已注销（例如 Hub 停止时）
	}
	for _, roomID := range h.registry.RemoveAll(c) {
		h.afterLeave(c, roomID)
	}
	delete(h.clients, c)
	close(c.send)
	c.setState(StateDisconnected)
	c.logger().Info("Client unregistered from Hub")
}

func (h *Hub) handleMessage(ev HubMessage) {
	c, msg := ev.Client, ev.Message
	if _, ok := h.clients[c]; !ok || msg == nil {
		return
	}
	logCtx := c.logger().WithFields(logrus.Fields{"room_id": msg.RoomID, "type": msg.Type})
	if msg.RoomID == 0 {
		logCtx.Debug("Dropping message without roomId")
		return
	}

	switch msg.Type {
	case dto.TypeJoin:
		h.handleJoin(c, msg.RoomID, ev.JoinErr)
	case dto.TypeLeave:
		if !h.registry.Leave(c, msg.RoomID) {
			logCtx.Debug("Dropping leave for a room the connection never joined")
			return
		}
		h.afterLeave(c, msg.RoomID)
		if len(h.registry.RoomsOf(c)) == 0 {
			c.setState(StateLeft)
		}
		logCtx.Info("Client left room")
	case dto.TypeCodeUpdate:
		h.handleCodeUpdate(c, msg, logCtx)
	case dto.TypeCursorUpdate:
		if !h.registry.Contains(msg.RoomID, c) {
			logCtx.Debug("Dropping cursor update for a room the connection never joined")
			return
		}
		h.broadcastExcept(msg.RoomID, c, &dto.Message{
			Type:   dto.TypeCursorUpdate,
			RoomID: msg.RoomID,
			Cursor: msg.Cursor,
			UserID: c.UserID(),
			TS:     dto.Now(),
		})
	default:
		logCtx.Debug("Dropping message of unknown type")
	}
}

func (h *Hub) handleJoin(c *Client, roomID uint, joinErr error) {
	logCtx := c.logger().WithField("room_id", roomID)
	if joinErr != nil {
		reason := dto.ReasonServerError
		if errors.Is(joinErr, service.ErrForbidden) {
			reason = dto.ReasonForbidden
		}
		logCtx.WithError(joinErr).Warn("Join rejected")
		h.sendTo(c, &dto.Message{Type: dto.TypeError, RoomID: roomID, Reason: reason})
		return
	}

	added := h.registry.Join(c, roomID)
	c.setState(StateJoined)

	reply := &dto.Message{Type: dto.TypeJoined, RoomID: roomID}
	if state, ok := h.snapshot(roomID); ok {
		reply.Code = dto.String(state.Code)
		reply.Language = state.Language
		h.languages[roomID] = state.Language
	}
	for _, m := range h.registry.Members(roomID) {
		reply.Members = append(reply.Members, dto.MemberFrom(m.Identity()))
	}
	h.sendTo(c, reply)

	if !added {
		logCtx.Debug("Client re-joined a room it is already a member of")
		return
	}
	id := c.Identity()
	h.broadcastExcept(roomID, c, &dto.Message{
		Type:        dto.TypeMemberJoined,
		RoomID:      roomID,
		UserID:      id.ID,
		DisplayName: id.DisplayName,
		Role:        id.Role,
	})
	logCtx.WithField("members", h.registry.Size(roomID)).Info("Client joined room")
}

func (h *Hub) handleCodeUpdate(c *Client, msg *dto.Message, logCtx *logrus.Entry) {
	if !h.registry.Contains(msg.RoomID, c) {
		logCtx.Debug("Dropping code update for a room the connection never joined")
		return
	}
	code, ok := msg.CodeValue()
	if !ok {
		logCtx.Debug("Dropping code update without code")
		return
	}
	language := msg.Language
	if language == "" {
		language = h.lastLanguage(msg.RoomID)
	} else if !language.Valid() {
		logCtx.WithField("language", language).Debug("Dropping code update with unknown language")
		return
	}
	h.languages[msg.RoomID] = language

	h.broadcastExcept(msg.RoomID, c, &dto.Message{
		Type:     dto.TypeCodeUpdate,
		RoomID:   msg.RoomID,
		Code:     dto.String(code),
		Language: language,
		UserID:   c.UserID(),
		TS:       dto.Now(),
	})
	h.saver.Schedule(msg.RoomID, code, language)
}

// afterLeave 通知房间剩余成员，并在房间变空时清理房间状态
func (h *Hub) afterLeave(c *Client, roomID uint) {
	h.broadcastExcept(roomID, c, &dto.Message{Type: dto.TypeMemberLeft, RoomID: roomID, UserID: c.UserID()})
	if h.registry.Size(roomID) == 0 {
		delete(h.languages, roomID)
	}
}

// snapshot 返回房间的最新代码：优先取未落库的状态，否则读 Session Store。
func (h *Hub) snapshot(roomID uint) (domain.CodeState, bool) {
	if state, ok := h.saver.Pending(roomID); ok {
		return state, true
	}
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	room, err := h.store.FindByID(ctx, roomID)
	if err != nil {
		if !errors.Is(err, repository.ErrRoomNotFound) {
			h.log.WithError(err).WithField("room_id", roomID).Error("Failed to load room snapshot")
		}
		return domain.CodeState{}, false
	}
	return domain.CodeState{RoomID: roomID, Code: room.Code, Language: room.Language, UpdatedAt: room.CodeUpdatedAt}, true
}

func (h *Hub) lastLanguage(roomID uint) domain.Language {
	if l, ok := h.languages[roomID]; ok {
		return l
	}
	if state, ok := h.snapshot(roomID); ok && state.Language.Valid() {
		return state.Language
	}
	return domain.DefaultLanguage
}

// broadcastExcept 把消息发给房间中除 sender 之外的所有成员，永不回发给 sender。
func (h *Hub) broadcastExcept(roomID uint, sender *Client, msg *dto.Message) {
	recipients := h.registry.Others(roomID, sender)
	if len(recipients) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal broadcast message")
		return
	}
	logCtx := h.log.WithFields(logrus.Fields{
		"room_id":         roomID,
		"type":            msg.Type,
		"recipient_count": len(recipients),
	})
	logCtx.Debug("Broadcasting message to clients")
	for _, c := range recipients {
		h.deliver(c, data, logCtx)
	}
}

func (h *Hub) sendTo(c *Client, msg *dto.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal direct message")
		return
	}
	h.deliver(c, data, c.logger())
}

// deliver 非阻塞地放入客户端的发送队列，避免单个慢客户端阻塞事件循环
func (h *Hub) deliver(c *Client, data []byte, logCtx *logrus.Entry) {
	select {
	case c.send <- data:
	default:
		logCtx.WithField("receiver_conn_id", c.ID()).Warn("Client send channel full, message dropped")
	}
}

// shutdown 通知所有客户端服务端即将关闭并关闭它们的发送队列
func (h *Hub) shutdown() {
	// 先处理 Stop 之前已入队的事件，排队中的代码更新要交给 saver
	drained := 0
	for len(h.events) > 0 {
		ev := <-h.events
		if ev.Type == eventQuery {
			continue // 调用方已经因 done 返回
		}
		h.handle(ev)
		drained++
	}
	if drained > 0 {
		h.log.WithField("events", drained).Info("Hub processed queued events before shutdown")
	}

	bye := &dto.Message{Type: dto.TypeDisconnect, Reason: dto.ReasonServerClosing}
	for c := range h.clients {
		h.sendTo(c, bye)
		h.registry.RemoveAll(c)
		close(c.send)
		c.setState(StateDisconnected)
	}
	h.clients = make(map[*Client]struct{})
}

// query 在事件循环内执行 fn 并等待其完成，Hub 停止后返回 false。
func (h *Hub) query(fn func()) bool {
	finished := make(chan struct{})
	if !h.enqueue(HubMessage{Type: eventQuery, Query: func() {
		fn()
		close(finished)
	}}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-h.done:
		return false
	}
}

// ActiveRoomIDs 返回当前有成员的房间
func (h *Hub) ActiveRoomIDs() []uint {
	var ids []uint
	if !h.query(func() { ids = h.registry.RoomIDs() }) {
		return nil
	}
	return ids
}

// RoomMembers 返回房间当前成员的身份（同一用户的多个连接会重复出现）
func (h *Hub) RoomMembers(roomID uint) []domain.Identity {
	var members []domain.Identity
	ok := h.query(func() {
		for _, c := range h.registry.Members(roomID) {
			members = append(members, c.Identity())
		}
	})
	if !ok {
		return nil
	}
	return members
}

// ConnectionCount 返回已注册的连接数
func (h *Hub) ConnectionCount() int {
	var n int
	if !h.query(func() { n = len(h.clients) }) {
		return 0
	}
	return n
}
