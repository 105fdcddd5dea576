package hub

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/dto"
)

// ConnState 是单个连接在房间协议中的状态
type ConnState int32

const (
	StateUnauthenticated ConnState = iota
	StateAuthenticated
	StateJoined
	StateLeft
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateJoined:
		return "JOINED"
	case StateLeft:
		return "LEFT"
	case StateDisconnected:
		return "DISCONNECTED"
	}
	return "UNKNOWN"
}

// policyTimeout 是 join 时授权检查的超时时间
const policyTimeout = 5 * time.Second

var clientSeq atomic.Uint64

// Client 代表一个已认证并连接到 Hub 的 WebSocket 客户端。
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	id       string // 连接的临时句柄
	seq      uint64
	identity domain.Identity
	send     chan []byte // 发往此客户端的消息队列，只由 Hub 写入和关闭
	state    atomic.Int32
}

// NewClient 为已通过认证的连接创建 Client
func NewClient(hub *Hub, conn *websocket.Conn, identity domain.Identity) *Client {
	c := &Client{
		hub:      hub,
		conn:     conn,
		id:       uuid.NewString(),
		seq:      clientSeq.Add(1),
		identity: identity,
		send:     make(chan []byte, 256),
	}
	c.setState(StateAuthenticated)
	return c
}

func (c *Client) ID() string                { return c.id }
func (c *Client) Identity() domain.Identity { return c.identity }
func (c *Client) UserID() uint              { return c.identity.ID }

// State 返回连接当前的协议状态
func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

func (c *Client) setState(s ConnState) { c.state.Store(int32(s)) }

func (c *Client) logger() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"conn_id": c.id, "user_id": c.identity.ID})
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump 把 WebSocket 上的消息按顺序交给 Hub。在自己的 goroutine 中运行。
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
		c.logger().Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) // 收到 Pong 后重置读取超时
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger().WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.logger().Debug("WebSocket connection closed normally or read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger().Debugf("Received non-text message type: %d", messageType)
			continue
		}

		var msg dto.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger().WithError(err).Debug("Dropping malformed message")
			continue
		}

		event := HubMessage{Type: eventMessage, Client: c, Message: &msg}
		if msg.Type == dto.TypeJoin && msg.RoomID != 0 {
			// 授权检查可能访问数据库，放在连接自己的 goroutine 中，不阻塞事件循环
			ctx, cancel := context.WithTimeout(context.Background(), policyTimeout)
			event.JoinErr = c.hub.policy.CanJoin(ctx, c.identity, msg.RoomID)
			cancel()
		}
		if !c.hub.enqueue(event) {
			return // Hub 已停止
		}
	}
}

// WritePump 把 send 队列中的消息写到 WebSocket 连接，并定期发送 Ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.logger().Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了 send 通道
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger().WithError(err).Warn("Failed to write message to websocket")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger().WithError(err).Warn("Failed to send ping message")
				return
			}
		}
	}
}
