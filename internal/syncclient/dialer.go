package syncclient

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn 是客户端使用的 websocket 连接，*websocket.Conn 满足该接口
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	// WriteControl 可以与其他写方法并发调用
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPingHandler(h func(appData string) error)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer 建立到服务端的连接
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DialerFunc 让普通函数实现 Dialer
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) { return f(ctx, endpoint) }

// WebsocketDialer 使用 gorilla/websocket 拨号
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}
