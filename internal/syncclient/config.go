package syncclient

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultSendDebounce         = 500 * time.Millisecond
	DefaultSyncingClear         = 300 * time.Millisecond
	DefaultRemoteSuppressWindow = 750 * time.Millisecond
	DefaultReconnectInitial     = 1 * time.Second
	DefaultReconnectMax         = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultPongWait             = 60 * time.Second
	DefaultPingPeriod           = (DefaultPongWait * 9) / 10
)

// Config 是同步客户端的配置
type Config struct {
	// ServerURL 是服务端地址，例如 ws://localhost:8080；路径为空时使用 /ws
	ServerURL string
	Token     string

	// SendDebounce 是本地编辑合并发送的延迟
	SendDebounce time.Duration
	// SyncingClear 是消息写出后清除 syncing 指示的延迟
	SyncingClear time.Duration
	// RemoteSuppressWindow 是应用远端更新后忽略本地回声的时长，必须大于 SendDebounce
	RemoteSuppressWindow time.Duration

	ReconnectInitial     time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration

	// PongWait 是两次收到服务端数据之间允许的最长间隔，超过即视为断线
	PongWait time.Duration
	// PingPeriod 是客户端发送 Ping 的周期，必须小于 PongWait。
	// Pong 同时确认了在该 Ping 之前写出的编辑已经被服务端读取。
	PingPeriod time.Duration

	// Dialer 为空时使用 gorilla/websocket 的默认拨号器
	Dialer Dialer
}

// NewConfig 返回带默认值的配置
func NewConfig(serverURL, token string) Config {
	return Config{
		ServerURL:            serverURL,
		Token:                token,
		SendDebounce:         DefaultSendDebounce,
		SyncingClear:         DefaultSyncingClear,
		RemoteSuppressWindow: DefaultRemoteSuppressWindow,
		ReconnectInitial:     DefaultReconnectInitial,
		ReconnectMax:         DefaultReconnectMax,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		HandshakeTimeout:     DefaultHandshakeTimeout,
		PongWait:             DefaultPongWait,
		PingPeriod:           DefaultPingPeriod,
	}
}

// Validate 检查配置是否可用
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server url is required")
	}
	if _, err := c.endpoint(); err != nil {
		return err
	}
	if c.SendDebounce <= 0 || c.SyncingClear < 0 {
		return errors.New("send debounce must be positive")
	}
	if c.RemoteSuppressWindow <= c.SendDebounce {
		return fmt.Errorf("remote suppress window (%s) must exceed the send debounce (%s)", c.RemoteSuppressWindow, c.SendDebounce)
	}
	if c.ReconnectInitial <= 0 || c.ReconnectMax < c.ReconnectInitial {
		return errors.New("reconnect delays must be positive and the cap must not be below the initial delay")
	}
	if c.MaxReconnectAttempts <= 0 {
		return errors.New("max reconnect attempts must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake timeout must be positive")
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping period (%s) must be positive and below the pong wait (%s)", c.PingPeriod, c.PongWait)
	}
	return nil
}

// endpoint 返回带 token 查询参数的 websocket 地址
func (c Config) endpoint() (string, error) {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if strings.Trim(u.Path, "/") == "" {
		u.Path = "/ws"
	}
	if c.Token != "" {
		q := u.Query()
		q.Set("token", c.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
