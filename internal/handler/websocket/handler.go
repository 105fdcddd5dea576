package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/dto"
	"github.com/mixxson/kidcode2/internal/hub"
	"github.com/mixxson/kidcode2/internal/service"
)

// authTimeout 限制握手时认证（含用户目录查询）的时长
const authTimeout = 5 * time.Second

// Verifier 校验连接凭据，由 service.ConnectionAuthenticator 实现
type Verifier interface {
	Verify(ctx context.Context, credential string) (*domain.Identity, error)
}

// WebSocketHandler 负责 WebSocket 升级、连接认证和客户端注册
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	auth     Verifier
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigin 为空或 "*" 时接受任意来源。
func NewWebSocketHandler(h *hub.Hub, auth Verifier, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if auth == nil {
		panic("Verifier cannot be nil for WebSocketHandler")
	}
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigin),
		},
		hub:  h,
		auth: auth,
	}
}

func originChecker(allowed string) func(r *http.Request) bool {
	if allowed == "" || allowed == "*" {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || strings.EqualFold(origin, allowed)
	}
}

// HandleConnection 处理 GET /ws。
// 连接总是先升级，认证失败时通过 connect-error 消息和关闭帧告知原因。
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	logCtx := logrus.WithField("remote_addr", c.ClientIP())

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写了 HTTP 错误响应
		logCtx.WithError(err).Warn("WS Handler: Failed to upgrade connection")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), authTimeout)
	identity, err := h.auth.Verify(ctx, service.ExtractCredential(c.Request))
	cancel()
	if err != nil {
		h.reject(conn, err, logCtx)
		return
	}
	logCtx = logCtx.WithField("user_id", identity.ID)

	client := hub.NewClient(h.hub, conn, *identity)
	if !h.hub.Register(client) {
		logCtx.Warn("WS Handler: Hub is stopped, closing connection")
		_ = conn.Close()
		return
	}
	client.Run()
	logCtx.WithField("conn_id", client.ID()).Info("WS Handler: Client connected")
}

// reject 发送 connect-error 和关闭帧后关闭连接
func (h *WebSocketHandler) reject(conn *websocket.Conn, err error, logCtx *logrus.Entry) {
	reason := dto.ReasonServerError
	code := websocket.CloseInternalServerErr
	var authErr *service.AuthError
	if errors.As(err, &authErr) {
		reason = authErr.Reason
		code = dto.CloseAuthRejected
		logCtx.WithField("reason", reason).Warn("WS Handler: Connection authentication rejected")
	} else {
		logCtx.WithError(err).Error("WS Handler: Connection authentication failed")
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(dto.Message{Type: dto.TypeConnectError, Reason: reason})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
