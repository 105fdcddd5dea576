package dto

import (
	"encoding/json"
	"time"

	"github.com/mixxson/kidcode2/internal/domain"
)

// 消息类型
const (
	// 客户端 -> 服务端
	TypeJoin  = "join"
	TypeLeave = "leave"

	// 双向
	TypeCodeUpdate   = "code-update"
	TypeCursorUpdate = "cursor-update"

	// 服务端 -> 客户端
	TypeConnected    = "connected"
	TypeConnectError = "connect-error"
	TypeJoined       = "joined"
	TypeMemberJoined = "member-joined"
	TypeMemberLeft   = "member-left"
	TypeError        = "error"
	TypeDisconnect   = "disconnect"
)

// 服务端回复中的错误原因
const (
	ReasonForbidden     = "FORBIDDEN"
	ReasonServerError   = "SERVER_ERROR"
	ReasonServerClosing = "SERVER_SHUTDOWN"
)

// CloseAuthRejected 是认证失败时使用的 websocket 关闭码
const CloseAuthRejected = 4401

// Message 是 websocket 上传输的 JSON 信封，不同类型使用不同的字段子集。
type Message struct {
	Type   string `json:"type"`
	RoomID uint   `json:"roomId,omitempty"`
	// Code 为 nil 表示消息不携带代码；空字符串是合法的代码
	Code        *string         `json:"code,omitempty"`
	Language    domain.Language `json:"language,omitempty"`
	Cursor      json.RawMessage `json:"cursor,omitempty"`
	UserID      uint            `json:"userId,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	Role        domain.Role     `json:"role,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	TS          int64           `json:"ts,omitempty"` // 毫秒时间戳
	Members     []Member        `json:"members,omitempty"`
}

// Member 是 joined 回复中的成员身份
type Member struct {
	UserID      uint        `json:"userId"`
	DisplayName string      `json:"displayName"`
	Role        domain.Role `json:"role"`
}

// MemberFrom 把身份转换为成员描述
func MemberFrom(identity domain.Identity) Member {
	return Member{UserID: identity.ID, DisplayName: identity.DisplayName, Role: identity.Role}
}

// String 返回字符串的指针，用于填充 Code
func String(s string) *string { return &s }

// CodeValue 返回代码以及消息是否携带了代码
func (m *Message) CodeValue() (string, bool) {
	if m.Code == nil {
		return "", false
	}
	return *m.Code, true
}

// Now 返回消息时间戳
func Now() int64 { return time.Now().UnixMilli() }
