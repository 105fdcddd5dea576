package syncclient

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/dto"
)

// ErrGaveUp 表示重连次数用尽
var ErrGaveUp = errors.New("failed to reconnect to server")

// ErrNotConnected 表示当前没有可用连接
var ErrNotConnected = errors.New("not connected")

// RejectedError 表示服务端拒绝了连接凭据，重连无法恢复
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("connection rejected: %s", e.Reason)
}

// Status 是连接和同步状态的快照
type Status struct {
	Connected    bool
	Reconnecting bool
	Syncing      bool
	GaveUp       bool
	LastError    string
}

func (s Status) String() string {
	switch {
	case s.GaveUp:
		return "gave-up"
	case s.Reconnecting:
		return "reconnecting"
	case s.Connected && s.Syncing:
		return "syncing"
	case s.Connected:
		return "connected"
	}
	return "disconnected"
}

// JoinResult 是加入房间的结果。
// Code 为 nil 表示不需要应用快照：房间没有代码，或者本地有未发送的编辑并已重新发送。
type JoinResult struct {
	RoomID   uint
	Code     *string
	Language domain.Language
	Members  []dto.Member
	Resent   bool   // 重连后重新发送了本地未发送的编辑
	Err      string // 非空表示加入被拒绝
}

// CodeUpdate 是其他成员发来的代码更新
type CodeUpdate struct {
	RoomID   uint
	Code     string
	Language domain.Language
	UserID   uint
}

// CursorUpdate 是其他成员的光标位置
type CursorUpdate struct {
	RoomID uint
	UserID uint
	Cursor json.RawMessage
}

// MemberEvent 是 member-joined 或 member-left 通知
type MemberEvent struct {
	Type   string // dto.TypeMemberJoined 或 dto.TypeMemberLeft
	RoomID uint
	Member dto.Member
}
