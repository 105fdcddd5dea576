package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/domain"
)

// JoinPolicy 决定已认证的身份能否加入某个房间。
// 返回 nil 表示允许，ErrForbidden 表示拒绝，其他错误表示无法判断。
type JoinPolicy interface {
	CanJoin(ctx context.Context, identity domain.Identity, roomID uint) error
}

// JoinPolicyFunc 让普通函数实现 JoinPolicy
type JoinPolicyFunc func(ctx context.Context, identity domain.Identity, roomID uint) error

func (f JoinPolicyFunc) CanJoin(ctx context.Context, identity domain.Identity, roomID uint) error {
	return f(ctx, identity, roomID)
}

// AllowAll 允许任何已认证的连接加入任何房间
var AllowAll JoinPolicy = JoinPolicyFunc(func(context.Context, domain.Identity, uint) error { return nil })

// RoomAccessPolicy 只允许房间的老师、被分配的学生和管理员加入。
// 不存在的房间同样被拒绝，不向调用者泄露房间是否存在。
type RoomAccessPolicy struct {
	rooms *RoomService
}

// NewRoomAccessPolicy 创建基于房间记录的加入策略
func NewRoomAccessPolicy(rooms *RoomService) *RoomAccessPolicy {
	if rooms == nil {
		panic("RoomService cannot be nil for RoomAccessPolicy")
	}
	return &RoomAccessPolicy{rooms: rooms}
}

func (p *RoomAccessPolicy) CanJoin(ctx context.Context, identity domain.Identity, roomID uint) error {
	if identity.IsAdmin() {
		return nil
	}
	room, err := p.rooms.FindRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return ErrForbidden
		}
		return err
	}
	if !room.VisibleTo(identity) {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": identity.ID}).Warn("Join denied: user is not a participant of the room")
		return ErrForbidden
	}
	return nil
}
