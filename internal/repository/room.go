package repository

import (
	"context"
	"time"

	"github.com/mixxson/kidcode2/internal/domain"
)

// RoomRepository 定义了房间记录 (Session Store) 的存储和检索操作。
type RoomRepository interface {
	// FindByID 根据房间 ID 查找房间。
	// 如果房间不存在，返回 ErrRoomNotFound。
	FindByID(ctx context.Context, id uint) (*domain.Room, error)

	// Save 保存房间信息。ID 为零时创建，否则更新。
	Save(ctx context.Context, room *domain.Room) error

	// Delete 删除房间，不存在时返回 ErrRoomNotFound。
	Delete(ctx context.Context, id uint) error

	// ListForUser 返回用户可见的房间：管理员全部，老师自己的，学生被分配的。
	ListForUser(ctx context.Context, identity domain.Identity) ([]domain.Room, error)

	// UpdateCode 只覆盖房间的 code 和 language 字段。
	// 当存储中的 CodeUpdatedAt 不早于 at 时写入被丢弃并返回 ErrStaleWrite。
	UpdateCode(ctx context.Context, id uint, code string, language domain.Language, at time.Time) error
}
