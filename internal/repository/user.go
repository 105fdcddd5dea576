package repository

import (
	"context"

	"github.com/mixxson/kidcode2/internal/domain"
)

// UserRepository 定义了用户目录的存储和检索操作。
type UserRepository interface {
	// FindByUsername 根据用户名查找用户，不存在时返回 ErrUserNotFound。
	FindByUsername(ctx context.Context, username string) (*domain.User, error)

	// FindByID 根据用户 ID 查找用户，不存在时返回 ErrUserNotFound。
	FindByID(ctx context.Context, id uint) (*domain.User, error)

	// Save 保存用户信息。ID 为零时创建，否则更新。
	Save(ctx context.Context, user *domain.User) error

	// ListByRole 按 ID 升序返回指定角色的所有用户。
	ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error)

	// Count 返回用户总数（用于"第一个注册的用户成为管理员"）。
	Count(ctx context.Context) (int64, error)
}
