package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/repository"
)

// GormRoomRepository 是 RoomRepository 接口的 GORM 实现
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// FindByID 实现根据房间 ID 查找房间
func (r *GormRoomRepository) FindByID(ctx context.Context, id uint) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).First(&room, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by id %d: %w", id, err)
	}
	return &room, nil
}

// Save 实现保存房间信息（创建或更新）
func (r *GormRoomRepository) Save(ctx context.Context, room *domain.Room) error {
	if room.CodeUpdatedAt.IsZero() {
		room.CodeUpdatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Save(room).Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save room (id: %d, name: %s): %w", room.ID, room.Name, err)
	}
	return nil
}

// Delete 实现删除房间
func (r *GormRoomRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&domain.Room{}, id)
	if result.Error != nil {
		return fmt.Errorf("gorm: delete room %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrRoomNotFound
	}
	return nil
}

// ListForUser 实现按角色过滤的房间列表
func (r *GormRoomRepository) ListForUser(ctx context.Context, identity domain.Identity) ([]domain.Room, error) {
	rooms := make([]domain.Room, 0)
	query := r.db.WithContext(ctx).Order("id")
	switch identity.Role {
	case domain.RoleAdmin:
		// 管理员可以看到所有房间
	case domain.RoleTeacher:
		query = query.Where("teacher_id = ?", identity.ID)
	default:
		query = query.Where("student_id = ?", identity.ID)
	}
	if err := query.Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("gorm: list rooms for user %d: %w", identity.ID, err)
	}
	return rooms, nil
}

// UpdateCode 只更新 code/language 两列。
// 条件更新保证较旧的写入（例如排队晚到的任务）不会覆盖较新的代码。
func (r *GormRoomRepository) UpdateCode(ctx context.Context, id uint, code string, language domain.Language, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Room{}).
		Where("id = ? AND code_updated_at < ?", id, at).
		Updates(map[string]interface{}{
			"code":            code,
			"language":        language,
			"code_updated_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("gorm: update code for room %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		// 区分"房间不存在"和"写入已过期"
		var count int64
		if err := r.db.WithContext(ctx).Model(&domain.Room{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("gorm: check room %d existence: %w", id, err)
		}
		if count == 0 {
			return repository.ErrRoomNotFound
		}
		return repository.ErrStaleWrite
	}
	return nil
}
