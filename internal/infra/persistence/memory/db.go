// Package memory 提供仓库接口的内存实现，用于本地开发和测试。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/repository"
)

// RoomRepository 是 RoomRepository 接口的内存实现
type RoomRepository struct {
	mu     sync.RWMutex
	rooms  map[uint]*domain.Room
	nextID uint
}

// NewRoomRepository 创建空的内存房间仓库
func NewRoomRepository() *RoomRepository {
	return &RoomRepository{rooms: make(map[uint]*domain.Room)}
}

func (r *RoomRepository) FindByID(_ context.Context, id uint) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	cp := *room
	return &cp, nil
}

func (r *RoomRepository) Save(_ context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if room.ID == 0 {
		r.nextID++
		room.ID = r.nextID
		room.CreatedAt = now
	} else if room.ID > r.nextID {
		r.nextID = room.ID
	}
	room.UpdatedAt = now
	cp := *room
	r.rooms[room.ID] = &cp
	return nil
}

func (r *RoomRepository) Delete(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[id]; !ok {
		return repository.ErrRoomNotFound
	}
	delete(r.rooms, id)
	return nil
}

func (r *RoomRepository) ListForUser(_ context.Context, identity domain.Identity) ([]domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		if !room.VisibleTo(identity) {
			continue
		}
		rooms = append(rooms, *room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

func (r *RoomRepository) UpdateCode(_ context.Context, id uint, code string, language domain.Language, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return repository.ErrRoomNotFound
	}
	if !room.CodeUpdatedAt.Before(at) {
		return repository.ErrStaleWrite
	}
	room.Code = code
	room.Language = language
	room.CodeUpdatedAt = at
	room.UpdatedAt = time.Now().UTC()
	return nil
}

// UserRepository 是 UserRepository 接口的内存实现
type UserRepository struct {
	mu     sync.RWMutex
	users  map[uint]*domain.User
	nextID uint
}

// NewUserRepository 创建空的内存用户仓库
func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[uint]*domain.User)}
}

func (r *UserRepository) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *UserRepository) FindByID(_ context.Context, id uint) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepository) Save(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, u := range r.users {
		if id == user.ID {
			continue
		}
		if u.Username == user.Username || (user.Email != "" && u.Email == user.Email) {
			return repository.ErrDuplicateEntry
		}
	}
	now := time.Now().UTC()
	if user.ID == 0 {
		r.nextID++
		user.ID = r.nextID
		user.CreatedAt = now
	} else if user.ID > r.nextID {
		r.nextID = user.ID
	}
	user.UpdatedAt = now
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *UserRepository) ListByRole(_ context.Context, role domain.Role) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]domain.User, 0)
	for _, u := range r.users {
		if u.Role == role {
			users = append(users, *u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r *UserRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.users)), nil
}
