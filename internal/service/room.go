package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/repository"
)

// CreateRoomInput 是创建房间的参数
type CreateRoomInput struct {
	Name      string
	StudentID uint
	LessonID  *uint
	Language  domain.Language // 为空时使用默认语言
	Code      string
}

// RoomService 负责房间管理相关的业务逻辑。
type RoomService struct {
	roomRepo repository.RoomRepository
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(roomRepo repository.RoomRepository) *RoomService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	return &RoomService{roomRepo: roomRepo}
}

// CreateRoom 创建一个新房间，只有老师和管理员可以创建。创建者成为房间的老师。
func (s *RoomService) CreateRoom(ctx context.Context, creator domain.Identity, in CreateRoomInput) (*domain.Room, error) {
	logCtx := logrus.WithField("creator_id", creator.ID)

	if !creator.IsAdmin() && creator.Role != domain.RoleTeacher {
		logCtx.Warn("CreateRoom: caller is neither teacher nor admin")
		return nil, ErrForbidden
	}
	name := strings.TrimSpace(in.Name)
	if name == "" || in.StudentID == 0 {
		return nil, invalidInput("name and studentId required")
	}
	language := in.Language
	if language == "" {
		language = domain.DefaultLanguage
	}
	if !language.Valid() {
		return nil, invalidInput("unsupported language %q", language)
	}

	room := &domain.Room{
		Name:      name,
		TeacherID: creator.ID,
		StudentID: in.StudentID,
		LessonID:  in.LessonID,
		Code:      in.Code,
		Language:  language,
		Active:    true,
		// 严格模式的 MySQL 不接受零值时间；后续写入的时间戳都晚于创建时间
		CodeUpdatedAt: time.Now().UTC(),
	}
	if err := s.roomRepo.Save(ctx, room); err != nil {
		logCtx.WithError(err).Error("Failed to save new room to database")
		return nil, ErrInternalServer
	}

	logCtx.WithFields(logrus.Fields{"room_id": room.ID, "student_id": room.StudentID}).Info("Room created successfully")
	return room, nil
}

// ListRooms 返回调用者可见的房间
func (s *RoomService) ListRooms(ctx context.Context, identity domain.Identity) ([]domain.Room, error) {
	rooms, err := s.roomRepo.ListForUser(ctx, identity)
	if err != nil {
		logrus.WithError(err).WithField("user_id", identity.ID).Error("ListRooms: Repository error")
		return nil, ErrInternalServer
	}
	return rooms, nil
}

// GetRoom 返回房间详情；对调用者不可见的房间同样报告为不存在。
func (s *RoomService) GetRoom(ctx context.Context, identity domain.Identity, roomID uint) (*domain.Room, error) {
	room, err := s.FindRoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.VisibleTo(identity) {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// DeleteRoom 删除房间，只有房间的老师或管理员可以删除。
func (s *RoomService) DeleteRoom(ctx context.Context, identity domain.Identity, roomID uint) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": identity.ID})

	room, err := s.FindRoomByID(ctx, roomID)
	if err != nil {
		return err
	}
	if !identity.IsAdmin() && room.TeacherID != identity.ID {
		logCtx.Warn("DeleteRoom: caller does not own the room")
		return ErrForbidden
	}
	if err := s.roomRepo.Delete(ctx, roomID); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return ErrRoomNotFound
		}
		logCtx.WithError(err).Error("DeleteRoom: Repository error")
		return ErrInternalServer
	}
	logCtx.Info("Room deleted")
	return nil
}

// FindRoomByID 按 ID 加载房间，不做可见性检查
func (s *RoomService) FindRoomByID(ctx context.Context, roomID uint) (*domain.Room, error) {
	logCtx := logrus.WithField("room_id", roomID)
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.Debug("FindRoomByID: Room not found")
			return nil, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("FindRoomByID: Repository error")
		return nil, ErrInternalServer
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	return room, nil
}
