package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/repository"
)

// CodePersister 把房间代码直接写入 Session Store，实现 Flusher。
type CodePersister struct {
	roomRepo repository.RoomRepository
}

// NewCodePersister 创建 CodePersister 实例
func NewCodePersister(roomRepo repository.RoomRepository) *CodePersister {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for CodePersister")
	}
	return &CodePersister{roomRepo: roomRepo}
}

// Flush 实现 Flusher 接口
func (p *CodePersister) Flush(ctx context.Context, state domain.CodeState) error {
	return p.Persist(ctx, state)
}

// Persist 读取房间记录，覆盖 code 和 language 后写回。
// 比已存储内容更旧的状态会被静默丢弃。
func (p *CodePersister) Persist(ctx context.Context, state domain.CodeState) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": state.RoomID, "language": state.Language})

	room, err := p.roomRepo.FindByID(ctx, state.RoomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return fmt.Errorf("persist code for room %d: %w", state.RoomID, ErrRoomNotFound)
		}
		return fmt.Errorf("persist code for room %d: load room: %w", state.RoomID, err)
	}

	language := state.Language
	if !language.Valid() {
		// 未知的语言标签不落库，保留房间原有语言
		logCtx.Warn("CodePersister: invalid language tag, keeping stored language")
		language = room.Language
	}

	err = p.roomRepo.UpdateCode(ctx, room.ID, state.Code, language, state.UpdatedAt)
	if errors.Is(err, repository.ErrStaleWrite) {
		logCtx.WithField("updated_at", state.UpdatedAt).Debug("CodePersister: stale state ignored, newer code already stored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist code for room %d: %w", room.ID, err)
	}
	logCtx.Debug("CodePersister: room code saved")
	return nil
}
