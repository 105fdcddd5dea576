package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/service"
	"github.com/mixxson/kidcode2/internal/tasks"
)

// CodePersister 是写入房间代码的依赖，由 service.CodePersister 实现
type CodePersister interface {
	Persist(ctx context.Context, state domain.CodeState) error
}

// RoomCodePersistHandler 处理房间代码落库任务
type RoomCodePersistHandler struct {
	persister CodePersister
}

// NewRoomCodePersistHandler 创建 Handler 实例
func NewRoomCodePersistHandler(persister CodePersister) *RoomCodePersistHandler {
	if persister == nil {
		panic("CodePersister cannot be nil for RoomCodePersistHandler")
	}
	return &RoomCodePersistHandler{persister: persister}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *RoomCodePersistHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
	})

	payload, err := tasks.ParseRoomCodePersistPayload(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("room_id", payload.State.RoomID)

	if err := h.persister.Persist(ctx, payload.State); err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			logCtx.Warn("Room no longer exists, dropping code persist task")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logCtx.WithError(err).Error("Failed to persist room code")
		return err
	}

	logCtx.Debug("Room code persist task processed successfully")
	return nil
}
