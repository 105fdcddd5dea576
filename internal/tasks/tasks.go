package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/domain"
)

// 任务类型常量
const (
	TypeRoomCodePersist = "room:persist-code" // 房间代码落库任务
)

// QueueCritical 是落库任务使用的队列
const QueueCritical = "critical"

// RoomCodePersistPayload 是房间代码落库任务的数据
type RoomCodePersistPayload struct {
	State domain.CodeState `json:"state"`
}

// NewRoomCodePersistTask 创建房间代码落库任务。
// 不重试：失败的写入由下一次编辑重新触发。
func NewRoomCodePersistTask(state domain.CodeState) (*asynq.Task, error) {
	payload, err := json.Marshal(RoomCodePersistPayload{State: state})
	if err != nil {
		return nil, fmt.Errorf("marshal room code payload: %w", err)
	}
	return asynq.NewTask(TypeRoomCodePersist, payload,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Second),
	), nil
}

// ParseRoomCodePersistPayload 解析任务数据
func ParseRoomCodePersistPayload(t *asynq.Task) (RoomCodePersistPayload, error) {
	var payload RoomCodePersistPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	if payload.State.RoomID == 0 {
		return payload, fmt.Errorf("payload has no room id")
	}
	return payload, nil
}

// Enqueuer 是 asynq.Client 中 QueueFlusher 用到的部分
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueFlusher 把去抖后的房间代码投递到 asynq 队列，由 worker 写库。
type QueueFlusher struct {
	client Enqueuer
}

// NewQueueFlusher 创建 QueueFlusher 实例
func NewQueueFlusher(client Enqueuer) *QueueFlusher {
	if client == nil {
		panic("asynq client cannot be nil for QueueFlusher")
	}
	return &QueueFlusher{client: client}
}

// Flush 实现 service.Flusher
func (f *QueueFlusher) Flush(ctx context.Context, state domain.CodeState) error {
	task, err := NewRoomCodePersistTask(state)
	if err != nil {
		return err
	}
	info, err := f.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue %s for room %d: %w", TypeRoomCodePersist, state.RoomID, err)
	}
	logrus.WithFields(logrus.Fields{
		"task_id": info.ID,
		"queue":   info.Queue,
		"room_id": state.RoomID,
	}).Debug("Room code persist task enqueued")
	return nil
}
