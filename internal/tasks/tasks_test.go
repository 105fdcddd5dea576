package tasks_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/tasks"
)

func TestRoomCodePersistTask_PayloadRoundTrip(t *testing.T) {
	state := domain.CodeState{RoomID: 7, Code: "print(1)", Language: domain.LanguagePython, UpdatedAt: time.Now().UTC()}

	task, err := tasks.NewRoomCodePersistTask(state)
	require.NoError(t, err)
	assert.Equal(t, tasks.TypeRoomCodePersist, task.Type())

	payload, err := tasks.ParseRoomCodePersistPayload(task)
	require.NoError(t, err)
	assert.Equal(t, state.Code, payload.State.Code)
	assert.True(t, state.UpdatedAt.Equal(payload.State.UpdatedAt))
}

func TestParseRoomCodePersistPayload_Rejects(t *testing.T) {
	_, err := tasks.ParseRoomCodePersistPayload(asynq.NewTask(tasks.TypeRoomCodePersist, []byte("{")))
	assert.Error(t, err)

	_, err = tasks.ParseRoomCodePersistPayload(asynq.NewTask(tasks.TypeRoomCodePersist, []byte(`{"state":{}}`)))
	assert.Error(t, err)
}

func TestQueueFlusher_EnqueuesOnCriticalQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	flusher := tasks.NewQueueFlusher(client)
	err := flusher.Flush(context.Background(), domain.CodeState{RoomID: 7, Code: "x", Language: domain.LanguageJavaScript, UpdatedAt: time.Now().UTC()})
	require.NoError(t, err)

	pending, err := mr.List("asynq:{" + tasks.QueueCritical + "}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
