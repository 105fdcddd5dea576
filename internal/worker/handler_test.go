package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/service"
	"github.com/mixxson/kidcode2/internal/tasks"
	"github.com/mixxson/kidcode2/internal/worker"
)

type mockPersister struct {
	mock.Mock
}

func (m *mockPersister) Persist(ctx context.Context, state domain.CodeState) error {
	return m.Called(ctx, state).Error(0)
}

func newTask(t *testing.T, state domain.CodeState) *asynq.Task {
	t.Helper()
	task, err := tasks.NewRoomCodePersistTask(state)
	require.NoError(t, err)
	return task
}

func TestRoomCodePersistHandler_Success(t *testing.T) {
	persister := new(mockPersister)
	handler := worker.NewRoomCodePersistHandler(persister)
	state := domain.CodeState{RoomID: 7, Code: "x", Language: domain.LanguageJavaScript, UpdatedAt: time.Now().UTC().Truncate(time.Second)}

	persister.On("Persist", mock.Anything, mock.MatchedBy(func(s domain.CodeState) bool {
		return s.RoomID == 7 && s.Code == "x" && s.UpdatedAt.Equal(state.UpdatedAt)
	})).Return(nil).Once()

	assert.NoError(t, handler.ProcessTask(context.Background(), newTask(t, state)))
	persister.AssertExpectations(t)
}

func TestRoomCodePersistHandler_BadPayloadSkipsRetry(t *testing.T) {
	handler := worker.NewRoomCodePersistHandler(new(mockPersister))

	err := handler.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeRoomCodePersist, []byte("nope")))

	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRoomCodePersistHandler_MissingRoomSkipsRetry(t *testing.T) {
	persister := new(mockPersister)
	handler := worker.NewRoomCodePersistHandler(persister)
	persister.On("Persist", mock.Anything, mock.Anything).Return(service.ErrRoomNotFound).Once()

	err := handler.ProcessTask(context.Background(), newTask(t, domain.CodeState{RoomID: 9}))

	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRoomCodePersistHandler_StoreError(t *testing.T) {
	persister := new(mockPersister)
	handler := worker.NewRoomCodePersistHandler(persister)
	persister.On("Persist", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	err := handler.ProcessTask(context.Background(), newTask(t, domain.CodeState{RoomID: 9}))

	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}
