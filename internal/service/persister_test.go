package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/infra/persistence/memory"
	"github.com/mixxson/kidcode2/internal/repository"
	"github.com/mixxson/kidcode2/internal/repository/mocks"
	"github.com/mixxson/kidcode2/internal/service"
)

func TestCodePersister_Persist(t *testing.T) {
	roomRepo := new(mocks.RoomRepository)
	persister := service.NewCodePersister(roomRepo)
	ctx := context.Background()
	at := time.Now().UTC()

	roomRepo.On("FindByID", ctx, uint(7)).Return(&domain.Room{ID: 7, Language: domain.LanguageJavaScript}, nil).Once()
	roomRepo.On("UpdateCode", ctx, uint(7), "print(1)", domain.LanguagePython, at).Return(nil).Once()

	err := persister.Persist(ctx, domain.CodeState{RoomID: 7, Code: "print(1)", Language: domain.LanguagePython, UpdatedAt: at})

	require.NoError(t, err)
	roomRepo.AssertExpectations(t)
}

func TestCodePersister_InvalidLanguageKeepsStored(t *testing.T) {
	roomRepo := new(mocks.RoomRepository)
	persister := service.NewCodePersister(roomRepo)
	ctx := context.Background()

	roomRepo.On("FindByID", ctx, uint(7)).Return(&domain.Room{ID: 7, Language: domain.LanguagePython}, nil).Once()
	roomRepo.On("UpdateCode", ctx, uint(7), "x", domain.LanguagePython, mock.AnythingOfType("time.Time")).Return(nil).Once()

	require.NoError(t, persister.Persist(ctx, domain.CodeState{RoomID: 7, Code: "x", Language: "brainfuck", UpdatedAt: time.Now()}))
	roomRepo.AssertExpectations(t)
}

func TestCodePersister_MissingRoom(t *testing.T) {
	roomRepo := new(mocks.RoomRepository)
	persister := service.NewCodePersister(roomRepo)
	ctx := context.Background()
	roomRepo.On("FindByID", ctx, uint(9)).Return(nil, repository.ErrRoomNotFound).Once()

	err := persister.Persist(ctx, domain.CodeState{RoomID: 9, Code: "x", Language: domain.LanguageJavaScript})

	assert.True(t, errors.Is(err, service.ErrRoomNotFound))
	roomRepo.AssertNotCalled(t, "UpdateCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCodePersister_StaleWriteIsIgnored(t *testing.T) {
	store := memory.NewRoomRepository()
	persister := service.NewCodePersister(store)
	ctx := context.Background()

	room := &domain.Room{Name: "r", TeacherID: 1, StudentID: 2, Language: domain.LanguageJavaScript}
	require.NoError(t, store.Save(ctx, room))

	newer := time.Now().UTC()
	require.NoError(t, persister.Persist(ctx, domain.CodeState{RoomID: room.ID, Code: "new", Language: domain.LanguageJavaScript, UpdatedAt: newer}))
	require.NoError(t, persister.Persist(ctx, domain.CodeState{RoomID: room.ID, Code: "old", Language: domain.LanguageJavaScript, UpdatedAt: newer.Add(-time.Second)}))

	stored, err := store.FindByID(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.Code, "晚到的旧状态不能覆盖新代码")
}
