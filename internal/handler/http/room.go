package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/dto"
	"github.com/mixxson/kidcode2/internal/service"
)

// LiveRooms 提供房间的实时成员信息，由 hub.Hub 实现
type LiveRooms interface {
	RoomMembers(roomID uint) []domain.Identity
}

// PendingDiscarder 在房间删除后丢弃尚未落库的代码，由 service.SaveDebouncer 实现
type PendingDiscarder interface {
	Discard(roomID uint)
}

// RoomHandler 封装了与房间管理相关的 HTTP 处理逻辑
type RoomHandler struct {
	roomService *service.RoomService
	live        LiveRooms
	pending     PendingDiscarder
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService, live LiveRooms, pending PendingDiscarder) *RoomHandler {
	return &RoomHandler{roomService: roomService, live: live, pending: pending}
}

// CreateRoomRequest 定义创建房间请求的结构体
type CreateRoomRequest struct {
	Name      string          `json:"name" binding:"required,max=191"`
	StudentID uint            `json:"studentId" binding:"required"`
	LessonID  *uint           `json:"lessonId"`
	Language  domain.Language `json:"language" binding:"omitempty,oneof=javascript python"`
	Code      string          `json:"code"`
}

// CreateRoom 处理创建新房间的请求
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", identity.ID)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: Invalid input format")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "details": err.Error()})
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), identity, service.CreateRoomInput{
		Name:      req.Name,
		StudentID: req.StudentID,
		LessonID:  req.LessonID,
		Language:  req.Language,
		Code:      req.Code,
	})
	if err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: Failed to create room via service")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithField("room_id", room.ID).Info("Handler.CreateRoom: Room created successfully")
	SuccessResponse(c, http.StatusCreated, room)
}

// ListRooms 返回调用者可见的房间
func (h *RoomHandler) ListRooms(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	rooms, err := h.roomService.ListRooms(c.Request.Context(), identity)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	if rooms == nil {
		rooms = []domain.Room{}
	}
	SuccessResponse(c, http.StatusOK, rooms)
}

// GetRoom 返回单个房间
func (h *RoomHandler) GetRoom(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	room, err := h.roomService.GetRoom(c.Request.Context(), identity, roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, room)
}

// DeleteRoom 删除房间，并丢弃该房间尚未落库的代码
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.roomService.DeleteRoom(c.Request.Context(), identity, roomID); err != nil {
		HandleServiceError(c, err)
		return
	}
	if h.pending != nil {
		h.pending.Discard(roomID)
	}
	logrus.WithFields(logrus.Fields{"user_id": identity.ID, "room_id": roomID}).Info("Handler.DeleteRoom: Room deleted")
	c.Status(http.StatusNoContent)
}

// Members 返回房间当前在线的成员
func (h *RoomHandler) Members(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	// 先确认调用者可以看到这个房间
	if _, err := h.roomService.GetRoom(c.Request.Context(), identity, roomID); err != nil {
		HandleServiceError(c, err)
		return
	}
	members := []dto.Member{}
	if h.live != nil {
		for _, m := range h.live.RoomMembers(roomID) {
			members = append(members, dto.MemberFrom(m))
		}
	}
	SuccessResponse(c, http.StatusOK, gin.H{"roomId": roomID, "members": members})
}
