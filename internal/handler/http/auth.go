package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/service"
)

// AuthHandler 封装了与用户认证和用户管理相关的 HTTP 处理逻辑
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler 创建 AuthHandler 实例
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// RegisterRequest 定义注册请求的结构体
type RegisterRequest struct {
	Username    string      `json:"username" binding:"required,min=3,max=50"`
	Password    string      `json:"password" binding:"required,min=6"`
	Email       string      `json:"email" binding:"required,email"`
	DisplayName string      `json:"displayName" binding:"omitempty,max=100"`
	Role        domain.Role `json:"role" binding:"omitempty,oneof=admin teacher student"`
	AdminKey    string      `json:"adminKey"`
}

// Register 处理用户注册请求
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.Register: Invalid input format")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "details": err.Error()})
		return
	}

	newUser, err := h.authService.Register(c.Request.Context(), service.RegisterInput{
		Username:    req.Username,
		Password:    req.Password,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		AdminKey:    req.AdminKey,
	})
	if err != nil {
		logrus.WithError(err).WithField("username", req.Username).Warn("Handler.Register: Registration failed")
		HandleServiceError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{"user_id": newUser.ID, "role": newUser.Role}).Info("Handler.Register: User registered successfully")
	SuccessResponse(c, http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user":    newUserResponse(newUser),
	})
}

// LoginRequest 定义登录请求的结构体
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 定义登录成功的响应结构体
type LoginResponse struct {
	Message string       `json:"message"`
	Token   string       `json:"token"`
	User    UserResponse `json:"user"`
}

// Login 处理用户登录请求，返回的 token 同时用于 websocket 握手
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.Login: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: username and password required")
		return
	}

	token, user, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		logrus.WithError(err).WithField("username", req.Username).Warn("Handler.Login: Login failed")
		HandleServiceError(c, err)
		return
	}

	logrus.WithField("user_id", user.ID).Info("Handler.Login: User logged in successfully")
	SuccessResponse(c, http.StatusOK, LoginResponse{
		Message: "Login successful",
		Token:   token,
		User:    newUserResponse(user),
	})
}

// Me 返回当前登录用户
func (h *AuthHandler) Me(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	user, err := h.authService.Me(c.Request.Context(), identity.ID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, newUserResponse(user))
}

// SetRoleRequest 定义修改角色请求的结构体
type SetRoleRequest struct {
	Role domain.Role `json:"role" binding:"required,oneof=admin teacher student"`
}

// SetRole 处理 PUT /api/users/:id/role，只有管理员可以调用
func (h *AuthHandler) SetRole(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	userID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req SetRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: role must be admin, teacher or student")
		return
	}

	user, err := h.authService.SetRole(c.Request.Context(), identity, userID, req.Role)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, newUserResponse(user))
}

// ListStudents 处理 GET /api/users/students
func (h *AuthHandler) ListStudents(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	users, err := h.authService.ListStudents(c.Request.Context(), identity)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	resp := make([]UserResponse, 0, len(users))
	for i := range users {
		resp = append(resp, newUserResponse(&users[i]))
	}
	SuccessResponse(c, http.StatusOK, resp)
}
