package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/middleware"
)

func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, data)
}

// UserResponse 是对外暴露的用户信息，不含密码
type UserResponse struct {
	ID          uint        `json:"id"`
	Username    string      `json:"username"`
	DisplayName string      `json:"displayName"`
	Email       string      `json:"email"`
	Role        domain.Role `json:"role"`
}

func newUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.Identity().DisplayName,
		Email:       u.Email,
		Role:        u.Role,
	}
}

// currentIdentity 取出认证中间件写入的身份，缺失时直接写 401
func currentIdentity(c *gin.Context) (domain.Identity, bool) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
	}
	return identity, ok
}

// uintParam 解析路径参数为正整数 ID，失败时直接写 400
func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		ErrorResponse(c, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return uint(v), true
}
