package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/service"
)

// 写入 gin.Context 的键
const (
	ContextUserID   = "user_id"
	ContextIdentity = "identity"
)

// Verifier 校验 bearer token 并返回身份
type Verifier interface {
	Verify(ctx context.Context, credential string) (*domain.Identity, error)
}

// Auth 返回一个 Gin 中间件，用与 websocket 握手相同的认证器校验请求。
func Auth(verifier Verifier) gin.HandlerFunc {
	if verifier == nil {
		panic("Verifier cannot be nil for Auth middleware")
	}

	return func(c *gin.Context) {
		identity, err := verifier.Verify(c.Request.Context(), service.ExtractCredential(c.Request))
		if err != nil {
			var authErr *service.AuthError
			if errors.As(err, &authErr) {
				logrus.WithField("reason", authErr.Reason).Warn("Auth middleware: Request rejected")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token", "reason": authErr.Reason})
				return
			}
			logrus.WithError(err).Error("Auth middleware: Failed to verify token")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		c.Set(ContextUserID, identity.ID)
		c.Set(ContextIdentity, *identity)
		logrus.WithField("user_id", identity.ID).Debug("Auth middleware: User authenticated via JWT")
		c.Next()
	}
}

// CurrentIdentity 返回 Auth 中间件写入的身份
func CurrentIdentity(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := v.(domain.Identity)
	return identity, ok
}
