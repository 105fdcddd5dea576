package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/repository"
)

// CredentialQueryParam 是握手时显式携带 token 的查询参数名
const CredentialQueryParam = "token"

// ConnectionAuthenticator 校验连接时提供的 JWT，并从用户目录解析出身份。
// 同一个实例同时服务 websocket 握手和 REST 中间件。
type ConnectionAuthenticator struct {
	users     repository.UserRepository
	jwtSecret []byte
}

// NewConnectionAuthenticator 创建 ConnectionAuthenticator 实例
func NewConnectionAuthenticator(users repository.UserRepository, jwtSecretKey string) (*ConnectionAuthenticator, error) {
	if users == nil {
		panic("UserRepository cannot be nil for ConnectionAuthenticator")
	}
	if jwtSecretKey == "" {
		return nil, fmt.Errorf("JWT secret key cannot be empty")
	}
	return &ConnectionAuthenticator{users: users, jwtSecret: []byte(jwtSecretKey)}, nil
}

// ExtractCredential 从握手请求中取出 bearer token：
// 先查 token 查询参数，再查 Authorization 头。
func ExtractCredential(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get(CredentialQueryParam)); t != "" {
		return t
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Verify 校验 credential 的签名和过期时间，并解析用户身份。
// 拒绝时返回 *AuthError，errors.Is(err, ErrAuthRejected) 成立；
// 用户目录本身出错时返回普通错误。
func (a *ConnectionAuthenticator) Verify(ctx context.Context, credential string) (*domain.Identity, error) {
	if credential == "" {
		return nil, rejected(ReasonNoCredential, nil)
	}

	userID, err := a.parseToken(credential)
	if err != nil {
		return nil, rejected(ReasonMalformedCredential, err)
	}

	user, err := a.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, rejected(ReasonUnknownSubject, err)
		}
		logrus.WithError(err).WithField("user_id", userID).Error("Authenticator: user directory lookup failed")
		return nil, fmt.Errorf("resolve subject %d: %w", userID, err)
	}
	identity := user.Identity()
	return &identity, nil
}

// parseToken 解析 token 并返回 user_id 声明
func (a *ConnectionAuthenticator) parseToken(tokenString string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return 0, err
	}
	if !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}
	if _, ok := claims["exp"]; !ok {
		return 0, fmt.Errorf("token has no expiry")
	}
	// JSON 数字被解析为 float64
	raw, ok := claims["user_id"].(float64)
	if !ok || raw <= 0 || raw != float64(uint(raw)) {
		return 0, fmt.Errorf("invalid user_id claim")
	}
	return uint(raw), nil
}
