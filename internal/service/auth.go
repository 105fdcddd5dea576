package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/repository"
)

// RegisterInput 是注册请求的参数
type RegisterInput struct {
	Username    string
	Password    string
	Email       string
	DisplayName string
	// Role 是期望的角色；admin/teacher 需要 AdminKey 或者是第一个用户
	Role     domain.Role
	AdminKey string
}

// AuthService 负责用户认证相关的业务逻辑。
type AuthService struct {
	userRepo  repository.UserRepository
	jwtSecret []byte
	jwtExpiry time.Duration
	adminKey  string // 为空时只有第一个用户可以获得提升的角色
}

// NewAuthService 创建 AuthService 实例。
// jwtExpiryHours 定义 token 过期的小时数。
func NewAuthService(userRepo repository.UserRepository, jwtSecretKey string, jwtExpiryHours int) (*AuthService, error) {
	if userRepo == nil {
		panic("UserRepository cannot be nil for AuthService")
	}
	if jwtSecretKey == "" {
		return nil, fmt.Errorf("JWT secret key cannot be empty")
	}
	if jwtExpiryHours <= 0 {
		jwtExpiryHours = 24 * 7 // 默认 7 天
	}
	return &AuthService{
		userRepo:  userRepo,
		jwtSecret: []byte(jwtSecretKey),
		jwtExpiry: time.Duration(jwtExpiryHours) * time.Hour,
	}, nil
}

// WithAdminKey 设置允许注册 admin/teacher 的共享密钥
func (s *AuthService) WithAdminKey(key string) *AuthService {
	s.adminKey = key
	return s
}

// Register 处理用户注册。第一个注册的用户自动成为管理员。
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	logCtx := logrus.WithFields(logrus.Fields{"username": in.Username, "email": in.Email})

	if in.Username == "" || in.Password == "" || in.Email == "" {
		return nil, invalidInput("username, password and email are required")
	}
	if in.Role != "" && !in.Role.Valid() {
		return nil, invalidInput("unknown role %q", in.Role)
	}

	existing, err := s.userRepo.FindByUsername(ctx, in.Username)
	if err == nil && existing != nil {
		logCtx.Warn("Registration failed: Username already exists")
		return nil, ErrRegistrationFailed
	}
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		logCtx.WithError(err).Error("Database error while checking username")
		return nil, ErrInternalServer
	}

	count, err := s.userRepo.Count(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to count users during registration")
		return nil, ErrInternalServer
	}
	role := s.resolveRole(in.Role, in.AdminKey, count == 0)

	hashedPassword, err := hashPassword(in.Password)
	if err != nil {
		logCtx.WithError(err).Error("Failed to hash password during registration")
		return nil, ErrInternalServer
	}

	user := &domain.User{
		Username:    in.Username,
		DisplayName: strings.TrimSpace(in.DisplayName),
		Password:    hashedPassword,
		Email:       in.Email,
		Role:        role,
	}
	if err := s.userRepo.Save(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.WithError(err).Warn("Registration failed: Username or email already exists (repo error)")
			return nil, ErrRegistrationFailed
		}
		logCtx.WithError(err).Error("Database error during user creation")
		return nil, ErrInternalServer
	}

	logCtx.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("User registered successfully")
	user.Password = "" // 清除密码哈希再返回
	return user, nil
}

// resolveRole 决定新用户的角色：第一个用户为 admin，提升角色需要正确的 adminKey。
func (s *AuthService) resolveRole(desired domain.Role, adminKey string, first bool) domain.Role {
	canElevate := first || (s.adminKey != "" &&
		subtle.ConstantTimeCompare([]byte(adminKey), []byte(s.adminKey)) == 1)
	switch desired {
	case domain.RoleAdmin, domain.RoleTeacher:
		if canElevate {
			return desired
		}
		return domain.RoleStudent
	}
	if first {
		return domain.RoleAdmin
	}
	return domain.RoleStudent
}

// Login 处理用户登录，成功时返回 token 和用户信息（不含密码）。
func (s *AuthService) Login(ctx context.Context, username, password string) (string, *domain.User, error) {
	logCtx := logrus.WithField("username", username)

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			logCtx.Warn("Login attempt failed: User not found")
		} else {
			logCtx.WithError(err).Warn("Login attempt failed: Error finding user")
		}
		return "", nil, ErrAuthenticationFailed // 对客户端统一返回认证失败
	}
	if user == nil {
		logCtx.Warn("Login attempt failed: User not found (repo returned nil user without error)")
		return "", nil, ErrAuthenticationFailed
	}

	if !checkPassword(password, user.Password) {
		logCtx.Warn("Login attempt failed: Invalid password")
		return "", nil, ErrAuthenticationFailed
	}

	token, err := s.GenerateToken(user.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate JWT token during login")
		return "", nil, ErrInternalServer
	}

	logCtx.WithField("user_id", user.ID).Info("User logged in successfully")
	user.Password = ""
	return token, user, nil
}

// Me 返回用户的当前信息
func (s *AuthService) Me(ctx context.Context, userID uint) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to load current user")
		return nil, ErrInternalServer
	}
	user.Password = ""
	return user, nil
}

// SetRole 修改用户角色，只有管理员可以调用
func (s *AuthService) SetRole(ctx context.Context, actor domain.Identity, userID uint, role domain.Role) (*domain.User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if !role.Valid() {
		return nil, invalidInput("unknown role %q", role)
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, ErrInternalServer
	}
	user.Role = role
	if err := s.userRepo.Save(ctx, user); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to save user role")
		return nil, ErrInternalServer
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "role": role, "actor_id": actor.ID}).Info("User role changed")
	user.Password = ""
	return user, nil
}

// ListStudents 返回所有学生，供老师创建房间时选择
func (s *AuthService) ListStudents(ctx context.Context, actor domain.Identity) ([]domain.User, error) {
	if !actor.IsAdmin() && actor.Role != domain.RoleTeacher {
		return nil, ErrForbidden
	}
	users, err := s.userRepo.ListByRole(ctx, domain.RoleStudent)
	if err != nil {
		logrus.WithError(err).Error("Failed to list students")
		return nil, ErrInternalServer
	}
	for i := range users {
		users[i].Password = ""
	}
	return users, nil
}

// GenerateToken 为指定用户 ID 生成 JWT Token
func (s *AuthService) GenerateToken(userID uint) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     now.Add(s.jwtExpiry).Unix(),
		"iat":     now.Unix(),
	})
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// hashPassword 使用 bcrypt 对密码进行哈希处理
func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to generate hash from password: %w", err)
	}
	return string(bytes), nil
}

// checkPassword 验证提供的密码是否与存储的哈希匹配
func checkPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
