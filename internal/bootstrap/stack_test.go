package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/infra/persistence/memory"
	"github.com/mixxson/kidcode2/internal/infra/setup"
	"github.com/mixxson/kidcode2/internal/repository"
	"github.com/mixxson/kidcode2/internal/service"
)

// testStack 是运行在 httptest 上的完整服务端：gin 路由、Hub、防抖器和内存存储
type testStack struct {
	cfg   *Config
	core  *Core
	users *memory.UserRepository
	rooms *memory.RoomRepository
	srv   *httptest.Server
}

func testConfig() *Config {
	return &Config{
		AppEnv:            "test",
		LogLevel:          "error",
		DB:                setup.DBConfig{Driver: DriverMemory},
		JWTSecret:         "test-secret",
		JWTExpiryHours:    1,
		AdminKey:          "letmein",
		RateLimitMax:      1000,
		RateLimitWindow:   time.Second,
		SaveDebounce:      50 * time.Millisecond,
		PersistMode:       PersistDirect,
		CORSAllowedOrigin: "*",
	}
}

func newTestStack(t *testing.T, limiter repository.RateLimiter, tweak func(*Config)) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	if tweak != nil {
		tweak(cfg)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)

	s := &testStack{cfg: cfg, users: memory.NewUserRepository(), rooms: memory.NewRoomRepository()}
	core, err := NewCore(cfg, s.users, s.rooms, nil)
	require.NoError(t, err)
	s.core = core
	go core.Hub.Run()
	s.srv = httptest.NewServer(NewRouter(cfg, log, core, limiter))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = core.Hub.Stop(ctx)
		_ = core.Debouncer.FlushAll(ctx)
		s.srv.Close()
	})
	return s
}

// register 通过服务注册用户并登录，返回 token 和用户
func (s *testStack) register(t *testing.T, username string, role domain.Role) (string, *domain.User) {
	t.Helper()
	ctx := context.Background()
	_, err := s.core.AuthService.Register(ctx, service.RegisterInput{
		Username:    username,
		Password:    "password123",
		Email:       username + "@kidcode.test",
		DisplayName: username,
		Role:        role,
		AdminKey:    s.cfg.AdminKey,
	})
	require.NoError(t, err)
	token, user, err := s.core.AuthService.Login(ctx, username, "password123")
	require.NoError(t, err)
	return token, user
}

// do 发送 JSON 请求并返回状态码和响应体
func (s *testStack) do(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

// createRoom 以老师身份通过 REST 创建房间
func (s *testStack) createRoom(t *testing.T, teacherToken string, studentID uint, language domain.Language) domain.Room {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/rooms", teacherToken, map[string]interface{}{
		"name":      "Lekcja",
		"studentId": studentID,
		"language":  language,
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var room domain.Room
	require.NoError(t, json.Unmarshal(body, &room))
	return room
}
