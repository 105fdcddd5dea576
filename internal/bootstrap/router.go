package bootstrap

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	httpHandler "github.com/mixxson/kidcode2/internal/handler/http"
	wsHandler "github.com/mixxson/kidcode2/internal/handler/websocket"
	"github.com/mixxson/kidcode2/internal/hub"
	"github.com/mixxson/kidcode2/internal/middleware"
	"github.com/mixxson/kidcode2/internal/repository"
	"github.com/mixxson/kidcode2/internal/service"
)

// Core 汇总了不依赖外部基础设施的业务组件
type Core struct {
	AuthService   *service.AuthService
	RoomService   *service.RoomService
	Authenticator *service.ConnectionAuthenticator
	Debouncer     *service.SaveDebouncer
	Hub           *hub.Hub
}

// NewCore 基于给定的存储组装服务、防抖器和 Hub。
// flusher 为 nil 时，防抖到期后直接写 rooms。
func NewCore(cfg *Config, users repository.UserRepository, rooms repository.RoomRepository, flusher service.Flusher) (*Core, error) {
	authService, err := service.NewAuthService(users, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	authService.WithAdminKey(cfg.AdminKey)

	authenticator, err := service.NewConnectionAuthenticator(users, cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create ConnectionAuthenticator: %w", err)
	}

	roomService := service.NewRoomService(rooms)
	if flusher == nil {
		flusher = service.NewCodePersister(rooms)
	}
	debouncer := service.NewSaveDebouncer(flusher, cfg.SaveDebounce)

	return &Core{
		AuthService:   authService,
		RoomService:   roomService,
		Authenticator: authenticator,
		Debouncer:     debouncer,
		Hub:           hub.NewHub(rooms, debouncer, service.NewRoomAccessPolicy(roomService)),
	}, nil
}

// NewRouter 创建 Gin Engine 并注册所有路由。limiter 为 nil 时不启用限流。
func NewRouter(cfg *Config, log *logrus.Logger, core *Core, limiter repository.RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))
	if limiter != nil {
		router.Use(middleware.RateLimit(limiter, cfg.RateLimitMax, cfg.RateLimitWindow))
	} else {
		log.Warn("Rate limiting disabled: no Redis configured")
	}

	authHandler := httpHandler.NewAuthHandler(core.AuthService)
	roomHandler := httpHandler.NewRoomHandler(core.RoomService, core.Hub, core.Debouncer)
	ws := wsHandler.NewWebSocketHandler(core.Hub, core.Authenticator, cfg.CORSAllowedOrigin)
	requireAuth := middleware.Auth(core.Authenticator)

	api := router.Group("/api")
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
		authRoutes.GET("/me", requireAuth, authHandler.Me)
	}
	userRoutes := api.Group("/users").Use(requireAuth)
	{
		userRoutes.GET("/students", authHandler.ListStudents)
		userRoutes.PUT("/:id/role", authHandler.SetRole)
	}
	roomRoutes := api.Group("/rooms").Use(requireAuth)
	{
		roomRoutes.GET("", roomHandler.ListRooms)
		roomRoutes.POST("", roomHandler.CreateRoom)
		roomRoutes.GET("/:id", roomHandler.GetRoom)
		roomRoutes.DELETE("/:id", roomHandler.DeleteRoom)
		roomRoutes.GET("/:id/members", roomHandler.Members)
	}
	// websocket 在升级之后自行认证，这样拒绝原因可以通过 connect-error 告知客户端
	router.GET("/ws", ws.HandleConnection)
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })

	return router
}

// CORSMiddleware 设置跨域响应头
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		// 不记录查询串，websocket 的 token 在里面
		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
		})

		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			entry.Error(errorMessage)
			return
		}
		switch {
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
