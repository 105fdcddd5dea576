package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	gormpersistence "github.com/mixxson/kidcode2/internal/infra/persistence/gorm"
	"github.com/mixxson/kidcode2/internal/infra/persistence/memory"
	"github.com/mixxson/kidcode2/internal/infra/setup"
	redisstate "github.com/mixxson/kidcode2/internal/infra/state/redis"
	"github.com/mixxson/kidcode2/internal/repository"
	"github.com/mixxson/kidcode2/internal/service"
	"github.com/mixxson/kidcode2/internal/tasks"
	"github.com/mixxson/kidcode2/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Core        *Core
	HttpServer  *http.Server
}

// NewLogger 按配置创建 logrus Logger，并同步到全局 logger
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // cfg.LogLevel 已被 Validate 校验
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)

	// 各组件使用 logrus 包级函数，保持与 App logger 一致
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(logLevel)
	logrus.SetOutput(os.Stdout)
	return log
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	log := NewLogger(cfg)
	log.Infof("Logger initialized (Level: %s, Format: %T)", log.Level.String(), log.Formatter)
	log.WithFields(logrus.Fields{
		"db_driver":    cfg.DB.Driver,
		"persist_mode": cfg.PersistMode,
		"save_delay":   cfg.SaveDebounce.String(),
	}).Info("Configuration loaded successfully")

	app := &App{Config: cfg, Log: log}
	if err := app.initInfrastructure(); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	var users repository.UserRepository
	var rooms repository.RoomRepository
	if app.DB != nil {
		users = gormpersistence.NewGormUserRepository(app.DB)
		rooms = gormpersistence.NewGormRoomRepository(app.DB)
	} else {
		log.Warn("Using in-memory store, data is lost on restart")
		users = memory.NewUserRepository()
		rooms = memory.NewRoomRepository()
	}

	var flusher service.Flusher
	if cfg.PersistMode == PersistQueue {
		redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		app.AsynqClient = asynq.NewClient(redisOpt)
		app.AsynqServer = worker.NewWorkerServer(redisOpt, service.NewCodePersister(rooms), cfg.WorkerConcurrency, log)
		flusher = tasks.NewQueueFlusher(app.AsynqClient)
		log.Info("Asynq client and worker server initialized")
	}

	core, err := NewCore(cfg, users, rooms, flusher)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	app.Core = core

	var limiter repository.RateLimiter
	if app.RedisClient != nil {
		limiter = redisstate.NewRedisRateLimiter(app.RedisClient, cfg.KeyPrefix)
	}

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	app.HttpServer = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           NewRouter(cfg, log, core, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

func (a *App) initInfrastructure() error {
	if a.Config.DB.Driver != DriverMemory {
		db, err := setup.InitDB(a.Config.DB)
		if err != nil {
			return fmt.Errorf("failed to init DB: %w", err)
		}
		a.DB = db
		if err := setup.MigrateDB(db); err != nil {
			return fmt.Errorf("failed to migrate DB: %w", err)
		}
		a.Log.Info("Database initialized and migrated")
	}

	if a.Config.RedisAddr != "" {
		client, err := setup.InitRedis(context.Background(), setup.RedisConfig{
			Addr:     a.Config.RedisAddr,
			Password: a.Config.RedisPassword,
			DB:       a.Config.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("failed to init Redis: %w", err)
		}
		a.RedisClient = client
		a.Log.Info("Redis client initialized")
	}
	return nil
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Core.Hub.Run()
	a.Log.Info("Hub routine started")

	if a.AsynqServer != nil {
		go a.AsynqServer.Start()
		a.Log.Info("Asynq worker server routine started")
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// Shutdown 优雅地关闭应用：停止接受请求，通知连接，落库待保存的代码，再释放基础设施
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// 1. 停止接受新的 HTTP 请求和 websocket 握手
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 停止 Hub：向所有连接发送 disconnect 并关闭
	if err := a.Core.Hub.Stop(ctx); err != nil {
		a.Log.Errorf("Error stopping hub: %v", err)
	}

	// 3. 立即执行所有待保存的代码
	if err := a.Core.Debouncer.FlushAll(ctx); err != nil {
		a.Log.Errorf("Error flushing pending room code: %v", err)
	} else {
		a.Log.Info("Pending room code flushed.")
	}

	// 4. 关闭 worker；queue 模式下刚投递的任务留在 Redis 中，下次启动时处理
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	a.closeInfrastructure()
	a.Log.Info("Application shutdown complete.")
}

func (a *App) closeInfrastructure() {
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		} else {
			a.Log.Info("Asynq client closed.")
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			} else {
				a.Log.Info("Database connection closed.")
			}
		}
	}
}
