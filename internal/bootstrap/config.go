package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/mixxson/kidcode2/internal/infra/setup"
	"github.com/mixxson/kidcode2/internal/service"
)

// 持久化模式
const (
	PersistDirect = "direct" // 防抖到期后直接写数据库
	PersistQueue  = "queue"  // 防抖到期后投递 asynq 任务，由 worker 写数据库
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	AppEnv   string
	LogLevel string

	ServerPort string

	DB setup.DBConfig

	RedisAddr     string // 为空时关闭限流，且不能使用 queue 模式
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	JWTSecret      string
	JWTExpiryHours int
	AdminKey       string

	RateLimitMax    int
	RateLimitWindow time.Duration

	SaveDebounce      time.Duration
	PersistMode       string
	WorkerConcurrency int

	CORSAllowedOrigin string
}

// LoadConfig 从 .env 文件（如果存在）和环境变量加载配置
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // 忽略错误，允许只使用环境变量

	cfg := &Config{
		AppEnv:     envString("APP_ENV", "development"),
		LogLevel:   envString("LOG_LEVEL", "info"),
		ServerPort: envString("SERVER_PORT", "8080"),
		DB: setup.DBConfig{
			Driver:   envString("DB_DRIVER", setup.DriverMySQL),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Host:     os.Getenv("DB_HOST"),
			Port:     os.Getenv("DB_PORT"),
			Name:     os.Getenv("DB_NAME"),
		},
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:         envString("REDIS_KEY_PREFIX", "kc:"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AdminKey:          os.Getenv("ADMIN_KEY"),
		PersistMode:       strings.ToLower(envString("PERSIST_MODE", PersistDirect)),
		CORSAllowedOrigin: envString("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.JWTExpiryHours, err = envInt("JWT_EXPIRY_HOURS", 24*7); err != nil {
		return nil, err
	}
	if cfg.RateLimitMax, err = envInt("RATE_LIMIT_MAX", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = envMillis("RATE_LIMIT_WINDOW_MS", time.Second); err != nil {
		return nil, err
	}
	if cfg.SaveDebounce, err = envMillis("SAVE_DEBOUNCE_MS", service.DefaultSaveDelay); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = envInt("WORKER_CONCURRENCY", 4); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置的一致性并修正可以修正的值
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	switch c.DB.Driver {
	case setup.DriverMySQL, setup.DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	switch c.PersistMode {
	case PersistDirect:
	case PersistQueue:
		if c.RedisAddr == "" {
			return fmt.Errorf("PERSIST_MODE=queue requires REDIS_ADDR")
		}
		if c.DB.Driver == DriverMemory {
			return fmt.Errorf("PERSIST_MODE=queue cannot be used with DB_DRIVER=memory")
		}
	default:
		return fmt.Errorf("unsupported PERSIST_MODE %q", c.PersistMode)
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW_MS must be positive")
	}
	if c.SaveDebounce <= 0 {
		return fmt.Errorf("SAVE_DEBOUNCE_MS must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", c.LogLevel)
		c.LogLevel = "info"
	}
	return nil
}

// DriverMemory 使用进程内存储，仅用于本地开发和测试，重启后数据丢失
const DriverMemory = "memory"

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s: %w", key, err)
	}
	return n, nil
}

func envMillis(key string, def time.Duration) (time.Duration, error) {
	n, err := envInt(key, -1)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return def, nil
	}
	return time.Duration(n) * time.Millisecond, nil
}
