package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixxson/kidcode2/internal/infra/setup"
	"github.com/mixxson/kidcode2/internal/service"
)

// clearEnv 把所有配置项置空，避免受运行环境影响
func clearEnv(t *testing.T) {
	for _, key := range []string{
		"APP_ENV", "LOG_LEVEL", "SERVER_PORT",
		"DB_DRIVER", "DB_USER", "DB_PASSWORD", "DB_HOST", "DB_PORT", "DB_NAME",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_KEY_PREFIX",
		"JWT_SECRET", "JWT_EXPIRY_HOURS", "ADMIN_KEY",
		"RATE_LIMIT_MAX", "RATE_LIMIT_WINDOW_MS", "SAVE_DEBOUNCE_MS",
		"PERSIST_MODE", "WORKER_CONCURRENCY", "CORS_ALLOWED_ORIGIN",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, setup.DriverMySQL, cfg.DB.Driver)
	assert.Equal(t, "kc:", cfg.KeyPrefix)
	assert.Equal(t, 168, cfg.JWTExpiryHours)
	assert.Equal(t, 100, cfg.RateLimitMax)
	assert.Equal(t, time.Second, cfg.RateLimitWindow)
	assert.Equal(t, service.DefaultSaveDelay, cfg.SaveDebounce)
	assert.Equal(t, PersistDirect, cfg.PersistMode)
	assert.Equal(t, "http://localhost:3000", cfg.CORSAllowedOrigin)
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_NAME", "kidcode.db")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("PERSIST_MODE", "QUEUE")
	t.Setenv("SAVE_DEBOUNCE_MS", "250")
	t.Setenv("LOG_LEVEL", "chatty")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, setup.DriverSQLite, cfg.DB.Driver)
	assert.Equal(t, PersistQueue, cfg.PersistMode)
	assert.Equal(t, 250*time.Millisecond, cfg.SaveDebounce)
	assert.Equal(t, "info", cfg.LogLevel, "无效的日志级别回退到 info")
}

func TestLoadConfig_Errors(t *testing.T) {
	for _, tc := range []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing jwt secret", map[string]string{}, "JWT_SECRET"},
		{"unknown driver", map[string]string{"JWT_SECRET": "x", "DB_DRIVER": "oracle"}, "DB_DRIVER"},
		{"queue without redis", map[string]string{"JWT_SECRET": "x", "PERSIST_MODE": "queue"}, "REDIS_ADDR"},
		{"queue with memory store", map[string]string{"JWT_SECRET": "x", "PERSIST_MODE": "queue", "REDIS_ADDR": "localhost:6379", "DB_DRIVER": "memory"}, "memory"},
		{"bad number", map[string]string{"JWT_SECRET": "x", "RATE_LIMIT_MAX": "many"}, "RATE_LIMIT_MAX"},
		{"zero debounce", map[string]string{"JWT_SECRET": "x", "SAVE_DEBOUNCE_MS": "0"}, "SAVE_DEBOUNCE_MS"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
