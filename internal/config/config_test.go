package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailninja/backend/internal/domain"
)

const testSecret = "test-secret-key-for-development-32-chars-long-at-least"

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		t.Setenv("MAILNINJA_JWT_SECRET", testSecret)
		t.Setenv("TEMPM_API_KEY", "")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "", cfg.Database.Type)
		assert.Equal(t, "gorm", cfg.Database.Engine)
		assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
		assert.False(t, cfg.Redis.Enabled)
		assert.Equal(t, "mailninja", cfg.JWT.Issuer)
		assert.Equal(t, "mailtm", cfg.Provider.Default)
		assert.Equal(t, 15*time.Second, cfg.Provider.Timeout)
		assert.Equal(t, "https://api.mail.tm", cfg.Provider.MailTmBaseURL)
		assert.Empty(t, cfg.Provider.TempMailAPIKey)
		assert.Equal(t, "temp-mail.org", cfg.Provider.TempMailDomain)
		assert.Equal(t, 3, cfg.Mailbox.MaxPerUser)
		assert.Equal(t, "per_user", cfg.Poll.Mode)
		assert.Equal(t, 30*time.Second, cfg.Poll.MinInterval)
		assert.Equal(t, 60*time.Second, cfg.Poll.DefaultInterval)
		assert.Equal(t, 30*time.Second, cfg.Poll.GlobalTick)
		assert.Equal(t, 10*time.Second, cfg.Poll.FirstDelay)
		assert.Equal(t, time.Duration(0), cfg.Poll.Lease)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		t.Setenv("MAILNINJA_JWT_SECRET", testSecret)
		t.Setenv("MAILNINJA_SERVER_PORT", "9090")
		t.Setenv("MAILNINJA_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
		t.Setenv("MAILNINJA_DATABASE_TYPE", "Postgres")
		t.Setenv("MAILNINJA_DATABASE_DSN", "postgres://mailninja@localhost/mailninja?sslmode=disable")
		t.Setenv("MAILNINJA_DATABASE_ENGINE", "sql")
		t.Setenv("MAILNINJA_POLL_MODE", "global")
		t.Setenv("MAILNINJA_POLL_MIN_INTERVAL", "45s")
		t.Setenv("MAILNINJA_POLL_DEFAULT_INTERVAL", "2m")
		t.Setenv("MAILNINJA_MAILBOX_MAX_PER_USER", "5")
		t.Setenv("MAILNINJA_PROVIDER_MAILTM_BASE_URL", "http://localhost:9000/")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "postgres", cfg.Database.Type)
		assert.Equal(t, "sql", cfg.Database.Engine)
		assert.Equal(t, "global", cfg.Poll.Mode)
		assert.Equal(t, 45*time.Second, cfg.Poll.MinInterval)
		assert.Equal(t, 2*time.Minute, cfg.Poll.DefaultInterval)
		assert.Equal(t, 5, cfg.Mailbox.MaxPerUser)
		assert.Equal(t, "http://localhost:9000", cfg.Provider.MailTmBaseURL)
	})

	t.Run("兼容旧的TEMPM_API_KEY", func(t *testing.T) {
		t.Setenv("MAILNINJA_JWT_SECRET", testSecret)
		t.Setenv("TEMPM_API_KEY", "legacy-key")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "legacy-key", cfg.Provider.TempMailAPIKey)
	})

	t.Run("默认JWT密钥被拒绝", func(t *testing.T) {
		t.Setenv("MAILNINJA_JWT_SECRET", "change-me-in-production")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("JWT密钥过短被拒绝", func(t *testing.T) {
		t.Setenv("MAILNINJA_JWT_SECRET", "short")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("默认间隔低于最小间隔被拒绝", func(t *testing.T) {
		t.Setenv("MAILNINJA_JWT_SECRET", testSecret)
		t.Setenv("MAILNINJA_POLL_DEFAULT_INTERVAL", "10s")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("无效的轮询模式被拒绝", func(t *testing.T) {
		t.Setenv("MAILNINJA_JWT_SECRET", testSecret)
		t.Setenv("MAILNINJA_POLL_MODE", "sometimes")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("数据库类型缺少DSN被拒绝", func(t *testing.T) {
		t.Setenv("MAILNINJA_JWT_SECRET", testSecret)
		t.Setenv("MAILNINJA_DATABASE_TYPE", "postgres")
		t.Setenv("MAILNINJA_DATABASE_DSN", "")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConfiguration)
		assert.Contains(t, err.Error(), "database.dsn")
	})

	t.Run("内存存储不需要DSN", func(t *testing.T) {
		t.Setenv("MAILNINJA_JWT_SECRET", testSecret)
		t.Setenv("MAILNINJA_DATABASE_TYPE", "memory")
		t.Setenv("MAILNINJA_DATABASE_DSN", "")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.Database.Type)
	})

	t.Run("无效的时长被拒绝", func(t *testing.T) {
		t.Setenv("MAILNINJA_JWT_SECRET", testSecret)
		t.Setenv("MAILNINJA_PROVIDER_TIMEOUT", "soon")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList(" a, ,b ,"))
	assert.Empty(t, parseList(""))
}
