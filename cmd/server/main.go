// Mail Ninja 后端服务
//
// @title Mail Ninja API
// @version 1.0
// @description 临时邮箱机器人后端 API 文档
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description 使用格式：Bearer {token}
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "mailninja/backend/internal/auth/jwt"
	"mailninja/backend/internal/config"
	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/health"
	"mailninja/backend/internal/logger"
	"mailninja/backend/internal/monitoring"
	"mailninja/backend/internal/notify"
	"mailninja/backend/internal/provider"
	"mailninja/backend/internal/scheduler"
	"mailninja/backend/internal/security"
	"mailninja/backend/internal/service"
	"mailninja/backend/internal/storage"
	"mailninja/backend/internal/storage/gormstore"
	"mailninja/backend/internal/storage/memory"
	redisstore "mailninja/backend/internal/storage/redis"
	sqlstore "mailninja/backend/internal/storage/sql"
	httptransport "mailninja/backend/internal/transport/http"
	"mailninja/backend/internal/websocket"
)

// cleanupInterval 过期邮箱的清理周期
const cleanupInterval = time.Hour

// main 启动 HTTP API、WebSocket 推送与邮件轮询调度。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mailninja server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("poll_mode", cfg.Poll.Mode),
	)

	// 初始化存储层
	store, err := initializeStorage(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close storage", zap.Error(err))
		}
	}()

	// 初始化监控系统
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(log)
	healthChecker.AddDependency("storage", store)

	// Redis 可选，用于多实例的轮询租约和通知发布
	var redisClient *redisstore.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisstore.New(&cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer func() { _ = redisClient.Close() }()
		healthChecker.AddDependency("redis", health.PingFunc(redisClient.Ping))
	}

	// 初始化提供方
	providers := initializeProviders(cfg, metrics, log)
	log.Info("providers configured", zap.Any("providers", providers.Names()))

	sealer := security.NewSealer(cfg.Mailbox.SecretKey)
	if !sealer.Enabled() {
		log.Warn("mailbox secret key not set, provider passwords are stored in plain text")
	}

	// 初始化服务层
	mailboxService := service.NewMailboxService(store, providers, sealer, cfg, log)
	mailboxService.SetMetrics(metrics)
	settingsService := service.NewSettingsService(store, &cfg.Poll, log)
	inboxService := service.NewInboxService(mailboxService, store, log)

	jwtManager := jwtpkg.NewManager(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)

	// 创建 WebSocket Hub
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, log)
	wsHub.OnClientsChanged(metrics.SetWebSocketClients)

	// 新邮件通知：WebSocket 总是启用，Webhook 与 Redis 按配置启用
	notifiers := notify.Multi{notify.NewHub(wsHub)}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret, nil))
		log.Info("webhook notifications enabled", zap.String("url", cfg.Notify.WebhookURL))
	}
	if redisClient != nil && cfg.Notify.RedisChannel != "" {
		notifiers = append(notifiers, notify.NewRedisPublisher(redisClient, cfg.Notify.RedisChannel))
	}

	// 轮询调度
	poller := scheduler.NewPoller(mailboxService, store, notifiers, log)
	poller.SetMetrics(metrics)
	if redisClient != nil && cfg.Poll.Lease > 0 {
		poller.SetLease(redisstore.NewTickLease(redisClient, "", cfg.Poll.Lease))
		log.Info("poll lease enabled", zap.Duration("ttl", cfg.Poll.Lease))
	}
	sched := scheduler.New(poller, store, cfg.Poll, log)
	sched.SetMetrics(metrics)
	settingsService.SetPollController(sched)

	// 创建 HTTP 服务器
	httpAddr := cfg.Server.Address()
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:          cfg,
		MailboxService:  mailboxService,
		SettingsService: settingsService,
		InboxService:    inboxService,
		Providers:       providers,
		JWTManager:      jwtManager,
		WebSocketHub:    wsHub,
		Health:          healthChecker,
		Metrics:         metrics,
		Logger:          log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 轮询调度 goroutine
	group.Go(func() error {
		return sched.Run(groupCtx)
	})

	// 定时清理过期邮箱 goroutine
	if cfg.Mailbox.TTL > 0 {
		group.Go(func() error {
			ticker := time.NewTicker(cleanupInterval)
			defer ticker.Stop()

			log.Info("starting expired mailbox cleanup task", zap.Duration("interval", cleanupInterval))

			for {
				select {
				case <-groupCtx.Done():
					log.Info("cleanup task stopped")
					return nil
				case <-ticker.C:
					if _, err := mailboxService.CleanupExpired(groupCtx); err != nil {
						log.Error("failed to cleanup expired mailboxes", zap.Error(err))
					}
				}
			}
		})
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}

// initializeStorage 根据配置选择存储实现，未配置数据库时使用内存存储
func initializeStorage(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	db := cfg.Database
	if db.Type == "" || db.Type == "memory" {
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	}

	log.Info("initializing database storage",
		zap.String("database_type", db.Type),
		zap.String("engine", db.Engine),
	)

	if db.Engine == "sql" {
		store, err := sqlstore.NewStore(db.Type, db.DSN, db.MaxOpenConns, db.MaxIdleConns, db.ConnMaxLifetime)
		if err != nil {
			return nil, fmt.Errorf("failed to create sql store: %w", err)
		}
		return store, nil
	}

	pool := gormstore.PoolOptions{
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	}
	var (
		store *gormstore.Store
		err   error
	)
	switch db.Type {
	case "postgres":
		store, err = gormstore.NewPostgresStore(db.DSN, pool)
	case "mysql":
		store, err = gormstore.NewMySQLStore(db.DSN, pool)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", db.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create gorm store: %w", err)
	}
	return store, nil
}

// initializeProviders 创建提供方客户端。tempmailorg 需要 API Key，未配置时不注册。
func initializeProviders(cfg *config.Config, metrics *monitoring.Metrics, log *zap.Logger) *provider.Registry {
	opts := func(baseURL string) provider.Options {
		return provider.Options{
			BaseURL:       baseURL,
			Timeout:       cfg.Provider.Timeout,
			RatePerSecond: cfg.Provider.RatePerSecond,
			Burst:         cfg.Provider.Burst,
			Observer:      metrics,
			Logger:        log,
		}
	}

	clients := []provider.Client{provider.NewMailTm(opts(cfg.Provider.MailTmBaseURL))}
	if cfg.Provider.TempMailAPIKey != "" {
		tempmail := provider.NewTempMailOrg(
			opts(cfg.Provider.TempMailBaseURL),
			cfg.Provider.TempMailAPIKey,
			cfg.Provider.TempMailHost,
		)
		tempmail.SetDefaultDomain(cfg.Provider.TempMailDomain)
		clients = append(clients, tempmail)
	} else {
		log.Warn("tempmailorg disabled: no API key configured")
	}

	fallback := domain.ProviderName(cfg.Provider.Default)
	if fallback == "" {
		fallback = domain.ProviderMailTm
	}
	return provider.NewRegistry(fallback, clients...)
}
