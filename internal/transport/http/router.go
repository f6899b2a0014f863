package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	jwtpkg "mailninja/backend/internal/auth/jwt"
	"mailninja/backend/internal/config"
	"mailninja/backend/internal/health"
	"mailninja/backend/internal/middleware"
	"mailninja/backend/internal/monitoring"
	"mailninja/backend/internal/provider"
	"mailninja/backend/internal/service"
	"mailninja/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	MailboxService  *service.MailboxService
	SettingsService *service.SettingsService
	InboxService    *service.InboxService
	Providers       *provider.Registry
	JWTManager      *jwtpkg.Manager
	WebSocketHub    *websocket.Hub
	Health          *health.HealthChecker // 可选
	Metrics         *monitoring.Metrics   // 可选
	Logger          *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	router.Use(middleware.RecoveryHandler(log))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	if deps.Metrics != nil {
		router.Use(middleware.HTTPMetrics(deps.Metrics))
	}
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
	}
	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		mailboxes: deps.MailboxService,
		settings:  deps.SettingsService,
		inbox:     deps.InboxService,
		providers: deps.Providers,
		log:       log.Named("api"),
	}
	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, log)

	// 健康检查
	if deps.Health != nil {
		router.GET("/health", gin.WrapH(deps.Health.Handler()))
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler()))
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// WebSocket 新邮件推送，令牌通过 query 参数传递
	if deps.WebSocketHub != nil {
		router.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub, deps.JWTManager))
	}

	v1 := router.Group("/api/v1")
	v1.Use(jwtAuth.RequireAuth())
	{
		v1.GET("/providers", handler.listProviders)

		// ========== Mailbox Routes ==========
		mailboxRoutes := v1.Group("/mailboxes")
		{
			mailboxRoutes.POST("", handler.createMailbox)
			mailboxRoutes.GET("", handler.listMailboxes)
			mailboxRoutes.GET("/active", handler.getActiveMailbox)
			mailboxRoutes.PUT("/active", handler.switchMailbox)
			mailboxRoutes.DELETE("/:id", handler.deleteMailbox)
		}

		// ========== Settings Routes ==========
		settingsRoutes := v1.Group("/settings")
		{
			settingsRoutes.GET("", handler.getSettings)
			settingsRoutes.PUT("/autocheck", handler.setAutoCheck)
			settingsRoutes.PUT("/interval", handler.setInterval)
		}

		// ========== Inbox Routes ==========
		inboxRoutes := v1.Group("/inbox")
		{
			inboxRoutes.GET("", handler.listInbox)
			inboxRoutes.GET("/:id", handler.readMessage)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		NotFound(c, MsgRouteNotFound)
	})

	return router
}
