package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailninja/backend/internal/middleware"
	"mailninja/backend/internal/provider"
	"mailninja/backend/internal/service"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	mailboxes *service.MailboxService
	settings  *service.SettingsService
	inbox     *service.InboxService
	providers *provider.Registry
	log       *zap.Logger
}

// userID 读取认证中间件写入的用户 ID，缺失时直接响应 401
func (h *Handler) userID(c *gin.Context) (int64, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return 0, false
	}
	return id, true
}
