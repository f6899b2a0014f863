package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/storage"
)

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "请求参数格式错误"
	MsgInvalidUserID  = "无效的用户标识"
	MsgRouteNotFound  = "接口不存在"

	// 认证相关
	MsgAuthRequired = "需要登录认证"

	// 邮箱相关
	MsgMailboxNotFound  = "邮箱不存在"
	MsgNoActiveMailbox  = "当前没有活跃邮箱，请先创建邮箱"
	MsgUnknownProvider  = "不支持的邮箱服务提供方"
	MsgConfiguration    = "邮箱服务配置错误"
	MsgMailboxCreated   = "邮箱创建成功"
	MsgMailboxSwitched  = "已切换活跃邮箱"
	MsgMailboxDeleted   = "邮箱已删除"
	MsgProviderAuth     = "邮箱服务认证失败，请重新创建邮箱"
	MsgProviderDown     = "邮箱服务暂时不可用，请稍后重试"
	MsgProviderRejected = "邮箱服务返回错误"

	// 邮件相关
	MsgMessageNotFound = "邮件不存在"

	// 设置相关
	MsgIntervalTooShort = "检查间隔过短"
	MsgAutoCheckOn      = "已开启自动检查"
	MsgAutoCheckOff     = "已关闭自动检查"
	MsgIntervalUpdated  = "检查间隔已更新"

	MsgInternalError = "服务器内部错误，请稍后重试"
)

// errorStatus 把业务错误映射为 HTTP 状态码和中文消息。
//
// 顺序有意义：提供方的 404 同时是 ProviderError 和 ErrNotFound，按不存在处理。
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidUserID):
		return http.StatusBadRequest, MsgInvalidUserID
	case errors.Is(err, domain.ErrIntervalTooShort):
		return http.StatusBadRequest, MsgIntervalTooShort
	case errors.Is(err, domain.ErrUnknownProvider):
		return http.StatusBadRequest, MsgUnknownProvider
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusBadRequest, MsgConfiguration
	case errors.Is(err, domain.ErrNoActiveMailbox):
		return http.StatusNotFound, MsgNoActiveMailbox
	case errors.Is(err, storage.ErrMailboxNotFound):
		return http.StatusNotFound, MsgMailboxNotFound
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, MsgMessageNotFound
	case errors.Is(err, domain.ErrAuth):
		return http.StatusBadGateway, MsgProviderAuth
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable, MsgProviderDown
	case domain.IsPermanent(err):
		return http.StatusBadGateway, MsgProviderRejected
	default:
		return http.StatusInternalServerError, MsgInternalError
	}
}

// respondError 输出错误响应，服务端错误记录日志
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	Error(c, status, msg)
}
