package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailninja/backend/internal/auth/jwt"
)

// ContextKeyUserID 上下文中保存聊天用户 ID 的键
const ContextKeyUserID = "userID"

// TokenValidator 访问令牌校验，*jwt.Manager 实现了该接口
type TokenValidator interface {
	ValidateAccessToken(token string) (*jwt.Claims, error)
}

// JWTAuth JWT认证中间件
type JWTAuth struct {
	validator TokenValidator
	log       *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(validator TokenValidator, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{validator: validator, log: log.Named("auth")}
}

// RequireAuth 要求JWT认证
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" {
			abortUnauthorized(c, "需要登录认证")
			return
		}

		claims, err := ja.validator.ValidateAccessToken(token)
		if err != nil {
			ja.log.Warn("invalid token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			if errors.Is(err, jwt.ErrExpiredToken) {
				abortUnauthorized(c, "访问令牌已过期")
			} else {
				abortUnauthorized(c, "无效的访问令牌")
			}
			return
		}

		// 将用户信息存储到上下文
		c.Set(ContextKeyUserID, claims.UserID)
		c.Next()
	}
}

// UserID 返回当前请求的聊天用户 ID
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// extractBearer 从 Authorization header 提取 Bearer token
func extractBearer(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code": http.StatusUnauthorized,
		"msg":  msg,
	})
}
