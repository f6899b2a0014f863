package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailninja/backend/internal/domain"
)

// Account 提供方新建的邮箱账户
type Account struct {
	Address string
	Login   string
	Domain  string
	Secret  *string // 账户密码，无密码的提供方为 nil
	Token   *string // 创建时顺带获取的令牌（可选）
}

// Client 邮箱服务提供方的统一接口
//
// 所有方法都受单次请求超时约束，失败时返回 *domain.ProviderError。
type Client interface {
	Name() domain.ProviderName
	CreateAccount(ctx context.Context) (*Account, error)
	ObtainToken(ctx context.Context, address, secret string) (string, error)
	ListMessages(ctx context.Context, token string) ([]domain.MessageSummary, error)
	FetchMessage(ctx context.Context, token, id string) (*domain.Message, error)
}

// Observer 接收每次提供方请求的结果，用于指标统计
type Observer interface {
	ObserveProviderRequest(provider, op, outcome string, duration time.Duration)
}

// Options 提供方客户端的公共参数
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
	Observer      Observer
	Logger        *zap.Logger
}

// Registry 按名称查找提供方客户端
type Registry struct {
	clients  map[domain.ProviderName]Client
	fallback domain.ProviderName
}

// NewRegistry 创建注册表，fallback 为请求未指定提供方时使用的默认值
func NewRegistry(fallback domain.ProviderName, clients ...Client) *Registry {
	r := &Registry{
		clients:  make(map[domain.ProviderName]Client, len(clients)),
		fallback: fallback,
	}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	return r
}

// aliases 兼容旧命令中的提供方名称
var aliases = map[string]domain.ProviderName{
	"tempmail":      domain.ProviderTempMailOrg,
	"temp-mail.org": domain.ProviderTempMailOrg,
	"mail.tm":       domain.ProviderMailTm,
}

// Resolve 解析提供方名称，空字符串返回默认提供方
func (r *Registry) Resolve(name string) (domain.ProviderName, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = string(r.fallback)
	}
	if alias, ok := aliases[name]; ok {
		name = string(alias)
	}
	if _, ok := r.clients[domain.ProviderName(name)]; !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownProvider, name)
	}
	return domain.ProviderName(name), nil
}

// Get 返回指定提供方的客户端
func (r *Registry) Get(name domain.ProviderName) (Client, error) {
	resolved, err := r.Resolve(string(name))
	if err != nil {
		return nil, err
	}
	return r.clients[resolved], nil
}

// Names 返回已注册的提供方名称
func (r *Registry) Names() []domain.ProviderName {
	names := make([]domain.ProviderName, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
