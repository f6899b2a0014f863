package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailninja/backend/internal/cache"
	"mailninja/backend/internal/domain"
)

const (
	mailTmFallbackDomain = "mail.tm"
	domainCacheTTL       = 10 * time.Minute
)

// MailTm mail.tm 客户端，账户需要密码，令牌通过 /token 获取
type MailTm struct {
	rest    *restClient
	domains *cache.LocalCache[[]string]
	logger  *zap.Logger
}

// NewMailTm 创建 mail.tm 客户端
func NewMailTm(opts Options) *MailTm {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.mail.tm"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailTm{
		rest:    newRESTClient(domain.ProviderMailTm, opts, map[string]string{"Accept": "application/ld+json"}),
		domains: cache.NewLocalCache[[]string](1, domainCacheTTL),
		logger:  logger.Named("mailtm"),
	}
}

// Name 提供方名称
func (c *MailTm) Name() domain.ProviderName {
	return domain.ProviderMailTm
}

// hydraCollection 兼容 JSON-LD（hydra:member）与普通数组两种列表格式
type hydraCollection[T any] struct {
	Members []T
}

func (h *hydraCollection[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &h.Members)
	}
	var wrapper struct {
		Members []T `json:"hydra:member"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	h.Members = wrapper.Members
	return nil
}

type mailTmDomain struct {
	Domain   string `json:"domain"`
	IsActive *bool  `json:"isActive"`
}

type mailTmAddress struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type mailTmSummary struct {
	ID             string        `json:"id"`
	From           mailTmAddress `json:"from"`
	Subject        string        `json:"subject"`
	Intro          string        `json:"intro"`
	HasAttachments bool          `json:"hasAttachments"`
	CreatedAt      time.Time     `json:"createdAt"`
}

type mailTmAttachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadUrl"`
}

type mailTmMessage struct {
	ID          string             `json:"id"`
	From        mailTmAddress      `json:"from"`
	Subject     string             `json:"subject"`
	Text        string             `json:"text"`
	HTML        []string           `json:"html"`
	Attachments []mailTmAttachment `json:"attachments"`
	CreatedAt   time.Time          `json:"createdAt"`
}

type mailTmCredentials struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}

// Domains 返回可用域名列表，列表为空时回退到 mail.tm
func (c *MailTm) Domains(ctx context.Context) ([]string, error) {
	if cached, ok := c.domains.Get("domains"); ok {
		return cached, nil
	}

	var resp hydraCollection[mailTmDomain]
	if err := c.rest.call(ctx, "domains", http.MethodGet, "/domains?page=1", "", nil, &resp); err != nil {
		return nil, err
	}

	domains := make([]string, 0, len(resp.Members))
	for _, d := range resp.Members {
		if d.Domain == "" || (d.IsActive != nil && !*d.IsActive) {
			continue
		}
		domains = append(domains, strings.ToLower(d.Domain))
	}
	if len(domains) == 0 {
		domains = []string{mailTmFallbackDomain}
	}
	c.domains.Set("domains", domains, 0)
	return domains, nil
}

// CreateAccount 注册新账户；地址冲突时换一个本地部分重试一次
func (c *MailTm) CreateAccount(ctx context.Context) (*Account, error) {
	domains, err := c.Domains(ctx)
	if err != nil {
		return nil, err
	}
	host, err := pick(domains)
	if err != nil {
		return nil, err
	}
	password, err := randomString(secretLength)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		local, err := randomString(localPartLength)
		if err != nil {
			return nil, fmt.Errorf("generate local part: %w", err)
		}
		address := local + "@" + host

		lastErr = c.rest.call(ctx, "create_account", http.MethodPost, "/accounts", "",
			mailTmCredentials{Address: address, Password: password}, nil)
		if lastErr == nil {
			secret := password
			account := &Account{Address: address, Login: local, Domain: host, Secret: &secret}
			return account, nil
		}

		status := statusOf(lastErr)
		if status != http.StatusUnprocessableEntity && status != http.StatusConflict {
			return nil, lastErr
		}
		c.logger.Debug("address collision, retrying", zap.String("address", address), zap.Int("status", status))
	}
	return nil, lastErr
}

// ObtainToken 用地址和密码换取令牌
func (c *MailTm) ObtainToken(ctx context.Context, address, secret string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.rest.call(ctx, "token", http.MethodPost, "/token", "",
		mailTmCredentials{Address: address, Password: secret}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", c.rest.permanent("token", http.StatusOK, fmt.Errorf("empty token in response"))
	}
	return resp.Token, nil
}

// ListMessages 列出收件箱第一页，保持提供方顺序
func (c *MailTm) ListMessages(ctx context.Context, token string) ([]domain.MessageSummary, error) {
	var resp hydraCollection[mailTmSummary]
	if err := c.rest.call(ctx, "list_messages", http.MethodGet, "/messages?page=1", token, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.MessageSummary, 0, len(resp.Members))
	for _, m := range resp.Members {
		if m.ID == "" {
			continue
		}
		out = append(out, domain.MessageSummary{
			ID:             m.ID,
			From:           m.From.Address,
			FromName:       m.From.Name,
			Subject:        m.Subject,
			Preview:        m.Intro,
			HasAttachments: m.HasAttachments,
			CreatedAt:      m.CreatedAt,
		})
	}
	return out, nil
}

// FetchMessage 获取邮件详情
func (c *MailTm) FetchMessage(ctx context.Context, token, id string) (*domain.Message, error) {
	var m mailTmMessage
	if err := c.rest.call(ctx, "fetch_message", http.MethodGet, "/messages/"+url.PathEscape(id), token, nil, &m); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:        m.ID,
		From:      m.From.Address,
		FromName:  m.From.Name,
		Subject:   m.Subject,
		Text:      m.Text,
		HTML:      m.HTML,
		CreatedAt: m.CreatedAt,
	}
	for _, a := range m.Attachments {
		download := a.DownloadURL
		if strings.HasPrefix(download, "/") {
			download = c.rest.baseURL + download
		}
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			ID:          a.ID,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
			DownloadURL: download,
		})
	}
	return msg, nil
}
