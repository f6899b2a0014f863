package provider

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailninja/backend/internal/cache"
	"mailninja/backend/internal/domain"
)

// TempMailOrg temp-mail.org（RapidAPI）客户端
//
// 该服务没有账户概念：地址在本地生成，收件箱以地址的 md5 作为标识，因此令牌就是 md5，且没有密码。
type TempMailOrg struct {
	rest          *restClient
	apiKey        string
	defaultDomain string
	domains       *cache.LocalCache[[]string]
	logger        *zap.Logger
}

// tempMailFallbackDomain 接口未返回任何域名时使用
const tempMailFallbackDomain = "temp-mail.org"

// NewTempMailOrg 创建 temp-mail.org 客户端，apiKey 为空时所有操作返回配置错误
func NewTempMailOrg(opts Options, apiKey, apiHost string) *TempMailOrg {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://privatix-temp-mail-v1.p.rapidapi.com"
	}
	if apiHost == "" {
		if u, err := url.Parse(opts.BaseURL); err == nil {
			apiHost = u.Host
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	headers := map[string]string{
		"Accept":          "application/json",
		"X-RapidAPI-Key":  apiKey,
		"X-RapidAPI-Host": apiHost,
	}
	return &TempMailOrg{
		rest:          newRESTClient(domain.ProviderTempMailOrg, opts, headers),
		apiKey:        apiKey,
		defaultDomain: tempMailFallbackDomain,
		domains:       cache.NewLocalCache[[]string](1, domainCacheTTL),
		logger:        logger.Named("tempmailorg"),
	}
}

// SetDefaultDomain 设置域名列表为空时的回退域名，空字符串保持默认值
func (c *TempMailOrg) SetDefaultDomain(d string) {
	d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
	if d != "" {
		c.defaultDomain = d
	}
}

// Name 提供方名称
func (c *TempMailOrg) Name() domain.ProviderName {
	return domain.ProviderTempMailOrg
}

// Configured 是否配置了 API Key
func (c *TempMailOrg) Configured() bool {
	return c.apiKey != ""
}

func (c *TempMailOrg) ensureKey() error {
	if !c.Configured() {
		return fmt.Errorf("%w: temp-mail.org requires an API key (provider.tempmail_api_key or TEMPM_API_KEY)", domain.ErrConfiguration)
	}
	return nil
}

type tempMailMessage struct {
	ID          string  `json:"mail_id"`
	From        string  `json:"mail_from"`
	Subject     string  `json:"mail_subject"`
	Preview     string  `json:"mail_preview"`
	TextOnly    string  `json:"mail_text_only"`
	Text        string  `json:"mail_text"`
	HTML        string  `json:"mail_html"`
	Timestamp   float64 `json:"mail_timestamp"`
	Attachments int     `json:"mail_attachments_count"`
}

// tempMailList 收件箱为空时接口返回 {"error": "..."} 而不是空数组
type tempMailList struct {
	Messages []tempMailMessage
}

func (l *tempMailList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var errBody struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &errBody); err != nil {
			return err
		}
		if errBody.Error != "" {
			l.Messages = nil
			return nil
		}
		return fmt.Errorf("unexpected object in message list")
	}
	return json.Unmarshal(data, &l.Messages)
}

// Domains 返回可用域名（接口返回值带 @ 前缀），列表为空时回退到默认域名
func (c *TempMailOrg) Domains(ctx context.Context) ([]string, error) {
	if err := c.ensureKey(); err != nil {
		return nil, err
	}
	if cached, ok := c.domains.Get("domains"); ok {
		return cached, nil
	}

	var raw []string
	if err := c.rest.call(ctx, "domains", http.MethodGet, "/request/domains/", "", nil, &raw); err != nil {
		return nil, err
	}
	domains := make([]string, 0, len(raw))
	for _, d := range raw {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		if d != "" {
			domains = append(domains, d)
		}
	}
	if len(domains) == 0 {
		c.logger.Warn("provider returned no domains, using default", zap.String("domain", c.defaultDomain))
		domains = []string{c.defaultDomain}
	}
	c.domains.Set("domains", domains, 0)
	return domains, nil
}

// CreateAccount 在本地生成地址，无需注册
func (c *TempMailOrg) CreateAccount(ctx context.Context) (*Account, error) {
	domains, err := c.Domains(ctx)
	if err != nil {
		return nil, err
	}
	host, err := pick(domains)
	if err != nil {
		return nil, err
	}
	local, err := randomString(localPartLength)
	if err != nil {
		return nil, fmt.Errorf("generate local part: %w", err)
	}
	address := local + "@" + host
	token := addressHash(address)
	return &Account{Address: address, Login: local, Domain: host, Token: &token}, nil
}

// ObtainToken 令牌即地址的 md5，不访问网络
func (c *TempMailOrg) ObtainToken(_ context.Context, address, _ string) (string, error) {
	if err := c.ensureKey(); err != nil {
		return "", err
	}
	return addressHash(address), nil
}

// ListMessages 列出收件箱，保持提供方顺序
func (c *TempMailOrg) ListMessages(ctx context.Context, token string) ([]domain.MessageSummary, error) {
	if err := c.ensureKey(); err != nil {
		return nil, err
	}

	var list tempMailList
	path := "/request/mail/id/" + url.PathEscape(token) + "/"
	if err := c.rest.call(ctx, "list_messages", http.MethodGet, path, "", nil, &list); err != nil {
		if statusOf(err) == http.StatusNotFound {
			// 尚未收到任何邮件的地址返回 404
			return []domain.MessageSummary{}, nil
		}
		return nil, err
	}

	out := make([]domain.MessageSummary, 0, len(list.Messages))
	for _, m := range list.Messages {
		if m.ID == "" {
			continue
		}
		preview := m.Preview
		if preview == "" {
			preview = truncate(m.TextOnly, 120)
		}
		out = append(out, domain.MessageSummary{
			ID:             m.ID,
			From:           m.From,
			Subject:        m.Subject,
			Preview:        preview,
			HasAttachments: m.Attachments > 0,
			CreatedAt:      fromUnix(m.Timestamp),
		})
	}
	return out, nil
}

// FetchMessage 获取邮件详情。附件内容不在该接口中，只返回数量信息。
func (c *TempMailOrg) FetchMessage(ctx context.Context, _ string, id string) (*domain.Message, error) {
	if err := c.ensureKey(); err != nil {
		return nil, err
	}

	var m tempMailMessage
	path := "/request/one_mail/id/" + url.PathEscape(id) + "/"
	if err := c.rest.call(ctx, "fetch_message", http.MethodGet, path, "", nil, &m); err != nil {
		return nil, err
	}
	if m.ID == "" {
		return nil, c.rest.permanent("fetch_message", http.StatusOK, fmt.Errorf("%w: message %s", domain.ErrNotFound, id))
	}

	text := m.TextOnly
	if text == "" {
		text = m.Text
	}
	msg := &domain.Message{
		ID:        m.ID,
		From:      m.From,
		Subject:   m.Subject,
		Text:      text,
		CreatedAt: fromUnix(m.Timestamp),
	}
	if m.HTML != "" {
		msg.HTML = []string{m.HTML}
	}
	return msg, nil
}

func addressHash(address string) string {
	sum := md5.Sum([]byte(strings.ToLower(address)))
	return hex.EncodeToString(sum[:])
}

func fromUnix(ts float64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
