package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"mailninja/backend/internal/domain"
)

// EventNewMail webhook 事件名
const EventNewMail = "mail.received"

// WebhookEvent webhook 请求体
type WebhookEvent struct {
	ID        string              `json:"id"`
	Event     string              `json:"event"`
	Timestamp time.Time           `json:"timestamp"`
	Data      domain.Notification `json:"data"`
}

// Webhook 以签名 POST 请求投递通知
type Webhook struct {
	url        string
	secret     string
	httpClient *http.Client
}

// NewWebhook 创建 webhook 通知器，secret 为空时不签名
func NewWebhook(url, secret string, httpClient *http.Client) *Webhook {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{url: url, secret: secret, httpClient: httpClient}
}

// Notify 实现 Notifier
func (w *Webhook) Notify(ctx context.Context, n domain.Notification) error {
	event := WebhookEvent{
		ID:        uuid.NewString(),
		Event:     EventNewMail,
		Timestamp: time.Now().UTC(),
		Data:      n,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", EventNewMail)
	req.Header.Set("X-Webhook-ID", event.ID)
	if w.secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(payload, w.secret))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Sign 计算 payload 的 HMAC-SHA256 签名
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature 校验签名，供接收方使用
func VerifySignature(payload []byte, secret, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), expected)
}
