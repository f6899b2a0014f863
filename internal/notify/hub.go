package notify

import (
	"context"

	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/websocket"
)

// UserSender 向用户的所有连接推送消息
type UserSender interface {
	SendToUser(userID int64, msgType websocket.MessageType, payload any) (int, error)
}

// Hub 把通知推送给用户的 WebSocket 连接；用户不在线时直接丢弃
type Hub struct {
	sender UserSender
}

// NewHub 创建 WebSocket 通知器
func NewHub(sender UserSender) *Hub {
	return &Hub{sender: sender}
}

// Notify 实现 Notifier
func (h *Hub) Notify(_ context.Context, n domain.Notification) error {
	_, err := h.sender.SendToUser(n.UserID, websocket.MessageTypeNewMail, n)
	return err
}
