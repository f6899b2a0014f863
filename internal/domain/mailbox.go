package domain

import (
	"time"
)

// ProviderName 标识邮箱服务提供方
type ProviderName string

const (
	ProviderMailTm      ProviderName = "mailtm"
	ProviderTempMailOrg ProviderName = "tempmailorg"
)

// Mailbox 表示聊天用户名下的一个一次性邮箱。
//
// 同一用户任意时刻至多有一个 Active 邮箱；Address 全局唯一。
type Mailbox struct {
	ID        string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID    int64        `json:"userId" gorm:"index;not null"`
	Provider  ProviderName `json:"provider" gorm:"type:varchar(32);not null"`
	Address   string       `json:"address" gorm:"type:varchar(255);uniqueIndex;not null"`
	Login     string       `json:"login" gorm:"type:varchar(255)"`
	Domain    string       `json:"domain" gorm:"type:varchar(255)"`
	Secret    *string      `json:"-" gorm:"type:text"` // 已加密的账户密码，部分提供方为空
	Token     *string      `json:"-" gorm:"type:text"` // 提供方会话令牌缓存
	Active    bool         `json:"active" gorm:"not null;default:false;index"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
	CreatedAt time.Time    `json:"createdAt" gorm:"index"`
}

// TableName 指定表名
func (Mailbox) TableName() string {
	return "mailboxes"
}

// IsExpired 判断邮箱是否已过期
func (m *Mailbox) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// HasToken 判断是否缓存了令牌
func (m *Mailbox) HasToken() bool {
	return m.Token != nil && *m.Token != ""
}
