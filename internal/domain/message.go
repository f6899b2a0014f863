package domain

import "time"

// MessageSummary 邮件列表中的摘要信息，顺序与提供方返回一致
type MessageSummary struct {
	ID             string    `json:"id"`
	From           string    `json:"from"`
	FromName       string    `json:"fromName,omitempty"`
	Subject        string    `json:"subject"`
	Preview        string    `json:"preview"`
	HasAttachments bool      `json:"hasAttachments"`
	CreatedAt      time.Time `json:"createdAt"`
	Seen           bool      `json:"seen"`
}

// Message 邮件详情。正文的渲染由展示层负责。
type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	FromName    string       `json:"fromName,omitempty"`
	Subject     string       `json:"subject"`
	Text        string       `json:"text,omitempty"`
	HTML        []string     `json:"html,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Attachment 附件元数据，不包含内容
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// Notification 新邮件到达时推送给展示层的事件
type Notification struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	MailboxID string    `json:"mailboxId"`
	Address   string    `json:"address"`
	MessageID string    `json:"messageId"`
	Sender    string    `json:"sender"`
	Subject   string    `json:"subject"`
	Preview   string    `json:"preview"`
	At        time.Time `json:"at"`
}
