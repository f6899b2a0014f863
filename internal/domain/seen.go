package domain

import "time"

// SeenEntry 已处理邮件账本中的一条记录，(Address, MessageID) 唯一且只写一次
type SeenEntry struct {
	Address   string    `json:"address" gorm:"primaryKey;type:varchar(255)"`
	MessageID string    `json:"messageId" gorm:"primaryKey;type:varchar(255)"`
	SeenAt    time.Time `json:"seenAt"`
}

// TableName 指定表名
func (SeenEntry) TableName() string {
	return "seen_messages"
}
