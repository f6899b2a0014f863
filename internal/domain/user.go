package domain

import "time"

// DefaultIntervalSeconds 新用户的默认轮询间隔
const DefaultIntervalSeconds = 60

// User 表示一个聊天用户，ID 为聊天平台分配的数字标识
type User struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// Settings 用户的自动检查设置
type Settings struct {
	UserID          int64     `json:"userId" gorm:"primaryKey;autoIncrement:false"`
	AutoCheck       bool      `json:"autoCheck" gorm:"not null;default:false;index"`
	IntervalSeconds int       `json:"intervalSeconds" gorm:"not null;default:60"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Settings) TableName() string {
	return "settings"
}

// Interval 返回轮询间隔
func (s *Settings) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// DefaultSettings 返回用户的默认设置
func DefaultSettings(userID int64) Settings {
	return Settings{
		UserID:          userID,
		AutoCheck:       false,
		IntervalSeconds: DefaultIntervalSeconds,
	}
}
