package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrInvalidMailboxID = errors.New("invalid mailbox id")
	ErrInvalidUserID    = errors.New("invalid user id")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

var (
	localPartRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._+-]*$`)
	domainRegex    = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)+$`)
)

// SplitAddress 校验并拆分提供方返回的邮箱地址
//
// 返回值:
//   - login: @ 前的本地部分（小写）
//   - domain: 域名（小写）
func SplitAddress(address string) (login, domain string, err error) {
	address = strings.TrimSpace(strings.ToLower(address))
	if len(address) > MaxEmailLength {
		return "", "", ErrEmailTooLong
	}
	if _, err := mail.ParseAddress(address); err != nil {
		return "", "", ErrInvalidEmail
	}

	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", ErrInvalidEmail
	}
	login, domain = address[:at], address[at+1:]

	if len(login) > MaxLocalPartLength || !localPartRegex.MatchString(login) {
		return "", "", ErrInvalidEmail
	}
	if len(domain) > MaxDomainLength || !domainRegex.MatchString(domain) {
		return "", "", ErrInvalidEmail
	}
	return login, domain, nil
}

// ValidateMailboxID 校验邮箱 ID 格式
func ValidateMailboxID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidMailboxID
	}
	return nil
}

// ValidateUserID 校验聊天用户 ID
func ValidateUserID(id int64) error {
	if id == 0 {
		return ErrInvalidUserID
	}
	return nil
}
