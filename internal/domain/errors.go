package domain

import (
	"errors"
	"fmt"
)

// 业务错误定义
var (
	ErrNotFound         = errors.New("not found")
	ErrAuth             = errors.New("provider rejected credentials")
	ErrCapacityExceeded = errors.New("mailbox capacity exceeded")
	ErrConfiguration    = errors.New("configuration error")
	ErrIntervalTooShort = errors.New("interval below minimum")
	ErrNoActiveMailbox  = errors.New("no active mailbox")
	ErrUnknownProvider  = fmt.Errorf("unknown provider: %w", ErrConfiguration)
)

// ErrorKind 提供方错误的类别
type ErrorKind string

const (
	// KindTransient 可重试：超时、网络错误、5xx、限流
	KindTransient ErrorKind = "transient"
	// KindPermanent 不可重试：其余 4xx、响应无法解析
	KindPermanent ErrorKind = "permanent"
)

// ProviderError 提供方调用失败
type ProviderError struct {
	Provider   ProviderName
	Op         string
	StatusCode int
	Kind       ErrorKind
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: %s (status %d): %v", e.Provider, e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient 判断错误是否为可重试的提供方错误
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindTransient
}

// IsPermanent 判断错误是否为不可重试的提供方错误
func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindPermanent
}

// KindOf 返回提供方错误类别，非提供方错误返回空字符串
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
