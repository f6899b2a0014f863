// Package notify 把新邮件通知分发给展示层。
//
// 调度器在账本写入成功后才调用 Notifier，投递失败只记录日志，不会重试。
package notify

import (
	"context"
	"errors"

	"mailninja/backend/internal/domain"
)

// Notifier 新邮件通知的接收方
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// Func 函数适配器
type Func func(ctx context.Context, n domain.Notification) error

// Notify 实现 Notifier
func (f Func) Notify(ctx context.Context, n domain.Notification) error {
	return f(ctx, n)
}

// Multi 依次投递给所有接收方，返回合并后的错误
type Multi []Notifier

// Notify 实现 Notifier，一个接收方失败不影响其他接收方
func (m Multi) Notify(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop 丢弃所有通知
var Nop Notifier = Func(func(context.Context, domain.Notification) error { return nil })
