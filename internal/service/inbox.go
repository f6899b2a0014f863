package service

import (
	"context"

	"go.uber.org/zap"

	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/storage"
)

// InboxService 查询活跃邮箱的邮件
type InboxService struct {
	mailboxes *MailboxService
	ledger    storage.SeenLedger
	log       *zap.Logger
}

// NewInboxService 创建收件箱服务
func NewInboxService(mailboxes *MailboxService, ledger storage.SeenLedger, log *zap.Logger) *InboxService {
	if log == nil {
		log = zap.NewNop()
	}
	return &InboxService{mailboxes: mailboxes, ledger: ledger, log: log.Named("inbox")}
}

func (s *InboxService) active(ctx context.Context, userID int64) (*domain.Mailbox, error) {
	mailbox, err := s.mailboxes.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if mailbox == nil {
		return nil, domain.ErrNoActiveMailbox
	}
	return mailbox, nil
}

// Inbox 列出活跃邮箱的邮件，Seen 标记来自已读账本
func (s *InboxService) Inbox(ctx context.Context, userID int64) ([]domain.MessageSummary, error) {
	mailbox, err := s.active(ctx, userID)
	if err != nil {
		return nil, err
	}

	messages, err := s.mailboxes.ListMessages(ctx, mailbox)
	if err != nil {
		return nil, err
	}

	for i := range messages {
		seen, err := s.ledger.IsSeen(ctx, mailbox.Address, messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].Seen = seen
	}
	return messages, nil
}

// ReadMessage 获取邮件详情并记入已读账本，之后的轮询不会再为它发送通知
func (s *InboxService) ReadMessage(ctx context.Context, userID int64, messageID string) (*domain.Message, error) {
	mailbox, err := s.active(ctx, userID)
	if err != nil {
		return nil, err
	}

	message, err := s.mailboxes.FetchMessage(ctx, mailbox, messageID)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.MarkSeen(ctx, mailbox.Address, message.ID); err != nil {
		s.log.Warn("failed to mark message seen",
			zap.String("address", mailbox.Address),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
	return message, nil
}
