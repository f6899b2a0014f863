package httptransport

import (
	"github.com/gin-gonic/gin"

	"mailninja/backend/internal/domain"
)

type inboxResponse struct {
	Messages []domain.MessageSummary `json:"messages"`
	Total    int                     `json:"total"`
}

// listInbox godoc
// @Summary 列出收件箱
// @Description 列出活跃邮箱的邮件，令牌过期时自动重新获取一次
// @Tags Inbox
// @Produce json
// @Success 200 {object} Response{data=inboxResponse}
// @Failure 401 {object} Response
// @Failure 404 {object} Response
// @Failure 502 {object} Response
// @Failure 503 {object} Response
// @Security BearerAuth
// @Router /api/v1/inbox [get]
func (h *Handler) listInbox(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	messages, err := h.inbox.Inbox(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if messages == nil {
		messages = []domain.MessageSummary{}
	}
	Success(c, inboxResponse{Messages: messages, Total: len(messages)})
}

// readMessage godoc
// @Summary 阅读邮件
// @Tags Inbox
// @Produce json
// @Param id path string true "邮件ID"
// @Success 200 {object} Response{data=domain.Message}
// @Failure 401 {object} Response
// @Failure 404 {object} Response
// @Failure 502 {object} Response
// @Security BearerAuth
// @Router /api/v1/inbox/{id} [get]
func (h *Handler) readMessage(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	message, err := h.inbox.ReadMessage(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, message)
}
