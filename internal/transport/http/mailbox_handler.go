package httptransport

import (
	"github.com/gin-gonic/gin"

	"mailninja/backend/internal/domain"
)

type createMailboxRequest struct {
	Provider string `json:"provider"`
}

type switchMailboxRequest struct {
	MailboxID string `json:"mailboxId" binding:"required"`
}

type providerInfo struct {
	Name    domain.ProviderName `json:"name"`
	Default bool                `json:"default"`
}

// listProviders godoc
// @Summary 列出提供方
// @Description 返回已配置的邮箱服务提供方并标出默认值
// @Tags Providers
// @Produce json
// @Success 200 {object} Response{data=[]providerInfo}
// @Failure 401 {object} Response
// @Security BearerAuth
// @Router /api/v1/providers [get]
func (h *Handler) listProviders(c *gin.Context) {
	fallback, _ := h.providers.Resolve("")
	names := h.providers.Names()
	out := make([]providerInfo, 0, len(names))
	for _, name := range names {
		out = append(out, providerInfo{Name: name, Default: name == fallback})
	}
	Success(c, out)
}

// createMailbox godoc
// @Summary 创建邮箱
// @Description 在指定提供方创建新的临时邮箱并设为活跃邮箱，超出数量上限时删除最旧的邮箱
// @Tags Mailboxes
// @Accept json
// @Produce json
// @Param request body createMailboxRequest false "提供方，省略时使用默认提供方"
// @Success 201 {object} Response{data=domain.Mailbox}
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 502 {object} Response
// @Failure 503 {object} Response
// @Security BearerAuth
// @Router /api/v1/mailboxes [post]
func (h *Handler) createMailbox(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req createMailboxRequest
	// 请求体可省略，省略时使用默认提供方
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
	}

	mailbox, err := h.mailboxes.CreateMailbox(c.Request.Context(), userID, req.Provider)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	CreatedWithMsg(c, MsgMailboxCreated, mailbox)
}

// listMailboxes godoc
// @Summary 列出邮箱
// @Description 按创建时间倒序列出当前用户的邮箱
// @Tags Mailboxes
// @Produce json
// @Success 200 {object} Response{data=[]domain.Mailbox}
// @Failure 401 {object} Response
// @Security BearerAuth
// @Router /api/v1/mailboxes [get]
func (h *Handler) listMailboxes(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	mailboxes, err := h.mailboxes.ListMailboxes(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if mailboxes == nil {
		mailboxes = []domain.Mailbox{}
	}
	Success(c, mailboxes)
}

// getActiveMailbox godoc
// @Summary 获取活跃邮箱
// @Tags Mailboxes
// @Produce json
// @Success 200 {object} Response{data=domain.Mailbox}
// @Failure 401 {object} Response
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /api/v1/mailboxes/active [get]
func (h *Handler) getActiveMailbox(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	mailbox, err := h.mailboxes.GetActive(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if mailbox == nil {
		respondError(c, h.log, domain.ErrNoActiveMailbox)
		return
	}
	Success(c, mailbox)
}

// switchMailbox godoc
// @Summary 切换活跃邮箱
// @Tags Mailboxes
// @Accept json
// @Produce json
// @Param request body switchMailboxRequest true "目标邮箱"
// @Success 200 {object} Response{data=domain.Mailbox}
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /api/v1/mailboxes/active [put]
func (h *Handler) switchMailbox(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req switchMailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	if err := h.mailboxes.SwitchActive(ctx, userID, req.MailboxID); err != nil {
		respondError(c, h.log, err)
		return
	}
	mailbox, err := h.mailboxes.GetActive(ctx, userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, MsgMailboxSwitched, mailbox)
}

// deleteMailbox godoc
// @Summary 删除邮箱
// @Tags Mailboxes
// @Produce json
// @Param id path string true "邮箱ID"
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /api/v1/mailboxes/{id} [delete]
func (h *Handler) deleteMailbox(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	if err := h.mailboxes.DeleteMailbox(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, MsgMailboxDeleted, nil)
}
