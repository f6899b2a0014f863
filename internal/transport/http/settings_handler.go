package httptransport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"mailninja/backend/internal/domain"
)

type autoCheckRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type intervalRequest struct {
	Seconds int `json:"seconds" binding:"required"`
}

// getSettings godoc
// @Summary 获取设置
// @Description 返回自动检查开关和检查间隔，首次访问时创建默认设置
// @Tags Settings
// @Produce json
// @Success 200 {object} Response{data=domain.Settings}
// @Failure 401 {object} Response
// @Security BearerAuth
// @Router /api/v1/settings [get]
func (h *Handler) getSettings(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	settings, err := h.settings.GetSettings(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, settings)
}

// setAutoCheck godoc
// @Summary 开启或关闭自动检查
// @Tags Settings
// @Accept json
// @Produce json
// @Param request body autoCheckRequest true "开关"
// @Success 200 {object} Response{data=domain.Settings}
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Security BearerAuth
// @Router /api/v1/settings/autocheck [put]
func (h *Handler) setAutoCheck(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req autoCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	settings, err := h.settings.SetAutoCheck(c.Request.Context(), userID, *req.Enabled)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	msg := MsgAutoCheckOff
	if settings.AutoCheck {
		msg = MsgAutoCheckOn
	}
	SuccessWithMsg(c, msg, settings)
}

// setInterval godoc
// @Summary 修改检查间隔
// @Description 间隔低于最小值时返回 400，设置保持不变
// @Tags Settings
// @Accept json
// @Produce json
// @Param request body intervalRequest true "间隔（秒）"
// @Success 200 {object} Response{data=domain.Settings}
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Security BearerAuth
// @Router /api/v1/settings/interval [put]
func (h *Handler) setInterval(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req intervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	settings, err := h.settings.SetInterval(c.Request.Context(), userID, req.Seconds)
	if errors.Is(err, domain.ErrIntervalTooShort) {
		minSeconds := int(h.settings.MinInterval().Seconds())
		Error(c, http.StatusBadRequest, fmt.Sprintf("%s，最少 %d 秒", MsgIntervalTooShort, minSeconds))
		return
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, MsgIntervalUpdated, settings)
}
