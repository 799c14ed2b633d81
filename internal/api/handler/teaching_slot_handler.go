package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mvalley/backend/internal/dto"
	"mvalley/backend/internal/service"
	pkgerrors "mvalley/backend/pkg/errors"
	"mvalley/backend/pkg/response"
)

// TeachingSlotHandler 教学时段模块 HTTP 处理器
type TeachingSlotHandler struct {
	slotSvc service.TeachingSlotService
}

// NewTeachingSlotHandler 创建 TeachingSlotHandler
func NewTeachingSlotHandler(slotSvc service.TeachingSlotService) *TeachingSlotHandler {
	return &TeachingSlotHandler{slotSvc: slotSvc}
}

// ListTeachingSlots 获取教学时段列表
// GET /api/v1/teaching-slots
func (h *TeachingSlotHandler) ListTeachingSlots(c *gin.Context) {
	var req dto.TeachingSlotListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badBinding(c, err)
		return
	}

	slots, err := h.slotSvc.List(c.Request.Context(), &req)
	if err != nil {
		h.handleSlotError(c, err)
		return
	}

	response.OK(c, gin.H{"list": slots})
}

// GetTeachingSlot 获取教学时段详情
// GET /api/v1/teaching-slots/:id
func (h *TeachingSlotHandler) GetTeachingSlot(c *gin.Context) {
	id, ok := requireParam(c, "id", "时段ID")
	if !ok {
		return
	}

	slot, err := h.slotSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		h.handleSlotError(c, err)
		return
	}

	response.OK(c, slot)
}

// CreateTeachingSlot 创建教学时段
// POST /api/v1/teaching-slots
func (h *TeachingSlotHandler) CreateTeachingSlot(c *gin.Context) {
	var req dto.CreateTeachingSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBinding(c, err)
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	slot, err := h.slotSvc.Create(c.Request.Context(), &req, callerID)
	if err != nil {
		h.handleSlotError(c, err)
		return
	}

	response.Created(c, slot)
}

// UpdateTeachingSlot 更新教学时段（需携带 version）
// PUT /api/v1/teaching-slots/:id
func (h *TeachingSlotHandler) UpdateTeachingSlot(c *gin.Context) {
	id, ok := requireParam(c, "id", "时段ID")
	if !ok {
		return
	}

	var req dto.UpdateTeachingSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBinding(c, err)
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	slot, err := h.slotSvc.Update(c.Request.Context(), id, &req, callerID)
	if err != nil {
		h.handleSlotError(c, err)
		return
	}

	response.OK(c, slot)
}

// DeleteTeachingSlot 删除教学时段（软删除，需填写原因）
// DELETE /api/v1/teaching-slots/:id
func (h *TeachingSlotHandler) DeleteTeachingSlot(c *gin.Context) {
	id, ok := requireParam(c, "id", "时段ID")
	if !ok {
		return
	}

	var req dto.DeleteTeachingSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBinding(c, err)
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	if err := h.slotSvc.Delete(c.Request.Context(), id, req.Reason, callerID); err != nil {
		h.handleSlotError(c, err)
		return
	}

	response.OK(c, nil)
}

// handleSlotError 统一处理教学时段模块业务错误
func (h *TeachingSlotHandler) handleSlotError(c *gin.Context, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		response.ErrorWithDetails(c, http.StatusBadRequest, 21004, "参数校验失败", ve.Error())
	case errors.Is(err, service.ErrTeachingSlotNotFound):
		response.NotFound(c, 21001, "教学时段不存在")
	case errors.Is(err, service.ErrSlotOccupied):
		response.Conflict(c, 21002, "教学时段已被占用，不可修改或删除")
	case errors.Is(err, service.ErrSlotOverlap):
		response.Conflict(c, 21003, "与同一讲师或教室的其他时段时间重叠")
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, 21005, "数据已被他人修改，请刷新后重试")
	default:
		response.InternalError(c)
	}
}
