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

// AllocationHandler 分配批次与候选班组 HTTP 处理器
type AllocationHandler struct {
	allocationSvc service.AllocationService
	workflowSvc   service.WorkflowService
}

// NewAllocationHandler 创建 AllocationHandler
func NewAllocationHandler(allocationSvc service.AllocationService, workflowSvc service.WorkflowService) *AllocationHandler {
	return &AllocationHandler{allocationSvc: allocationSvc, workflowSvc: workflowSvc}
}

// ── 分配批次 ──

// CreateRun 创建分配批次并生成候选班组
// POST /api/v1/allocation/runs
func (h *AllocationHandler) CreateRun(c *gin.Context) {
	var req dto.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBinding(c, err)
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	run, err := h.allocationSvc.CreateRun(c.Request.Context(), &req, callerID)
	if err != nil {
		h.handleAllocationError(c, err)
		return
	}

	response.Created(c, run)
}

// ListRuns 分页获取分配批次
// GET /api/v1/allocation/runs
func (h *AllocationHandler) ListRuns(c *gin.Context) {
	var req dto.PaginationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badBinding(c, err)
		return
	}

	runs, total, err := h.allocationSvc.ListRuns(c.Request.Context(), &req)
	if err != nil {
		h.handleAllocationError(c, err)
		return
	}

	response.OKPage(c, runs, total, req.GetPage(), req.GetPageSize())
}

// GetRun 获取分配批次详情（异步生成时用于轮询）
// GET /api/v1/allocation/runs/:id
func (h *AllocationHandler) GetRun(c *gin.Context) {
	id, ok := requireParam(c, "id", "批次ID")
	if !ok {
		return
	}

	run, err := h.allocationSvc.GetRun(c.Request.Context(), id)
	if err != nil {
		h.handleAllocationError(c, err)
		return
	}

	response.OK(c, run)
}

// CancelRun 取消进行中的分配批次
// POST /api/v1/allocation/runs/:id/cancel
func (h *AllocationHandler) CancelRun(c *gin.Context) {
	id, ok := requireParam(c, "id", "批次ID")
	if !ok {
		return
	}

	run, err := h.allocationSvc.CancelRun(c.Request.Context(), id)
	if err != nil {
		h.handleAllocationError(c, err)
		return
	}

	response.OK(c, run)
}

// ListCandidateGroups 获取批次内的候选班组（按生成顺序）
// GET /api/v1/allocation/runs/:id/candidate-groups
func (h *AllocationHandler) ListCandidateGroups(c *gin.Context) {
	id, ok := requireParam(c, "id", "批次ID")
	if !ok {
		return
	}

	groups, err := h.allocationSvc.ListCandidateGroups(c.Request.Context(), id)
	if err != nil {
		h.handleAllocationError(c, err)
		return
	}

	response.OK(c, gin.H{"list": groups})
}

// ── 候选班组 ──

// GetCandidateGroup 获取候选班组详情（含 explanation）
// GET /api/v1/allocation/candidate-groups/:id
func (h *AllocationHandler) GetCandidateGroup(c *gin.Context) {
	id, ok := requireParam(c, "id", "候选班组ID")
	if !ok {
		return
	}

	group, err := h.allocationSvc.GetCandidateGroup(c.Request.Context(), id)
	if err != nil {
		h.handleAllocationError(c, err)
		return
	}

	response.OK(c, group)
}

// ListTransitions 获取候选班组的状态流转记录
// GET /api/v1/allocation/candidate-groups/:id/transitions
func (h *AllocationHandler) ListTransitions(c *gin.Context) {
	id, ok := requireParam(c, "id", "候选班组ID")
	if !ok {
		return
	}

	transitions, err := h.allocationSvc.ListTransitions(c.Request.Context(), id)
	if err != nil {
		h.handleAllocationError(c, err)
		return
	}

	response.OK(c, gin.H{"list": transitions})
}

// UpdateCandidateGroupStatus 暂挂或拒绝候选班组
// PATCH /api/v1/allocation/candidate-groups/:id/status
func (h *AllocationHandler) UpdateCandidateGroupStatus(c *gin.Context) {
	id, ok := requireParam(c, "id", "候选班组ID")
	if !ok {
		return
	}

	var req dto.UpdateCandidateGroupStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBinding(c, err)
		return
	}

	operatorID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	group, err := h.workflowSvc.UpdateStatus(c.Request.Context(), id, &req, operatorID)
	if err != nil {
		h.handleAllocationError(c, err)
		return
	}

	response.OK(c, group)
}

// ConfirmCandidateGroup 确认候选班组，可选改派讲师或教室
// POST /api/v1/allocation/candidate-groups/:id/confirm
func (h *AllocationHandler) ConfirmCandidateGroup(c *gin.Context) {
	id, ok := requireParam(c, "id", "候选班组ID")
	if !ok {
		return
	}

	var req dto.ConfirmCandidateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBinding(c, err)
		return
	}

	operatorID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	group, err := h.workflowSvc.Confirm(c.Request.Context(), id, &req, operatorID)
	if err != nil {
		h.handleAllocationError(c, err)
		return
	}

	response.OK(c, group)
}

// handleAllocationError 统一处理分配模块业务错误
// 确认复核失败时将结构化明细放在 data 中返回
func (h *AllocationHandler) handleAllocationError(c *gin.Context, err error) {
	var (
		ve *service.ValidationError
		cf *service.ConfirmFailure
		te *service.TransitionError
	)
	switch {
	case errors.As(err, &ve):
		response.ErrorWithDetails(c, http.StatusBadRequest, 20010, "参数校验失败", ve.Error())
	case errors.As(err, &cf):
		response.ErrorWithData(c, http.StatusConflict, confirmFailureCode(cf), cf.Message, cf)
	case errors.As(err, &te):
		response.ErrorWithDetails(c, http.StatusConflict, 20004, service.ErrInvalidTransition.Error(), te.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		response.Conflict(c, 20004, service.ErrInvalidTransition.Error())
	case errors.Is(err, service.ErrRunNotFound):
		response.NotFound(c, 20001, "分配批次不存在")
	case errors.Is(err, service.ErrRunNotCancellable):
		response.Conflict(c, 20002, "分配批次已结束，无法取消")
	case errors.Is(err, service.ErrCandidateGroupNotFound):
		response.NotFound(c, 20003, "候选班组不存在")
	case errors.Is(err, service.ErrResourceBusy):
		response.Conflict(c, 20008, "资源正被其他确认操作占用，请稍后重试")
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, 20009, "数据已被他人修改，请刷新后重试")
	default:
		response.InternalError(c)
	}
}

func confirmFailureCode(cf *service.ConfirmFailure) int {
	switch cf.Kind {
	case service.FailureCapacityOutOfBounds:
		return 20005
	case service.FailureMarginRegressed:
		return 20006
	default:
		return 20007
	}
}
