package service

import (
	"errors"
	"fmt"
)

// ── 分配引擎业务错误 ──

var (
	ErrRunNotFound            = errors.New("分配批次不存在")
	ErrRunNotCancellable      = errors.New("分配批次已结束，无法取消")
	ErrCandidateGroupNotFound = errors.New("候选班组不存在")
	ErrTeachingSlotNotFound   = errors.New("教学时段不存在")
	ErrSlotOccupied           = errors.New("教学时段已被占用，不可修改或删除")
	ErrSlotOverlap            = errors.New("与同一讲师或教室的其他时段时间重叠")
	ErrInvalidTransition      = errors.New("当前状态不允许该操作")
	ErrMarginRegressed        = errors.New("重新核算后毛利率低于下限")
	ErrScheduleConflict       = errors.New("讲师或教室排课冲突")
	ErrCapacityOutOfBounds    = errors.New("学生人数超出容量范围")
	ErrResourceBusy           = errors.New("资源正被其他确认操作占用，请稍后重试")
)

// errGenerationCancelled 批次被取消时写入 run.error 的文本
const errGenerationCancelled = "generation cancelled"

// ValidationError 输入或上游数据校验失败，Message 原样返回给调用方
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransitionError 非法状态流转
type TransitionError struct {
	From   string
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: status=%s action=%s", ErrInvalidTransition.Error(), e.From, e.Action)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// 确认失败类型
const (
	FailureCapacityOutOfBounds = "capacity_out_of_bounds"
	FailureMarginRegressed     = "margin_regressed"
	FailureScheduleConflict    = "schedule_conflict"
)

// ConfirmFailure 确认复核失败，携带结构化明细；候选班组保持原状
type ConfirmFailure struct {
	Kind         string          `json:"kind"`
	Message      string          `json:"message"`
	StudentCount int             `json:"student_count,omitempty"`
	MinCapacity  int             `json:"min_capacity,omitempty"`
	MaxCapacity  int             `json:"max_capacity,omitempty"`
	Economics    *Economics      `json:"economics,omitempty"`
	Conflict     *ConflictResult `json:"conflict,omitempty"`
	// SlotUnavailable 来源时段已被占用或已停用
	SlotUnavailable bool `json:"slot_unavailable,omitempty"`
}

func (e *ConfirmFailure) Error() string { return e.Message }

func (e *ConfirmFailure) Unwrap() error {
	switch e.Kind {
	case FailureCapacityOutOfBounds:
		return ErrCapacityOutOfBounds
	case FailureMarginRegressed:
		return ErrMarginRegressed
	default:
		return ErrScheduleConflict
	}
}
