package dto

import (
	"github.com/shopspring/decimal"

	"mvalley/backend/internal/model"
)

// ── 分配批次 DTO ──

// 分配批次与确认请求体沿用运营前端的 camelCase 字段名

// CohortInputRequest 显式传入的需求队列
type CohortInputRequest struct {
	CohortID      string `json:"cohortId"      binding:"required,uuid"`
	CourseLevelID string `json:"courseLevelId" binding:"required,uuid"`
	StudentCount  int    `json:"studentCount"  binding:"min=0"`
}

// CreateRunRequest 创建分配批次请求；cohorts 为空时读取当前活跃需求
type CreateRunRequest struct {
	FromDate string               `json:"fromDate" binding:"required,datetime=2006-01-02"`
	ToDate   string               `json:"toDate"   binding:"required,datetime=2006-01-02"`
	Notes    string               `json:"notes"    binding:"max=1000"`
	Cohorts  []CohortInputRequest `json:"cohorts"  binding:"omitempty,dive"`
}

// AllocationRunResponse 分配批次响应
type AllocationRunResponse struct {
	ID                  string              `json:"id"`
	Status              string              `json:"status"`
	FromDate            string              `json:"from_date"`
	ToDate              string              `json:"to_date"`
	Notes               string              `json:"notes,omitempty"`
	Error               *string             `json:"error,omitempty"`
	Cohorts             []model.CohortInput `json:"cohorts"`
	CandidateGroupCount int                 `json:"candidate_group_count"`
	CreatedBy           *string             `json:"created_by,omitempty"`
	StartedAt           *string             `json:"started_at,omitempty"`
	FinishedAt          *string             `json:"finished_at,omitempty"`
	CreatedAt           string              `json:"created_at"`
}

// ── 候选班组 DTO ──

// UpdateCandidateGroupStatusRequest 暂挂 / 驳回请求
type UpdateCandidateGroupStatusRequest struct {
	Action string `json:"action" binding:"required,oneof=hold reject"`
	Reason string `json:"reason" binding:"required,max=500"`
}

// ConfirmCandidateGroupRequest 确认请求；instructorId / roomId 非空即视为改派
type ConfirmCandidateGroupRequest struct {
	Reason       string  `json:"reason"       binding:"required,max=500"`
	InstructorID *string `json:"instructorId" binding:"omitempty,uuid"`
	RoomID       *string `json:"roomId"       binding:"omitempty,uuid"`
}

// CandidateGroupResponse 候选班组响应
type CandidateGroupResponse struct {
	ID              string            `json:"id"`
	RunID           string            `json:"run_id"`
	SlotID          string            `json:"slot_id"`
	CohortID        string            `json:"cohort_id"`
	Sequence        int               `json:"sequence"`
	Name            string            `json:"name"`
	Status          string            `json:"status"`
	BlockReason     *string           `json:"block_reason,omitempty"`
	CourseLevelID   string            `json:"course_level_id"`
	InstructorID    string            `json:"instructor_id"`
	RoomID          string            `json:"room_id"`
	StudentCount    int               `json:"student_count"`
	MinCapacity     int               `json:"min_capacity"`
	MaxCapacity     int               `json:"max_capacity"`
	ExpectedRevenue decimal.Decimal   `json:"expected_revenue"`
	ExpectedCost    decimal.Decimal   `json:"expected_cost"`
	ExpectedMargin  decimal.Decimal   `json:"expected_margin"`
	Currency        string            `json:"currency"`
	DayOfWeek       int               `json:"day_of_week"`
	StartTime       string            `json:"start_time"`
	EndTime         string            `json:"end_time"`
	StartDate       string            `json:"start_date"`
	EndDate         *string           `json:"end_date,omitempty"`
	Explanation     model.Explanation `json:"explanation"`
	ConfirmedAt     *string           `json:"confirmed_at,omitempty"`
	ConfirmedBy     *string           `json:"confirmed_by,omitempty"`
	Version         int               `json:"version"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
}

// TransitionResponse 状态流转记录响应
type TransitionResponse struct {
	ID           string  `json:"id"`
	GroupID      string  `json:"group_id"`
	FromStatus   string  `json:"from_status"`
	ToStatus     string  `json:"to_status"`
	Action       string  `json:"action"`
	Reason       string  `json:"reason"`
	OperatorID   string  `json:"operator_id"`
	InstructorID *string `json:"instructor_id,omitempty"`
	RoomID       *string `json:"room_id,omitempty"`
	CreatedAt    string  `json:"created_at"`
}
