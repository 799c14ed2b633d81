package dto

import "github.com/shopspring/decimal"

// ── 教学时段模块 DTO ──

// CreateTeachingSlotRequest 创建教学时段请求
type CreateTeachingSlotRequest struct {
	CourseLevelID       string           `json:"course_level_id"       binding:"required,uuid"`
	InstructorID        string           `json:"instructor_id"         binding:"required,uuid"`
	RoomID              string           `json:"room_id"               binding:"required,uuid"`
	DayOfWeek           *int             `json:"day_of_week"           binding:"required,min=0,max=6"`
	StartTime           string           `json:"start_time"            binding:"required,hhmm"` // "16:00"
	EndTime             string           `json:"end_time"              binding:"required,hhmm"`
	EffectiveFrom       *string          `json:"effective_from"        binding:"omitempty,datetime=2006-01-02"`
	EffectiveTo         *string          `json:"effective_to"          binding:"omitempty,datetime=2006-01-02"`
	MinCapacity         int              `json:"min_capacity"          binding:"required,min=1"`
	MaxCapacity         int              `json:"max_capacity"          binding:"required,min=1"`
	PlannedSessions     int              `json:"planned_sessions"      binding:"required,min=1"`
	SessionDurationMins int              `json:"session_duration_mins" binding:"required,min=15"`
	PricePerStudent     *decimal.Decimal `json:"price_per_student"     binding:"required"`
	MinMarginPct        *decimal.Decimal `json:"min_margin_pct"        binding:"required"`
	Currency            string           `json:"currency"              binding:"omitempty,len=3,alpha"`
}

// UpdateTeachingSlotRequest 更新教学时段请求（仅更新非空字段）
type UpdateTeachingSlotRequest struct {
	CourseLevelID       *string          `json:"course_level_id"       binding:"omitempty,uuid"`
	InstructorID        *string          `json:"instructor_id"         binding:"omitempty,uuid"`
	RoomID              *string          `json:"room_id"               binding:"omitempty,uuid"`
	DayOfWeek           *int             `json:"day_of_week"           binding:"omitempty,min=0,max=6"`
	StartTime           *string          `json:"start_time"            binding:"omitempty,hhmm"`
	EndTime             *string          `json:"end_time"              binding:"omitempty,hhmm"`
	EffectiveFrom       *string          `json:"effective_from"        binding:"omitempty,datetime=2006-01-02"`
	EffectiveTo         *string          `json:"effective_to"          binding:"omitempty,datetime=2006-01-02"`
	MinCapacity         *int             `json:"min_capacity"          binding:"omitempty,min=1"`
	MaxCapacity         *int             `json:"max_capacity"          binding:"omitempty,min=1"`
	PlannedSessions     *int             `json:"planned_sessions"      binding:"omitempty,min=1"`
	SessionDurationMins *int             `json:"session_duration_mins" binding:"omitempty,min=15"`
	PricePerStudent     *decimal.Decimal `json:"price_per_student"`
	MinMarginPct        *decimal.Decimal `json:"min_margin_pct"`
	Currency            *string          `json:"currency"              binding:"omitempty,len=3,alpha"`
	Status              *string          `json:"status"                binding:"omitempty,oneof=open reserved"`
	Version             int              `json:"version"               binding:"required,min=1"`
}

// DeleteTeachingSlotRequest 删除教学时段请求
type DeleteTeachingSlotRequest struct {
	Reason string `json:"reason" binding:"required,min=2,max=500"`
}

// TeachingSlotListRequest 教学时段列表查询参数
type TeachingSlotListRequest struct {
	Status       string `form:"status"        binding:"omitempty,oneof=open reserved occupied inactive"`
	DayOfWeek    *int   `form:"day_of_week"   binding:"omitempty,min=0,max=6"`
	InstructorID string `form:"instructor_id" binding:"omitempty,uuid"`
	RoomID       string `form:"room_id"       binding:"omitempty,uuid"`
}

// TeachingSlotResponse 教学时段响应
type TeachingSlotResponse struct {
	ID                  string          `json:"id"`
	CourseLevelID       string          `json:"course_level_id"`
	InstructorID        string          `json:"instructor_id"`
	RoomID              string          `json:"room_id"`
	DayOfWeek           int             `json:"day_of_week"`
	StartTime           string          `json:"start_time"`
	EndTime             string          `json:"end_time"`
	EffectiveFrom       *string         `json:"effective_from,omitempty"`
	EffectiveTo         *string         `json:"effective_to,omitempty"`
	MinCapacity         int             `json:"min_capacity"`
	MaxCapacity         int             `json:"max_capacity"`
	PlannedSessions     int             `json:"planned_sessions"`
	SessionDurationMins int             `json:"session_duration_mins"`
	PricePerStudent     decimal.Decimal `json:"price_per_student"`
	MinMarginPct        decimal.Decimal `json:"min_margin_pct"`
	Currency            string          `json:"currency"`
	Status              string          `json:"status"`
	CurrentGroupID      *string         `json:"current_group_id,omitempty"`
	Version             int             `json:"version"`
	CreatedAt           string          `json:"created_at"`
	UpdatedAt           string          `json:"updated_at"`
}
