package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 教学时段状态
const (
	SlotStatusOpen     = "open"
	SlotStatusReserved = "reserved"
	SlotStatusOccupied = "occupied"
	SlotStatusInactive = "inactive"
)

// TeachingSlot 教学时段 — 对应 teaching_slots
// 由 Ops 声明的开班容量单元：固定讲师 + 教室 + 每周某天的时间窗
type TeachingSlot struct {
	SlotID              string          `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"slot_id"`
	CourseLevelID       string          `gorm:"type:uuid;not null"                             json:"course_level_id"`
	InstructorID        string          `gorm:"type:uuid;not null"                             json:"instructor_id"`
	RoomID              string          `gorm:"type:uuid;not null"                             json:"room_id"`
	DayOfWeek           int             `gorm:"type:smallint;not null"                         json:"day_of_week"` // 0=周日 … 6=周六
	StartTime           string          `gorm:"type:varchar(5);not null"                       json:"start_time"`  // "HH:MM"
	EndTime             string          `gorm:"type:varchar(5);not null"                       json:"end_time"`
	EffectiveFrom       *time.Time      `gorm:"type:date"                                      json:"effective_from,omitempty"`
	EffectiveTo         *time.Time      `gorm:"type:date"                                      json:"effective_to,omitempty"`
	MinCapacity         int             `gorm:"not null"                                       json:"min_capacity"`
	MaxCapacity         int             `gorm:"not null"                                       json:"max_capacity"`
	PlannedSessions     int             `gorm:"not null"                                       json:"planned_sessions"`
	SessionDurationMins int             `gorm:"not null"                                       json:"session_duration_mins"`
	PricePerStudent     decimal.Decimal `gorm:"type:numeric(14,2);not null"                    json:"price_per_student"`
	MinMarginPct        decimal.Decimal `gorm:"type:numeric(5,4);not null"                     json:"min_margin_pct"`
	Currency            string          `gorm:"type:char(3);not null;default:'EGP'"            json:"currency"`
	Status              string          `gorm:"type:varchar(20);not null;default:'open'"       json:"status"`
	CurrentGroupID      *string         `gorm:"type:uuid"                                      json:"current_group_id,omitempty"`
	DeleteReason        string          `gorm:"type:varchar(500)"                              json:"delete_reason,omitempty"`
	VersionedModel
}

func (TeachingSlot) TableName() string { return "teaching_slots" }
