package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// 候选班组状态
const (
	GroupStatusDraft     = "draft"
	GroupStatusBlocked   = "blocked"
	GroupStatusHeld      = "held"
	GroupStatusConfirmed = "confirmed"
	GroupStatusRejected  = "rejected"
)

// 阻断原因
const (
	BlockReasonMarginBelowFloor = "margin_below_floor"
	BlockReasonScheduleConflict = "schedule_conflict"
)

// 工作流动作
const (
	ActionHold    = "hold"
	ActionReject  = "reject"
	ActionConfirm = "confirm"
)

// CandidateGroup 候选班组 — 对应 candidate_groups
// 经济性字段均为推导值，生成或确认时写入，禁止手工修改
type CandidateGroup struct {
	GroupID         string                          `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"group_id"`
	RunID           string                          `gorm:"type:uuid;not null"                             json:"run_id"`
	SlotID          string                          `gorm:"type:uuid;not null"                             json:"slot_id"`
	CohortID        string                          `gorm:"type:uuid;not null"                             json:"cohort_id"`
	Sequence        int                             `gorm:"not null"                                       json:"sequence"`
	Name            string                          `gorm:"type:varchar(50);not null"                      json:"name"`
	Status          string                          `gorm:"type:varchar(20);not null"                      json:"status"`
	BlockReason     *string                         `gorm:"type:varchar(50)"                               json:"block_reason,omitempty"`
	CourseLevelID   string                          `gorm:"type:uuid;not null"                             json:"course_level_id"`
	InstructorID    string                          `gorm:"type:uuid;not null"                             json:"instructor_id"`
	RoomID          string                          `gorm:"type:uuid;not null"                             json:"room_id"`
	StudentCount    int                             `gorm:"not null"                                       json:"student_count"`
	MinCapacity     int                             `gorm:"not null"                                       json:"min_capacity"`
	MaxCapacity     int                             `gorm:"not null"                                       json:"max_capacity"`
	ExpectedRevenue decimal.Decimal                 `gorm:"type:numeric;not null"                          json:"expected_revenue"`
	ExpectedCost    decimal.Decimal                 `gorm:"type:numeric;not null"                          json:"expected_cost"`
	ExpectedMargin  decimal.Decimal                 `gorm:"type:numeric;not null"                          json:"expected_margin"`
	Currency        string                          `gorm:"type:char(3);not null"                          json:"currency"`
	DayOfWeek       int                             `gorm:"type:smallint;not null"                         json:"day_of_week"`
	StartTime       string                          `gorm:"type:varchar(5);not null"                       json:"start_time"`
	EndTime         string                          `gorm:"type:varchar(5);not null"                       json:"end_time"`
	StartDate       time.Time                       `gorm:"type:date;not null"                             json:"start_date"`
	EndDate         *time.Time                      `gorm:"type:date"                                      json:"end_date,omitempty"`
	Explanation     datatypes.JSONType[Explanation] `gorm:"type:jsonb;not null"                            json:"explanation"`
	ConfirmedAt     *time.Time                      `json:"confirmed_at,omitempty"`
	ConfirmedBy     *string                         `gorm:"type:uuid"                                      json:"confirmed_by,omitempty"`
	VersionedModel
}

func (CandidateGroup) TableName() string { return "candidate_groups" }

// ── 说明记录（explanation 列） ──

// 说明记录类型
const (
	ExplanationGeneratedOK      = "generated_ok"
	ExplanationMarginFailure    = "margin_failure"
	ExplanationScheduleConflict = "schedule_conflict"
)

// Explanation 候选班组的决策依据，运营审批前阅读的审计轨迹
// Kind 决定哪一分支有效：margin_failure 时 Conflict.Checked 为 false
type Explanation struct {
	Kind      string            `json:"kind"`
	Source    ExplanationSource `json:"source"`
	Economics EconomicsSnapshot `json:"economics"`
	Conflict  ConflictSnapshot  `json:"conflict"`
	Decision  string            `json:"decision"`
	Ops       []OperatorAction  `json:"ops,omitempty"`
}

// ExplanationSource 候选来源
type ExplanationSource struct {
	SlotID      string  `json:"slot_id"`
	CohortID    string  `json:"cohort_id"`
	CohortSize  int     `json:"cohort_size"`
	WindowStart string  `json:"window_start"`
	WindowEnd   *string `json:"window_end,omitempty"`
}

// EconomicsSnapshot 生成（或确认）时的经济性计算结果
type EconomicsSnapshot struct {
	Revenue           decimal.Decimal `json:"revenue"`
	Cost              decimal.Decimal `json:"cost"`
	Margin            decimal.Decimal `json:"margin"`
	MinMarginPct      decimal.Decimal `json:"min_margin_pct"`
	PassesMarginFloor bool            `json:"passes_margin_floor"`
	Currency          string          `json:"currency"`
	FeeModelID        string          `json:"fee_model_id"`
	FeeType           string          `json:"fee_type"`
	FeeAmount         decimal.Decimal `json:"fee_amount"`
	WindowDays        int             `json:"window_days"`
}

// ConflictSnapshot 冲突检测记录，Checked=false 表示未执行（经济性已失败）
type ConflictSnapshot struct {
	Checked             bool     `json:"checked"`
	Instructor          bool     `json:"instructor"`
	Room                bool     `json:"room"`
	ConflictingGroupIDs []string `json:"conflicting_group_ids,omitempty"`
}

// OperatorAction 运营操作记录（只追加）
// 确认操作额外记录复核时的经济性与冲突结果
type OperatorAction struct {
	Action       string             `json:"action"`
	FromStatus   string             `json:"from_status"`
	ToStatus     string             `json:"to_status"`
	Reason       string             `json:"reason"`
	OperatorID   string             `json:"operator_id"`
	Override     bool               `json:"override,omitempty"`
	InstructorID *string            `json:"instructor_id,omitempty"`
	RoomID       *string            `json:"room_id,omitempty"`
	Economics    *EconomicsSnapshot `json:"economics,omitempty"`
	Conflict     *ConflictSnapshot  `json:"conflict,omitempty"`
	At           time.Time          `json:"at"`
}

// CandidateGroupTransition 状态流转审计 — 对应 candidate_group_transitions（纯追加日志）
type CandidateGroupTransition struct {
	TransitionID string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"transition_id"`
	GroupID      string    `gorm:"type:uuid;not null"                             json:"group_id"`
	FromStatus   string    `gorm:"type:varchar(20);not null"                      json:"from_status"`
	ToStatus     string    `gorm:"type:varchar(20);not null"                      json:"to_status"`
	Action       string    `gorm:"type:varchar(20);not null"                      json:"action"`
	Reason       string    `gorm:"type:varchar(500);not null"                     json:"reason"`
	OperatorID   string    `gorm:"type:uuid;not null"                             json:"operator_id"`
	InstructorID *string   `gorm:"type:uuid"                                      json:"instructor_id,omitempty"`
	RoomID       *string   `gorm:"type:uuid"                                      json:"room_id,omitempty"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`
}

func (CandidateGroupTransition) TableName() string { return "candidate_group_transitions" }
