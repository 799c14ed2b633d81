package model

import (
	"time"

	"gorm.io/datatypes"
)

// 分配批次状态
const (
	RunStatusPending   = "pending"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// CohortInput 批次使用的需求快照（请求显式传入或从 demand_cohorts 读取）
type CohortInput struct {
	CohortID      string `json:"cohort_id"`
	CourseLevelID string `json:"course_level_id"`
	StudentCount  int    `json:"student_count"`
}

// AllocationRun 分配批次 — 对应 allocation_runs
type AllocationRun struct {
	RunID               string                            `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"run_id"`
	Status              string                            `gorm:"type:varchar(20);not null;default:'pending'"    json:"status"` // pending | completed | failed
	FromDate            time.Time                         `gorm:"type:date;not null"                             json:"from_date"`
	ToDate              time.Time                         `gorm:"type:date;not null"                             json:"to_date"`
	Notes               string                            `gorm:"type:varchar(1000)"                             json:"notes,omitempty"`
	Error               *string                           `gorm:"type:text"                                      json:"error,omitempty"`
	Cohorts             datatypes.JSONType[[]CohortInput] `gorm:"type:jsonb;not null"                            json:"cohorts"`
	CandidateGroupCount int                               `gorm:"not null;default:0"                             json:"candidate_group_count"`
	StartedAt           *time.Time                        `json:"started_at,omitempty"`
	FinishedAt          *time.Time                        `json:"finished_at,omitempty"`
	BaseModel
}

func (AllocationRun) TableName() string { return "allocation_runs" }
