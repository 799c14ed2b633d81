package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 上游协作数据：课程级别、讲师及其计费模型、教室、需求队列。
// 分配引擎只读取这些表，写入由 Ops / HR / 销售管线负责。

// CourseLevel 课程级别 — 对应 course_levels
type CourseLevel struct {
	LevelID    string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"level_id"`
	CourseName string `gorm:"type:varchar(100);not null"                     json:"course_name"`
	SortOrder  int    `gorm:"type:smallint;not null;default:1"               json:"sort_order"`
	BaseModel
}

func (CourseLevel) TableName() string { return "course_levels" }

// Instructor 讲师 — 对应 instructors
type Instructor struct {
	InstructorID string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"instructor_id"`
	Name         string `gorm:"type:varchar(100);not null"                     json:"name"`
	Email        string `gorm:"type:varchar(150)"                              json:"email,omitempty"`
	IsActive     bool   `gorm:"not null;default:true"                          json:"is_active"`
	SoftDeleteModel
}

func (Instructor) TableName() string { return "instructors" }

// 讲师计费方式
const (
	FeeTypeHourly     = "hourly"
	FeeTypeMonthly    = "monthly"
	FeeTypePerSession = "per_session"
)

// InstructorFeeModel 讲师计费模型 — 对应 instructor_fee_models（带生效区间）
type InstructorFeeModel struct {
	FeeModelID    string          `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"fee_model_id"`
	InstructorID  string          `gorm:"type:uuid;not null"                             json:"instructor_id"`
	FeeType       string          `gorm:"type:varchar(20);not null"                      json:"fee_type"` // hourly | monthly | per_session
	Amount        decimal.Decimal `gorm:"type:numeric(14,2);not null"                    json:"amount"`
	Currency      string          `gorm:"type:char(3);not null;default:'EGP'"            json:"currency"`
	EffectiveFrom time.Time       `gorm:"type:date;not null"                             json:"effective_from"`
	EffectiveTo   *time.Time      `gorm:"type:date"                                      json:"effective_to,omitempty"`
	SoftDeleteModel
}

func (InstructorFeeModel) TableName() string { return "instructor_fee_models" }

// EffectiveOn 计费模型在指定日期是否生效（闭区间，EffectiveTo 为空表示长期有效）
func (f *InstructorFeeModel) EffectiveOn(day time.Time) bool {
	if day.Before(f.EffectiveFrom) {
		return false
	}
	return f.EffectiveTo == nil || !day.After(*f.EffectiveTo)
}

// Room 教室 — 对应 rooms
type Room struct {
	RoomID   string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"room_id"`
	Name     string `gorm:"type:varchar(100);not null"                     json:"name"`
	Capacity int    `gorm:"not null"                                       json:"capacity"`
	IsActive bool   `gorm:"not null;default:true"                          json:"is_active"`
	SoftDeleteModel
}

func (Room) TableName() string { return "rooms" }

// DemandCohort 需求队列 — 对应 demand_cohorts（某课程级别等待开班的学生数）
type DemandCohort struct {
	CohortID      string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"cohort_id"`
	CourseLevelID string `gorm:"type:uuid;not null"                             json:"course_level_id"`
	Name          string `gorm:"type:varchar(100);not null;default:''"          json:"name"`
	StudentCount  int    `gorm:"not null"                                       json:"student_count"`
	IsActive      bool   `gorm:"not null;default:true"                          json:"is_active"`
	BaseModel
}

func (DemandCohort) TableName() string { return "demand_cohorts" }
