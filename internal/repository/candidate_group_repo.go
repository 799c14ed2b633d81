package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mvalley/backend/internal/model"
	pkgerrors "mvalley/backend/pkg/errors"
)

// ConfirmedGroupFilter 已确认班组查询条件
// InstructorID 与 RoomID 同时给出时取并集（共享任一资源即返回）
type ConfirmedGroupFilter struct {
	DayOfWeek    *int
	InstructorID string
	RoomID       string
}

// CandidateGroupRepository 候选班组数据访问接口
type CandidateGroupRepository interface {
	Create(ctx context.Context, group *model.CandidateGroup) error
	GetByID(ctx context.Context, id string) (*model.CandidateGroup, error)
	GetByIDForUpdate(ctx context.Context, id string) (*model.CandidateGroup, error)
	ListByRun(ctx context.Context, runID string) ([]model.CandidateGroup, error)
	ListConfirmed(ctx context.Context, filter ConfirmedGroupFilter) ([]model.CandidateGroup, error)
	Update(ctx context.Context, group *model.CandidateGroup) error
}

// TransitionRepository 状态流转审计数据访问接口（只追加）
type TransitionRepository interface {
	Create(ctx context.Context, t *model.CandidateGroupTransition) error
	ListByGroup(ctx context.Context, groupID string) ([]model.CandidateGroupTransition, error)
}

// ── CandidateGroup Repository 实现 ──

type candidateGroupRepo struct {
	db *gorm.DB
}

func NewCandidateGroupRepo(db *gorm.DB) CandidateGroupRepository {
	return &candidateGroupRepo{db: db}
}

func (r *candidateGroupRepo) Create(ctx context.Context, group *model.CandidateGroup) error {
	return r.db.WithContext(ctx).Create(group).Error
}

func (r *candidateGroupRepo) GetByID(ctx context.Context, id string) (*model.CandidateGroup, error) {
	var group model.CandidateGroup
	err := r.db.WithContext(ctx).
		Where("group_id = ?", id).
		First(&group).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *candidateGroupRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.CandidateGroup, error) {
	var group model.CandidateGroup
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("group_id = ?", id).
		First(&group).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *candidateGroupRepo) ListByRun(ctx context.Context, runID string) ([]model.CandidateGroup, error) {
	var groups []model.CandidateGroup
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("sequence ASC").
		Find(&groups).Error
	return groups, err
}

func (r *candidateGroupRepo) ListConfirmed(ctx context.Context, filter ConfirmedGroupFilter) ([]model.CandidateGroup, error) {
	var groups []model.CandidateGroup
	db := r.db.WithContext(ctx).Where("status = ?", model.GroupStatusConfirmed)

	if filter.DayOfWeek != nil {
		db = db.Where("day_of_week = ?", *filter.DayOfWeek)
	}
	switch {
	case filter.InstructorID != "" && filter.RoomID != "":
		db = db.Where("(instructor_id = ? OR room_id = ?)", filter.InstructorID, filter.RoomID)
	case filter.InstructorID != "":
		db = db.Where("instructor_id = ?", filter.InstructorID)
	case filter.RoomID != "":
		db = db.Where("room_id = ?", filter.RoomID)
	}

	err := db.Order("day_of_week ASC, start_time ASC, group_id ASC").Find(&groups).Error
	return groups, err
}

func (r *candidateGroupRepo) Update(ctx context.Context, group *model.CandidateGroup) error {
	oldVersion := group.Version
	result := r.db.WithContext(ctx).
		Model(group).
		Where("group_id = ? AND version = ?", group.GroupID, oldVersion).
		Updates(map[string]interface{}{
			"status":           group.Status,
			"block_reason":     group.BlockReason,
			"instructor_id":    group.InstructorID,
			"room_id":          group.RoomID,
			"student_count":    group.StudentCount,
			"expected_revenue": group.ExpectedRevenue,
			"expected_cost":    group.ExpectedCost,
			"expected_margin":  group.ExpectedMargin,
			"explanation":      group.Explanation,
			"confirmed_at":     group.ConfirmedAt,
			"confirmed_by":     group.ConfirmedBy,
			"updated_by":       group.UpdatedBy,
			"version":          oldVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	group.Version = oldVersion + 1
	return nil
}

// ── Transition Repository 实现 ──

type transitionRepo struct {
	db *gorm.DB
}

func NewTransitionRepo(db *gorm.DB) TransitionRepository {
	return &transitionRepo{db: db}
}

func (r *transitionRepo) Create(ctx context.Context, t *model.CandidateGroupTransition) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *transitionRepo) ListByGroup(ctx context.Context, groupID string) ([]model.CandidateGroupTransition, error) {
	var list []model.CandidateGroupTransition
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("created_at ASC, transition_id ASC").
		Find(&list).Error
	return list, err
}
