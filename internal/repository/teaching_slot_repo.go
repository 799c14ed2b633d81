package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mvalley/backend/internal/model"
	pkgerrors "mvalley/backend/pkg/errors"
)

// TeachingSlotFilter 教学时段列表筛选条件，零值字段不参与过滤
type TeachingSlotFilter struct {
	Status       string
	DayOfWeek    *int
	InstructorID string
	RoomID       string
}

// TeachingSlotRepository 教学时段数据访问接口
type TeachingSlotRepository interface {
	Create(ctx context.Context, slot *model.TeachingSlot) error
	GetByID(ctx context.Context, id string) (*model.TeachingSlot, error)
	GetByIDForUpdate(ctx context.Context, id string) (*model.TeachingSlot, error)
	List(ctx context.Context, filter TeachingSlotFilter) ([]model.TeachingSlot, error)
	// ListOpenInRange 有效期与 [from, to] 相交的 open 时段，按 (day_of_week, start_time, slot_id) 排序
	ListOpenInRange(ctx context.Context, from, to time.Time) ([]model.TeachingSlot, error)
	// ListSameDayPeers 同一天、共享讲师或教室、未停用的其他时段
	ListSameDayPeers(ctx context.Context, dayOfWeek int, instructorID, roomID, excludeID string) ([]model.TeachingSlot, error)
	Update(ctx context.Context, slot *model.TeachingSlot) error
	Delete(ctx context.Context, id, reason, deletedBy string) error
}

type teachingSlotRepo struct {
	db *gorm.DB
}

// NewTeachingSlotRepo 创建 TeachingSlotRepository 实例
func NewTeachingSlotRepo(db *gorm.DB) TeachingSlotRepository {
	return &teachingSlotRepo{db: db}
}

func (r *teachingSlotRepo) Create(ctx context.Context, slot *model.TeachingSlot) error {
	return r.db.WithContext(ctx).Create(slot).Error
}

func (r *teachingSlotRepo) GetByID(ctx context.Context, id string) (*model.TeachingSlot, error) {
	var slot model.TeachingSlot
	err := r.db.WithContext(ctx).
		Where("slot_id = ?", id).
		First(&slot).Error
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (r *teachingSlotRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.TeachingSlot, error) {
	var slot model.TeachingSlot
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("slot_id = ?", id).
		First(&slot).Error
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (r *teachingSlotRepo) List(ctx context.Context, filter TeachingSlotFilter) ([]model.TeachingSlot, error) {
	var slots []model.TeachingSlot
	db := r.db.WithContext(ctx)

	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.DayOfWeek != nil {
		db = db.Where("day_of_week = ?", *filter.DayOfWeek)
	}
	if filter.InstructorID != "" {
		db = db.Where("instructor_id = ?", filter.InstructorID)
	}
	if filter.RoomID != "" {
		db = db.Where("room_id = ?", filter.RoomID)
	}

	err := db.Order("day_of_week ASC, start_time ASC, slot_id ASC").Find(&slots).Error
	return slots, err
}

func (r *teachingSlotRepo) ListOpenInRange(ctx context.Context, from, to time.Time) ([]model.TeachingSlot, error) {
	var slots []model.TeachingSlot
	err := r.db.WithContext(ctx).
		Where("status = ?", model.SlotStatusOpen).
		Where("(effective_from IS NULL OR effective_from <= ?)", to).
		Where("(effective_to IS NULL OR effective_to >= ?)", from).
		Order("day_of_week ASC, start_time ASC, slot_id ASC").
		Find(&slots).Error
	return slots, err
}

func (r *teachingSlotRepo) ListSameDayPeers(ctx context.Context, dayOfWeek int, instructorID, roomID, excludeID string) ([]model.TeachingSlot, error) {
	var slots []model.TeachingSlot
	db := r.db.WithContext(ctx).
		Where("day_of_week = ? AND status <> ?", dayOfWeek, model.SlotStatusInactive).
		Where("(instructor_id = ? OR room_id = ?)", instructorID, roomID)
	if excludeID != "" {
		db = db.Where("slot_id <> ?", excludeID)
	}
	err := db.Order("start_time ASC").Find(&slots).Error
	return slots, err
}

func (r *teachingSlotRepo) Update(ctx context.Context, slot *model.TeachingSlot) error {
	oldVersion := slot.Version
	result := r.db.WithContext(ctx).
		Model(slot).
		Where("slot_id = ? AND version = ?", slot.SlotID, oldVersion).
		Updates(map[string]interface{}{
			"course_level_id":       slot.CourseLevelID,
			"instructor_id":         slot.InstructorID,
			"room_id":               slot.RoomID,
			"day_of_week":           slot.DayOfWeek,
			"start_time":            slot.StartTime,
			"end_time":              slot.EndTime,
			"effective_from":        slot.EffectiveFrom,
			"effective_to":          slot.EffectiveTo,
			"min_capacity":          slot.MinCapacity,
			"max_capacity":          slot.MaxCapacity,
			"planned_sessions":      slot.PlannedSessions,
			"session_duration_mins": slot.SessionDurationMins,
			"price_per_student":     slot.PricePerStudent,
			"min_margin_pct":        slot.MinMarginPct,
			"currency":              slot.Currency,
			"status":                slot.Status,
			"current_group_id":      slot.CurrentGroupID,
			"updated_by":            slot.UpdatedBy,
			"version":               oldVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	slot.Version = oldVersion + 1
	return nil
}

func (r *teachingSlotRepo) Delete(ctx context.Context, id, reason, deletedBy string) error {
	return r.db.WithContext(ctx).
		Model(&model.TeachingSlot{}).
		Where("slot_id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.SlotStatusInactive,
			"delete_reason": reason,
			"deleted_by":    deletedBy,
			"deleted_at":    gorm.Expr("NOW()"),
			"version":       gorm.Expr("version + 1"),
		}).Error
}
