package repository

import (
	"context"

	"gorm.io/gorm"

	"mvalley/backend/internal/model"
)

// 上游协作数据的只读访问：课程级别、讲师、计费模型、教室、需求队列

// CourseLevelRepository 课程级别数据访问接口
type CourseLevelRepository interface {
	GetByID(ctx context.Context, id string) (*model.CourseLevel, error)
	ListByIDs(ctx context.Context, ids []string) ([]model.CourseLevel, error)
}

// InstructorRepository 讲师数据访问接口
type InstructorRepository interface {
	GetByID(ctx context.Context, id string) (*model.Instructor, error)
}

// FeeModelRepository 讲师计费模型数据访问接口
type FeeModelRepository interface {
	ListByInstructor(ctx context.Context, instructorID string) ([]model.InstructorFeeModel, error)
}

// RoomRepository 教室数据访问接口
type RoomRepository interface {
	GetByID(ctx context.Context, id string) (*model.Room, error)
}

// DemandCohortRepository 需求队列数据访问接口
type DemandCohortRepository interface {
	GetByID(ctx context.Context, id string) (*model.DemandCohort, error)
	ListActive(ctx context.Context) ([]model.DemandCohort, error)
}

// ── CourseLevel ──

type courseLevelRepo struct {
	db *gorm.DB
}

func NewCourseLevelRepo(db *gorm.DB) CourseLevelRepository {
	return &courseLevelRepo{db: db}
}

func (r *courseLevelRepo) GetByID(ctx context.Context, id string) (*model.CourseLevel, error) {
	var level model.CourseLevel
	if err := r.db.WithContext(ctx).Where("level_id = ?", id).First(&level).Error; err != nil {
		return nil, err
	}
	return &level, nil
}

func (r *courseLevelRepo) ListByIDs(ctx context.Context, ids []string) ([]model.CourseLevel, error) {
	var levels []model.CourseLevel
	if len(ids) == 0 {
		return levels, nil
	}
	err := r.db.WithContext(ctx).Where("level_id IN ?", ids).Find(&levels).Error
	return levels, err
}

// ── Instructor ──

type instructorRepo struct {
	db *gorm.DB
}

func NewInstructorRepo(db *gorm.DB) InstructorRepository {
	return &instructorRepo{db: db}
}

func (r *instructorRepo) GetByID(ctx context.Context, id string) (*model.Instructor, error) {
	var ins model.Instructor
	if err := r.db.WithContext(ctx).Where("instructor_id = ?", id).First(&ins).Error; err != nil {
		return nil, err
	}
	return &ins, nil
}

// ── FeeModel ──

type feeModelRepo struct {
	db *gorm.DB
}

func NewFeeModelRepo(db *gorm.DB) FeeModelRepository {
	return &feeModelRepo{db: db}
}

func (r *feeModelRepo) ListByInstructor(ctx context.Context, instructorID string) ([]model.InstructorFeeModel, error) {
	var list []model.InstructorFeeModel
	err := r.db.WithContext(ctx).
		Where("instructor_id = ?", instructorID).
		Order("effective_from DESC, fee_model_id ASC").
		Find(&list).Error
	return list, err
}

// ── Room ──

type roomRepo struct {
	db *gorm.DB
}

func NewRoomRepo(db *gorm.DB) RoomRepository {
	return &roomRepo{db: db}
}

func (r *roomRepo) GetByID(ctx context.Context, id string) (*model.Room, error) {
	var room model.Room
	if err := r.db.WithContext(ctx).Where("room_id = ?", id).First(&room).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

// ── DemandCohort ──

type demandCohortRepo struct {
	db *gorm.DB
}

func NewDemandCohortRepo(db *gorm.DB) DemandCohortRepository {
	return &demandCohortRepo{db: db}
}

func (r *demandCohortRepo) GetByID(ctx context.Context, id string) (*model.DemandCohort, error) {
	var cohort model.DemandCohort
	if err := r.db.WithContext(ctx).Where("cohort_id = ?", id).First(&cohort).Error; err != nil {
		return nil, err
	}
	return &cohort, nil
}

func (r *demandCohortRepo) ListActive(ctx context.Context) ([]model.DemandCohort, error) {
	var list []model.DemandCohort
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("cohort_id ASC").
		Find(&list).Error
	return list, err
}
