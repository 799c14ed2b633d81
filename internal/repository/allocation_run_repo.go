package repository

import (
	"context"

	"gorm.io/gorm"

	"mvalley/backend/internal/model"
)

// AllocationRunRepository 分配批次数据访问接口
type AllocationRunRepository interface {
	Create(ctx context.Context, run *model.AllocationRun) error
	GetByID(ctx context.Context, id string) (*model.AllocationRun, error)
	List(ctx context.Context, offset, limit int) ([]model.AllocationRun, int64, error)
	// UpdateProgress 只更新状态相关字段（status / error / 计数 / 时间戳）
	UpdateProgress(ctx context.Context, run *model.AllocationRun) error
}

type allocationRunRepo struct {
	db *gorm.DB
}

func NewAllocationRunRepo(db *gorm.DB) AllocationRunRepository {
	return &allocationRunRepo{db: db}
}

func (r *allocationRunRepo) Create(ctx context.Context, run *model.AllocationRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *allocationRunRepo) GetByID(ctx context.Context, id string) (*model.AllocationRun, error) {
	var run model.AllocationRun
	err := r.db.WithContext(ctx).
		Where("run_id = ?", id).
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *allocationRunRepo) List(ctx context.Context, offset, limit int) ([]model.AllocationRun, int64, error) {
	var (
		runs  []model.AllocationRun
		total int64
	)
	db := r.db.WithContext(ctx).Model(&model.AllocationRun{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("created_at DESC, run_id DESC").
		Offset(offset).Limit(limit).
		Find(&runs).Error
	return runs, total, err
}

func (r *allocationRunRepo) UpdateProgress(ctx context.Context, run *model.AllocationRun) error {
	return r.db.WithContext(ctx).
		Model(&model.AllocationRun{}).
		Where("run_id = ?", run.RunID).
		Updates(map[string]interface{}{
			"status":                run.Status,
			"error":                 run.Error,
			"candidate_group_count": run.CandidateGroupCount,
			"started_at":            run.StartedAt,
			"finished_at":           run.FinishedAt,
			"updated_at":            gorm.Expr("NOW()"),
		}).Error
}
