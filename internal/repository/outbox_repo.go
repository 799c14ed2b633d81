package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mvalley/backend/internal/model"
)

// OutboxRepository 事务性发件箱数据访问接口
type OutboxRepository interface {
	Create(ctx context.Context, event *model.OutboxEvent) error
	// ClaimUnpublished 锁定一批未投递事件（SKIP LOCKED，多实例 relay 互不阻塞），需在事务中调用
	ClaimUnpublished(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string) error
	IncrementAttempts(ctx context.Context, id string) error
}

type outboxRepo struct {
	db *gorm.DB
}

func NewOutboxRepo(db *gorm.DB) OutboxRepository {
	return &outboxRepo{db: db}
}

func (r *outboxRepo) Create(ctx context.Context, event *model.OutboxEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *outboxRepo) ClaimUnpublished(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var events []model.OutboxEvent
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("published_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *outboxRepo) MarkPublished(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("event_id = ?", id).
		Update("published_at", gorm.Expr("NOW()")).Error
}

func (r *outboxRepo) IncrementAttempts(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("event_id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}
