package repository

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	pkgerrors "mvalley/backend/pkg/errors"
)

// Repository 所有 Repository 的聚合入口
type Repository struct {
	TeachingSlot   TeachingSlotRepository
	Run            AllocationRunRepository
	CandidateGroup CandidateGroupRepository
	Transition     TransitionRepository
	CourseLevel    CourseLevelRepository
	Instructor     InstructorRepository
	FeeModel       FeeModelRepository
	Room           RoomRepository
	Cohort         DemandCohortRepository
	Outbox         OutboxRepository
	Lock           AdvisoryLockRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		TeachingSlot:   NewTeachingSlotRepo(db),
		Run:            NewAllocationRunRepo(db),
		CandidateGroup: NewCandidateGroupRepo(db),
		Transition:     NewTransitionRepo(db),
		CourseLevel:    NewCourseLevelRepo(db),
		Instructor:     NewInstructorRepo(db),
		FeeModel:       NewFeeModelRepo(db),
		Room:           NewRoomRepo(db),
		Cohort:         NewDemandCohortRepo(db),
		Outbox:         NewOutboxRepo(db),
		Lock:           NewAdvisoryLockRepo(db),
	}
}

// ── 事务管理 ──

// TxManager 在单个数据库事务内执行回调，回调拿到的 Repository 全部绑定到该事务
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo *Repository) error) error
}

type gormTxManager struct {
	db *gorm.DB
}

// NewTxManager 创建 TxManager，事务使用 SERIALIZABLE 隔离级别
func NewTxManager(db *gorm.DB) TxManager {
	return &gormTxManager{db: db}
}

func (m *gormTxManager) WithTx(ctx context.Context, fn func(ctx context.Context, repo *Repository) error) error {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewRepository(tx))
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	return pkgerrors.TranslateConcurrency(err)
}

// ── 事务级咨询锁 ──

// AdvisoryLockRepository PostgreSQL 事务级咨询锁，事务结束自动释放
type AdvisoryLockRepository interface {
	// AcquireXact 按传入顺序依次加锁，调用方负责保证顺序一致以避免死锁
	AcquireXact(ctx context.Context, keys ...string) error
}

type advisoryLockRepo struct {
	db *gorm.DB
}

func NewAdvisoryLockRepo(db *gorm.DB) AdvisoryLockRepository {
	return &advisoryLockRepo{db: db}
}

func (r *advisoryLockRepo) AcquireXact(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := r.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
			return err
		}
	}
	return nil
}
