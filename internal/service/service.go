package service

import (
	"go.uber.org/zap"

	"mvalley/backend/config"
	"mvalley/backend/internal/repository"
)

// Service 所有 Service 的聚合入口
type Service struct {
	TeachingSlot TeachingSlotService
	Allocation   AllocationService
	Workflow     WorkflowService
	Export       ExportService
	Calendar     CalendarService
}

// NewService 创建 Service 聚合
// locker 由调用方按部署形态选择（Redis 分布式锁或进程内锁）
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	tx repository.TxManager,
	locker ResourceLocker,
	logger *zap.Logger,
) *Service {
	generator := NewCandidateGenerator(repo, logger)
	return &Service{
		TeachingSlot: NewTeachingSlotService(repo, cfg.Allocation.DefaultCurrency, logger),
		Allocation:   NewAllocationService(cfg.Allocation, repo, generator, logger),
		Workflow:     NewWorkflowService(repo, tx, locker, cfg.Allocation.LockTTL, logger),
		Export:       NewExportService(repo, logger),
		Calendar:     NewCalendarService(repo, cfg.Allocation.Timezone, logger),
	}
}
