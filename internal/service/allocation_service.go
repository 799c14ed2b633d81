package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"mvalley/backend/config"
	"mvalley/backend/internal/dto"
	"mvalley/backend/internal/model"
	"mvalley/backend/internal/repository"
)

// AllocationService 分配批次编排：创建批次、驱动候选生成、查询结果
type AllocationService interface {
	CreateRun(ctx context.Context, req *dto.CreateRunRequest, callerID string) (*dto.AllocationRunResponse, error)
	GetRun(ctx context.Context, id string) (*dto.AllocationRunResponse, error)
	ListRuns(ctx context.Context, req *dto.PaginationRequest) ([]dto.AllocationRunResponse, int64, error)
	CancelRun(ctx context.Context, id string) (*dto.AllocationRunResponse, error)
	ListCandidateGroups(ctx context.Context, runID string) ([]dto.CandidateGroupResponse, error)
	GetCandidateGroup(ctx context.Context, id string) (*dto.CandidateGroupResponse, error)
	ListTransitions(ctx context.Context, groupID string) ([]dto.TransitionResponse, error)
	// Shutdown 取消所有进行中的生成任务并等待其落库结束
	Shutdown(ctx context.Context) error
}

type allocationService struct {
	repo      *repository.Repository
	generator CandidateGenerator
	cfg       config.AllocationConfig
	logger    *zap.Logger

	// 异步生成的并发上限
	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	baseCtx    context.Context
	baseCancel context.CancelFunc
	now        func() time.Time
}

// NewAllocationService 创建 AllocationService 实例
func NewAllocationService(
	cfg config.AllocationConfig,
	repo *repository.Repository,
	generator CandidateGenerator,
	logger *zap.Logger,
) AllocationService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &allocationService{
		repo:       repo,
		generator:  generator,
		cfg:        cfg,
		logger:     logger,
		sem:        make(chan struct{}, workers),
		cancels:    make(map[string]context.CancelFunc),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		now:        time.Now,
	}
}

// ────────────────────── CreateRun ──────────────────────

func (s *allocationService) CreateRun(ctx context.Context, req *dto.CreateRunRequest, callerID string) (*dto.AllocationRunResponse, error) {
	from, err := parseDate("fromDate", req.FromDate)
	if err != nil {
		return nil, err
	}
	to, err := parseDate("toDate", req.ToDate)
	if err != nil {
		return nil, err
	}
	if from.After(to) {
		return nil, newValidationError("toDate", "结束日期不能早于开始日期")
	}
	if s.cfg.MaxWindowDays > 0 && inclusiveDays(from, to) > s.cfg.MaxWindowDays {
		return nil, newValidationError("toDate", "批次日期跨度不能超过 %d 天", s.cfg.MaxWindowDays)
	}

	cohorts, err := s.resolveCohorts(ctx, req.Cohorts)
	if err != nil {
		return nil, err
	}

	run := &model.AllocationRun{
		Status:   model.RunStatusPending,
		FromDate: from,
		ToDate:   to,
		Notes:    req.Notes,
		Cohorts:  datatypes.NewJSONType(cohorts),
	}
	run.CreatedBy = &callerID
	run.UpdatedBy = &callerID

	if err := s.repo.Run.Create(ctx, run); err != nil {
		s.logger.Error("创建分配批次失败", zap.Error(err))
		return nil, err
	}
	s.logger.Info("分配批次已创建",
		zap.String("run_id", run.RunID),
		zap.String("from", req.FromDate),
		zap.String("to", req.ToDate),
		zap.Int("cohorts", len(cohorts)),
		zap.Bool("async", s.cfg.AsyncGeneration),
	)

	resp := toRunResponse(run)

	if s.cfg.AsyncGeneration {
		runCtx, cancel := s.register(run.RunID, s.baseCtx)
		pending := *run
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.unregister(run.RunID, cancel)
			select {
			case s.sem <- struct{}{}:
				defer func() { <-s.sem }()
			case <-runCtx.Done():
			}
			s.execute(runCtx, &pending, cohorts)
		}()
		return resp, nil
	}

	runCtx, cancel := s.register(run.RunID, ctx)
	defer s.unregister(run.RunID, cancel)
	s.execute(runCtx, run, cohorts)
	return toRunResponse(run), nil
}

// register 登记可取消的生成任务；服务 Shutdown 时所有任务一并取消
func (s *allocationService) register(runID string, parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.baseCtx, cancel)
	s.mu.Lock()
	s.cancels[runID] = cancel
	s.mu.Unlock()
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *allocationService) unregister(runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	delete(s.cancels, runID)
	s.mu.Unlock()
	cancel()
}

// execute 执行生成并写回批次终态；run 会被原地更新
func (s *allocationService) execute(ctx context.Context, run *model.AllocationRun, cohorts []model.CohortInput) {
	// 状态落库不受取消影响
	persistCtx := context.WithoutCancel(ctx)

	started := s.now().UTC()
	run.StartedAt = &started
	if err := s.repo.Run.UpdateProgress(persistCtx, run); err != nil {
		s.logger.Error("更新分配批次状态失败", zap.String("run_id", run.RunID), zap.Error(err))
	}

	count, genErr := s.generator.Generate(ctx, run, cohorts, func(ctx context.Context, group *model.CandidateGroup) error {
		return s.repo.CandidateGroup.Create(persistCtx, group)
	})

	finished := s.now().UTC()
	run.FinishedAt = &finished
	run.CandidateGroupCount = count
	if genErr != nil {
		msg := genErr.Error()
		if errors.Is(genErr, context.Canceled) || errors.Is(genErr, context.DeadlineExceeded) {
			msg = errGenerationCancelled
		}
		run.Status = model.RunStatusFailed
		run.Error = &msg
		s.logger.Warn("分配批次生成失败",
			zap.String("run_id", run.RunID),
			zap.Int("emitted", count),
			zap.String("error", msg),
		)
	} else {
		run.Status = model.RunStatusCompleted
		run.Error = nil
	}

	if err := s.repo.Run.UpdateProgress(persistCtx, run); err != nil {
		s.logger.Error("写回分配批次终态失败", zap.String("run_id", run.RunID), zap.Error(err))
	}
}

func (s *allocationService) resolveCohorts(ctx context.Context, req []dto.CohortInputRequest) ([]model.CohortInput, error) {
	if len(req) > 0 {
		seen := make(map[string]struct{}, len(req))
		out := make([]model.CohortInput, 0, len(req))
		for _, c := range req {
			if c.StudentCount < 0 {
				return nil, newValidationError("cohorts", "需求人数不能为负数")
			}
			if _, dup := seen[c.CohortID]; dup {
				return nil, newValidationError("cohorts", "需求队列 %s 重复", c.CohortID)
			}
			seen[c.CohortID] = struct{}{}
			out = append(out, model.CohortInput{
				CohortID:      c.CohortID,
				CourseLevelID: c.CourseLevelID,
				StudentCount:  c.StudentCount,
			})
		}
		return out, nil
	}

	active, err := s.repo.Cohort.ListActive(ctx)
	if err != nil {
		s.logger.Error("读取需求队列失败", zap.Error(err))
		return nil, err
	}
	out := make([]model.CohortInput, 0, len(active))
	for _, c := range active {
		out = append(out, model.CohortInput{
			CohortID:      c.CohortID,
			CourseLevelID: c.CourseLevelID,
			StudentCount:  c.StudentCount,
		})
	}
	return out, nil
}

// ────────────────────── 查询 ──────────────────────

func (s *allocationService) GetRun(ctx context.Context, id string) (*dto.AllocationRunResponse, error) {
	run, err := s.loadRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return toRunResponse(run), nil
}

func (s *allocationService) ListRuns(ctx context.Context, req *dto.PaginationRequest) ([]dto.AllocationRunResponse, int64, error) {
	runs, total, err := s.repo.Run.List(ctx, req.GetOffset(), req.GetPageSize())
	if err != nil {
		s.logger.Error("列出分配批次失败", zap.Error(err))
		return nil, 0, err
	}
	list := make([]dto.AllocationRunResponse, 0, len(runs))
	for i := range runs {
		list = append(list, *toRunResponse(&runs[i]))
	}
	return list, total, nil
}

func (s *allocationService) ListCandidateGroups(ctx context.Context, runID string) ([]dto.CandidateGroupResponse, error) {
	if _, err := s.loadRun(ctx, runID); err != nil {
		return nil, err
	}
	groups, err := s.repo.CandidateGroup.ListByRun(ctx, runID)
	if err != nil {
		s.logger.Error("列出候选班组失败", zap.String("run_id", runID), zap.Error(err))
		return nil, err
	}
	list := make([]dto.CandidateGroupResponse, 0, len(groups))
	for i := range groups {
		list = append(list, *toCandidateGroupResponse(&groups[i]))
	}
	return list, nil
}

func (s *allocationService) GetCandidateGroup(ctx context.Context, id string) (*dto.CandidateGroupResponse, error) {
	group, err := loadGroup(ctx, s.repo, id, false)
	if err != nil {
		return nil, err
	}
	return toCandidateGroupResponse(group), nil
}

func (s *allocationService) ListTransitions(ctx context.Context, groupID string) ([]dto.TransitionResponse, error) {
	if _, err := loadGroup(ctx, s.repo, groupID, false); err != nil {
		return nil, err
	}
	items, err := s.repo.Transition.ListByGroup(ctx, groupID)
	if err != nil {
		s.logger.Error("列出状态流转记录失败", zap.String("group_id", groupID), zap.Error(err))
		return nil, err
	}
	list := make([]dto.TransitionResponse, 0, len(items))
	for i := range items {
		list = append(list, toTransitionResponse(&items[i]))
	}
	return list, nil
}

// ────────────────────── CancelRun ──────────────────────

func (s *allocationService) CancelRun(ctx context.Context, id string) (*dto.AllocationRunResponse, error) {
	run, err := s.loadRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != model.RunStatusPending {
		return nil, ErrRunNotCancellable
	}

	s.mu.Lock()
	cancel, inFlight := s.cancels[id]
	s.mu.Unlock()

	if inFlight {
		cancel()
		s.logger.Info("已请求取消分配批次", zap.String("run_id", id))
		return toRunResponse(run), nil
	}

	// 无进行中的任务（如进程重启遗留的 pending 批次），直接标记失败
	msg := errGenerationCancelled
	finished := s.now().UTC()
	run.Status = model.RunStatusFailed
	run.Error = &msg
	run.FinishedAt = &finished
	if err := s.repo.Run.UpdateProgress(ctx, run); err != nil {
		s.logger.Error("取消分配批次失败", zap.String("run_id", id), zap.Error(err))
		return nil, err
	}
	return toRunResponse(run), nil
}

// ────────────────────── Shutdown ──────────────────────

func (s *allocationService) Shutdown(ctx context.Context) error {
	s.baseCancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *allocationService) loadRun(ctx context.Context, id string) (*model.AllocationRun, error) {
	run, err := s.repo.Run.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		s.logger.Error("查询分配批次失败", zap.String("run_id", id), zap.Error(err))
		return nil, err
	}
	return run, nil
}
