package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"mvalley/backend/internal/dto"
	"mvalley/backend/internal/model"
	"mvalley/backend/internal/repository"
)

// overrideMinReasonLen 改派讲师或教室时原因的最少字符数
const overrideMinReasonLen = 5

// transitions 动作 → 允许的起始状态 → 目标状态
var transitions = map[string]map[string]string{
	model.ActionHold: {
		model.GroupStatusDraft:   model.GroupStatusHeld,
		model.GroupStatusBlocked: model.GroupStatusHeld,
	},
	model.ActionReject: {
		model.GroupStatusDraft:   model.GroupStatusRejected,
		model.GroupStatusBlocked: model.GroupStatusRejected,
		model.GroupStatusHeld:    model.GroupStatusRejected,
	},
	model.ActionConfirm: {
		model.GroupStatusDraft: model.GroupStatusConfirmed,
		model.GroupStatusHeld:  model.GroupStatusConfirmed,
	},
}

func nextStatus(from, action string) (string, error) {
	to, ok := transitions[action][from]
	if !ok {
		return "", &TransitionError{From: from, Action: action}
	}
	return to, nil
}

// WorkflowService 候选班组工作流：暂挂、驳回、确认
type WorkflowService interface {
	Hold(ctx context.Context, groupID, reason, operatorID string) (*dto.CandidateGroupResponse, error)
	Reject(ctx context.Context, groupID, reason, operatorID string) (*dto.CandidateGroupResponse, error)
	UpdateStatus(ctx context.Context, groupID string, req *dto.UpdateCandidateGroupStatusRequest, operatorID string) (*dto.CandidateGroupResponse, error)
	Confirm(ctx context.Context, groupID string, req *dto.ConfirmCandidateGroupRequest, operatorID string) (*dto.CandidateGroupResponse, error)
}

type workflowService struct {
	repo    *repository.Repository
	tx      repository.TxManager
	locker  ResourceLocker
	lockTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewWorkflowService 创建 WorkflowService 实例
func NewWorkflowService(
	repo *repository.Repository,
	tx repository.TxManager,
	locker ResourceLocker,
	lockTTL time.Duration,
	logger *zap.Logger,
) WorkflowService {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &workflowService{
		repo:    repo,
		tx:      tx,
		locker:  locker,
		lockTTL: lockTTL,
		logger:  logger,
		now:     time.Now,
	}
}

// ────────────────────── Hold / Reject ──────────────────────

func (s *workflowService) Hold(ctx context.Context, groupID, reason, operatorID string) (*dto.CandidateGroupResponse, error) {
	return s.simpleTransition(ctx, groupID, model.ActionHold, reason, operatorID)
}

func (s *workflowService) Reject(ctx context.Context, groupID, reason, operatorID string) (*dto.CandidateGroupResponse, error) {
	return s.simpleTransition(ctx, groupID, model.ActionReject, reason, operatorID)
}

func (s *workflowService) UpdateStatus(ctx context.Context, groupID string, req *dto.UpdateCandidateGroupStatusRequest, operatorID string) (*dto.CandidateGroupResponse, error) {
	switch req.Action {
	case model.ActionHold:
		return s.Hold(ctx, groupID, req.Reason, operatorID)
	case model.ActionReject:
		return s.Reject(ctx, groupID, req.Reason, operatorID)
	default:
		return nil, newValidationError("action", "不支持的操作 %q", req.Action)
	}
}

// simpleTransition 暂挂与驳回只改状态，依赖 version 乐观锁防并发覆盖
func (s *workflowService) simpleTransition(ctx context.Context, groupID, action, reason, operatorID string) (*dto.CandidateGroupResponse, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, newValidationError("reason", "操作原因不能为空")
	}

	var updated *model.CandidateGroup
	err := s.tx.WithTx(ctx, func(ctx context.Context, repo *repository.Repository) error {
		group, err := loadGroup(ctx, repo, groupID, false)
		if err != nil {
			return err
		}

		from := group.Status
		to, err := nextStatus(from, action)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		group.Status = to
		group.BlockReason = nil
		group.UpdatedBy = &operatorID
		appendOperatorAction(group, model.OperatorAction{
			Action:     action,
			FromStatus: from,
			ToStatus:   to,
			Reason:     reason,
			OperatorID: operatorID,
			At:         now,
		})

		if err := repo.CandidateGroup.Update(ctx, group); err != nil {
			return err
		}
		if err := repo.Transition.Create(ctx, &model.CandidateGroupTransition{
			GroupID:    group.GroupID,
			FromStatus: from,
			ToStatus:   to,
			Action:     action,
			Reason:     reason,
			OperatorID: operatorID,
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		updated = group
		return nil
	})
	if err != nil {
		s.logTransitionFailure(action, groupID, err)
		return nil, err
	}

	s.logger.Info("候选班组状态变更",
		zap.String("group_id", groupID),
		zap.String("action", action),
		zap.String("status", updated.Status),
		zap.String("operator_id", operatorID),
	)
	return toCandidateGroupResponse(updated), nil
}

// ────────────────────── Confirm ──────────────────────

// confirmPlan 事务外确定的确认参数（加锁键依赖最终讲师与教室）
type confirmPlan struct {
	reason       string
	instructorID string
	roomID       string
	override     bool
	operatorID   string
}

func (s *workflowService) Confirm(ctx context.Context, groupID string, req *dto.ConfirmCandidateGroupRequest, operatorID string) (*dto.CandidateGroupResponse, error) {
	group, err := loadGroup(ctx, s.repo, groupID, false)
	if err != nil {
		return nil, err
	}
	if _, err := nextStatus(group.Status, model.ActionConfirm); err != nil {
		return nil, err
	}

	plan, err := planConfirm(group, req, operatorID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, resourceKeys(plan.instructorID, plan.roomID, group.SlotID), s.lockTTL)
	if err != nil {
		s.logger.Warn("获取确认资源锁失败", zap.String("group_id", groupID), zap.Error(err))
		return nil, err
	}
	defer unlock()

	var confirmed *model.CandidateGroup
	err = s.tx.WithTx(ctx, func(ctx context.Context, repo *repository.Repository) error {
		if err := repo.Lock.AcquireXact(ctx, resourceKeys(plan.instructorID, plan.roomID, group.SlotID)...); err != nil {
			return err
		}
		g, err := s.confirmInTx(ctx, repo, groupID, plan)
		if err != nil {
			return err
		}
		confirmed = g
		return nil
	})
	if err != nil {
		s.logTransitionFailure(model.ActionConfirm, groupID, err)
		return nil, err
	}

	s.logger.Info("候选班组已确认",
		zap.String("group_id", confirmed.GroupID),
		zap.String("slot_id", confirmed.SlotID),
		zap.String("instructor_id", confirmed.InstructorID),
		zap.String("room_id", confirmed.RoomID),
		zap.Bool("override", plan.override),
		zap.String("operator_id", operatorID),
	)
	return toCandidateGroupResponse(confirmed), nil
}

func planConfirm(group *model.CandidateGroup, req *dto.ConfirmCandidateGroupRequest, operatorID string) (*confirmPlan, error) {
	plan := &confirmPlan{
		reason:       strings.TrimSpace(req.Reason),
		instructorID: group.InstructorID,
		roomID:       group.RoomID,
		operatorID:   operatorID,
	}
	if plan.reason == "" {
		return nil, newValidationError("reason", "确认原因不能为空")
	}
	if req.InstructorID != nil && *req.InstructorID != "" && *req.InstructorID != group.InstructorID {
		plan.instructorID = *req.InstructorID
		plan.override = true
	}
	if req.RoomID != nil && *req.RoomID != "" && *req.RoomID != group.RoomID {
		plan.roomID = *req.RoomID
		plan.override = true
	}
	if plan.override && len([]rune(plan.reason)) < overrideMinReasonLen {
		return nil, newValidationError("reason", "改派讲师或教室时原因不少于 %d 个字符", overrideMinReasonLen)
	}
	return plan, nil
}

// confirmInTx 在已持有资源锁的事务内完成复核与落库，任一步失败整个事务回滚
func (s *workflowService) confirmInTx(ctx context.Context, repo *repository.Repository, groupID string, plan *confirmPlan) (*model.CandidateGroup, error) {
	group, err := loadGroup(ctx, repo, groupID, true)
	if err != nil {
		return nil, err
	}
	from := group.Status
	to, err := nextStatus(from, model.ActionConfirm)
	if err != nil {
		return nil, err
	}

	// ── 1. 改派校验 ──
	if plan.instructorID != group.InstructorID {
		if err := requireActiveInstructor(ctx, repo, plan.instructorID); err != nil {
			return nil, err
		}
	}
	var overrideRoom *model.Room
	if plan.roomID != group.RoomID {
		room, err := requireActiveRoom(ctx, repo, plan.roomID)
		if err != nil {
			return nil, err
		}
		overrideRoom = room
	}

	// ── 2. 刷新人数并复核容量与经济性 ──
	studentCount := group.StudentCount
	cohort, err := repo.Cohort.GetByID(ctx, group.CohortID)
	switch {
	case err == nil:
		if cohort.IsActive {
			studentCount = cohort.StudentCount
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	if studentCount < group.MinCapacity || studentCount > group.MaxCapacity {
		return nil, &ConfirmFailure{
			Kind:         FailureCapacityOutOfBounds,
			Message:      ErrCapacityOutOfBounds.Error(),
			StudentCount: studentCount,
			MinCapacity:  group.MinCapacity,
			MaxCapacity:  group.MaxCapacity,
		}
	}
	if overrideRoom != nil && overrideRoom.Capacity < studentCount {
		return nil, &ConfirmFailure{
			Kind:         FailureCapacityOutOfBounds,
			Message:      "改派教室容量不足",
			StudentCount: studentCount,
			MinCapacity:  group.MinCapacity,
			MaxCapacity:  overrideRoom.Capacity,
		}
	}

	slot, err := repo.TeachingSlot.GetByIDForUpdate(ctx, group.SlotID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ConfirmFailure{
				Kind:            FailureScheduleConflict,
				Message:         "来源教学时段已停用",
				SlotUnavailable: true,
			}
		}
		return nil, err
	}

	windowEnd, err := confirmWindowEnd(ctx, repo, group, slot)
	if err != nil {
		return nil, err
	}
	feeModels, err := repo.FeeModel.ListByInstructor(ctx, plan.instructorID)
	if err != nil {
		return nil, err
	}
	econ, err := EvaluateEconomics(
		termsOf(slot),
		SelectFeeModel(feeModels, group.StartDate, windowEnd),
		studentCount,
		inclusiveDays(group.StartDate, windowEnd),
	)
	if err != nil {
		return nil, err
	}
	if !econ.PassesMarginFloor {
		return nil, &ConfirmFailure{
			Kind:      FailureMarginRegressed,
			Message:   ErrMarginRegressed.Error(),
			Economics: econ,
		}
	}

	// ── 3. 冲突复核 ──
	if slot.Status == model.SlotStatusOccupied || slot.Status == model.SlotStatusInactive ||
		(slot.CurrentGroupID != nil && *slot.CurrentGroupID != group.GroupID) {
		return nil, &ConfirmFailure{
			Kind:            FailureScheduleConflict,
			Message:         "来源教学时段已被占用",
			SlotUnavailable: true,
		}
	}

	q := queryForGroup(group)
	q.InstructorID, q.RoomID = plan.instructorID, plan.roomID
	conflict, err := NewConflictDetector(repo.CandidateGroup).Check(ctx, q)
	if err != nil {
		return nil, err
	}
	if conflict.HasConflict() {
		return nil, &ConfirmFailure{
			Kind:     FailureScheduleConflict,
			Message:  ErrScheduleConflict.Error() + ": " + conflict.Reason(),
			Conflict: conflict,
		}
	}

	// ── 4. 落库：班组、时段、流转记录、发件箱 ──
	now := s.now().UTC()
	econSnap := econ.snapshot()
	conflictSnap := conflict.snapshot()
	action := model.OperatorAction{
		Action:     model.ActionConfirm,
		FromStatus: from,
		ToStatus:   to,
		Reason:     plan.reason,
		OperatorID: plan.operatorID,
		Override:   plan.override,
		Economics:  &econSnap,
		Conflict:   &conflictSnap,
		At:         now,
	}
	var overrideInstructor, overrideRoomID *string
	if plan.instructorID != group.InstructorID {
		overrideInstructor = &plan.instructorID
		action.InstructorID = overrideInstructor
	}
	if plan.roomID != group.RoomID {
		overrideRoomID = &plan.roomID
		action.RoomID = overrideRoomID
	}

	group.Status = to
	group.BlockReason = nil
	group.InstructorID = plan.instructorID
	group.RoomID = plan.roomID
	group.StudentCount = studentCount
	group.ExpectedRevenue = econ.Revenue
	group.ExpectedCost = econ.Cost
	group.ExpectedMargin = econ.Margin
	group.ConfirmedAt = &now
	group.ConfirmedBy = &plan.operatorID
	group.UpdatedBy = &plan.operatorID
	appendOperatorAction(group, action)
	if err := repo.CandidateGroup.Update(ctx, group); err != nil {
		return nil, err
	}

	slot.Status = model.SlotStatusOccupied
	slot.CurrentGroupID = &group.GroupID
	slot.UpdatedBy = &plan.operatorID
	if err := repo.TeachingSlot.Update(ctx, slot); err != nil {
		return nil, err
	}

	if err := repo.Transition.Create(ctx, &model.CandidateGroupTransition{
		GroupID:      group.GroupID,
		FromStatus:   from,
		ToStatus:     to,
		Action:       model.ActionConfirm,
		Reason:       plan.reason,
		OperatorID:   plan.operatorID,
		InstructorID: overrideInstructor,
		RoomID:       overrideRoomID,
		CreatedAt:    now,
	}); err != nil {
		return nil, err
	}

	event, err := newConfirmedEvent(group)
	if err != nil {
		return nil, err
	}
	if err := repo.Outbox.Create(ctx, event); err != nil {
		return nil, err
	}

	return group, nil
}

// ── 内部辅助方法 ──

// confirmWindowEnd 计费窗口终点；开放式班组按所属批次的结束日期截断，与生成时一致
func confirmWindowEnd(ctx context.Context, repo *repository.Repository, group *model.CandidateGroup, slot *model.TeachingSlot) (time.Time, error) {
	if group.EndDate != nil {
		return *group.EndDate, nil
	}
	run, err := repo.Run.GetByID(ctx, group.RunID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, ErrRunNotFound
		}
		return time.Time{}, err
	}
	return earlierDate(run.ToDate, slot.EffectiveTo), nil
}

func loadGroup(ctx context.Context, repo *repository.Repository, groupID string, forUpdate bool) (*model.CandidateGroup, error) {
	var (
		group *model.CandidateGroup
		err   error
	)
	if forUpdate {
		group, err = repo.CandidateGroup.GetByIDForUpdate(ctx, groupID)
	} else {
		group, err = repo.CandidateGroup.GetByID(ctx, groupID)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCandidateGroupNotFound
		}
		return nil, err
	}
	return group, nil
}

func requireActiveInstructor(ctx context.Context, repo *repository.Repository, id string) error {
	ins, err := repo.Instructor.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newValidationError("instructor_id", "讲师不存在")
		}
		return err
	}
	if !ins.IsActive {
		return newValidationError("instructor_id", "讲师已停用")
	}
	return nil
}

func requireActiveRoom(ctx context.Context, repo *repository.Repository, id string) (*model.Room, error) {
	room, err := repo.Room.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newValidationError("room_id", "教室不存在")
		}
		return nil, err
	}
	if !room.IsActive {
		return nil, newValidationError("room_id", "教室已停用")
	}
	return room, nil
}

func appendOperatorAction(group *model.CandidateGroup, action model.OperatorAction) {
	exp := group.Explanation.Data()
	exp.Ops = append(exp.Ops, action)
	group.Explanation = datatypes.NewJSONType(exp)
}

// CandidateGroupConfirmedEvent candidate_group.confirmed 事件载荷
type CandidateGroupConfirmedEvent struct {
	GroupID       string  `json:"group_id"`
	RunID         string  `json:"run_id"`
	SlotID        string  `json:"slot_id"`
	Name          string  `json:"name"`
	CourseLevelID string  `json:"course_level_id"`
	InstructorID  string  `json:"instructor_id"`
	RoomID        string  `json:"room_id"`
	StudentCount  int     `json:"student_count"`
	DayOfWeek     int     `json:"day_of_week"`
	StartTime     string  `json:"start_time"`
	EndTime       string  `json:"end_time"`
	StartDate     string  `json:"start_date"`
	EndDate       *string `json:"end_date,omitempty"`
	ConfirmedBy   string  `json:"confirmed_by"`
	ConfirmedAt   string  `json:"confirmed_at"`
}

func newConfirmedEvent(group *model.CandidateGroup) (*model.OutboxEvent, error) {
	payload, err := json.Marshal(CandidateGroupConfirmedEvent{
		GroupID:       group.GroupID,
		RunID:         group.RunID,
		SlotID:        group.SlotID,
		Name:          group.Name,
		CourseLevelID: group.CourseLevelID,
		InstructorID:  group.InstructorID,
		RoomID:        group.RoomID,
		StudentCount:  group.StudentCount,
		DayOfWeek:     group.DayOfWeek,
		StartTime:     group.StartTime,
		EndTime:       group.EndTime,
		StartDate:     model.FormatDate(group.StartDate),
		EndDate:       model.FormatDatePtr(group.EndDate),
		ConfirmedBy:   *group.ConfirmedBy,
		ConfirmedAt:   formatTimestamp(*group.ConfirmedAt),
	})
	if err != nil {
		return nil, err
	}
	return &model.OutboxEvent{
		EventType:   model.EventCandidateGroupConfirmed,
		AggregateID: group.GroupID,
		Payload:     datatypes.JSON(payload),
		CreatedAt:   *group.ConfirmedAt,
	}, nil
}

func (s *workflowService) logTransitionFailure(action, groupID string, err error) {
	var (
		ve *ValidationError
		te *TransitionError
		cf *ConfirmFailure
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &te), errors.As(err, &cf),
		errors.Is(err, ErrCandidateGroupNotFound), errors.Is(err, ErrResourceBusy):
		s.logger.Info("候选班组操作被拒绝",
			zap.String("group_id", groupID),
			zap.String("action", action),
			zap.String("reason", err.Error()),
		)
	default:
		s.logger.Error("候选班组操作失败",
			zap.String("group_id", groupID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}
