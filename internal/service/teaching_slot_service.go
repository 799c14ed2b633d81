package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mvalley/backend/internal/dto"
	"mvalley/backend/internal/model"
	"mvalley/backend/internal/repository"
	pkgerrors "mvalley/backend/pkg/errors"
)

// TeachingSlotService 教学时段业务接口
type TeachingSlotService interface {
	Create(ctx context.Context, req *dto.CreateTeachingSlotRequest, callerID string) (*dto.TeachingSlotResponse, error)
	GetByID(ctx context.Context, id string) (*dto.TeachingSlotResponse, error)
	List(ctx context.Context, req *dto.TeachingSlotListRequest) ([]dto.TeachingSlotResponse, error)
	Update(ctx context.Context, id string, req *dto.UpdateTeachingSlotRequest, callerID string) (*dto.TeachingSlotResponse, error)
	Delete(ctx context.Context, id, reason, callerID string) error
}

type teachingSlotService struct {
	repo            *repository.Repository
	defaultCurrency string
	logger          *zap.Logger
}

// NewTeachingSlotService 创建 TeachingSlotService 实例
func NewTeachingSlotService(repo *repository.Repository, defaultCurrency string, logger *zap.Logger) TeachingSlotService {
	if defaultCurrency == "" {
		defaultCurrency = "EGP"
	}
	return &teachingSlotService{repo: repo, defaultCurrency: defaultCurrency, logger: logger}
}

// ────────────────────── Create ──────────────────────

func (s *teachingSlotService) Create(ctx context.Context, req *dto.CreateTeachingSlotRequest, callerID string) (*dto.TeachingSlotResponse, error) {
	effFrom, err := parseDatePtr("effective_from", req.EffectiveFrom)
	if err != nil {
		return nil, err
	}
	effTo, err := parseDatePtr("effective_to", req.EffectiveTo)
	if err != nil {
		return nil, err
	}

	slot := &model.TeachingSlot{
		CourseLevelID:       req.CourseLevelID,
		InstructorID:        req.InstructorID,
		RoomID:              req.RoomID,
		StartTime:           req.StartTime,
		EndTime:             req.EndTime,
		EffectiveFrom:       effFrom,
		EffectiveTo:         effTo,
		MinCapacity:         req.MinCapacity,
		MaxCapacity:         req.MaxCapacity,
		PlannedSessions:     req.PlannedSessions,
		SessionDurationMins: req.SessionDurationMins,
		Currency:            strings.ToUpper(req.Currency),
		Status:              model.SlotStatusOpen,
	}
	slot.DayOfWeek = -1
	if req.DayOfWeek != nil {
		slot.DayOfWeek = *req.DayOfWeek
	}
	if req.PricePerStudent != nil {
		slot.PricePerStudent = *req.PricePerStudent
	}
	if req.MinMarginPct != nil {
		slot.MinMarginPct = *req.MinMarginPct
	}
	if slot.Currency == "" {
		slot.Currency = s.defaultCurrency
	}
	slot.CreatedBy = &callerID
	slot.UpdatedBy = &callerID

	if err := ValidateTeachingSlot(slot); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, slot); err != nil {
		return nil, err
	}
	if err := s.checkOverlap(ctx, slot); err != nil {
		return nil, err
	}

	if err := s.repo.TeachingSlot.Create(ctx, slot); err != nil {
		s.logger.Error("创建教学时段失败", zap.Error(err))
		return nil, err
	}

	return toTeachingSlotResponse(slot), nil
}

// ────────────────────── GetByID ──────────────────────

func (s *teachingSlotService) GetByID(ctx context.Context, id string) (*dto.TeachingSlotResponse, error) {
	slot, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return toTeachingSlotResponse(slot), nil
}

// ────────────────────── List ──────────────────────

func (s *teachingSlotService) List(ctx context.Context, req *dto.TeachingSlotListRequest) ([]dto.TeachingSlotResponse, error) {
	slots, err := s.repo.TeachingSlot.List(ctx, repository.TeachingSlotFilter{
		Status:       req.Status,
		DayOfWeek:    req.DayOfWeek,
		InstructorID: req.InstructorID,
		RoomID:       req.RoomID,
	})
	if err != nil {
		s.logger.Error("列出教学时段失败", zap.Error(err))
		return nil, err
	}

	result := make([]dto.TeachingSlotResponse, 0, len(slots))
	for i := range slots {
		result = append(result, *toTeachingSlotResponse(&slots[i]))
	}
	return result, nil
}

// ────────────────────── Update ──────────────────────

func (s *teachingSlotService) Update(ctx context.Context, id string, req *dto.UpdateTeachingSlotRequest, callerID string) (*dto.TeachingSlotResponse, error) {
	slot, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if slot.Status == model.SlotStatusOccupied {
		return nil, ErrSlotOccupied
	}
	if req.Version != slot.Version {
		return nil, pkgerrors.ErrOptimisticLock
	}

	if err := applySlotUpdate(slot, req); err != nil {
		return nil, err
	}
	slot.UpdatedBy = &callerID

	if err := ValidateTeachingSlot(slot); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, slot); err != nil {
		return nil, err
	}
	if err := s.checkOverlap(ctx, slot); err != nil {
		return nil, err
	}

	if err := s.repo.TeachingSlot.Update(ctx, slot); err != nil {
		s.logger.Error("更新教学时段失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}

	return toTeachingSlotResponse(slot), nil
}

func applySlotUpdate(slot *model.TeachingSlot, req *dto.UpdateTeachingSlotRequest) error {
	if req.CourseLevelID != nil {
		slot.CourseLevelID = *req.CourseLevelID
	}
	if req.InstructorID != nil {
		slot.InstructorID = *req.InstructorID
	}
	if req.RoomID != nil {
		slot.RoomID = *req.RoomID
	}
	if req.DayOfWeek != nil {
		slot.DayOfWeek = *req.DayOfWeek
	}
	if req.StartTime != nil {
		slot.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		slot.EndTime = *req.EndTime
	}
	if req.EffectiveFrom != nil {
		t, err := parseDatePtr("effective_from", req.EffectiveFrom)
		if err != nil {
			return err
		}
		slot.EffectiveFrom = t
	}
	if req.EffectiveTo != nil {
		t, err := parseDatePtr("effective_to", req.EffectiveTo)
		if err != nil {
			return err
		}
		slot.EffectiveTo = t
	}
	if req.MinCapacity != nil {
		slot.MinCapacity = *req.MinCapacity
	}
	if req.MaxCapacity != nil {
		slot.MaxCapacity = *req.MaxCapacity
	}
	if req.PlannedSessions != nil {
		slot.PlannedSessions = *req.PlannedSessions
	}
	if req.SessionDurationMins != nil {
		slot.SessionDurationMins = *req.SessionDurationMins
	}
	if req.PricePerStudent != nil {
		slot.PricePerStudent = *req.PricePerStudent
	}
	if req.MinMarginPct != nil {
		slot.MinMarginPct = *req.MinMarginPct
	}
	if req.Currency != nil {
		slot.Currency = strings.ToUpper(*req.Currency)
	}
	if req.Status != nil {
		slot.Status = *req.Status
	}
	return nil
}

// ────────────────────── Delete ──────────────────────

func (s *teachingSlotService) Delete(ctx context.Context, id, reason, callerID string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return newValidationError("reason", "删除原因不能为空")
	}

	slot, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if slot.Status == model.SlotStatusOccupied {
		return ErrSlotOccupied
	}

	if err := s.repo.TeachingSlot.Delete(ctx, id, reason, callerID); err != nil {
		s.logger.Error("删除教学时段失败", zap.String("id", id), zap.Error(err))
		return err
	}
	s.logger.Info("教学时段已删除", zap.String("id", id), zap.String("reason", reason))
	return nil
}

// ── 校验 ──

var decimalOne = decimal.NewFromInt(1)

// ValidateTeachingSlot 校验时段字段本身的合法性（不访问存储）
func ValidateTeachingSlot(slot *model.TeachingSlot) error {
	if slot.DayOfWeek < 0 || slot.DayOfWeek > 6 {
		return newValidationError("day_of_week", "星期取值应为 0-6（0 为周日）")
	}
	if !IsHHMM(slot.StartTime) {
		return newValidationError("start_time", "时间格式应为 HH:MM")
	}
	if !IsHHMM(slot.EndTime) {
		return newValidationError("end_time", "时间格式应为 HH:MM")
	}
	if minutesOf(slot.StartTime) >= minutesOf(slot.EndTime) {
		return newValidationError("end_time", "结束时间必须晚于开始时间")
	}
	if slot.MinCapacity < 1 {
		return newValidationError("min_capacity", "最小容量不能小于 1")
	}
	if slot.MinCapacity > slot.MaxCapacity {
		return newValidationError("max_capacity", "最小容量不能大于最大容量")
	}
	if slot.PlannedSessions < 1 {
		return newValidationError("planned_sessions", "计划课次不能小于 1")
	}
	if slot.SessionDurationMins < 15 {
		return newValidationError("session_duration_mins", "单次课时长不能少于 15 分钟")
	}
	if slot.PricePerStudent.IsNegative() {
		return newValidationError("price_per_student", "单价不能为负数")
	}
	if slot.MinMarginPct.IsNegative() || slot.MinMarginPct.GreaterThan(decimalOne) {
		return newValidationError("min_margin_pct", "毛利率下限应在 0 到 1 之间")
	}
	if len(slot.Currency) != 3 || strings.ToUpper(slot.Currency) != slot.Currency {
		return newValidationError("currency", "币种应为 3 位大写 ISO-4217 代码")
	}
	if slot.EffectiveFrom != nil && slot.EffectiveTo != nil && slot.EffectiveFrom.After(*slot.EffectiveTo) {
		return newValidationError("effective_to", "生效结束日期不能早于开始日期")
	}
	switch slot.Status {
	case model.SlotStatusOpen, model.SlotStatusReserved, model.SlotStatusOccupied, model.SlotStatusInactive:
	default:
		return newValidationError("status", "无效的时段状态 %q", slot.Status)
	}
	return nil
}

func (s *teachingSlotService) checkReferences(ctx context.Context, slot *model.TeachingSlot) error {
	if _, err := s.repo.CourseLevel.GetByID(ctx, slot.CourseLevelID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newValidationError("course_level_id", "课程级别不存在")
		}
		return err
	}
	if err := requireActiveInstructor(ctx, s.repo, slot.InstructorID); err != nil {
		return err
	}
	if _, err := requireActiveRoom(ctx, s.repo, slot.RoomID); err != nil {
		return err
	}
	return nil
}

// checkOverlap 同一讲师或教室在同一天、有效期相交的时段不能时间重叠
func (s *teachingSlotService) checkOverlap(ctx context.Context, slot *model.TeachingSlot) error {
	peers, err := s.repo.TeachingSlot.ListSameDayPeers(ctx, slot.DayOfWeek, slot.InstructorID, slot.RoomID, slot.SlotID)
	if err != nil {
		s.logger.Error("查询同日时段失败", zap.Error(err))
		return err
	}
	if other := findOverlappingSlot(slot, peers); other != nil {
		s.logger.Info("教学时段时间重叠",
			zap.String("slot_id", slot.SlotID),
			zap.String("conflicting_slot_id", other.SlotID),
		)
		return ErrSlotOverlap
	}
	return nil
}

func findOverlappingSlot(slot *model.TeachingSlot, peers []model.TeachingSlot) *model.TeachingSlot {
	for i := range peers {
		p := &peers[i]
		if p.SlotID == slot.SlotID && slot.SlotID != "" {
			continue
		}
		if p.Status == model.SlotStatusInactive || p.DayOfWeek != slot.DayOfWeek {
			continue
		}
		if p.InstructorID != slot.InstructorID && p.RoomID != slot.RoomID {
			continue
		}
		if !intervalsOverlap(slot.StartTime, slot.EndTime, p.StartTime, p.EndTime) {
			continue
		}
		if !dateRangesIntersect(slot.EffectiveFrom, slot.EffectiveTo, p.EffectiveFrom, p.EffectiveTo) {
			continue
		}
		return p
	}
	return nil
}

func (s *teachingSlotService) load(ctx context.Context, id string) (*model.TeachingSlot, error) {
	slot, err := s.repo.TeachingSlot.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTeachingSlotNotFound
		}
		s.logger.Error("查询教学时段失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return slot, nil
}
