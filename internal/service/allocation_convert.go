package service

import (
	"mvalley/backend/internal/dto"
	"mvalley/backend/internal/model"
)

// ── 模型 → 响应 DTO ──

func toRunResponse(run *model.AllocationRun) *dto.AllocationRunResponse {
	cohorts := run.Cohorts.Data()
	if cohorts == nil {
		cohorts = []model.CohortInput{}
	}
	return &dto.AllocationRunResponse{
		ID:                  run.RunID,
		Status:              run.Status,
		FromDate:            model.FormatDate(run.FromDate),
		ToDate:              model.FormatDate(run.ToDate),
		Notes:               run.Notes,
		Error:               run.Error,
		Cohorts:             cohorts,
		CandidateGroupCount: run.CandidateGroupCount,
		CreatedBy:           run.CreatedBy,
		StartedAt:           formatTimestampPtr(run.StartedAt),
		FinishedAt:          formatTimestampPtr(run.FinishedAt),
		CreatedAt:           formatTimestamp(run.CreatedAt),
	}
}

func toCandidateGroupResponse(g *model.CandidateGroup) *dto.CandidateGroupResponse {
	return &dto.CandidateGroupResponse{
		ID:              g.GroupID,
		RunID:           g.RunID,
		SlotID:          g.SlotID,
		CohortID:        g.CohortID,
		Sequence:        g.Sequence,
		Name:            g.Name,
		Status:          g.Status,
		BlockReason:     g.BlockReason,
		CourseLevelID:   g.CourseLevelID,
		InstructorID:    g.InstructorID,
		RoomID:          g.RoomID,
		StudentCount:    g.StudentCount,
		MinCapacity:     g.MinCapacity,
		MaxCapacity:     g.MaxCapacity,
		ExpectedRevenue: g.ExpectedRevenue,
		ExpectedCost:    g.ExpectedCost,
		ExpectedMargin:  g.ExpectedMargin,
		Currency:        g.Currency,
		DayOfWeek:       g.DayOfWeek,
		StartTime:       g.StartTime,
		EndTime:         g.EndTime,
		StartDate:       model.FormatDate(g.StartDate),
		EndDate:         model.FormatDatePtr(g.EndDate),
		Explanation:     g.Explanation.Data(),
		ConfirmedAt:     formatTimestampPtr(g.ConfirmedAt),
		ConfirmedBy:     g.ConfirmedBy,
		Version:         g.Version,
		CreatedAt:       formatTimestamp(g.CreatedAt),
		UpdatedAt:       formatTimestamp(g.UpdatedAt),
	}
}

func toTransitionResponse(t *model.CandidateGroupTransition) dto.TransitionResponse {
	return dto.TransitionResponse{
		ID:           t.TransitionID,
		GroupID:      t.GroupID,
		FromStatus:   t.FromStatus,
		ToStatus:     t.ToStatus,
		Action:       t.Action,
		Reason:       t.Reason,
		OperatorID:   t.OperatorID,
		InstructorID: t.InstructorID,
		RoomID:       t.RoomID,
		CreatedAt:    formatTimestamp(t.CreatedAt),
	}
}

func toTeachingSlotResponse(slot *model.TeachingSlot) *dto.TeachingSlotResponse {
	return &dto.TeachingSlotResponse{
		ID:                  slot.SlotID,
		CourseLevelID:       slot.CourseLevelID,
		InstructorID:        slot.InstructorID,
		RoomID:              slot.RoomID,
		DayOfWeek:           slot.DayOfWeek,
		StartTime:           slot.StartTime,
		EndTime:             slot.EndTime,
		EffectiveFrom:       model.FormatDatePtr(slot.EffectiveFrom),
		EffectiveTo:         model.FormatDatePtr(slot.EffectiveTo),
		MinCapacity:         slot.MinCapacity,
		MaxCapacity:         slot.MaxCapacity,
		PlannedSessions:     slot.PlannedSessions,
		SessionDurationMins: slot.SessionDurationMins,
		PricePerStudent:     slot.PricePerStudent,
		MinMarginPct:        slot.MinMarginPct,
		Currency:            slot.Currency,
		Status:              slot.Status,
		CurrentGroupID:      slot.CurrentGroupID,
		Version:             slot.Version,
		CreatedAt:           formatTimestamp(slot.CreatedAt),
		UpdatedAt:           formatTimestamp(slot.UpdatedAt),
	}
}
