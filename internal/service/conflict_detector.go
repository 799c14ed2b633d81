package service

import (
	"context"
	"time"

	"mvalley/backend/internal/model"
	"mvalley/backend/internal/repository"
)

// 冲突原因
const (
	ConflictReasonInstructor        = "instructor"
	ConflictReasonRoom              = "room"
	ConflictReasonInstructorAndRoom = "instructor_and_room"
)

// ConflictQuery 冲突检测的目标时间窗
// 时间窗须已通过校验（StartTime < EndTime），EndDate 为 nil 表示无结束日期
type ConflictQuery struct {
	InstructorID   string
	RoomID         string
	DayOfWeek      int
	StartTime      string
	EndTime        string
	StartDate      time.Time
	EndDate        *time.Time
	ExcludeGroupID string
}

// ConflictResult 冲突检测结果
type ConflictResult struct {
	Instructor          bool     `json:"instructor"`
	Room                bool     `json:"room"`
	ConflictingGroupIDs []string `json:"conflicting_group_ids"`
}

// HasConflict 是否存在任一资源冲突
func (r *ConflictResult) HasConflict() bool {
	return r.Instructor || r.Room
}

// Reason instructor | room | instructor_and_room，无冲突时为空串
func (r *ConflictResult) Reason() string {
	switch {
	case r.Instructor && r.Room:
		return ConflictReasonInstructorAndRoom
	case r.Instructor:
		return ConflictReasonInstructor
	case r.Room:
		return ConflictReasonRoom
	default:
		return ""
	}
}

func (r *ConflictResult) snapshot() model.ConflictSnapshot {
	return model.ConflictSnapshot{
		Checked:             true,
		Instructor:          r.Instructor,
		Room:                r.Room,
		ConflictingGroupIDs: r.ConflictingGroupIDs,
	}
}

// ConflictDetector 以已确认班组为唯一事实来源的排课冲突检测
type ConflictDetector interface {
	Check(ctx context.Context, q ConflictQuery) (*ConflictResult, error)
}

type conflictDetector struct {
	groups repository.CandidateGroupRepository
}

// NewConflictDetector 创建 ConflictDetector；在事务中使用时传入事务内的 Repository
func NewConflictDetector(groups repository.CandidateGroupRepository) ConflictDetector {
	return &conflictDetector{groups: groups}
}

func (d *conflictDetector) Check(ctx context.Context, q ConflictQuery) (*ConflictResult, error) {
	day := q.DayOfWeek
	confirmed, err := d.groups.ListConfirmed(ctx, repository.ConfirmedGroupFilter{
		DayOfWeek:    &day,
		InstructorID: q.InstructorID,
		RoomID:       q.RoomID,
	})
	if err != nil {
		return nil, err
	}
	return detectConflicts(q, confirmed), nil
}

// detectConflicts 纯函数部分：在给定的已确认班组中查找与目标时间窗重叠者
func detectConflicts(q ConflictQuery, confirmed []model.CandidateGroup) *ConflictResult {
	result := &ConflictResult{ConflictingGroupIDs: []string{}}
	start := q.StartDate

	for i := range confirmed {
		g := &confirmed[i]
		if g.GroupID == q.ExcludeGroupID || g.Status != model.GroupStatusConfirmed || g.DayOfWeek != q.DayOfWeek {
			continue
		}
		sameInstructor := g.InstructorID == q.InstructorID
		sameRoom := g.RoomID == q.RoomID
		if !sameInstructor && !sameRoom {
			continue
		}
		if !intervalsOverlap(q.StartTime, q.EndTime, g.StartTime, g.EndTime) {
			continue
		}
		gStart := g.StartDate
		if !dateRangesIntersect(&start, q.EndDate, &gStart, g.EndDate) {
			continue
		}

		result.Instructor = result.Instructor || sameInstructor
		result.Room = result.Room || sameRoom
		result.ConflictingGroupIDs = append(result.ConflictingGroupIDs, g.GroupID)
	}
	return result
}
