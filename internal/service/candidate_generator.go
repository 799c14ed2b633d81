package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"mvalley/backend/internal/model"
	"mvalley/backend/internal/repository"
)

// 说明记录中的决策分支
const (
	decisionProposed         = "economics_passed_no_conflict"
	decisionMarginBelowFloor = "blocked_margin_below_floor"
	decisionConflict         = "blocked_schedule_conflict"
)

// CandidateEmitter 每生成一个候选班组调用一次；返回错误将中止生成
type CandidateEmitter func(ctx context.Context, group *model.CandidateGroup) error

// CandidateGenerator 为一个分配批次扫描教学时段与需求队列，逐个产出候选班组
type CandidateGenerator interface {
	// Generate 按 (day_of_week, start_time, slot_id, cohort_id) 顺序产出候选；
	// ctx 取消时立即停止，已产出的候选不回滚。返回已产出数量
	Generate(ctx context.Context, run *model.AllocationRun, cohorts []model.CohortInput, emit CandidateEmitter) (int, error)
}

type candidateGenerator struct {
	repo     *repository.Repository
	detector ConflictDetector
	logger   *zap.Logger
}

// NewCandidateGenerator 创建 CandidateGenerator
func NewCandidateGenerator(repo *repository.Repository, logger *zap.Logger) CandidateGenerator {
	return &candidateGenerator{
		repo:     repo,
		detector: NewConflictDetector(repo.CandidateGroup),
		logger:   logger,
	}
}

func (g *candidateGenerator) Generate(ctx context.Context, run *model.AllocationRun, cohorts []model.CohortInput, emit CandidateEmitter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	slots, err := g.repo.TeachingSlot.ListOpenInRange(ctx, run.FromDate, run.ToDate)
	if err != nil {
		return 0, err
	}
	sortSlots(slots)

	byLevel := groupCohortsByLevel(cohorts)
	names, err := g.newNamer(ctx, slots)
	if err != nil {
		return 0, err
	}
	fees := make(map[string][]model.InstructorFeeModel)

	emitted := 0
	for i := range slots {
		slot := &slots[i]
		levelCohorts := byLevel[slot.CourseLevelID]
		if len(levelCohorts) == 0 {
			continue
		}

		windowStart := laterDate(run.FromDate, slot.EffectiveFrom)
		windowEnd := earlierDate(run.ToDate, slot.EffectiveTo)
		windowDays := inclusiveDays(windowStart, windowEnd)

		feeModels, ok := fees[slot.InstructorID]
		if !ok {
			feeModels, err = g.repo.FeeModel.ListByInstructor(ctx, slot.InstructorID)
			if err != nil {
				return emitted, err
			}
			fees[slot.InstructorID] = feeModels
		}
		fee := SelectFeeModel(feeModels, windowStart, windowEnd)

		for _, cohort := range levelCohorts {
			if cohort.StudentCount < slot.MinCapacity || cohort.StudentCount > slot.MaxCapacity {
				continue
			}
			if err := ctx.Err(); err != nil {
				return emitted, err
			}

			econ, err := EvaluateEconomics(termsOf(slot), fee, cohort.StudentCount, windowDays)
			if err != nil {
				var ve *ValidationError
				if errors.As(err, &ve) {
					ve.Message = fmt.Sprintf("时段 %s 讲师 %s: %s", slot.SlotID, slot.InstructorID, ve.Message)
				}
				return emitted, err
			}

			end := windowEnd
			group := &model.CandidateGroup{
				RunID:           run.RunID,
				SlotID:          slot.SlotID,
				CohortID:        cohort.CohortID,
				Sequence:        emitted + 1,
				Name:            names.next(slot.CourseLevelID),
				CourseLevelID:   slot.CourseLevelID,
				InstructorID:    slot.InstructorID,
				RoomID:          slot.RoomID,
				StudentCount:    cohort.StudentCount,
				MinCapacity:     slot.MinCapacity,
				MaxCapacity:     slot.MaxCapacity,
				ExpectedRevenue: econ.Revenue,
				ExpectedCost:    econ.Cost,
				ExpectedMargin:  econ.Margin,
				Currency:        slot.Currency,
				DayOfWeek:       slot.DayOfWeek,
				StartTime:       slot.StartTime,
				EndTime:         slot.EndTime,
				StartDate:       windowStart,
				EndDate:         &end,
			}
			group.CreatedBy = run.CreatedBy

			explanation := model.Explanation{
				Source: model.ExplanationSource{
					SlotID:      slot.SlotID,
					CohortID:    cohort.CohortID,
					CohortSize:  cohort.StudentCount,
					WindowStart: model.FormatDate(windowStart),
					WindowEnd:   model.FormatDatePtr(&end),
				},
				Economics: econ.snapshot(),
			}

			if !econ.PassesMarginFloor {
				g.block(group, &explanation, model.BlockReasonMarginBelowFloor)
			} else {
				conflict, err := g.detector.Check(ctx, queryForGroup(group))
				if err != nil {
					return emitted, err
				}
				explanation.Conflict = conflict.snapshot()
				if conflict.HasConflict() {
					g.block(group, &explanation, model.BlockReasonScheduleConflict)
				} else {
					group.Status = model.GroupStatusDraft
					explanation.Kind = model.ExplanationGeneratedOK
					explanation.Decision = decisionProposed
				}
			}
			group.Explanation = datatypes.NewJSONType(explanation)

			if err := emit(ctx, group); err != nil {
				return emitted, err
			}
			emitted++
		}
	}

	g.logger.Info("候选班组生成完成",
		zap.String("run_id", run.RunID),
		zap.Int("slots", len(slots)),
		zap.Int("candidates", emitted),
	)
	return emitted, nil
}

func (g *candidateGenerator) block(group *model.CandidateGroup, exp *model.Explanation, reason string) {
	group.Status = model.GroupStatusBlocked
	group.BlockReason = &reason
	switch reason {
	case model.BlockReasonMarginBelowFloor:
		exp.Kind = model.ExplanationMarginFailure
		exp.Decision = decisionMarginBelowFloor
	default:
		exp.Kind = model.ExplanationScheduleConflict
		exp.Decision = decisionConflict
	}
}

func queryForGroup(group *model.CandidateGroup) ConflictQuery {
	return ConflictQuery{
		InstructorID:   group.InstructorID,
		RoomID:         group.RoomID,
		DayOfWeek:      group.DayOfWeek,
		StartTime:      group.StartTime,
		EndTime:        group.EndTime,
		StartDate:      group.StartDate,
		EndDate:        group.EndDate,
		ExcludeGroupID: group.GroupID,
	}
}

// sortSlots 稳定排序保证生成顺序与数据库返回顺序无关
func sortSlots(slots []model.TeachingSlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if a.DayOfWeek != b.DayOfWeek {
			return a.DayOfWeek < b.DayOfWeek
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.SlotID < b.SlotID
	})
}

func groupCohortsByLevel(cohorts []model.CohortInput) map[string][]model.CohortInput {
	byLevel := make(map[string][]model.CohortInput)
	for _, c := range cohorts {
		byLevel[c.CourseLevelID] = append(byLevel[c.CourseLevelID], c)
	}
	for level := range byLevel {
		list := byLevel[level]
		sort.SliceStable(list, func(i, j int) bool { return list[i].CohortID < list[j].CohortID })
	}
	return byLevel
}

// ── 候选班组命名 ──
// 格式 <课程前缀>-<NN>-<级别序号>，NN 在同一批次同一前缀+级别内从 01 递增

type groupNamer struct {
	levels   map[string]model.CourseLevel
	counters map[string]int
}

func (g *candidateGenerator) newNamer(ctx context.Context, slots []model.TeachingSlot) (*groupNamer, error) {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, s := range slots {
		if _, ok := seen[s.CourseLevelID]; !ok {
			seen[s.CourseLevelID] = struct{}{}
			ids = append(ids, s.CourseLevelID)
		}
	}
	levels, err := g.repo.CourseLevel.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	n := &groupNamer{levels: make(map[string]model.CourseLevel, len(levels)), counters: make(map[string]int)}
	for _, l := range levels {
		n.levels[l.LevelID] = l
	}
	return n, nil
}

func (n *groupNamer) next(levelID string) string {
	prefix, order := "G", 1
	if l, ok := n.levels[levelID]; ok {
		prefix, order = coursePrefix(l.CourseName), l.SortOrder
	}
	key := fmt.Sprintf("%s-%d", prefix, order)
	n.counters[key]++
	return fmt.Sprintf("%s-%02d-%d", prefix, n.counters[key], order)
}

// coursePrefix 取课程名前两个单词的首字母；单个单词取前两个字母
func coursePrefix(courseName string) string {
	words := strings.Fields(courseName)
	switch {
	case len(words) >= 2:
		return strings.ToUpper(firstRune(words[0]) + firstRune(words[1]))
	case len(words) == 1:
		r := []rune(words[0])
		if len(r) > 2 {
			r = r[:2]
		}
		return strings.ToUpper(string(r))
	default:
		return "G"
	}
}

func firstRune(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}
