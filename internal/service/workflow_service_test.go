package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"mvalley/backend/internal/dto"
	"mvalley/backend/internal/model"
)

// ── 测试辅助 ──

// setupTestWorkflow 生成一个批次：slot-a（周六）与 slot-b（周一）各两个草稿（cohort-a / cohort-b）
func setupTestWorkflow(t *testing.T) (WorkflowService, *memStore, map[string]string) {
	t.Helper()
	st := newFixtureStore()
	seedTwoSlots(st)
	repo := newMockRepository(st)

	gen := NewCandidateGenerator(repo, zap.NewNop())
	run := newTestRun("2025-01-01", "2025-03-31")
	if _, err := gen.Generate(context.Background(), run, fixtureCohorts(), repo.CandidateGroup.Create); err != nil {
		t.Fatalf("准备候选班组失败: %v", err)
	}

	ids := make(map[string]string)
	for _, g := range st.groupsOfRun(run.RunID) {
		ids[g.SlotID+"/"+g.CohortID] = g.GroupID
	}

	svc := NewWorkflowService(repo, newMockTxManager(st), NewMemoryLocker(), time.Second, zap.NewNop())
	return svc, st, ids
}

func confirmReq(reason string) *dto.ConfirmCandidateGroupRequest {
	return &dto.ConfirmCandidateGroupRequest{Reason: reason}
}

// ── Hold / Reject ──

func TestWorkflow_HoldThenReject(t *testing.T) {
	svc, st, ids := setupTestWorkflow(t)
	id := ids["slot-a/"+testCohortA]

	held, err := svc.Hold(context.Background(), id, "等家长确认", testOperator)
	if err != nil {
		t.Fatalf("Hold 应成功: %v", err)
	}
	if held.Status != model.GroupStatusHeld {
		t.Errorf("期望 held，实际=%s", held.Status)
	}

	rejected, err := svc.UpdateStatus(context.Background(), id, &dto.UpdateCandidateGroupStatusRequest{
		Action: model.ActionReject,
		Reason: "家长放弃",
	}, testOperator)
	if err != nil {
		t.Fatalf("Reject 应成功: %v", err)
	}
	if rejected.Status != model.GroupStatusRejected {
		t.Errorf("期望 rejected，实际=%s", rejected.Status)
	}

	if n := st.transitionCount(); n != 2 {
		t.Errorf("期望 2 条流转记录，实际=%d", n)
	}
	ops := st.group(id).Explanation.Data().Ops
	if len(ops) != 2 || ops[0].Action != model.ActionHold || ops[1].Action != model.ActionReject {
		t.Errorf("说明记录应按顺序追加操作，实际=%+v", ops)
	}
}

func TestWorkflow_HoldRequiresReason(t *testing.T) {
	svc, st, ids := setupTestWorkflow(t)
	id := ids["slot-a/"+testCohortA]

	_, err := svc.Hold(context.Background(), id, "   ", testOperator)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("期望 ValidationError，实际=%v", err)
	}
	if st.group(id).Status != model.GroupStatusDraft {
		t.Error("校验失败不应改变状态")
	}
}

func TestWorkflow_HoldBlockedClearsReason(t *testing.T) {
	svc, st, ids := setupTestWorkflow(t)
	id := ids["slot-b/"+testCohortA]
	g := st.group(id)
	reason := model.BlockReasonScheduleConflict
	g.Status, g.BlockReason = model.GroupStatusBlocked, &reason
	st.putGroup(g)

	held, err := svc.Hold(context.Background(), id, "人工复核", testOperator)
	if err != nil {
		t.Fatalf("Hold 应成功: %v", err)
	}
	if held.BlockReason != nil {
		t.Errorf("离开 blocked 后 block_reason 应清空，实际=%v", *held.BlockReason)
	}

	// blocked 不能直接确认
	g = st.group(ids["slot-b/"+testCohortB])
	g.Status, g.BlockReason = model.GroupStatusBlocked, &reason
	st.putGroup(g)
	if _, err := svc.Confirm(context.Background(), g.GroupID, confirmReq("开班"), testOperator); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("blocked → confirm 期望 ErrInvalidTransition，实际=%v", err)
	}
}

func TestWorkflow_RejectedCannotConfirm(t *testing.T) {
	svc, _, ids := setupTestWorkflow(t)
	id := ids["slot-a/"+testCohortA]

	if _, err := svc.Reject(context.Background(), id, "不开班", testOperator); err != nil {
		t.Fatalf("Reject 应成功: %v", err)
	}
	_, err := svc.Confirm(context.Background(), id, confirmReq("改主意"), testOperator)
	var te *TransitionError
	if !errors.As(err, &te) || !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("期望 TransitionError，实际=%v", err)
	}
	if te.From != model.GroupStatusRejected || te.Action != model.ActionConfirm {
		t.Errorf("TransitionError 明细错误: %+v", te)
	}
}

func TestWorkflow_NotFound(t *testing.T) {
	svc, _, _ := setupTestWorkflow(t)
	if _, err := svc.Hold(context.Background(), "missing", "x", testOperator); !errors.Is(err, ErrCandidateGroupNotFound) {
		t.Errorf("期望 ErrCandidateGroupNotFound，实际=%v", err)
	}
	if _, err := svc.Confirm(context.Background(), "missing", confirmReq("x"), testOperator); !errors.Is(err, ErrCandidateGroupNotFound) {
		t.Errorf("期望 ErrCandidateGroupNotFound，实际=%v", err)
	}
}

// ── Confirm ──

func TestWorkflow_ConfirmSuccess(t *testing.T) {
	svc, st, ids := setupTestWorkflow(t)
	id := ids["slot-a/"+testCohortA]

	resp, err := svc.Confirm(context.Background(), id, confirmReq("开班"), testOperator)
	if err != nil {
		t.Fatalf("Confirm 应成功: %v", err)
	}
	if resp.Status != model.GroupStatusConfirmed || resp.ConfirmedBy == nil || *resp.ConfirmedBy != testOperator {
		t.Errorf("确认结果错误: %+v", resp)
	}

	slot := st.slot("slot-a")
	if slot.Status != model.SlotStatusOccupied || slot.CurrentGroupID == nil || *slot.CurrentGroupID != id {
		t.Errorf("时段应被占用并指向班组，实际 status=%s current=%v", slot.Status, slot.CurrentGroupID)
	}

	ops := st.group(id).Explanation.Data().Ops
	if len(ops) != 1 || ops[0].Economics == nil || ops[0].Conflict == nil || !ops[0].Conflict.Checked {
		t.Errorf("确认操作应记录复核结果，实际=%+v", ops)
	}

	events := st.outboxEvents()
	if len(events) != 1 || events[0].EventType != model.EventCandidateGroupConfirmed || events[0].AggregateID != id {
		t.Fatalf("应写入一条确认事件，实际=%+v", events)
	}
	var payload CandidateGroupConfirmedEvent
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("事件载荷应为 JSON: %v", err)
	}
	if payload.GroupID != id || payload.SlotID != "slot-a" || payload.StudentCount != 10 {
		t.Errorf("事件载荷错误: %+v", payload)
	}
}

func TestWorkflow_ConfirmTwiceInvalid(t *testing.T) {
	svc, st, ids := setupTestWorkflow(t)
	id := ids["slot-a/"+testCohortA]

	if _, err := svc.Confirm(context.Background(), id, confirmReq("开班"), testOperator); err != nil {
		t.Fatalf("第一次 Confirm 应成功: %v", err)
	}
	if _, err := svc.Confirm(context.Background(), id, confirmReq("再次"), testOperator); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("第二次 Confirm 期望 ErrInvalidTransition，实际=%v", err)
	}
	if n := len(st.outboxEvents()); n != 1 {
		t.Errorf("只应有一条确认事件，实际=%d", n)
	}
}

func TestWorkflow_SecondDraftOnSameSlotConflicts(t *testing.T) {
	svc, st, ids := setupTestWorkflow(t)
	first, second := ids["slot-a/"+testCohortA], ids["slot-a/"+testCohortB]

	if _, err := svc.Confirm(context.Background(), first, confirmReq("开班"), testOperator); err != nil {
		t.Fatalf("第一次 Confirm 应成功: %v", err)
	}
	before := st.group(second)

	_, err := svc.Confirm(context.Background(), second, confirmReq("开班"), testOperator)
	if !errors.Is(err, ErrScheduleConflict) {
		t.Fatalf("期望 ErrScheduleConflict，实际=%v", err)
	}
	var cf *ConfirmFailure
	if !errors.As(err, &cf) || cf.Kind != FailureScheduleConflict {
		t.Fatalf("期望 ConfirmFailure(schedule_conflict)，实际=%v", err)
	}

	after := st.group(second)
	if after.Status != model.GroupStatusDraft || after.Version != before.Version {
		t.Errorf("失败后班组应保持不变，实际 status=%s version=%d", after.Status, after.Version)
	}
	if n := st.transitionCount(); n != 1 {
		t.Errorf("失败不应写流转记录，实际=%d", n)
	}
}

func TestWorkflow_ConfirmConcurrent(t *testing.T) {
	svc, st, ids := setupTestWorkflow(t)
	targets := []string{ids["slot-a/"+testCohortA], ids["slot-a/"+testCohortB]}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := svc.Confirm(context.Background(), id, confirmReq("并发开班"), testOperator); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(targets[i%2])
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("同一时段只能确认一次，实际成功=%d", successes)
	}
	assertNoOverlappingConfirmed(t, st)
}

func assertNoOverlappingConfirmed(t *testing.T, st *memStore) {
	t.Helper()
	confirmed := st.confirmedGroups()
	for i := range confirmed {
		q := queryForGroup(&confirmed[i])
		if r := detectConflicts(q, confirmed); r.HasConflict() {
			t.Errorf("已确认班组 %s 与 %v 冲突", confirmed[i].GroupID, r.ConflictingGroupIDs)
		}
	}
}

func TestWorkflow_ConfirmOverride(t *testing.T) {
	svc, st, ids := setupTestWorkflow(t)
	id := ids["slot-a/"+testCohortA]
	other := testInstructorB

	// 改派需要至少 5 个字符的原因
	req := &dto.ConfirmCandidateGroupRequest{Reason: "换人", InstructorID: &other}
	var ve *ValidationError
	if _, err := svc.Confirm(context.Background(), id, req, testOperator); !errors.As(err, &ve) {
		t.Fatalf("短原因期望 ValidationError，实际=%v", err)
	}

	req.Reason = "原讲师请假，改派"
	resp, err := svc.Confirm(context.Background(), id, req, testOperator)
	if err != nil {
		t.Fatalf("改派 Confirm 应成功: %v", err)
	}
	if resp.InstructorID != testInstructorB {
		t.Errorf("期望讲师改为 %s，实际=%s", testInstructorB, resp.InstructorID)
	}
	ops := st.group(id).Explanation.Data().Ops
	if len(ops) != 1 || !ops[0].Override || ops[0].InstructorID == nil || *ops[0].InstructorID != testInstructorB {
		t.Errorf("操作记录应标记改派，实际=%+v", ops)
	}
}

func TestWorkflow_ConfirmOverrideChecks(t *testing.T) {
	off, small, missing := testInstructorOff, testRoomSmall, "room-missing"

	tests := []struct {
		name  string
		req   *dto.ConfirmCandidateGroupRequest
		check func(t *testing.T, err error)
	}{
		{
			name: "inactive instructor",
			req:  &dto.ConfirmCandidateGroupRequest{Reason: "改派停用讲师", InstructorID: &off},
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("期望 ValidationError，实际=%v", err)
				}
			},
		},
		{
			name: "missing room",
			req:  &dto.ConfirmCandidateGroupRequest{Reason: "改派不存在教室", RoomID: &missing},
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("期望 ValidationError，实际=%v", err)
				}
			},
		},
		{
			name: "room too small",
			req:  &dto.ConfirmCandidateGroupRequest{Reason: "改派小教室", RoomID: &small},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrCapacityOutOfBounds) {
					t.Errorf("期望 ErrCapacityOutOfBounds，实际=%v", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, ids := setupTestWorkflow(t)
			id := ids["slot-a/"+testCohortA]
			_, err := svc.Confirm(context.Background(), id, tt.req, testOperator)
			tt.check(t, err)
			if st.group(id).Status != model.GroupStatusDraft {
				t.Error("失败后班组应保持 draft")
			}
			if st.slot("slot-a").Status != model.SlotStatusOpen {
				t.Error("失败后时段应保持 open")
			}
		})
	}
}

func TestWorkflow_ConfirmRefreshesCohortSize(t *testing.T) {
	svc, st, ids := setupTestWorkflow(t)
	id := ids["slot-a/"+testCohortA]
	st.setCohortSize(testCohortA, 20)

	_, err := svc.Confirm(context.Background(), id, confirmReq("开班"), testOperator)
	var cf *ConfirmFailure
	if !errors.As(err, &cf) || cf.Kind != FailureCapacityOutOfBounds {
		t.Fatalf("期望 capacity_out_of_bounds，实际=%v", err)
	}
	if cf.StudentCount != 20 || cf.MaxCapacity != 15 {
		t.Errorf("失败明细错误: %+v", cf)
	}

	// 人数回落到范围内时按新人数重算
	st.setCohortSize(testCohortA, 14)
	resp, err := svc.Confirm(context.Background(), id, confirmReq("开班"), testOperator)
	if err != nil {
		t.Fatalf("Confirm 应成功: %v", err)
	}
	if resp.StudentCount != 14 || !resp.ExpectedRevenue.Equal(dec("11200")) {
		t.Errorf("期望按 14 人重算收入 11200，实际 %d / %s", resp.StudentCount, resp.ExpectedRevenue)
	}
}

func TestWorkflow_ConfirmMarginRegressed(t *testing.T) {
	svc, st, ids := setupTestWorkflow(t)
	id := ids["slot-a/"+testCohortA]

	// 讲师新的计费模型在窗口起始日生效：600/小时 × 12 小时
	st.addFeeModel(model.InstructorFeeModel{
		FeeModelID:    "fee-raise",
		InstructorID:  testInstructorA,
		FeeType:       model.FeeTypeHourly,
		Amount:        dec("600"),
		Currency:      "EGP",
		EffectiveFrom: mustDate("2024-12-01"),
	})

	_, err := svc.Confirm(context.Background(), id, confirmReq("开班"), testOperator)
	if !errors.Is(err, ErrMarginRegressed) {
		t.Fatalf("期望 ErrMarginRegressed，实际=%v", err)
	}
	var cf *ConfirmFailure
	if errors.As(err, &cf) && (cf.Economics == nil || !cf.Economics.Margin.Equal(dec("0.1"))) {
		t.Errorf("失败明细应包含重算后的经济性，实际=%+v", cf.Economics)
	}
	if st.slot("slot-a").Status != model.SlotStatusOpen {
		t.Error("失败后时段应保持 open")
	}
}

func TestWorkflow_ConfirmOpenEndedGroupUsesRunWindow(t *testing.T) {
	st := newFixtureStore()
	st.addInstructor(model.Instructor{InstructorID: "ins-monthly", Name: "Mona", IsActive: true})
	st.addFeeModel(model.InstructorFeeModel{
		FeeModelID:    "fee-monthly",
		InstructorID:  "ins-monthly",
		FeeType:       model.FeeTypeMonthly,
		Amount:        dec("600"),
		Currency:      "EGP",
		EffectiveFrom: mustDate("2024-01-01"),
	})
	st.putSlot(newTestSlot("slot-m", "ins-monthly", testRoomA, 2, "16:00", "18:00"))
	repo := newMockRepository(st)

	run := newTestRun("2025-01-01", "2025-03-31")
	if err := repo.Run.Create(context.Background(), run); err != nil {
		t.Fatalf("创建批次失败: %v", err)
	}
	cohorts := []model.CohortInput{{CohortID: testCohortA, CourseLevelID: testLevelID, StudentCount: 10}}
	gen := NewCandidateGenerator(repo, zap.NewNop())
	if _, err := gen.Generate(context.Background(), run, cohorts, repo.CandidateGroup.Create); err != nil {
		t.Fatalf("准备候选班组失败: %v", err)
	}
	groups := st.groupsOfRun(run.RunID)
	if len(groups) != 1 {
		t.Fatalf("期望 1 个候选，实际=%d", len(groups))
	}
	g := groups[0]
	g.EndDate = nil
	st.putGroup(g)

	svc := NewWorkflowService(repo, newMockTxManager(st), NewMemoryLocker(), time.Second, zap.NewNop())
	if _, err := svc.Confirm(context.Background(), g.GroupID, confirmReq("开班"), testOperator); err != nil {
		t.Fatalf("Confirm 应成功: %v", err)
	}

	// 2025-01-01 ~ 2025-03-31 共 90 天：600 × 90 / 30
	if got := st.group(g.GroupID).ExpectedCost; !got.Equal(dec("1800")) {
		t.Errorf("开放式班组应按批次窗口计费，期望 1800，实际=%s", got)
	}
}

func TestWorkflow_ConfirmDeletedSlot(t *testing.T) {
	svc, st, ids := setupTestWorkflow(t)
	id := ids["slot-a/"+testCohortA]
	if err := newMockRepository(st).TeachingSlot.Delete(context.Background(), "slot-a", "教室装修", testOperator); err != nil {
		t.Fatalf("删除时段失败: %v", err)
	}

	_, err := svc.Confirm(context.Background(), id, confirmReq("开班"), testOperator)
	var cf *ConfirmFailure
	if !errors.As(err, &cf) || cf.Kind != FailureScheduleConflict || !cf.SlotUnavailable {
		t.Fatalf("期望 schedule_conflict + slot_unavailable，实际=%v", err)
	}
}

// ── 资源锁 ──

func TestMemoryLocker_BusyAfterTTL(t *testing.T) {
	locker := NewMemoryLocker()
	keys := resourceKeys(testInstructorA, testRoomA, "slot-a")

	unlock, err := locker.Lock(context.Background(), keys, time.Second)
	if err != nil {
		t.Fatalf("首次加锁应成功: %v", err)
	}

	if _, err := locker.Lock(context.Background(), keys[1:], 20*time.Millisecond); !errors.Is(err, ErrResourceBusy) {
		t.Errorf("锁被占用时期望 ErrResourceBusy，实际=%v", err)
	}

	unlock()
	unlock2, err := locker.Lock(context.Background(), keys, time.Second)
	if err != nil {
		t.Fatalf("释放后应可重新加锁: %v", err)
	}
	unlock2()
}

func TestResourceKeys_Sorted(t *testing.T) {
	keys := resourceKeys("z-ins", "a-room", "m-slot")
	want := []string{"instructor:z-ins", "room:a-room", "slot:m-slot"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("期望 %v，实际 %v", want, keys)
		}
	}
}
