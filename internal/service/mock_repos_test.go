package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mvalley/backend/internal/model"
	"mvalley/backend/internal/repository"
	pkgerrors "mvalley/backend/pkg/errors"
)

// ── 内存存储 ──
// 所有 mock repo 共享同一个 memStore；读取返回副本，写入做 version 校验，行为与 gorm 实现一致

type memStore struct {
	mu sync.Mutex

	slots       map[string]model.TeachingSlot
	runs        map[string]model.AllocationRun
	groups      map[string]model.CandidateGroup
	transitions []model.CandidateGroupTransition
	levels      map[string]model.CourseLevel
	instructors map[string]model.Instructor
	feeModels   map[string][]model.InstructorFeeModel
	rooms       map[string]model.Room
	cohorts     map[string]model.DemandCohort
	outbox      []model.OutboxEvent

	// 故障注入
	groupCreateErr error
	runUpdateErr   error
}

func newMemStore() *memStore {
	return &memStore{
		slots:       make(map[string]model.TeachingSlot),
		runs:        make(map[string]model.AllocationRun),
		groups:      make(map[string]model.CandidateGroup),
		levels:      make(map[string]model.CourseLevel),
		instructors: make(map[string]model.Instructor),
		feeModels:   make(map[string][]model.InstructorFeeModel),
		rooms:       make(map[string]model.Room),
		cohorts:     make(map[string]model.DemandCohort),
	}
}

type memSnapshot struct {
	slots       map[string]model.TeachingSlot
	runs        map[string]model.AllocationRun
	groups      map[string]model.CandidateGroup
	transitions []model.CandidateGroupTransition
	outbox      []model.OutboxEvent
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		slots:       make(map[string]model.TeachingSlot, len(s.slots)),
		runs:        make(map[string]model.AllocationRun, len(s.runs)),
		groups:      make(map[string]model.CandidateGroup, len(s.groups)),
		transitions: append([]model.CandidateGroupTransition(nil), s.transitions...),
		outbox:      append([]model.OutboxEvent(nil), s.outbox...),
	}
	for k, v := range s.slots {
		snap.slots[k] = v
	}
	for k, v := range s.runs {
		snap.runs[k] = v
	}
	for k, v := range s.groups {
		snap.groups[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots, s.runs, s.groups = snap.slots, snap.runs, snap.groups
	s.transitions, s.outbox = snap.transitions, snap.outbox
}

// ── 直接读写（测试断言与准备数据用） ──

func (s *memStore) addLevel(l model.CourseLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[l.LevelID] = l
}

func (s *memStore) addInstructor(i model.Instructor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instructors[i.InstructorID] = i
}

func (s *memStore) addFeeModel(f model.InstructorFeeModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.FeeModelID == "" {
		f.FeeModelID = uuid.NewString()
	}
	s.feeModels[f.InstructorID] = append(s.feeModels[f.InstructorID], f)
}

func (s *memStore) addRoom(r model.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[r.RoomID] = r
}

func (s *memStore) addCohort(c model.DemandCohort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cohorts[c.CohortID] = c
}

func (s *memStore) setCohortSize(id string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cohorts[id]
	c.StudentCount = n
	s.cohorts[id] = c
}

func (s *memStore) putSlot(slot model.TeachingSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot.Version == 0 {
		slot.Version = 1
	}
	s.slots[slot.SlotID] = slot
}

func (s *memStore) putGroup(g model.CandidateGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.Version == 0 {
		g.Version = 1
	}
	s.groups[g.GroupID] = g
}

func (s *memStore) slot(id string) model.TeachingSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[id]
}

func (s *memStore) group(id string) model.CandidateGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[id]
}

func (s *memStore) run(id string) model.AllocationRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

func (s *memStore) groupsOfRun(runID string) []model.CandidateGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CandidateGroup
	for _, g := range s.groups {
		if g.RunID == runID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (s *memStore) confirmedGroups() []model.CandidateGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CandidateGroup
	for _, g := range s.groups {
		if g.Status == model.GroupStatusConfirmed {
			out = append(out, g)
		}
	}
	return out
}

func (s *memStore) transitionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transitions)
}

func (s *memStore) outboxEvents() []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OutboxEvent(nil), s.outbox...)
}

// ── Repository 聚合 ──

func newMockRepository(st *memStore) *repository.Repository {
	return &repository.Repository{
		TeachingSlot:   &mockTeachingSlotRepo{st: st},
		Run:            &mockRunRepo{st: st},
		CandidateGroup: &mockCandidateGroupRepo{st: st},
		Transition:     &mockTransitionRepo{st: st},
		CourseLevel:    &mockCourseLevelRepo{st: st},
		Instructor:     &mockInstructorRepo{st: st},
		FeeModel:       &mockFeeModelRepo{st: st},
		Room:           &mockRoomRepo{st: st},
		Cohort:         &mockCohortRepo{st: st},
		Outbox:         &mockOutboxRepo{st: st},
		Lock:           mockAdvisoryLock{},
	}
}

// mockTxManager 串行执行事务；回调返回错误时恢复事务开始前的快照
type mockTxManager struct {
	st    *memStore
	txMu  sync.Mutex
	calls int
}

func newMockTxManager(st *memStore) *mockTxManager {
	return &mockTxManager{st: st}
}

func (m *mockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context, repo *repository.Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.calls++

	snap := m.st.snapshot()
	if err := fn(ctx, newMockRepository(m.st)); err != nil {
		m.st.restore(snap)
		return err
	}
	return nil
}

type mockAdvisoryLock struct{}

func (mockAdvisoryLock) AcquireXact(context.Context, ...string) error { return nil }

// ── Mock TeachingSlotRepository ──

type mockTeachingSlotRepo struct{ st *memStore }

func (m *mockTeachingSlotRepo) Create(_ context.Context, slot *model.TeachingSlot) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if slot.SlotID == "" {
		slot.SlotID = uuid.NewString()
	}
	now := time.Now()
	slot.CreatedAt, slot.UpdatedAt, slot.Version = now, now, 1
	m.st.slots[slot.SlotID] = *slot
	return nil
}

func (m *mockTeachingSlotRepo) GetByID(_ context.Context, id string) (*model.TeachingSlot, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s, ok := m.st.slots[id]
	if !ok || s.DeletedAt.Valid {
		return nil, gorm.ErrRecordNotFound
	}
	return &s, nil
}

func (m *mockTeachingSlotRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.TeachingSlot, error) {
	return m.GetByID(ctx, id)
}

func (m *mockTeachingSlotRepo) List(_ context.Context, f repository.TeachingSlotFilter) ([]model.TeachingSlot, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []model.TeachingSlot
	for _, s := range m.st.slots {
		if s.DeletedAt.Valid {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.DayOfWeek != nil && s.DayOfWeek != *f.DayOfWeek {
			continue
		}
		if f.InstructorID != "" && s.InstructorID != f.InstructorID {
			continue
		}
		if f.RoomID != "" && s.RoomID != f.RoomID {
			continue
		}
		out = append(out, s)
	}
	sortSlots(out)
	return out, nil
}

func (m *mockTeachingSlotRepo) ListOpenInRange(_ context.Context, from, to time.Time) ([]model.TeachingSlot, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []model.TeachingSlot
	for _, s := range m.st.slots {
		if s.DeletedAt.Valid || s.Status != model.SlotStatusOpen {
			continue
		}
		if s.EffectiveFrom != nil && s.EffectiveFrom.After(to) {
			continue
		}
		if s.EffectiveTo != nil && s.EffectiveTo.Before(from) {
			continue
		}
		out = append(out, s)
	}
	// 故意打乱返回顺序，由生成器自行排序
	sort.Slice(out, func(i, j int) bool { return out[i].SlotID > out[j].SlotID })
	return out, nil
}

func (m *mockTeachingSlotRepo) ListSameDayPeers(_ context.Context, day int, instructorID, roomID, excludeID string) ([]model.TeachingSlot, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []model.TeachingSlot
	for _, s := range m.st.slots {
		if s.DeletedAt.Valid || s.Status == model.SlotStatusInactive || s.DayOfWeek != day {
			continue
		}
		if excludeID != "" && s.SlotID == excludeID {
			continue
		}
		if s.InstructorID != instructorID && s.RoomID != roomID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *mockTeachingSlotRepo) Update(_ context.Context, slot *model.TeachingSlot) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	cur, ok := m.st.slots[slot.SlotID]
	if !ok || cur.Version != slot.Version {
		return pkgerrors.ErrOptimisticLock
	}
	slot.Version++
	slot.UpdatedAt = time.Now()
	m.st.slots[slot.SlotID] = *slot
	return nil
}

func (m *mockTeachingSlotRepo) Delete(_ context.Context, id, reason, deletedBy string) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s, ok := m.st.slots[id]
	if !ok {
		return nil
	}
	s.Status = model.SlotStatusInactive
	s.DeleteReason = reason
	s.DeletedBy = &deletedBy
	s.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	s.Version++
	m.st.slots[id] = s
	return nil
}

// ── Mock AllocationRunRepository ──

type mockRunRepo struct{ st *memStore }

func (m *mockRunRepo) Create(_ context.Context, run *model.AllocationRun) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	now := time.Now()
	run.CreatedAt, run.UpdatedAt = now, now
	m.st.runs[run.RunID] = *run
	return nil
}

func (m *mockRunRepo) GetByID(_ context.Context, id string) (*model.AllocationRun, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	r, ok := m.st.runs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &r, nil
}

func (m *mockRunRepo) List(_ context.Context, offset, limit int) ([]model.AllocationRun, int64, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	all := make([]model.AllocationRun, 0, len(m.st.runs))
	for _, r := range m.st.runs {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	if offset >= len(all) {
		return []model.AllocationRun{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *mockRunRepo) UpdateProgress(_ context.Context, run *model.AllocationRun) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if m.st.runUpdateErr != nil {
		return m.st.runUpdateErr
	}
	run.UpdatedAt = time.Now()
	m.st.runs[run.RunID] = *run
	return nil
}

// ── Mock CandidateGroupRepository ──

type mockCandidateGroupRepo struct{ st *memStore }

func (m *mockCandidateGroupRepo) Create(_ context.Context, g *model.CandidateGroup) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if m.st.groupCreateErr != nil {
		return m.st.groupCreateErr
	}
	if g.GroupID == "" {
		g.GroupID = uuid.NewString()
	}
	now := time.Now()
	g.CreatedAt, g.UpdatedAt, g.Version = now, now, 1
	m.st.groups[g.GroupID] = *g
	return nil
}

func (m *mockCandidateGroupRepo) GetByID(_ context.Context, id string) (*model.CandidateGroup, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	g, ok := m.st.groups[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &g, nil
}

func (m *mockCandidateGroupRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.CandidateGroup, error) {
	return m.GetByID(ctx, id)
}

func (m *mockCandidateGroupRepo) ListByRun(_ context.Context, runID string) ([]model.CandidateGroup, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []model.CandidateGroup
	for _, g := range m.st.groups {
		if g.RunID == runID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *mockCandidateGroupRepo) ListConfirmed(_ context.Context, f repository.ConfirmedGroupFilter) ([]model.CandidateGroup, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []model.CandidateGroup
	for _, g := range m.st.groups {
		if g.Status != model.GroupStatusConfirmed {
			continue
		}
		if f.DayOfWeek != nil && g.DayOfWeek != *f.DayOfWeek {
			continue
		}
		switch {
		case f.InstructorID != "" && f.RoomID != "":
			if g.InstructorID != f.InstructorID && g.RoomID != f.RoomID {
				continue
			}
		case f.InstructorID != "":
			if g.InstructorID != f.InstructorID {
				continue
			}
		case f.RoomID != "":
			if g.RoomID != f.RoomID {
				continue
			}
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].GroupID < out[j].GroupID
	})
	return out, nil
}

func (m *mockCandidateGroupRepo) Update(_ context.Context, g *model.CandidateGroup) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	cur, ok := m.st.groups[g.GroupID]
	if !ok || cur.Version != g.Version {
		return pkgerrors.ErrOptimisticLock
	}
	g.Version++
	g.UpdatedAt = time.Now()
	m.st.groups[g.GroupID] = *g
	return nil
}

// ── Mock TransitionRepository ──

type mockTransitionRepo struct{ st *memStore }

func (m *mockTransitionRepo) Create(_ context.Context, t *model.CandidateGroupTransition) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if t.TransitionID == "" {
		t.TransitionID = uuid.NewString()
	}
	m.st.transitions = append(m.st.transitions, *t)
	return nil
}

func (m *mockTransitionRepo) ListByGroup(_ context.Context, groupID string) ([]model.CandidateGroupTransition, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []model.CandidateGroupTransition
	for _, t := range m.st.transitions {
		if t.GroupID == groupID {
			out = append(out, t)
		}
	}
	return out, nil
}

// ── Mock 上游只读数据 ──

type mockCourseLevelRepo struct{ st *memStore }

func (m *mockCourseLevelRepo) GetByID(_ context.Context, id string) (*model.CourseLevel, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	l, ok := m.st.levels[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &l, nil
}

func (m *mockCourseLevelRepo) ListByIDs(_ context.Context, ids []string) ([]model.CourseLevel, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []model.CourseLevel
	for _, id := range ids {
		if l, ok := m.st.levels[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

type mockInstructorRepo struct{ st *memStore }

func (m *mockInstructorRepo) GetByID(_ context.Context, id string) (*model.Instructor, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	i, ok := m.st.instructors[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &i, nil
}

type mockFeeModelRepo struct{ st *memStore }

func (m *mockFeeModelRepo) ListByInstructor(_ context.Context, instructorID string) ([]model.InstructorFeeModel, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	return append([]model.InstructorFeeModel(nil), m.st.feeModels[instructorID]...), nil
}

type mockRoomRepo struct{ st *memStore }

func (m *mockRoomRepo) GetByID(_ context.Context, id string) (*model.Room, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	r, ok := m.st.rooms[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &r, nil
}

type mockCohortRepo struct{ st *memStore }

func (m *mockCohortRepo) GetByID(_ context.Context, id string) (*model.DemandCohort, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	c, ok := m.st.cohorts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &c, nil
}

func (m *mockCohortRepo) ListActive(_ context.Context) ([]model.DemandCohort, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []model.DemandCohort
	for _, c := range m.st.cohorts {
		if c.IsActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CohortID < out[j].CohortID })
	return out, nil
}

// ── Mock OutboxRepository ──

type mockOutboxRepo struct{ st *memStore }

func (m *mockOutboxRepo) Create(_ context.Context, e *model.OutboxEvent) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	m.st.outbox = append(m.st.outbox, *e)
	return nil
}

func (m *mockOutboxRepo) ClaimUnpublished(_ context.Context, limit int) ([]model.OutboxEvent, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []model.OutboxEvent
	for _, e := range m.st.outbox {
		if e.PublishedAt == nil && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockOutboxRepo) MarkPublished(_ context.Context, id string) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	now := time.Now()
	for i := range m.st.outbox {
		if m.st.outbox[i].EventID == id {
			m.st.outbox[i].PublishedAt = &now
		}
	}
	return nil
}

func (m *mockOutboxRepo) IncrementAttempts(_ context.Context, id string) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for i := range m.st.outbox {
		if m.st.outbox[i].EventID == id {
			m.st.outbox[i].Attempts++
		}
	}
	return nil
}
